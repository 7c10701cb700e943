package camera

import (
	"context"
	"errors"
	"sync"
)

// ErrSlotClosed is returned by Wait once the slot has been closed.
var ErrSlotClosed = errors.New("camera: frame slot closed")

// Slot is a single-frame mailbox: Publish overwrites, readers observe only
// the latest frame. A frame replaced before anyone read it counts as a drop.
//
// Waiters block on a channel that is closed and replaced on every publish,
// so Wait can honor a context (sync.Cond cannot).
type Slot struct {
	mu       sync.Mutex
	frame    *Frame
	readSeq  uint64
	notify   chan struct{}
	closed   bool
	received uint64
	dropped  uint64
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{notify: make(chan struct{})}
}

// Publish stores f as the current frame. It returns false once the slot is
// closed.
func (s *Slot) Publish(f *Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.frame != nil && s.frame.Seq > s.readSeq {
		s.dropped++
	}
	s.frame = f
	s.received++

	close(s.notify)
	s.notify = make(chan struct{})
	return true
}

// Current returns the latest frame without waiting.
func (s *Slot) Current() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame == nil || s.closed {
		return nil, false
	}
	if s.frame.Seq > s.readSeq {
		s.readSeq = s.frame.Seq
	}
	return s.frame, true
}

// Wait blocks until a frame newer than afterSeq is available, the slot is
// closed, or ctx is done.
func (s *Slot) Wait(ctx context.Context, afterSeq uint64) (*Frame, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSlotClosed
		}
		if s.frame != nil && s.frame.Seq > afterSeq {
			f := s.frame
			if f.Seq > s.readSeq {
				s.readSeq = f.Seq
			}
			s.mu.Unlock()
			return f, nil
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// Close wakes all waiters and discards the held frame. Idempotent.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.frame = nil
	close(s.notify)
}

// Stats returns frames received and frames overwritten unread.
func (s *Slot) Stats() (received, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received, s.dropped
}
