package camera

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSlot_OverwriteAndDrops(t *testing.T) {
	s := NewSlot()

	if _, ok := s.Current(); ok {
		t.Fatal("empty slot returned a frame")
	}

	s.Publish(&Frame{Seq: 1})
	s.Publish(&Frame{Seq: 2}) // 1 never read
	f, ok := s.Current()
	if !ok || f.Seq != 2 {
		t.Fatalf("Current = %v, %v; want seq 2", f, ok)
	}
	s.Publish(&Frame{Seq: 3}) // 2 was read, not a drop

	received, dropped := s.Stats()
	if received != 3 || dropped != 1 {
		t.Errorf("stats = (%d, %d), want (3, 1)", received, dropped)
	}
}

func TestSlot_WaitForNewerFrame(t *testing.T) {
	s := NewSlot()
	s.Publish(&Frame{Seq: 1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Publish(&Frame{Seq: 2})
	}()

	f, err := s.Wait(ctx, 1)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if f.Seq != 2 {
		t.Errorf("Wait returned seq %d, want 2", f.Seq)
	}
}

func TestSlot_WaitHonorsContext(t *testing.T) {
	s := NewSlot()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Wait(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait err = %v, want context.Canceled", err)
	}
}

func TestSlot_CloseWakesWaiters(t *testing.T) {
	s := NewSlot()
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Wait(context.Background(), 0)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()
	s.Close() // idempotent

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSlotClosed) {
			t.Errorf("err = %v, want ErrSlotClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}

	if s.Publish(&Frame{Seq: 9}) {
		t.Error("Publish succeeded after Close")
	}
	if _, ok := s.Current(); ok {
		t.Error("Current returned a frame after Close")
	}
}
