package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	codescanner "github.com/e7canasta/code-scanner"
)

const (
	writeWait = 5 * time.Second
	// publishBuffer bounds the events queued for the Publisher per connection.
	publishBuffer = 64
)

// clientCommand is a message sent by the UI.
type clientCommand struct {
	Command string `json:"command"`
}

// errorMessage is sent when a session cannot be opened.
type errorMessage struct {
	Error string `json:"error"`
}

// handleScan opens a session for the connection and streams its events
// as JSON text messages. The session closes on {"command":"close"}, on
// disconnect, or by itself after an acquisition or backend failure.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("server: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	session, err := s.ctrl.Open(r.Context())
	if err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, codescanner.ErrSessionActive) {
			code = websocket.CloseTryAgainLater
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(errorMessage{Error: err.Error()})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, "session unavailable"))
		return
	}

	log := s.logger.With("session_id", session.ID(), "remote", r.RemoteAddr)
	log.Info("server: websocket session started")

	leave := make(chan struct{})
	go func() {
		defer close(leave)
		for {
			var cmd clientCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			if cmd.Command == "close" {
				return
			}
			log.Debug("server: ignoring client command", "command", cmd.Command)
		}
	}()

	reason := s.stream(conn, session, leave)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		log.Warn("server: session close", "error", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	log.Info("server: websocket session ended", "reason", reason)
}

// stream forwards events until the session ends or the client leaves.
// Publishing runs beside it so a slow broker never holds back the UI.
func (s *Server) stream(conn *websocket.Conn, session *codescanner.Session, leave <-chan struct{}) string {
	publish := s.startPublisher(s.logger.With("session_id", session.ID()))
	defer publish.stop()

	for {
		select {
		case ev, ok := <-session.Events():
			if !ok {
				return "session ended"
			}
			publish.offer(ev)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return "write failed"
			}
		case <-leave:
			return "client closed"
		}
	}
}

// eventRelay hands events to the Publisher on its own goroutine. Events
// offered while the queue is full are dropped and counted.
type eventRelay struct {
	queue   chan codescanner.Event
	dropped func()
	logger  *slog.Logger
}

func (s *Server) startPublisher(logger *slog.Logger) *eventRelay {
	if s.opts.Publisher == nil {
		return nil
	}
	r := &eventRelay{
		queue:   make(chan codescanner.Event, publishBuffer),
		dropped: func() { s.publishDropped.Add(1) },
		logger:  logger,
	}
	go func(pub Publisher) {
		for ev := range r.queue {
			if err := pub.Publish(ev); err != nil {
				logger.Debug("server: publish failed", "kind", ev.Kind, "error", err)
			}
		}
	}(s.opts.Publisher)
	return r
}

func (r *eventRelay) offer(ev codescanner.Event) {
	if r == nil {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.dropped()
		r.logger.Warn("server: publish queue full, event dropped", "kind", ev.Kind)
	}
}

// stop lets queued events drain in the background.
func (r *eventRelay) stop() {
	if r != nil {
		close(r.queue)
	}
}
