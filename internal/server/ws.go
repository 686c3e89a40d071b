package server

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/guilhermegouw/relay/internal/delivery"
	"github.com/guilhermegouw/relay/internal/events"
	"github.com/guilhermegouw/relay/internal/live"
	"github.com/guilhermegouw/relay/internal/pubsub"
	"github.com/guilhermegouw/relay/internal/store"
)

const frameModelChange = "model_change"

// handleWebsocket upgrades the request and registers the connection for
// the session until it closes.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	logger := s.logger.With("session_id", sessionID)
	conn := live.New(ws, live.Options{}, logger)
	s.conns.Add(sessionID, conn)
	defer s.conns.Remove(sessionID, conn)
	logger.Info("live connection opened")

	err = conn.Run(s.ctx, func(frame []byte) {
		s.handleInbound(sessionID, frame)
	})
	if err != nil {
		logger.Debug("live connection ended with error", "error", err)
	}
	logger.Info("live connection closed")
}

// handleInbound applies a client frame. Only model changes are
// understood; they get no reply.
func (s *Server) handleInbound(sessionID string, frame []byte) {
	if !gjson.ValidBytes(frame) {
		s.logger.Debug("ignoring malformed frame", "session_id", sessionID)
		return
	}
	msg := gjson.ParseBytes(frame)
	switch msg.Get("type").String() {
	case frameModelChange:
		model := strings.TrimSpace(msg.Get("model").String())
		if model == "" {
			return
		}
		s.warnUnknownModel(model)
		// A chat that has not sent anything yet has no row; its first
		// message carries the model.
		err := s.store.SetSessionModel(s.ctx, sessionID, model)
		if err != nil && !store.IsNotFound(err) {
			s.logger.Warn("model change failed", "session_id", sessionID, "error", err)
		}
	default:
		s.logger.Debug("ignoring frame", "session_id", sessionID, "type", msg.Get("type").String())
	}
}

// watchSessions tells live clients when their session is renamed.
func (s *Server) watchSessions(sub <-chan pubsub.Event[events.SessionEvent]) {
	push := delivery.NewPush(s.conns, s.logger)
	for ev := range sub {
		if ev.Payload.Type != events.SessionEventRenamed {
			continue
		}
		if _, ok := s.conns.Lookup(ev.Payload.SessionID); !ok {
			continue
		}
		if err := push.Notify(s.ctx, ev.Payload.SessionID, delivery.TitleUpdate(ev.Payload.Title)); err != nil {
			s.logger.Debug("title update not delivered", "session_id", ev.Payload.SessionID, "error", err)
		}
	}
}
