package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/guilhermegouw/relay/internal/delivery"
	"github.com/guilhermegouw/relay/internal/message"
	"github.com/guilhermegouw/relay/internal/processor"
	"github.com/guilhermegouw/relay/internal/pubsub"
	"github.com/guilhermegouw/relay/internal/session"
	"github.com/guilhermegouw/relay/internal/store"
	"github.com/guilhermegouw/relay/internal/worker"
)

const maxBodyBytes = 1 << 20

type statusResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type sessionSummary struct {
	Title     string `json:"title"`
	SessionID string `json:"session_id"`
}

type sendRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Model     string `json:"model"`
	Delivery  string `json:"delivery,omitempty"`
}

type healthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version,omitempty"`
	Connections int                    `json:"connections"`
	Workers     worker.Stats           `json:"workers"`
	Brokers     []pubsub.BrokerMetrics `json:"brokers,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, statusResponse{Status: "error", Message: msg})
}

// storeStatus maps a gateway error to an HTTP status.
func storeStatus(err error) int {
	switch {
	case store.IsNotFound(err):
		return http.StatusNotFound
	case store.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"models": s.catalog.Models()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var (
		sessions []*session.Session
		err      error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		sessions, err = s.store.SearchSessions(r.Context(), q)
	} else {
		sessions, err = s.store.ListSessions(r.Context())
	}
	if err != nil {
		writeError(w, storeStatus(err), "could not list sessions")
		return
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionSummary{Title: sess.Title, SessionID: sess.ID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	sess, err := s.store.NewSession(r.Context(), s.modelOrDefault(req.Model))
	if err != nil {
		writeError(w, storeStatus(err), "could not create session")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, storeStatus(err), struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, storeStatus(err), "could not delete session")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleChangeModel(w http.ResponseWriter, r *http.Request) {
	model := strings.TrimSpace(r.URL.Query().Get("model"))
	if model == "" && r.ContentLength != 0 {
		var req struct {
			Model string `json:"model"`
		}
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		model = strings.TrimSpace(req.Model)
	}
	if model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	s.warnUnknownModel(model)

	if err := s.store.SetSessionModel(r.Context(), r.PathValue("id"), model); err != nil {
		writeError(w, storeStatus(err), "could not change model")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, storeStatus(err), "could not load history")
		return
	}
	if msgs == nil {
		msgs = []*message.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleSendMessage records a Pending user message and queues it. It
// returns as soon as the message is stored.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	mode, err := delivery.ParseMode(req.Delivery)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	model := s.modelOrDefault(req.Model)
	s.warnUnknownModel(model)

	ctx := r.Context()
	if _, err := s.store.EnsureSession(ctx, req.SessionID, model); err != nil {
		writeError(w, http.StatusInternalServerError, "could not save session")
		return
	}
	msg, err := s.store.AppendMessage(ctx, req.SessionID, message.RoleUser, req.Content, message.StatePending)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not save message")
		return
	}

	s.submit(processor.Job{MessageID: msg.ID, SessionID: req.SessionID, Mode: mode})
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", MessageID: msg.ID, SessionID: req.SessionID})
}

// handleProcessMessage accepts a database webhook of the form
// {"record": {"id": 1, "session_id": "...", "state": "Pending"}}.
func (s *Server) handleProcessMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	record := gjson.GetBytes(body, "record")
	id := record.Get("id")
	sessionID := record.Get("session_id").String()
	if !id.Exists() || id.Int() <= 0 || sessionID == "" {
		writeError(w, http.StatusBadRequest, "record.id and record.session_id are required")
		return
	}
	if state := record.Get("state"); state.Exists() && state.String() != string(message.StatePending) {
		writeJSON(w, http.StatusOK, statusResponse{Status: "skipped", MessageID: id.Int()})
		return
	}

	err = s.jobs.Submit(processor.Job{MessageID: id.Int(), SessionID: sessionID, Mode: delivery.ModeAuto})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok", MessageID: id.Int()})
	case errors.Is(err, worker.ErrAlreadyQueued):
		writeJSON(w, http.StatusOK, statusResponse{Status: "skipped", MessageID: id.Int()})
	default:
		s.logger.Warn("webhook job rejected", "message_id", id.Int(), "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Version:     s.version,
		Connections: s.conns.Len(),
		Workers:     s.jobs.Stats(),
	}
	if s.hub != nil {
		resp.Brokers = s.hub.AllMetrics()
	}
	writeJSON(w, http.StatusOK, resp)
}

// submit queues job. A job that cannot be queued stays Pending and is
// picked up by the recovery sweep.
func (s *Server) submit(job processor.Job) {
	if err := s.jobs.Submit(job); err != nil && !errors.Is(err, worker.ErrAlreadyQueued) {
		s.logger.Warn("job not queued, left for recovery", "message_id", job.MessageID, "error", err)
	}
}

func (s *Server) modelOrDefault(model string) string {
	if model = strings.TrimSpace(model); model != "" {
		return model
	}
	return s.defaultModel
}

func (s *Server) warnUnknownModel(model string) {
	if s.catalog != nil && !s.catalog.Contains(model) {
		s.logger.Warn("model not in catalog", "model", model)
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
