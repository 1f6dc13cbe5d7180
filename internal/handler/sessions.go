// Package handler exposes negotiation sessions over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/engine"
	"github.com/capitalize-ai/call-negotiator/internal/middleware"
	"github.com/capitalize-ai/call-negotiator/internal/model"
	"github.com/capitalize-ai/call-negotiator/internal/service"
	"github.com/capitalize-ai/call-negotiator/pkg/logger"
)

// Readiness reports backend voice capabilities.
type Readiness interface {
	VoiceReadiness(ctx context.Context) (*model.VoiceReadiness, error)
}

// HistoryLister lists past negotiations.
type HistoryLister interface {
	ListTasks(ctx context.Context) ([]model.TaskSummary, error)
}

// SessionHandler handles session endpoints.
type SessionHandler struct {
	sessions  *service.SessionService
	history   HistoryLister
	readiness Readiness
	logger    *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions *service.SessionService, history HistoryLister, readiness Readiness, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		history:   history,
		readiness: readiness,
		logger:    log.Component("handler"),
	}
}

// SessionResponse is a session handle with the engine state.
type SessionResponse struct {
	ID string `json:"id"`
	engine.State
}

// SubmitRequest is the body of POST /sessions/{id}/messages.
type SubmitRequest struct {
	Text string `json:"text"`
}

// SelectRequest is the body of POST /sessions/{id}/select.
type SelectRequest struct {
	Index int `json:"index"`
}

// TransferRequest is the body of POST /sessions/{id}/call/transfer.
type TransferRequest struct {
	Target string `json:"target"`
}

// TonesRequest is the body of POST /sessions/{id}/call/tones.
type TonesRequest struct {
	Digits string `json:"digits"`
}

// LoadRequest is the body of POST /sessions/{id}/load.
type LoadRequest struct {
	TaskID string `json:"task_id"`
}

// ForegroundRequest is the body of POST /sessions/{id}/foreground.
type ForegroundRequest struct {
	Foreground bool `json:"foreground"`
}

// Routes mounts the session endpoints.
func (h *SessionHandler) Routes(r chi.Router) {
	r.Get("/history", h.History)
	r.Get("/voice/readiness", h.VoiceReadiness)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Post("/messages", h.Submit)
			r.Post("/select", h.Select)
			r.Post("/call/end", h.EndCall)
			r.Post("/call/transfer", h.Transfer)
			r.Post("/call/tones", h.Tones)
			r.Post("/call/again", h.CallAgain)
			r.Post("/reset", h.Reset)
			r.Post("/load", h.Load)
			r.Post("/analysis/retry", h.RetryAnalysis)
			r.Post("/foreground", h.Foreground)
		})
	})
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Create(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		writeError(w, statusFor(err), "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, respond(sess))
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":     h.sessions.Mode(),
		"sessions": h.sessions.List(middleware.GetUserID(r.Context())),
	})
}

// Get handles GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, respond(sess))
}

// Delete handles DELETE /api/v1/sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.sessions.Delete(r.Context(), id, middleware.GetUserID(r.Context())); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Submit handles POST /api/v1/sessions/{id}/messages
func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := middleware.ValidateInput(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.run(w, sess, sess.Engine.Submit(r.Context(), req.Text))
}

// Select handles POST /api/v1/sessions/{id}/select
func (h *SessionHandler) Select(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req SelectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.run(w, sess, sess.Engine.SelectResult(r.Context(), req.Index))
}

// EndCall handles POST /api/v1/sessions/{id}/call/end
func (h *SessionHandler) EndCall(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.run(w, sess, sess.Engine.EndCall(r.Context()))
}

// Transfer handles POST /api/v1/sessions/{id}/call/transfer
func (h *SessionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := middleware.ValidateTransferTarget(req.Target); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.run(w, sess, sess.Engine.TransferCall(r.Context(), req.Target))
}

// Tones handles POST /api/v1/sessions/{id}/call/tones
func (h *SessionHandler) Tones(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req TonesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := middleware.ValidateDigits(req.Digits); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.run(w, sess, sess.Engine.SendTones(r.Context(), req.Digits))
}

// CallAgain handles POST /api/v1/sessions/{id}/call/again
func (h *SessionHandler) CallAgain(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.run(w, sess, sess.Engine.CallAgain(r.Context()))
}

// Reset handles POST /api/v1/sessions/{id}/reset
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.run(w, sess, sess.Engine.NewNegotiation())
}

// Load handles POST /api/v1/sessions/{id}/load
func (h *SessionHandler) Load(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req LoadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := middleware.ValidateTaskID(req.TaskID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.run(w, sess, sess.Engine.LoadSession(r.Context(), req.TaskID))
}

// RetryAnalysis handles POST /api/v1/sessions/{id}/analysis/retry
func (h *SessionHandler) RetryAnalysis(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Engine.RetryAnalysis(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, respond(sess))
}

// Foreground handles POST /api/v1/sessions/{id}/foreground
func (h *SessionHandler) Foreground(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req ForegroundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess.Engine.SetForeground(req.Foreground)
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/v1/history
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.history.ListTasks(r.Context())
	if err != nil {
		h.logger.Warn("failed to list history", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to load history")
		return
	}
	if tasks == nil {
		tasks = []model.TaskSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// VoiceReadiness handles GET /api/v1/voice/readiness
func (h *SessionHandler) VoiceReadiness(w http.ResponseWriter, r *http.Request) {
	ready, err := h.readiness.VoiceReadiness(r.Context())
	if err != nil {
		h.logger.Warn("failed to check voice readiness", zap.Error(err))
		writeError(w, http.StatusBadGateway, "voice readiness unavailable")
		return
	}
	writeJSON(w, http.StatusOK, ready)
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*service.Session, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	sess, err := h.sessions.Get(id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

// run writes the post-operation state, or the error. Errors that the engine
// already turned into conversation messages never reach here.
func (h *SessionHandler) run(w http.ResponseWriter, sess *service.Session, err error) {
	if err != nil {
		writeJSON(w, statusFor(err), map[string]interface{}{
			"error":   err.Error(),
			"session": respond(sess),
		})
		return
	}
	writeJSON(w, http.StatusOK, respond(sess))
}

func respond(sess *service.Session) SessionResponse {
	return SessionResponse{ID: sess.ID, State: sess.Engine.State()}
}
