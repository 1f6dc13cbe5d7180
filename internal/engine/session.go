package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/model"
)

// NewNegotiation discards the current conversation, whatever its phase,
// and starts a fresh session.
func (e *Engine) NewNegotiation() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	e.epoch++
	e.resetCallStateLocked()
	e.sessionID = uuid.NewString()
	e.revision = 0
	e.taskIDs = nil
	e.nctx = model.NegotiationContext{}
	e.phase = model.PhaseObjective
	e.messages = []model.Message{model.NewMessage(model.RoleAssistant, WelcomeMessage)}
	e.publishLocked(Update{Kind: UpdateReset})
	e.persistLocked()
	sessionID := e.sessionID
	e.mu.Unlock()

	e.channel.Disconnect()
	e.logger.Info("new negotiation", zap.String("session_id", sessionID))
	return nil
}

// LoadSession replaces the conversation with a finished past negotiation.
// The loaded session is always ended and never resumes live call handling.
func (e *Engine) LoadSession(ctx context.Context, taskID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	epoch := e.epoch
	e.mu.Unlock()

	reqCtx, cancel := e.requestContext(ctx)
	defer cancel()

	task, err := e.backend.GetTask(reqCtx, taskID)
	if err == nil && task == nil {
		err = errNoTask
	}
	if err != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.stale(epoch) {
			e.sayLocked(loadFailed(err.Error()))
			e.persistLocked()
		}
		return err
	}

	turns, err := e.backend.GetTranscript(reqCtx, taskID)
	if err != nil {
		e.logger.Debug("transcript unavailable for past session", zap.String("task_id", taskID), zap.Error(err))
		turns = nil
	}

	analysis, err := e.backend.GetAnalysis(reqCtx, taskID)
	if err != nil {
		e.logger.Debug("analysis unavailable for past session", zap.String("task_id", taskID), zap.Error(err))
		analysis = nil
	}

	e.mu.Lock()
	if e.stale(epoch) {
		e.mu.Unlock()
		return nil
	}

	messages := replay(task.Objective, task.TargetPhone)
	for _, t := range turns {
		messages = append(messages, model.NewTranscriptMessage(speakerOf(t.Speaker), t.Content))
	}
	messages = append(messages, model.NewMessage(model.RoleStatus, callEndedStatus))
	if analysis != nil {
		messages = append(messages, model.NewAnalysisMessage(analysis), model.NewAudioMessage(taskID))
	}

	e.epoch++
	e.resetCallStateLocked()
	e.sessionID = uuid.NewString()
	e.revision = 0
	e.taskIDs = []string{taskID}
	e.nctx = model.NegotiationContext{
		Objective: task.Objective,
		Phone:     task.TargetPhone,
		Research:  task.Context,
		TaskID:    taskID,
	}
	e.messages = messages
	e.phase = model.PhaseEnded
	e.endedApplied = true
	e.analysisLoaded = analysis != nil
	e.publishLocked(Update{Kind: UpdateReset})
	e.persistLocked()
	e.mu.Unlock()

	e.channel.Disconnect()
	return nil
}

// Restore adopts the active persisted session. Only the first call does
// anything. A snapshot holding nothing beyond the welcome message is not
// adopted, and a snapshot taken mid-call comes back as ended without
// reconnecting the channel, with the analysis fallback armed.
func (e *Engine) Restore(ctx context.Context) bool {
	e.mu.Lock()
	if e.closed || e.restoreAttempted || e.persist == nil {
		e.restoreAttempted = true
		e.mu.Unlock()
		return false
	}
	e.restoreAttempted = true
	epoch := e.epoch
	e.mu.Unlock()

	env, err := e.persist.LoadActive(ctx)
	if err != nil {
		e.logger.Debug("no session to restore", zap.Error(err))
		return false
	}
	if env.SchemaVersion != model.SchemaVersion {
		e.logger.Info("ignoring snapshot with unsupported schema",
			zap.Int("schema_version", env.SchemaVersion),
		)
		return false
	}
	snap, err := env.Snapshot()
	if err != nil {
		e.logger.Warn("failed to decode persisted snapshot", zap.String("session_id", env.SessionID), zap.Error(err))
		return false
	}
	if len(snap.Messages) <= 1 {
		return false
	}

	phase := snap.Phase
	switch {
	case phase.Live():
		phase = model.PhaseEnded
	case !phase.Valid():
		e.logger.Warn("ignoring snapshot with unknown phase", zap.String("phase", string(phase)))
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stale(epoch) {
		return false
	}

	e.epoch++
	e.resetCallStateLocked()
	e.sessionID = env.SessionID
	e.revision = env.Revision
	e.taskIDs = append([]string(nil), env.TaskIDs...)
	e.nctx = snap.Context
	e.messages = snap.Messages
	e.phase = phase
	e.analysisLoaded = snap.AnalysisLoaded
	switch phase {
	case model.PhaseEnded:
		e.endedApplied = true
		// The call finished while we were down; its analysis may be ready.
		if phase != snap.Phase && !e.analysisLoaded {
			e.armFallbackLocked()
		}
	case model.PhaseDiscovery:
		e.candidates = lastResults(snap.Messages)
	}
	e.publishLocked(Update{Kind: UpdateReset})
	if phase != snap.Phase {
		e.persistLocked()
	}

	e.logger.Info("restored session",
		zap.String("session_id", env.SessionID),
		zap.String("phase", string(phase)),
		zap.Int("messages", len(snap.Messages)),
	)
	return true
}

func lastResults(messages []model.Message) []model.SearchResult {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleSearchResults {
			return append([]model.SearchResult(nil), messages[i].Results...)
		}
	}
	return nil
}
