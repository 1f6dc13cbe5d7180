package engine

import (
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/model"
	"github.com/capitalize-ai/call-negotiator/pkg/metrics"
)

// HandleEvent applies a realtime event to the current session.
func (e *Engine) HandleEvent(ev model.Event) {
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()
	e.handleEvent(epoch, ev)
}

func (e *Engine) handleEvent(epoch uint64, ev model.Event) {
	defer e.recoverPanic("handle_event")

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stale(epoch) {
		return
	}
	metrics.RealtimeEventsTotal.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case model.EventTypeCallStatus:
		var data model.CallStatusData
		if err := ev.Decode(&data); err != nil {
			e.logger.Debug("dropping call_status with bad payload", zap.Error(err))
			return
		}
		e.applyStatusLocked(data)

	case model.EventTypeTranscriptUpdate:
		var data model.TranscriptData
		if err := ev.Decode(&data); err != nil {
			e.logger.Debug("dropping transcript_update with bad payload", zap.Error(err))
			return
		}
		e.typing = false
		e.thinking.Reset()
		if strings.TrimSpace(data.Content) == "" {
			e.publishLocked(Update{Kind: UpdateTyping})
			return
		}
		e.appendLocked(model.NewTranscriptMessage(speakerOf(data.Speaker), data.Content))
		e.persistLocked()

	case model.EventTypeAgentThinking:
		var data model.ThinkingData
		if err := ev.Decode(&data); err != nil {
			e.logger.Debug("dropping agent_thinking with bad payload", zap.Error(err))
			return
		}
		e.thinking.WriteString(data.Delta)
		if !e.typing {
			e.typing = true
			e.publishLocked(Update{Kind: UpdateTyping})
		}

	case model.EventTypeStrategyUpdate, model.EventTypeAudioLevel:
		e.logger.Debug("realtime event has no conversation effect", zap.String("type", string(ev.Type)))

	case model.EventTypeAnalysisReady:
		e.requestAnalysisLocked("event")
	}
}

func (e *Engine) applyStatusLocked(data model.CallStatusData) {
	switch data.Status {
	case model.CallStatusActive:
		if e.phase == model.PhaseActive {
			return
		}
		if e.setPhaseLocked(model.PhaseActive) {
			e.statusLocked(statusText[string(data.Status)])
			e.persistLocked()
		}

	case model.CallStatusEnded:
		if e.endedApplied {
			return
		}
		if !e.enterEndedLocked() {
			return
		}
		e.statusLocked(callEndedStatus)
		e.sayLocked(analysisPreparing)
		e.persistLocked()

	case model.CallStatusFailed:
		if e.endedApplied {
			return
		}
		if !e.enterEndedLocked() {
			return
		}
		detail := data.Detail
		if detail == "" {
			detail = data.Message
		}
		e.statusLocked(callFailedStatus(detail))
		e.persistLocked()

	case model.CallStatusConnected:
		if e.connectedShown {
			return
		}
		e.connectedShown = true
		e.statusLocked(statusText[string(data.Status)])
		e.persistLocked()

	case model.CallStatusDialing, model.CallStatusMediaEstablished, model.CallStatusDisconnected:
		e.statusLocked(statusText[string(data.Status)])
		e.persistLocked()

	default:
		e.logger.Debug("ignoring call status", zap.String("status", string(data.Status)))
	}
}

// enterEndedLocked moves a live call to ended, latches the terminal
// transition and arms the analysis fallback timer.
func (e *Engine) enterEndedLocked() bool {
	if !e.setPhaseLocked(model.PhaseEnded) {
		return false
	}
	e.endedApplied = true
	e.typing = false
	e.armFallbackLocked()
	return true
}

func speakerOf(s string) model.Speaker {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agent", "assistant", "ai":
		return model.SpeakerAgent
	}
	return model.SpeakerReceiver
}
