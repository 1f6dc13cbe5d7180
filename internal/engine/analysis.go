package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/model"
	"github.com/capitalize-ai/call-negotiator/pkg/metrics"
)

// RetryAnalysis fetches the post-call analysis again after an earlier
// attempt failed.
func (e *Engine) RetryAnalysis() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.phase != model.PhaseEnded {
		return ErrInvalidPhase
	}
	e.requestAnalysisLocked("manual")
	return nil
}

// requestAnalysisLocked starts the analysis fetch unless one is already in
// flight or done for this session.
func (e *Engine) requestAnalysisLocked(trigger string) {
	if e.analysisRequested || e.analysisLoaded {
		return
	}
	taskID := e.nctx.TaskID
	if taskID == "" {
		e.logger.Debug("no task to fetch analysis for", zap.String("trigger", trigger))
		return
	}
	e.analysisRequested = true
	epoch := e.epoch

	e.goSafe("fetch_analysis", func() { e.fetchAnalysis(epoch, taskID, trigger) })
}

func (e *Engine) fetchAnalysis(epoch uint64, taskID, trigger string) {
	ctx, cancel := e.backgroundContext()
	analysis, err := e.backend.GetAnalysis(ctx, taskID)
	cancel()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stale(epoch) {
		return
	}

	if err == nil && analysis == nil {
		err = errNoAnalysis
	}
	if err != nil {
		// Release the latch so the other trigger or a manual retry can try again.
		e.analysisRequested = false
		metrics.AnalysisFetchesTotal.WithLabelValues(trigger, "error").Inc()
		e.logger.Info("analysis fetch failed",
			zap.String("task_id", taskID),
			zap.String("trigger", trigger),
			zap.Error(err),
		)
		return
	}

	metrics.AnalysisFetchesTotal.WithLabelValues(trigger, "ok").Inc()
	e.appendLocked(model.NewAnalysisMessage(analysis), model.NewAudioMessage(taskID))
	e.analysisLoaded = true
	e.stopFallbackLocked()
	e.persistLocked()
}

func (e *Engine) armFallbackLocked() {
	e.stopFallbackLocked()
	epoch := e.epoch
	e.fallback = time.AfterFunc(e.analysisFallback, func() {
		defer e.recoverPanic("analysis_fallback")
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.stale(epoch) || e.phase != model.PhaseEnded {
			return
		}
		e.fallback = nil
		e.requestAnalysisLocked("timer")
	})
}

func (e *Engine) stopFallbackLocked() {
	if e.fallback != nil {
		e.fallback.Stop()
		e.fallback = nil
	}
}
