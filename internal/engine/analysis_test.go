package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/call-negotiator/internal/model"
)

func analysisMessages(msgs []model.Message) (analysis, audio int) {
	for _, m := range msgs {
		switch m.Role {
		case model.RoleAnalysis:
			analysis++
		case model.RoleAudio:
			audio++
		}
	}
	return analysis, audio
}

func TestAnalysis_FetchedOnceWhenEventAndTimerBothFire(t *testing.T) {
	h := newHarness(t, WithAnalysisFallback(20*time.Millisecond))
	release := make(chan struct{})
	h.backend.analysisFn = func(string) (*model.Analysis, error) {
		<-release
		return &model.Analysis{Summary: "Saved $20", Outcome: "success"}, nil
	}
	h.startLiveCall(t)

	h.channel.emit(statusEvent(t, model.CallStatusEnded, ""))
	h.channel.emit(analysisReadyEvent(t))
	h.channel.emit(analysisReadyEvent(t))

	// Let the fallback timer fire while the first fetch is still in flight.
	time.Sleep(60 * time.Millisecond)
	close(release)

	require.Eventually(t, func() bool { return h.engine.State().AnalysisLoaded }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return h.backend.analysisCount() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	msgs := h.engine.State().Messages
	analysis, audio := analysisMessages(msgs)
	assert.Equal(t, 1, analysis)
	assert.Equal(t, 1, audio)

	n := len(msgs)
	assert.Equal(t, model.RoleAnalysis, msgs[n-2].Role)
	assert.Equal(t, "Saved $20", msgs[n-2].Analysis.Summary)
	assert.Equal(t, model.RoleAudio, msgs[n-1].Role)
	assert.Equal(t, "task-1", msgs[n-1].AudioTaskID)
}

func TestAnalysis_FallbackTimerFetchesWithoutEvent(t *testing.T) {
	h := newHarness(t, WithAnalysisFallback(20*time.Millisecond))
	h.startLiveCall(t)

	h.channel.emit(statusEvent(t, model.CallStatusEnded, ""))

	require.Eventually(t, func() bool { return h.engine.State().AnalysisLoaded }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.backend.analysisCount())
}

func TestAnalysis_FailureReleasesLatch(t *testing.T) {
	h := newHarness(t, WithAnalysisFallback(50*time.Millisecond))
	var mu sync.Mutex
	calls := 0
	h.backend.analysisFn = func(string) (*model.Analysis, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("not ready")
		}
		return &model.Analysis{Summary: "Done", Outcome: "partial"}, nil
	}
	h.startLiveCall(t)

	h.channel.emit(statusEvent(t, model.CallStatusEnded, ""))
	h.channel.emit(analysisReadyEvent(t))

	// The event attempt fails; the fallback timer gets another go.
	require.Eventually(t, func() bool { return h.engine.State().AnalysisLoaded }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.backend.analysisCount())

	analysis, audio := analysisMessages(h.engine.State().Messages)
	assert.Equal(t, 1, analysis)
	assert.Equal(t, 1, audio)
}

func TestAnalysis_ManualRetry(t *testing.T) {
	h := newHarness(t)
	fail := true
	var mu sync.Mutex
	h.backend.analysisFn = func(string) (*model.Analysis, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("not ready")
		}
		return &model.Analysis{Summary: "ok"}, nil
	}

	assert.ErrorIs(t, h.engine.RetryAnalysis(), ErrInvalidPhase)

	h.startLiveCall(t)
	h.channel.emit(statusEvent(t, model.CallStatusEnded, ""))
	h.channel.emit(analysisReadyEvent(t))
	require.Eventually(t, func() bool { return h.backend.analysisCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return h.engine.State().AnalysisLoaded }, 50*time.Millisecond, 10*time.Millisecond)

	mu.Lock()
	fail = false
	mu.Unlock()
	require.NoError(t, h.engine.RetryAnalysis())
	require.Eventually(t, func() bool { return h.engine.State().AnalysisLoaded }, time.Second, 5*time.Millisecond)

	// Once loaded, further retries are no-ops.
	require.NoError(t, h.engine.RetryAnalysis())
	require.Never(t, func() bool { return h.backend.analysisCount() > 2 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestAnalysis_StaleResultDiscardedAfterReset(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.backend.analysisFn = func(string) (*model.Analysis, error) {
		close(started)
		<-release
		return &model.Analysis{Summary: "late"}, nil
	}
	h.startLiveCall(t)
	h.channel.emit(statusEvent(t, model.CallStatusEnded, ""))
	h.channel.emit(analysisReadyEvent(t))
	<-started

	require.NoError(t, h.engine.NewNegotiation())
	close(release)

	require.Never(t, func() bool {
		analysis, _ := analysisMessages(h.engine.State().Messages)
		return analysis > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Len(t, h.engine.State().Messages, 1)
	assert.False(t, h.engine.State().AnalysisLoaded)
}

func TestAnalysis_TimerClearedWhenLeavingEnded(t *testing.T) {
	h := newHarness(t, WithAnalysisFallback(30*time.Millisecond))
	h.startLiveCall(t)
	h.channel.emit(statusEvent(t, model.CallStatusEnded, ""))

	require.NoError(t, h.engine.NewNegotiation())

	require.Never(t, func() bool { return h.backend.analysisCount() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}
