package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/call-negotiator/internal/channel"
	"github.com/capitalize-ai/call-negotiator/internal/model"
	"github.com/capitalize-ai/call-negotiator/pkg/logger"
)

type fakeBackend struct {
	mu sync.Mutex

	searchFn   func(query string) (*model.SearchResponse, error)
	startFn    func(taskID string) (*model.CallResult, error)
	createErr  error
	analysisFn func(taskID string) (*model.Analysis, error)
	actionFn   func(op string) (*model.ActionResult, error)
	task       *model.TaskDetail
	taskErr    error
	taskFn     func(taskID string) (*model.TaskDetail, error)
	transcript []model.TranscriptTurn

	creates       []model.CreateTaskRequest
	searches      []string
	analysisCalls int
	actions       []string
	taskSeq       int
}

func (b *fakeBackend) CreateTask(_ context.Context, req model.CreateTaskRequest) (*model.TaskSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates = append(b.creates, req)
	if b.createErr != nil {
		return nil, b.createErr
	}
	b.taskSeq++
	return &model.TaskSummary{ID: taskIDFor(b.taskSeq), Objective: req.Objective, TargetPhone: req.TargetPhone}, nil
}

func taskIDFor(n int) string {
	return fmt.Sprintf("task-%d", n)
}

func (b *fakeBackend) StartCall(_ context.Context, taskID string) (*model.CallResult, error) {
	b.mu.Lock()
	fn := b.startFn
	b.mu.Unlock()
	if fn != nil {
		return fn(taskID)
	}
	sid := "rt-" + taskID
	return &model.CallResult{OK: true, Message: "dialing", SessionID: &sid}, nil
}

func (b *fakeBackend) action(op string) (*model.ActionResult, error) {
	b.mu.Lock()
	b.actions = append(b.actions, op)
	fn := b.actionFn
	b.mu.Unlock()
	if fn != nil {
		return fn(op)
	}
	return &model.ActionResult{OK: true}, nil
}

func (b *fakeBackend) StopCall(_ context.Context, _ string) (*model.ActionResult, error) {
	return b.action("stop")
}

func (b *fakeBackend) TransferCall(_ context.Context, _, target string) (*model.ActionResult, error) {
	return b.action("transfer:" + target)
}

func (b *fakeBackend) SendTones(_ context.Context, _, digits string) (*model.ActionResult, error) {
	return b.action("tones:" + digits)
}

func (b *fakeBackend) GetAnalysis(_ context.Context, taskID string) (*model.Analysis, error) {
	b.mu.Lock()
	b.analysisCalls++
	fn := b.analysisFn
	b.mu.Unlock()
	if fn != nil {
		return fn(taskID)
	}
	return &model.Analysis{Summary: "Saved $20 a month", Outcome: "success", ObjectiveMet: true}, nil
}

func (b *fakeBackend) GetTranscript(_ context.Context, _ string) ([]model.TranscriptTurn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transcript, nil
}

func (b *fakeBackend) GetTask(_ context.Context, taskID string) (*model.TaskDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taskFn != nil {
		return b.taskFn(taskID)
	}
	if b.taskErr != nil {
		return nil, b.taskErr
	}
	if b.task == nil {
		return nil, errors.New("task not found")
	}
	return b.task, nil
}

func (b *fakeBackend) ListTasks(_ context.Context) ([]model.TaskSummary, error) {
	return []model.TaskSummary{{ID: "task-1", Objective: "Lower my bill"}}, nil
}

func (b *fakeBackend) Search(_ context.Context, query string, _ int) (*model.SearchResponse, error) {
	b.mu.Lock()
	b.searches = append(b.searches, query)
	fn := b.searchFn
	b.mu.Unlock()
	if fn != nil {
		return fn(query)
	}
	return &model.SearchResponse{OK: true}, nil
}

func (b *fakeBackend) analysisCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.analysisCalls
}

func (b *fakeBackend) searchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.searches)
}

func (b *fakeBackend) createdTasks() []model.CreateTaskRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.CreateTaskRequest(nil), b.creates...)
}

type fakeChannel struct {
	mu          sync.Mutex
	handler     channel.Handler
	connected   string
	connects    []string
	disconnects int
	closed      bool
	connectErr  error
}

func (c *fakeChannel) SetHandler(h channel.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *fakeChannel) Connect(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = sessionID
	c.connects = append(c.connects, sessionID)
	return nil
}

func (c *fakeChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected != "" {
		c.disconnects++
	}
	c.connected = ""
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = ""
	c.closed = true
}

// currentHandler returns the handler the engine installed, connected or not.
func (c *fakeChannel) currentHandler() channel.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// emit delivers ev the way a live connection would.
func (c *fakeChannel) emit(ev model.Event) {
	c.mu.Lock()
	h, live := c.handler, c.connected != ""
	c.mu.Unlock()
	if h != nil && live {
		h(ev)
	}
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connects)
}

func (c *fakeChannel) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type fakePersistence struct {
	mu        sync.Mutex
	scheduled []model.Envelope
	flushed   []string
	active    *model.Envelope
	loads     int
}

func (p *fakePersistence) Schedule(env model.Envelope) {
	p.mu.Lock()
	p.scheduled = append(p.scheduled, env)
	p.mu.Unlock()
}

func (p *fakePersistence) Flush(_ context.Context, sessionID string) {
	p.mu.Lock()
	p.flushed = append(p.flushed, sessionID)
	p.mu.Unlock()
}

func (p *fakePersistence) LoadActive(_ context.Context) (model.Envelope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++
	if p.active == nil {
		return model.Envelope{}, errors.New("not found")
	}
	return *p.active, nil
}

func (p *fakePersistence) last() model.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scheduled[len(p.scheduled)-1]
}

type harness struct {
	engine  *Engine
	backend *fakeBackend
	channel *fakeChannel
	persist *fakePersistence
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		backend: &fakeBackend{},
		channel: &fakeChannel{},
		persist: &fakePersistence{},
	}
	opts = append([]Option{WithLogger(logger.NewNop()), WithAnalysisFallback(time.Hour)}, opts...)
	e, err := New(Deps{Backend: h.backend, Channel: h.channel, Persistence: h.persist}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(context.Background()) })
	h.engine = e
	return h
}

func statusEvent(t *testing.T, status model.CallStatus, detail string) model.Event {
	t.Helper()
	ev, err := model.NewEvent(model.EventTypeCallStatus, model.CallStatusData{Status: status, Detail: detail})
	require.NoError(t, err)
	return ev
}

func transcriptEvent(t *testing.T, speaker, content string) model.Event {
	t.Helper()
	ev, err := model.NewEvent(model.EventTypeTranscriptUpdate, model.TranscriptData{Speaker: speaker, Content: content})
	require.NoError(t, err)
	return ev
}

func thinkingEvent(t *testing.T, delta string) model.Event {
	t.Helper()
	ev, err := model.NewEvent(model.EventTypeAgentThinking, model.ThinkingData{Delta: delta})
	require.NoError(t, err)
	return ev
}

func analysisReadyEvent(t *testing.T) model.Event {
	t.Helper()
	ev, err := model.NewEvent(model.EventTypeAnalysisReady, model.AnalysisReadyData{})
	require.NoError(t, err)
	return ev
}

// startLiveCall drives a fresh harness to the active phase.
func (h *harness) startLiveCall(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.Submit(context.Background(), "555-123-4567"))
	require.Equal(t, model.PhaseConnecting, h.engine.Phase())
	h.channel.emit(statusEvent(t, model.CallStatusActive, ""))
	require.Equal(t, model.PhaseActive, h.engine.Phase())
}

func countMessages(msgs []model.Message, role model.Role, text string) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role && (text == "" || m.Text == text) {
			n++
		}
	}
	return n
}

func lastMessage(t *testing.T, e *Engine) model.Message {
	t.Helper()
	msgs := e.State().Messages
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}
