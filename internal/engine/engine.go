// Package engine is the conversation state machine behind a negotiation
// session.
//
// An Engine interprets user input, drives task and call creation through a
// Backend, consumes realtime call events from a Channel, and persists a
// snapshot of itself after every mutation. All state lives behind one mutex.
// Operations lock, mutate and unlock before any blocking call, and re-check
// the session epoch when the call returns so results that belong to a
// superseded session are discarded.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/channel"
	"github.com/capitalize-ai/call-negotiator/internal/model"
	"github.com/capitalize-ai/call-negotiator/pkg/logger"
	"github.com/capitalize-ai/call-negotiator/pkg/metrics"
)

const (
	// DefaultAnalysisFallback is how long after a call ends the engine
	// waits for analysis_ready before fetching the analysis anyway.
	DefaultAnalysisFallback = 5 * time.Second

	// DefaultRequestTimeout bounds a single backend request.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultStyle is the negotiation style sent when none is configured.
	DefaultStyle = "collaborative"

	// DefaultSearchLimit caps discovery results.
	DefaultSearchLimit = 5
)

var (
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrEmptyInput is returned by Submit for blank text.
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidPhase is returned when an operation is not allowed in the current phase.
	ErrInvalidPhase = errors.New("operation not allowed in current phase")

	// ErrInvalidSelection is returned by SelectResult for an unknown index.
	ErrInvalidSelection = errors.New("no such discovery result")

	errNoAnalysis = errors.New("backend returned no analysis")
	errNoTask     = errors.New("task not found")
)

// Backend is the task/call service the engine drives.
type Backend interface {
	CreateTask(ctx context.Context, req model.CreateTaskRequest) (*model.TaskSummary, error)
	StartCall(ctx context.Context, taskID string) (*model.CallResult, error)
	StopCall(ctx context.Context, taskID string) (*model.ActionResult, error)
	TransferCall(ctx context.Context, taskID, target string) (*model.ActionResult, error)
	SendTones(ctx context.Context, taskID, digits string) (*model.ActionResult, error)
	GetAnalysis(ctx context.Context, taskID string) (*model.Analysis, error)
	GetTranscript(ctx context.Context, taskID string) ([]model.TranscriptTurn, error)
	GetTask(ctx context.Context, taskID string) (*model.TaskDetail, error)
	ListTasks(ctx context.Context) ([]model.TaskSummary, error)
	Search(ctx context.Context, query string, limit int) (*model.SearchResponse, error)
}

// Channel is the realtime event connection owned by the engine.
type Channel interface {
	SetHandler(h channel.Handler)
	Connect(ctx context.Context, sessionID string) error
	Disconnect()
	Close()
}

// Persistence stores engine snapshots.
type Persistence interface {
	Schedule(env model.Envelope)
	Flush(ctx context.Context, sessionID string)
	LoadActive(ctx context.Context) (model.Envelope, error)
}

// Summarizer condenses discovery results into research context.
type Summarizer interface {
	Summarize(ctx context.Context, objective string, results []model.SearchResult) (string, error)
}

// Deps are the collaborators of an Engine. Backend and Channel are required.
type Deps struct {
	Backend     Backend
	Channel     Channel
	Persistence Persistence
	Summarizer  Summarizer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMode sets the session mode recorded in persisted envelopes.
func WithMode(m model.SessionMode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithStyle sets the negotiation style sent on task creation.
func WithStyle(style string) Option {
	return func(e *Engine) {
		if style != "" {
			e.style = style
		}
	}
}

// WithSearchLimit caps discovery search results.
func WithSearchLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.searchLimit = n
		}
	}
}

// WithLocation attaches a location hint to created tasks.
func WithLocation(loc *model.Location) Option {
	return func(e *Engine) { e.location = loc }
}

// WithAnalysisFallback sets the delay of the post-call analysis fallback timer.
func WithAnalysisFallback(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.analysisFallback = d
		}
	}
}

// WithRequestTimeout bounds each backend request.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.requestTimeout = d
		}
	}
}

// WithForeground sets the initial foreground hint.
func WithForeground(fg bool) Option {
	return func(e *Engine) { e.foreground = fg }
}

// Engine is one negotiation conversation.
type Engine struct {
	backend    Backend
	channel    Channel
	persist    Persistence
	summarizer Summarizer
	logger     *logger.Logger

	mode             model.SessionMode
	style            string
	searchLimit      int
	location         *model.Location
	analysisFallback time.Duration
	requestTimeout   time.Duration

	// inputMu serialises user input so two sends cannot race through the
	// same phase. Resets do not take it.
	inputMu sync.Mutex

	mu        sync.Mutex
	sessionID string
	epoch     uint64
	revision  int64
	phase     model.Phase
	messages  []model.Message
	nctx      model.NegotiationContext
	taskIDs   []string

	analysisLoaded bool
	candidates     []model.SearchResult
	typing         bool
	thinking       strings.Builder

	// Latches, reset only by NewNegotiation, CallAgain, LoadSession and Restore.
	analysisRequested bool
	connectedShown    bool
	endedApplied      bool

	fallback         *time.Timer
	foreground       bool
	restoreAttempted bool
	closed           bool

	subs *broadcaster

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine in the objective phase with a fresh session.
func New(deps Deps, opts ...Option) (*Engine, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("engine: backend is required")
	}
	if deps.Channel == nil {
		return nil, fmt.Errorf("engine: channel is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		backend:          deps.Backend,
		channel:          deps.Channel,
		persist:          deps.Persistence,
		summarizer:       deps.Summarizer,
		logger:           logger.Global(),
		mode:             model.ModeSingle,
		style:            DefaultStyle,
		searchLimit:      DefaultSearchLimit,
		analysisFallback: DefaultAnalysisFallback,
		requestTimeout:   DefaultRequestTimeout,
		foreground:       true,
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Component("engine")
	e.subs = newBroadcaster(e.logger)

	e.sessionID = uuid.NewString()
	e.phase = model.PhaseObjective
	e.messages = []model.Message{model.NewMessage(model.RoleAssistant, WelcomeMessage)}

	return e, nil
}

// State is a point-in-time copy of the engine's view.
type State struct {
	SessionID      string                   `json:"session_id"`
	Mode           model.SessionMode        `json:"mode"`
	Phase          model.Phase              `json:"phase"`
	Messages       []model.Message          `json:"messages"`
	Context        model.NegotiationContext `json:"context"`
	TaskIDs        []string                 `json:"task_ids"`
	Candidates     []model.SearchResult     `json:"candidates,omitempty"`
	Typing         bool                     `json:"typing"`
	AnalysisLoaded bool                     `json:"analysis_loaded"`
	Revision       int64                    `json:"revision"`
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		SessionID:      e.sessionID,
		Mode:           e.mode,
		Phase:          e.phase,
		Messages:       append([]model.Message(nil), e.messages...),
		Context:        e.nctx,
		TaskIDs:        append([]string{}, e.taskIDs...),
		Candidates:     append([]model.SearchResult(nil), e.candidates...),
		Typing:         e.typing,
		AnalysisLoaded: e.analysisLoaded,
		Revision:       e.revision,
	}
}

// Phase returns the current phase.
func (e *Engine) Phase() model.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// SessionID returns the current session id. It changes on NewNegotiation,
// LoadSession and Restore.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// SetForeground records whether the consumer is in the foreground. It only
// affects the Animate hint of emitted updates.
func (e *Engine) SetForeground(fg bool) {
	e.mu.Lock()
	e.foreground = fg
	e.mu.Unlock()
}

// History lists past negotiations.
func (e *Engine) History(ctx context.Context) ([]model.TaskSummary, error) {
	ctx, cancel := e.requestContext(ctx)
	defer cancel()
	return e.backend.ListTasks(ctx)
}

// Close tears the engine down: the channel is force-closed, timers are
// stopped, pending snapshots are flushed and subscribers are released.
func (e *Engine) Close(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.epoch++
	e.stopFallbackLocked()
	sessionID := e.sessionID
	e.mu.Unlock()

	e.channel.Close()
	e.cancel()
	e.wg.Wait()

	if e.persist != nil {
		e.persist.Flush(ctx, sessionID)
	}
	e.subs.close()
	e.logger.Debug("engine closed", zap.String("session_id", sessionID))
}

// requestContext detaches ctx from its caller's cancellation and bounds it
// by the request timeout, so a dropped client cannot abort a call start
// halfway through.
func (e *Engine) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.requestTimeout)
}

func (e *Engine) backgroundContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, e.requestTimeout)
}

// goSafe runs fn on its own goroutine; a panic is logged instead of
// crashing the process. Callers hold e.mu so the WaitGroup is never
// incremented after Close has started waiting.
func (e *Engine) goSafe(name string, fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.recoverPanic(name)
		fn()
	}()
}

func (e *Engine) recoverPanic(name string) {
	if r := recover(); r != nil {
		e.logger.Error("engine task panicked",
			zap.String("task", name),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
	}
}

func (e *Engine) stale(epoch uint64) bool {
	if e.closed || e.epoch != epoch {
		e.logger.Debug("discarding stale result",
			zap.Uint64("epoch", epoch),
			zap.Uint64("current_epoch", e.epoch),
		)
		return true
	}
	return false
}

// setPhaseLocked moves to phase to when the state machine allows it.
// Leaving ended stops the analysis fallback timer.
func (e *Engine) setPhaseLocked(to model.Phase) bool {
	from := e.phase
	if from == to {
		return true
	}
	if !model.CanTransition(from, to) {
		e.logger.Debug("rejected phase transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return false
	}
	e.phase = to
	if from == model.PhaseEnded {
		e.stopFallbackLocked()
	}
	metrics.RecordTransition(string(from), string(to))
	e.publishLocked(Update{Kind: UpdatePhase})
	return true
}

func (e *Engine) appendLocked(msgs ...model.Message) {
	for i := range msgs {
		e.messages = append(e.messages, msgs[i])
		msg := msgs[i]
		e.publishLocked(Update{Kind: UpdateMessage, Message: &msg})
	}
}

func (e *Engine) sayLocked(text string) {
	e.appendLocked(model.NewMessage(model.RoleAssistant, text))
}

func (e *Engine) statusLocked(text string) {
	e.appendLocked(model.NewMessage(model.RoleStatus, text))
}

func (e *Engine) publishLocked(u Update) {
	u.SessionID = e.sessionID
	u.Phase = e.phase
	u.Typing = e.typing
	u.Animate = e.foreground
	e.subs.publish(u)
}

func (e *Engine) snapshotLocked() model.Snapshot {
	return model.Snapshot{
		Phase:          e.phase,
		Messages:       e.messages,
		Context:        e.nctx,
		AnalysisLoaded: e.analysisLoaded,
	}
}

// persistLocked hands the current state to the persister. Failures never
// reach the user.
func (e *Engine) persistLocked() {
	if e.persist == nil {
		return
	}
	e.revision++
	env, err := model.NewEnvelope(e.sessionID, e.mode, e.revision, e.taskIDs, e.snapshotLocked())
	if err != nil {
		e.logger.Warn("failed to encode session snapshot",
			zap.String("session_id", e.sessionID),
			zap.Error(err),
		)
		return
	}
	e.persist.Schedule(env)
}

// resetCallStateLocked clears everything scoped to a single call attempt.
func (e *Engine) resetCallStateLocked() {
	e.stopFallbackLocked()
	e.analysisRequested = false
	e.connectedShown = false
	e.endedApplied = false
	e.analysisLoaded = false
	e.candidates = nil
	e.typing = false
	e.thinking.Reset()
}
