package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/model"
	"github.com/capitalize-ai/call-negotiator/pkg/logger"
	"github.com/capitalize-ai/call-negotiator/pkg/metrics"
)

// DefaultDebounce is how long the persister waits after the last change
// before writing a session.
const DefaultDebounce = 2 * time.Second

// writeTimeout bounds a single flush, mirrors included.
const writeTimeout = 10 * time.Second

// Mirror is a best-effort remote copy of session snapshots.
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, env model.Envelope) error
}

type pending struct {
	env   model.Envelope
	timer *time.Timer
}

// Persister coalesces snapshot writes per session. Schedule may be called
// on every state change; only the latest envelope is written once the
// session has been quiet for the debounce interval.
type Persister struct {
	store    Store
	mirrors  []Mirror
	debounce time.Duration
	logger   *logger.Logger

	mu      sync.Mutex
	pending map[string]*pending
	closed  bool
	wg      sync.WaitGroup
}

// NewPersister creates a debounced writer over s.
func NewPersister(s Store, debounce time.Duration, log *logger.Logger, mirrors ...Mirror) *Persister {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = logger.Global()
	}
	return &Persister{
		store:    s,
		mirrors:  mirrors,
		debounce: debounce,
		logger:   log.Component("persister"),
		pending:  make(map[string]*pending),
	}
}

// Store returns the underlying store.
func (p *Persister) Store() Store {
	return p.store
}

// Schedule queues env for writing, replacing any queued envelope for the
// same session and restarting its quiet period.
func (p *Persister) Schedule(env model.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	if cur, ok := p.pending[env.SessionID]; ok {
		if env.Revision < cur.env.Revision {
			return
		}
		cur.env = env
		cur.timer.Reset(p.debounce)
		return
	}

	sessionID := env.SessionID
	p.pending[sessionID] = &pending{
		env: env,
		timer: time.AfterFunc(p.debounce, func() {
			p.flushSession(sessionID)
		}),
	}
}

// Flush writes the queued envelope for sessionID immediately.
func (p *Persister) Flush(ctx context.Context, sessionID string) {
	env, ok := p.take(sessionID)
	if !ok {
		return
	}
	p.write(ctx, env)
}

// FlushAll writes every queued envelope.
func (p *Persister) FlushAll(ctx context.Context) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Flush(ctx, id)
	}
}

// Close flushes everything still queued and stops accepting new work.
// Writes started by timers are waited for.
func (p *Persister) Close(ctx context.Context) {
	p.FlushAll(ctx)

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
}

// LoadActive returns the envelope the active pointer refers to.
func (p *Persister) LoadActive(ctx context.Context) (model.Envelope, error) {
	return LoadActive(ctx, p.store)
}

// Load returns the stored envelope for sessionID.
func (p *Persister) Load(ctx context.Context, sessionID string) (model.Envelope, error) {
	return p.store.Load(ctx, sessionID)
}

func (p *Persister) take(sessionID string) (model.Envelope, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.pending[sessionID]
	if !ok {
		return model.Envelope{}, false
	}
	cur.timer.Stop()
	delete(p.pending, sessionID)
	p.wg.Add(1)
	return cur.env, true
}

func (p *Persister) flushSession(sessionID string) {
	env, ok := p.take(sessionID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	p.write(ctx, env)
}

func (p *Persister) write(ctx context.Context, env model.Envelope) {
	defer p.wg.Done()

	log := p.logger.With(
		zap.String("session_id", env.SessionID),
		zap.Int64("revision", env.Revision),
	)

	if err := p.store.Save(ctx, env); err != nil {
		metrics.SnapshotWritesTotal.WithLabelValues("error").Inc()
		log.Warn("failed to persist session snapshot", zap.Error(err))
		return
	}
	if err := p.store.SetActive(ctx, env.SessionID); err != nil {
		log.Warn("failed to update active session pointer", zap.Error(err))
	}
	metrics.SnapshotWritesTotal.WithLabelValues("ok").Inc()

	for _, m := range p.mirrors {
		if err := m.Mirror(ctx, env); err != nil {
			metrics.MirrorWritesTotal.WithLabelValues(m.Name(), "error").Inc()
			log.Debug("snapshot mirror failed", zap.String("target", m.Name()), zap.Error(err))
			continue
		}
		metrics.MirrorWritesTotal.WithLabelValues(m.Name(), "ok").Inc()
	}

	log.Debug("session snapshot persisted")
}
