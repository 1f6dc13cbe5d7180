// Package service keeps the registry of live negotiation engines.
package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/engine"
	"github.com/capitalize-ai/call-negotiator/internal/model"
	"github.com/capitalize-ai/call-negotiator/pkg/logger"
	"github.com/capitalize-ai/call-negotiator/pkg/metrics"
)

var (
	// ErrNotFound is returned for unknown or foreign session handles.
	ErrNotFound = errors.New("session not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session service closed")
)

// EngineFactory builds one engine with its own channel and latches.
type EngineFactory func() (*engine.Engine, error)

// Session is a registered engine. ID is a stable handle; the engine's own
// session id changes on every new negotiation.
type Session struct {
	ID        string
	Owner     string
	CreatedAt time.Time
	Engine    *engine.Engine
}

// Info is the listing view of a session.
type Info struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Phase     model.Phase `json:"phase"`
	Objective string      `json:"objective,omitempty"`
	TaskID    string      `json:"task_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// SessionService owns engines. In single mode there is exactly one engine,
// restored from the store on Start and shared by every caller. In
// concurrent mode each Create builds an independent engine.
type SessionService struct {
	mode      model.SessionMode
	newEngine EngineFactory
	logger    *logger.Logger

	// startMu guards creation of the single-mode session.
	startMu sync.Mutex
	single  *Session

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewSessionService creates an empty registry.
func NewSessionService(mode model.SessionMode, factory EngineFactory, log *logger.Logger) *SessionService {
	if log == nil {
		log = logger.Global()
	}
	return &SessionService{
		mode:      mode,
		newEngine: factory,
		logger:    log.Component("sessions"),
		sessions:  make(map[string]*Session),
	}
}

// Mode returns the configured session mode.
func (s *SessionService) Mode() model.SessionMode {
	return s.mode
}

// Start prepares the registry. Single mode builds its engine and restores
// the last active snapshot once; concurrent mode starts empty.
func (s *SessionService) Start(ctx context.Context) error {
	if s.mode != model.ModeSingle {
		return nil
	}
	_, err := s.shared(ctx)
	return err
}

func (s *SessionService) shared(ctx context.Context) (*Session, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.single != nil {
		return s.single, nil
	}

	sess, err := s.register("")
	if err != nil {
		return nil, err
	}
	if sess.Engine.Restore(ctx) {
		s.logger.Info("restored previous session",
			zap.String("id", sess.ID),
			zap.String("session_id", sess.Engine.SessionID()),
			zap.String("phase", string(sess.Engine.Phase())),
		)
	}
	s.single = sess
	return sess, nil
}

// Create returns a session for owner. Single mode always returns the shared
// session.
func (s *SessionService) Create(ctx context.Context, owner string) (*Session, error) {
	if s.mode == model.ModeSingle {
		return s.shared(ctx)
	}
	return s.register(owner)
}

func (s *SessionService) register(owner string) (*Session, error) {
	eng, err := s.newEngine()
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Owner:     owner,
		CreatedAt: time.Now().UTC(),
		Engine:    eng,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		eng.Close(context.Background())
		return nil, ErrClosed
	}
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	metrics.SessionsActive.Inc()
	s.logger.Info("session created",
		zap.String("id", sess.ID),
		zap.String("session_id", eng.SessionID()),
		zap.String("mode", string(s.mode)),
	)
	return sess, nil
}

// Get returns the session with the given handle. Sessions with an owner are
// only visible to that owner.
func (s *SessionService) Get(id, owner string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || !visible(sess, owner) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// List returns the sessions visible to owner, oldest first.
func (s *SessionService) List(owner string) []Info {
	s.mu.RLock()
	out := make([]Info, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !visible(sess, owner) {
			continue
		}
		st := sess.Engine.State()
		out = append(out, Info{
			ID:        sess.ID,
			SessionID: st.SessionID,
			Phase:     st.Phase,
			Objective: st.Context.Objective,
			TaskID:    st.Context.TaskID,
			CreatedAt: sess.CreatedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete closes and forgets a session. In single mode the shared session is
// kept and reset to a fresh negotiation instead.
func (s *SessionService) Delete(ctx context.Context, id, owner string) error {
	sess, err := s.Get(id, owner)
	if err != nil {
		return err
	}
	if s.mode == model.ModeSingle {
		return sess.Engine.NewNegotiation()
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	sess.Engine.Close(ctx)
	metrics.SessionsActive.Dec()
	s.logger.Info("session closed", zap.String("id", id))
	return nil
}

// Close shuts every engine down and flushes its snapshot.
func (s *SessionService) Close(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			sess.Engine.Close(ctx)
			metrics.SessionsActive.Dec()
		}(sess)
	}
	wg.Wait()
}

func visible(sess *Session, owner string) bool {
	return sess.Owner == "" || sess.Owner == owner
}
