// Package channel owns the realtime event connection for a live call.
//
// A Channel keeps at most one connection open. Connect always tears the
// previous connection down before dialing, frames are decoded into
// model.Event values, and malformed frames are dropped without affecting
// the subscription. The consumer callback lives in an indirection cell so it
// can be swapped without reconnecting.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/model"
	"github.com/capitalize-ai/call-negotiator/pkg/logger"
	"github.com/capitalize-ai/call-negotiator/pkg/metrics"
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("channel closed")

// Handler consumes decoded realtime events.
type Handler func(model.Event)

// Conn is a live transport connection.
type Conn interface {
	Close() error
}

// Dialer opens a transport connection for a realtime session. deliver is
// called with each raw inbound frame, in arrival order, from a single
// goroutine.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, deliver func([]byte)) (Conn, error)
}

// Channel is the zero-or-one realtime connection owned by an engine.
type Channel struct {
	dialer  Dialer
	logger  *logger.Logger
	handler atomic.Pointer[Handler]

	// current is the generation whose frames may be delivered; 0 means none.
	current atomic.Uint64

	mu        sync.Mutex
	conn      Conn
	sessionID string
	gen       uint64
	closed    bool
}

// New creates a disconnected channel.
func New(dialer Dialer, log *logger.Logger) *Channel {
	if log == nil {
		log = logger.Global()
	}
	return &Channel{
		dialer: dialer,
		logger: log.Component("channel"),
	}
}

// SetHandler swaps the event consumer. The open connection is untouched.
func (c *Channel) SetHandler(h Handler) {
	if h == nil {
		c.handler.Store(nil)
		return
	}
	c.handler.Store(&h)
}

// Connect tears down any open connection and subscribes to sessionID.
func (c *Channel) Connect(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.teardownLocked()

	c.gen++
	gen := c.gen
	c.current.Store(gen)

	conn, err := c.dialer.Dial(ctx, sessionID, func(raw []byte) {
		c.deliver(gen, raw)
	})
	if err != nil {
		c.current.Store(0)
		return fmt.Errorf("failed to open realtime session %s: %w", sessionID, err)
	}

	c.conn = conn
	c.sessionID = sessionID
	metrics.RealtimeChannelsActive.Inc()

	c.logger.Info("realtime channel connected", zap.String("session_id", sessionID))
	return nil
}

// Disconnect closes the open connection, if any. Safe to call repeatedly.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// Close disconnects and refuses further connections.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.closed = true
}

// SessionID returns the realtime session currently connected, or "".
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connected reports whether a connection is open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Channel) teardownLocked() {
	c.current.Store(0)
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("realtime channel close error",
			zap.String("session_id", c.sessionID),
			zap.Error(err),
		)
	}
	metrics.RealtimeChannelsActive.Dec()
	c.logger.Info("realtime channel disconnected", zap.String("session_id", c.sessionID))
	c.conn = nil
	c.sessionID = ""
}

func (c *Channel) deliver(gen uint64, raw []byte) {
	if c.current.Load() != gen {
		return
	}

	ev, err := model.ParseEvent(raw)
	if err != nil {
		metrics.RealtimeFramesDropped.Inc()
		c.logger.Debug("dropping malformed realtime frame", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}

	h := c.handler.Load()
	if h == nil {
		return
	}
	(*h)(ev)
}
