package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/model"
	"github.com/capitalize-ai/call-negotiator/pkg/logger"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// UpdateKind says what changed.
type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdatePhase   UpdateKind = "phase"
	UpdateTyping  UpdateKind = "typing"

	// UpdateReset means the message log was replaced; consumers should
	// re-read State.
	UpdateReset UpdateKind = "reset"
)

// Update is one change pushed to subscribers.
type Update struct {
	Kind      UpdateKind     `json:"kind"`
	SessionID string         `json:"session_id"`
	Phase     model.Phase    `json:"phase"`
	Message   *model.Message `json:"message,omitempty"`
	Typing    bool           `json:"typing"`

	// Animate is a presentation hint: true while the consumer is in the
	// foreground.
	Animate bool `json:"animate"`
}

type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Update
	nextID int
	closed bool
	logger *logger.Logger
}

func newBroadcaster(log *logger.Logger) *broadcaster {
	return &broadcaster{
		subs:   make(map[int]chan Update),
		logger: log,
	}
}

// Subscribe returns a channel of updates. It is closed when ctx is done or
// the engine closes. Slow subscribers miss updates rather than block the
// engine.
func (e *Engine) Subscribe(ctx context.Context) <-chan Update {
	return e.subs.subscribe(ctx)
}

func (b *broadcaster) subscribe(ctx context.Context) <-chan Update {
	ch := make(chan Update, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()
	return ch
}

func (b *broadcaster) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broadcaster) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- u:
		default:
			b.logger.Debug("dropped update for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("kind", string(u.Kind)),
			)
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
