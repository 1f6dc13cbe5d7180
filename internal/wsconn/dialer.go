// Package wsconn is a WebSocket realtime transport for call events.
package wsconn

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/channel"
	"github.com/capitalize-ai/call-negotiator/pkg/logger"
)

const defaultReadLimit = 1 << 20

// Dialer opens one WebSocket per realtime session at {base}/ws/calls/{id}.
type Dialer struct {
	baseURL string
	header  http.Header
	logger  *logger.Logger
}

// New creates a dialer. baseURL may use ws(s):// or http(s)://.
func New(baseURL, token string, log *logger.Logger) *Dialer {
	if log == nil {
		log = logger.Global()
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Dialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  header,
		logger:  log.Component("wsconn"),
	}
}

// SessionURL returns the socket URL for a realtime session.
func (d *Dialer) SessionURL(sessionID string) string {
	return d.baseURL + "/ws/calls/" + url.PathEscape(sessionID)
}

// Dial opens the socket and starts a reader goroutine that hands each
// frame to deliver until the socket closes.
func (d *Dialer) Dial(ctx context.Context, sessionID string, deliver func([]byte)) (channel.Conn, error) {
	target := d.SessionURL(sessionID)
	ws, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: d.header.Clone(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}
	ws.SetReadLimit(defaultReadLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, cancel: cancel}
	go c.readLoop(readCtx, deliver, d.logger.With(zap.String("session_id", sessionID)))
	return c, nil
}

type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

func (c *conn) readLoop(ctx context.Context, deliver func([]byte), log *logger.Logger) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && ctx.Err() == nil {
				log.Warn("realtime socket closed", zap.Error(err))
			}
			return
		}
		deliver(data)
	}
}

// Close does not wait for the reader goroutine, so it is safe to call from
// inside a deliver callback.
func (c *conn) Close() error {
	c.cancel()
	if err := c.ws.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
		return c.ws.CloseNow()
	}
	return nil
}
