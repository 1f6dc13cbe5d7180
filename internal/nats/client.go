// Package nats provides the NATS connection used for realtime call events
// and JetStream snapshot mirroring.
package nats

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/pkg/logger"
)

// ErrNotConnected is returned by Check while the connection is down.
var ErrNotConnected = errors.New("nats not connected")

// Config describes how to reach the NATS server.
type Config struct {
	URL   string
	Token string

	// CAFile alone verifies the server. Adding CertFile and KeyFile
	// enables mutual TLS.
	CAFile   string
	CertFile string
	KeyFile  string

	// ConnectTimeout bounds the initial dial. Defaults to 5 seconds.
	ConnectTimeout time.Duration
}

func (c Config) tls() (*tls.Config, error) {
	if c.CAFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read NATS CA %s: %w", c.CAFile, err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in NATS CA %s", c.CAFile)
	}

	out := &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}
	if c.CertFile != "" || c.KeyFile != "" {
		pair, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load NATS client certificate: %w", err)
		}
		out.Certificates = []tls.Certificate{pair}
	}
	return out, nil
}

// Client owns one NATS connection and its JetStream handle.
type Client struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	log *logger.Logger
}

// Connect dials the server. Subscriptions survive reconnects; frames
// published while disconnected are lost, which the engine tolerates.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	log = log.Component("nats")

	opts, err := connectOptions(cfg, log)
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	log.Info("NATS connected", zap.String("url", nc.ConnectedUrl()))
	return &Client{nc: nc, js: js, log: log}, nil
}

func connectOptions(cfg Config, log *logger.Logger) ([]nats.Option, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name(logger.ServiceName),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(1 << 20),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("NATS async error", zap.String("subject", subject), zap.Error(err))
		}),
	}

	tlsCfg, err := cfg.tls()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, nats.Secure(tlsCfg))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	return opts, nil
}

func (c *Client) JetStream() jetstream.JetStream { return c.js }

func (c *Client) Conn() *nats.Conn { return c.nc }

// Name identifies the dependency in readiness reports.
func (c *Client) Name() string { return "nats" }

// Check round-trips to the server.
func (c *Client) Check(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.nc.FlushWithContext(ctx)
}

func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Close drains pending subscriptions, falling back to a hard close.
func (c *Client) Close() {
	if c.nc == nil {
		return
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}
