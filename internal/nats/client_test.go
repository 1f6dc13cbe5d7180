package nats

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/call-negotiator/pkg/logger"
)

func TestConnectOptions(t *testing.T) {
	opts, err := connectOptions(Config{URL: "nats://localhost:4222"}, logger.NewNop())
	require.NoError(t, err)
	base := len(opts)

	opts, err = connectOptions(Config{URL: "nats://localhost:4222", Token: "s3cret"}, logger.NewNop())
	require.NoError(t, err)
	assert.Len(t, opts, base+1)
}

func TestConnectOptions_BadTLSFiles(t *testing.T) {
	_, err := connectOptions(Config{
		CAFile:   "/nonexistent/ca.pem",
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	}, logger.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read NATS CA")
}

func TestConfigTLS(t *testing.T) {
	tlsCfg, err := Config{}.tls()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	bogus := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(bogus, []byte("not a certificate"), 0o600))
	_, err = Config{CAFile: bogus}.tls()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no certificates")
}

func TestClient_CheckDisconnected(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "nats", c.Name())
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Check(context.Background()), ErrNotConnected)
	c.Close()
}
