package nats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallEventSubject(t *testing.T) {
	assert.Equal(t, "calls.rt-42.events", CallEventSubject("rt-42"))
}

func TestValidSessionToken(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"rt-42", true},
		{"0190a7c2-1b2c-7d3e-8f90-123456789abc", true},
		{"", false},
		{"a.b", false},
		{"wild*", false},
		{"tail>", false},
		{"has space", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, validSessionToken(tt.id))
		})
	}
}

func TestCallEvents_DialRejectsBadSession(t *testing.T) {
	e := NewCallEvents(&Client{})
	_, err := e.Dial(context.Background(), "calls.>", func([]byte) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid realtime session id")
}
