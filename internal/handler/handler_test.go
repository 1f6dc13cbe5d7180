package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/call-negotiator/internal/channel"
	"github.com/capitalize-ai/call-negotiator/internal/engine"
	"github.com/capitalize-ai/call-negotiator/internal/model"
	"github.com/capitalize-ai/call-negotiator/internal/service"
	"github.com/capitalize-ai/call-negotiator/pkg/logger"
)

type stubBackend struct {
	tasks    []model.TaskSummary
	listErr  error
	ready    *model.VoiceReadiness
	readyErr error
}

func (b *stubBackend) CreateTask(context.Context, model.CreateTaskRequest) (*model.TaskSummary, error) {
	return &model.TaskSummary{ID: "task-1"}, nil
}

func (b *stubBackend) StartCall(context.Context, string) (*model.CallResult, error) {
	return &model.CallResult{OK: true}, nil
}

func (b *stubBackend) StopCall(context.Context, string) (*model.ActionResult, error) {
	return &model.ActionResult{OK: true}, nil
}

func (b *stubBackend) TransferCall(context.Context, string, string) (*model.ActionResult, error) {
	return &model.ActionResult{OK: true}, nil
}

func (b *stubBackend) SendTones(context.Context, string, string) (*model.ActionResult, error) {
	return &model.ActionResult{OK: true}, nil
}

func (b *stubBackend) GetAnalysis(context.Context, string) (*model.Analysis, error) {
	return &model.Analysis{Summary: "Saved $20/month", Outcome: "success"}, nil
}

func (b *stubBackend) GetTranscript(context.Context, string) ([]model.TranscriptTurn, error) {
	return []model.TranscriptTurn{{Speaker: "agent", Content: "Hello"}}, nil
}

func (b *stubBackend) GetTask(_ context.Context, id string) (*model.TaskDetail, error) {
	return &model.TaskDetail{TaskSummary: model.TaskSummary{ID: id, Objective: "Lower bill", TargetPhone: "5551234567"}}, nil
}

func (b *stubBackend) ListTasks(context.Context) ([]model.TaskSummary, error) {
	return b.tasks, b.listErr
}

func (b *stubBackend) Search(context.Context, string, int) (*model.SearchResponse, error) {
	return &model.SearchResponse{OK: true}, nil
}

func (b *stubBackend) VoiceReadiness(context.Context) (*model.VoiceReadiness, error) {
	return b.ready, b.readyErr
}

type nopChannel struct{}

func (nopChannel) SetHandler(channel.Handler)            {}
func (nopChannel) Connect(context.Context, string) error { return nil }
func (nopChannel) Disconnect()                           {}
func (nopChannel) Close()                                {}

type testAPI struct {
	server  *httptest.Server
	backend *stubBackend
	svc     *service.SessionService
}

func newTestAPI(t *testing.T, mode model.SessionMode) *testAPI {
	t.Helper()
	backend := &stubBackend{ready: &model.VoiceReadiness{Telephony: true, Agent: true}}
	svc := service.NewSessionService(mode, func() (*engine.Engine, error) {
		return engine.New(engine.Deps{Backend: backend, Channel: nopChannel{}},
			engine.WithLogger(logger.NewNop()), engine.WithAnalysisFallback(time.Hour))
	}, logger.NewNop())
	require.NoError(t, svc.Start(context.Background()))

	sessions := NewSessionHandler(svc, backend, backend, logger.NewNop())
	stream := NewStreamHandler(svc, 20*time.Millisecond, logger.NewNop())

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		sessions.Routes(r)
		r.Get("/sessions/{id}/stream", stream.Stream)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		svc.Close(context.Background())
	})
	return &testAPI{server: srv, backend: backend, svc: svc}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.server.URL+"/api/v1"+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (a *testAPI) create(t *testing.T) SessionResponse {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var out SessionResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestCreateAndGet(t *testing.T) {
	api := newTestAPI(t, model.ModeConcurrent)
	created := api.create(t)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.PhaseObjective, created.Phase)
	require.Len(t, created.Messages, 1)
	assert.Equal(t, engine.WelcomeMessage, created.Messages[0].Text)

	resp, body := api.do(t, http.MethodGet, "/sessions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got SessionResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, created.SessionID, got.SessionID)

	resp, body = api.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), created.ID)
	assert.Contains(t, string(body), `"mode":"concurrent"`)
}

func TestSubmitStartsCall(t *testing.T) {
	api := newTestAPI(t, model.ModeSingle)
	created := api.create(t)

	resp, body := api.do(t, http.MethodPost, "/sessions/"+created.ID+"/messages",
		SubmitRequest{Text: "Lower my internet bill, call 555-123-4567"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got SessionResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, model.PhaseActive, got.Phase)
	assert.Equal(t, "5551234567", got.Context.Phone)
	assert.Equal(t, "task-1", got.Context.TaskID)
}

func TestRequestValidation(t *testing.T) {
	api := newTestAPI(t, model.ModeConcurrent)
	created := api.create(t)
	base := "/sessions/" + created.ID

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"bad id", "/sessions/nope/messages", SubmitRequest{Text: "x"}, http.StatusBadRequest},
		{"unknown id", "/sessions/0190f5d2-7c1e-7a3b-9f00-1234567890ab/messages", SubmitRequest{Text: "x"}, http.StatusNotFound},
		{"blank text", base + "/messages", SubmitRequest{Text: "  "}, http.StatusBadRequest},
		{"bad digits", base + "/call/tones", TonesRequest{Digits: "12ab"}, http.StatusBadRequest},
		{"bad transfer", base + "/call/transfer", TransferRequest{Target: "my boss"}, http.StatusBadRequest},
		{"select outside discovery", base + "/select", SelectRequest{Index: 0}, http.StatusConflict},
		{"call again before a call", base + "/call/again", nil, http.StatusConflict},
		{"retry before ended", base + "/analysis/retry", nil, http.StatusConflict},
		{"empty task id", base + "/load", LoadRequest{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := api.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
		})
	}
}

func TestEndCallWithoutLiveCallIsConversational(t *testing.T) {
	api := newTestAPI(t, model.ModeConcurrent)
	created := api.create(t)

	resp, body := api.do(t, http.MethodPost, "/sessions/"+created.ID+"/call/end", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got SessionResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got.Messages, 2)
}

func TestLoadPastSession(t *testing.T) {
	api := newTestAPI(t, model.ModeConcurrent)
	created := api.create(t)

	resp, body := api.do(t, http.MethodPost, "/sessions/"+created.ID+"/load", LoadRequest{TaskID: "task-77"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got SessionResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, model.PhaseEnded, got.Phase)
	assert.Equal(t, []string{"task-77"}, got.TaskIDs)
	assert.True(t, got.AnalysisLoaded)
}

func TestDeleteSession(t *testing.T) {
	api := newTestAPI(t, model.ModeConcurrent)
	created := api.create(t)

	resp, _ := api.do(t, http.MethodDelete, "/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = api.do(t, http.MethodGet, "/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistoryAndReadiness(t *testing.T) {
	api := newTestAPI(t, model.ModeSingle)
	api.backend.tasks = []model.TaskSummary{{ID: "task-1", Objective: "Cancel gym"}}

	resp, body := api.do(t, http.MethodGet, "/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Cancel gym")

	resp, body = api.do(t, http.MethodGet, "/voice/readiness", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"telephony":true`)

	api.backend.listErr = errors.New("down")
	resp, _ = api.do(t, http.MethodGet, "/history", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// nextNamed skips heartbeats.
func nextNamed(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	for {
		ev := readEvent(t, r)
		if ev.name != "heartbeat" {
			return ev
		}
	}
}

func TestStream(t *testing.T) {
	api := newTestAPI(t, model.ModeConcurrent)
	created := api.create(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.server.URL+"/api/v1/sessions/"+created.ID+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	assert.Equal(t, "state", first.name)
	assert.Contains(t, first.data, created.SessionID)

	hb := readEvent(t, reader)
	assert.Equal(t, "heartbeat", hb.name)

	r, _ := api.do(t, http.MethodPost, "/sessions/"+created.ID+"/reset", nil)
	require.Equal(t, http.StatusOK, r.StatusCode)

	var sawReset, sawState bool
	for i := 0; i < 5 && !(sawReset && sawState); i++ {
		ev := nextNamed(t, reader)
		switch ev.name {
		case "update":
			var u engine.Update
			require.NoError(t, json.Unmarshal([]byte(ev.data), &u))
			if u.Kind == engine.UpdateReset {
				sawReset = true
			}
		case "state":
			if sawReset {
				assert.NotContains(t, ev.data, created.SessionID)
				sawState = true
			}
		}
	}
	assert.True(t, sawReset)
	assert.True(t, sawState)
}

func TestStream_UnknownSession(t *testing.T) {
	api := newTestAPI(t, model.ModeConcurrent)
	resp, _ := api.do(t, http.MethodGet, "/sessions/0190f5d2-7c1e-7a3b-9f00-1234567890ab/stream", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ok := NewHealthHandler(CheckFunc{Label: "store", Fn: func(context.Context) error { return nil }})
	rec := httptest.NewRecorder()
	ok.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewHealthHandler(CheckFunc{Label: "nats", Fn: func(context.Context) error { return errors.New("not connected") }})
	rec = httptest.NewRecorder()
	down.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "nats: not connected")

	rec = httptest.NewRecorder()
	down.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
