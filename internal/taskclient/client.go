package taskclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/capitalize-ai/call-negotiator/internal/model"
	"github.com/capitalize-ai/call-negotiator/pkg/metrics"
	"github.com/capitalize-ai/call-negotiator/pkg/tracing"
)

// DefaultSearchLimit is used when Search is called with limit <= 0.
const DefaultSearchLimit = 5

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the backend root, e.g. "http://localhost:8000".
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// HTTPClient is optional. If nil, a client with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client talks to the task/call backend. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	tracer  trace.Tracer
}

// New creates a Client. BaseURL is required.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("taskclient: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  httpClient,
		tracer:  tracing.Tracer("taskclient"),
	}, nil
}

// CreateTask creates a negotiation task.
func (c *Client) CreateTask(ctx context.Context, req model.CreateTaskRequest) (*model.TaskSummary, error) {
	var resp model.TaskSummary
	if err := c.do(ctx, "create_task", http.MethodPost, "/api/tasks", req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("taskclient: create task returned no id")
	}
	return &resp, nil
}

// ListTasks returns task summaries for history, newest first as the
// backend orders them.
func (c *Client) ListTasks(ctx context.Context) ([]model.TaskSummary, error) {
	var resp []model.TaskSummary
	if err := c.do(ctx, "list_tasks", http.MethodGet, "/api/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetTask fetches a task's detail.
func (c *Client) GetTask(ctx context.Context, taskID string) (*model.TaskDetail, error) {
	var resp model.TaskDetail
	if err := c.do(ctx, "get_task", http.MethodGet, taskPath(taskID, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartCall places the call for a task.
func (c *Client) StartCall(ctx context.Context, taskID string) (*model.CallResult, error) {
	var resp model.CallResult
	if err := c.do(ctx, "start_call", http.MethodPost, taskPath(taskID, "/call/start"), struct{}{}, &resp); err != nil {
		return nil, err
	}
	if !resp.OK && resp.Message == "" {
		resp.Message = "call could not be started"
	}
	return &resp, nil
}

// StopCall hangs up the call for a task.
func (c *Client) StopCall(ctx context.Context, taskID string) (*model.ActionResult, error) {
	return c.action(ctx, "stop_call", taskPath(taskID, "/call/stop"), struct{}{})
}

// TransferCall hands the live call over to target.
func (c *Client) TransferCall(ctx context.Context, taskID, target string) (*model.ActionResult, error) {
	body := map[string]string{"target_phone": target}
	return c.action(ctx, "transfer_call", taskPath(taskID, "/call/transfer"), body)
}

// SendTones plays touch-tone digits into the live call.
func (c *Client) SendTones(ctx context.Context, taskID, digits string) (*model.ActionResult, error) {
	body := map[string]string{"digits": digits}
	return c.action(ctx, "send_tones", taskPath(taskID, "/call/dtmf"), body)
}

// GetAnalysis fetches the post-call analysis. A missing or empty analysis
// is reported as ErrNoAnalysis.
func (c *Client) GetAnalysis(ctx context.Context, taskID string) (*model.Analysis, error) {
	var raw json.RawMessage
	err := c.do(ctx, "get_analysis", http.MethodGet, taskPath(taskID, "/analysis"), nil, &raw)
	if IsNotFound(err) {
		return nil, ErrNoAnalysis
	}
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, ErrNoAnalysis
	}

	var a model.Analysis
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return nil, fmt.Errorf("taskclient: decode analysis: %w", err)
	}
	if a.Summary == "" && a.Outcome == "" {
		return nil, ErrNoAnalysis
	}
	return &a, nil
}

// GetTranscript fetches the ordered transcript turns of a finished call.
func (c *Client) GetTranscript(ctx context.Context, taskID string) ([]model.TranscriptTurn, error) {
	var resp []model.TranscriptTurn
	if err := c.do(ctx, "get_transcript", http.MethodGet, taskPath(taskID, "/transcript"), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Search runs a discovery search for businesses matching query.
func (c *Client) Search(ctx context.Context, query string, limit int) (*model.SearchResponse, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	body := map[string]any{"query": query, "limit": limit}
	var resp model.SearchResponse
	if err := c.do(ctx, "search", http.MethodPost, "/api/research/search", body, &resp); err != nil {
		return nil, err
	}
	if resp.Count == 0 {
		resp.Count = len(resp.Results)
	}
	return &resp, nil
}

// VoiceReadiness reports the backend's telephony and voice capabilities.
func (c *Client) VoiceReadiness(ctx context.Context) (*model.VoiceReadiness, error) {
	var resp model.VoiceReadiness
	if err := c.do(ctx, "voice_readiness", http.MethodGet, "/api/voice/readiness", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutSession uploads a session snapshot envelope.
func (c *Client) PutSession(ctx context.Context, env model.Envelope) error {
	path := "/api/sessions/" + url.PathEscape(env.SessionID)
	return c.do(ctx, "put_session", http.MethodPut, path, env, nil)
}

func (c *Client) action(ctx context.Context, op, path string, body any) (*model.ActionResult, error) {
	var resp model.ActionResult
	if err := c.do(ctx, op, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	if !resp.OK && resp.Message == "" {
		resp.Message = "request was rejected"
	}
	return &resp, nil
}

func taskPath(taskID, suffix string) string {
	return "/api/tasks/" + url.PathEscape(taskID) + suffix
}

func (c *Client) do(ctx context.Context, op, method, path string, body, dest any) error {
	ctx, span := c.tracer.Start(ctx, "taskclient."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	defer span.End()

	start := time.Now()
	status, err := c.roundTrip(ctx, method, path, body, dest)
	metrics.RecordBackend(op, statusLabel(status, err), time.Since(start).Seconds())

	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, dest any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("taskclient: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("taskclient: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("taskclient: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode, handleResponse(resp, dest)
}

func statusLabel(status int, err error) string {
	if status == 0 {
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		return "error"
	}
	return strconv.Itoa(status)
}

type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type apiErrorEnvelope struct {
	Error   apiErrorBody `json:"error"`
	Detail  string       `json:"detail"`
	Message string       `json:"message"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("taskclient: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	if raw, ok := dest.(*json.RawMessage); ok {
		*raw = unwrapData(bodyBytes)
		return nil
	}

	if err := json.Unmarshal(unwrapData(bodyBytes), dest); err != nil {
		return fmt.Errorf("taskclient: decode response: %w", err)
	}
	return nil
}

// unwrapData strips a {"data": ...} envelope when present.
func unwrapData(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var envelope apiEnvelope
	if err := json.Unmarshal(trimmed, &envelope); err != nil || envelope.Data == nil {
		return trimmed
	}
	return envelope.Data
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode, Code: http.StatusText(statusCode)}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case envelope.Error.Message != "":
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			return apiErr
		case envelope.Detail != "":
			apiErr.Message = envelope.Detail
			return apiErr
		case envelope.Message != "":
			apiErr.Message = envelope.Message
			return apiErr
		}
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}
