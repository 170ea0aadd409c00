package webhookvideo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("webhookvideo: api key is required")

// Options configures the webhook-driven video generation client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client talks to a video provider that acknowledges submissions with a task
// handle and later delivers the result to the callback URL embedded in the
// submission payload. CheckStatus exists for the manual fallback path when a
// webhook never arrives.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type submitRequest struct {
	Model       string         `json:"model"`
	Prompt      string         `json:"prompt"`
	CallbackURL string         `json:"callback_url"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type submitResponse struct {
	TaskID  string `json:"task_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type taskResponse struct {
	TaskID          string  `json:"task_id"`
	Status          string  `json:"status"`
	VideoURL        string  `json:"video_url"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int64   `json:"size_bytes"`
	Code            string  `json:"code"`
	Message         string  `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.videogen.example.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "videogen-standard"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Name identifies the provider this adapter serves.
func (c *Client) Name() domain.Provider {
	return domain.ProviderWebhookVideo
}

// Submit hands the job to the provider and returns only the task handle.
// Completion arrives later at the callback URL.
func (c *Client) Submit(ctx context.Context, req providers.SubmitRequest) (*providers.Submission, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Instruction)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", providers.ErrRejected)
	}
	if req.CallbackURL == "" {
		return nil, fmt.Errorf("%w: callback url is required", providers.ErrRejected)
	}
	payload := submitRequest{
		Model:       c.model,
		Prompt:      prompt,
		CallbackURL: req.CallbackURL,
		Parameters:  req.Variables,
	}
	raw, err := c.do(ctx, http.MethodPost, "/videos", payload)
	if err != nil {
		return nil, err
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("webhookvideo: decode response: %w", err)
	}
	if decoded.Code != "" {
		return nil, classifyCode(decoded.Code, decoded.Message)
	}
	if decoded.TaskID == "" {
		return nil, fmt.Errorf("%w: empty task id", providers.ErrUnavailable)
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("task_id", decoded.TaskID).
		Str("job_id", req.JobID).
		Msg("webhookvideo: submitted task")
	return &providers.Submission{Handle: decoded.TaskID}, nil
}

// CheckStatus queries the provider's task endpoint. It is the user-triggered
// fallback when the callback never arrives.
func (c *Client) CheckStatus(ctx context.Context, handle string) (*providers.Status, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(handle) == "" {
		return nil, fmt.Errorf("%w: task handle is required", providers.ErrRejected)
	}
	raw, err := c.do(ctx, http.MethodGet, "/videos/"+handle, nil)
	if err != nil {
		return nil, err
	}
	var decoded taskResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("webhookvideo: decode task: %w", err)
	}
	return interpretTask(raw, decoded)
}

// interpretTask maps the provider's task payload onto the normalized status.
// InterpretWebhook reuses it so the callback and poll paths cannot drift.
func interpretTask(raw json.RawMessage, decoded taskResponse) (*providers.Status, error) {
	switch strings.ToUpper(decoded.Status) {
	case "PENDING", "RUNNING", "PROCESSING":
		return &providers.Status{Kind: providers.StatusRunning}, nil
	case "SUCCEEDED", "COMPLETED":
		if decoded.VideoURL == "" {
			return nil, fmt.Errorf("%w: succeeded task without video url", providers.ErrUnavailable)
		}
		return &providers.Status{
			Kind: providers.StatusSucceeded,
			Outcome: &providers.Outcome{
				OK:              true,
				ArtifactURL:     decoded.VideoURL,
				Metadata:        raw,
				DurationSeconds: decoded.DurationSeconds,
				SizeBytes:       decoded.SizeBytes,
			},
		}, nil
	case "FAILED", "CANCELED":
		outcome := &providers.Outcome{
			Metadata:    raw,
			ErrorReason: decoded.Message,
		}
		if isContentPolicyCode(decoded.Code) {
			outcome.ContentPolicy = true
		}
		if outcome.ErrorReason == "" {
			outcome.ErrorReason = "provider reported failure"
		}
		return &providers.Status{Kind: providers.StatusFailed, Outcome: outcome}, nil
	default:
		return nil, fmt.Errorf("webhookvideo: unknown task status %q", decoded.Status)
	}
}

// InterpretWebhook normalizes a callback delivery body into a status. The
// webhook receiver feeds the result through the same reconciliation path as
// a manual check.
func InterpretWebhook(body json.RawMessage) (handle string, status *providers.Status, err error) {
	var decoded taskResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", nil, fmt.Errorf("webhookvideo: decode webhook: %w", err)
	}
	if decoded.TaskID == "" {
		return "", nil, fmt.Errorf("webhookvideo: webhook without task id")
	}
	status, err = interpretTask(body, decoded)
	if err != nil {
		return "", nil, err
	}
	return decoded.TaskID, status, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("webhookvideo: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("webhookvideo: build request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webhookvideo: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail submitResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Code != "" {
			if isContentPolicyCode(detail.Code) {
				return nil, fmt.Errorf("%w: %s", providers.ErrContentPolicy, detail.Message)
			}
			return nil, providers.ClassifyHTTPStatus(resp.StatusCode, fmt.Sprintf("%s (%s)", detail.Message, detail.Code))
		}
		return nil, providers.ClassifyHTTPStatus(resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func classifyCode(code, message string) error {
	if isContentPolicyCode(code) {
		return fmt.Errorf("%w: %s", providers.ErrContentPolicy, message)
	}
	return fmt.Errorf("%w: %s (%s)", providers.ErrRejected, message, code)
}

func isContentPolicyCode(code string) bool {
	switch code {
	case "ContentPolicyViolation", "content_policy_violation", "SafetyBlocked":
		return true
	}
	return false
}

var _ providers.Adapter = (*Client)(nil)
