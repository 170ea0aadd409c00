package pollimage

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
var ErrMissingAPIKey = errors.New("pollimage: api key is required")

// Options configures the poll-driven image generation client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client talks to an image provider with no callback support: submissions
// return a task handle and the caller must ask "is it done yet" until it is.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type submitRequest struct {
	Model      string         `json:"model"`
	Input      submitInput    `json:"input"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type submitInput struct {
	Prompt string `json:"prompt"`
}

type submitResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type taskResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		ImageURL   string `json:"image_url"`
		Code       string `json:"code"`
		Message    string `json:"message"`
	} `json:"output"`
	Usage struct {
		ImageCount        int     `json:"image_count"`
		ProcessingSeconds float64 `json:"processing_seconds"`
	} `json:"usage"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
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
		baseURL = "https://api.pollimage.example.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "pollimage-hd"
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
	return domain.ProviderPollImage
}

// Submit enqueues a generation task and returns its handle.
func (c *Client) Submit(ctx context.Context, req providers.SubmitRequest) (*providers.Submission, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Instruction)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", providers.ErrRejected)
	}
	payload := submitRequest{
		Model:      c.model,
		Input:      submitInput{Prompt: prompt},
		Parameters: req.Variables,
	}
	raw, err := c.do(ctx, http.MethodPost, "/tasks", payload)
	if err != nil {
		return nil, err
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("pollimage: decode response: %w", err)
	}
	if decoded.Code != "" {
		return nil, classifyCode(decoded.Code, decoded.Message)
	}
	if decoded.Output.TaskID == "" {
		return nil, fmt.Errorf("%w: empty task id", providers.ErrUnavailable)
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("task_id", decoded.Output.TaskID).
		Str("job_id", req.JobID).
		Msg("pollimage: submitted task")
	return &providers.Submission{Handle: decoded.Output.TaskID}, nil
}

// CheckStatus fetches the task and maps its status onto the normalized form.
func (c *Client) CheckStatus(ctx context.Context, handle string) (*providers.Status, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(handle) == "" {
		return nil, fmt.Errorf("%w: task handle is required", providers.ErrRejected)
	}
	raw, err := c.do(ctx, http.MethodGet, "/tasks/"+handle, nil)
	if err != nil {
		return nil, err
	}
	var decoded taskResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("pollimage: decode task: %w", err)
	}

	switch strings.ToUpper(decoded.Output.TaskStatus) {
	case "PENDING", "RUNNING":
		return &providers.Status{Kind: providers.StatusRunning}, nil
	case "SUCCEEDED":
		if decoded.Output.ImageURL == "" {
			return nil, fmt.Errorf("%w: succeeded task without image url", providers.ErrUnavailable)
		}
		return &providers.Status{
			Kind: providers.StatusSucceeded,
			Outcome: &providers.Outcome{
				OK:                true,
				ArtifactURL:       decoded.Output.ImageURL,
				Metadata:          raw,
				ProcessingSeconds: decoded.Usage.ProcessingSeconds,
			},
		}, nil
	case "FAILED":
		outcome := &providers.Outcome{
			Metadata:    raw,
			ErrorReason: decoded.Output.Message,
		}
		if isContentPolicyCode(decoded.Output.Code) {
			outcome.ContentPolicy = true
		}
		if outcome.ErrorReason == "" {
			outcome.ErrorReason = "provider reported failure"
		}
		return &providers.Status{Kind: providers.StatusFailed, Outcome: outcome}, nil
	default:
		return nil, fmt.Errorf("pollimage: unknown task status %q", decoded.Output.TaskStatus)
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("pollimage: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("pollimage: build request: %w", err)
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
		return nil, fmt.Errorf("pollimage: read response: %w", err)
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
	case "DataInspectionFailed", "ContentPolicyViolation", "content_policy_violation":
		return true
	}
	return false
}

var _ providers.Adapter = (*Client)(nil)
