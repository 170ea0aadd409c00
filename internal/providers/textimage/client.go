package textimage

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
var ErrMissingAPIKey = errors.New("textimage: api key is required")

// Options configures the synchronous text-to-image client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client talks to a provider whose generation call blocks and returns the
// finished artifact inline. No pending state is ever observed from outside.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type generationRequest struct {
	Model      string          `json:"model"`
	Input      generationInput `json:"input"`
	Parameters map[string]any  `json:"parameters,omitempty"`
}

type generationInput struct {
	Prompt string `json:"prompt"`
}

type generationResponse struct {
	Output struct {
		ArtifactURL string `json:"artifact_url"`
	} `json:"output"`
	Usage struct {
		InputTokens       int     `json:"input_tokens"`
		OutputTokens      int     `json:"output_tokens"`
		ProcessingSeconds float64 `json:"processing_seconds"`
	} `json:"usage"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.textimage.example.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "textimage-turbo"
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
	return domain.ProviderSyncTextImage
}

// Submit invokes the generation endpoint and blocks until the provider
// returns the finished artifact. The returned submission carries the inline
// outcome and no handle.
func (c *Client) Submit(ctx context.Context, req providers.SubmitRequest) (*providers.Submission, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Instruction)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", providers.ErrRejected)
	}
	payload := generationRequest{
		Model:      c.model,
		Input:      generationInput{Prompt: prompt},
		Parameters: req.Variables,
	}
	raw, err := c.post(ctx, "/generations", payload)
	if err != nil {
		return nil, err
	}

	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("textimage: decode response: %w", err)
	}
	if decoded.Code != "" {
		return nil, classifyCode(decoded.Code, decoded.Message)
	}
	if decoded.Output.ArtifactURL == "" {
		return nil, fmt.Errorf("%w: empty artifact url", providers.ErrUnavailable)
	}

	c.logger.Debug().
		Str("model", c.model).
		Str("request_id", decoded.RequestID).
		Str("job_id", req.JobID).
		Msg("textimage: generated asset")

	return &providers.Submission{
		Immediate: &providers.Outcome{
			OK:                true,
			ArtifactURL:       decoded.Output.ArtifactURL,
			Metadata:          raw,
			Tokens:            decoded.Usage.InputTokens + decoded.Usage.OutputTokens,
			ProcessingSeconds: decoded.Usage.ProcessingSeconds,
		},
	}, nil
}

// CheckStatus is unsupported: synchronous jobs are terminal the moment Submit
// returns.
func (c *Client) CheckStatus(ctx context.Context, handle string) (*providers.Status, error) {
	return nil, providers.ErrStatusUnsupported
}

func (c *Client) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("textimage: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("textimage: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("textimage: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
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
