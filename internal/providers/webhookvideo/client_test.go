package webhookvideo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"server/internal/providers"
)

type captureTransport struct {
	lastRequest *http.Request
	lastBody    []byte
	status      int
	response    string
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.lastRequest = req
	if req.Body != nil {
		c.lastBody, _ = io.ReadAll(req.Body)
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(c.response)),
		Header:     make(http.Header),
	}, nil
}

func newTestClient(t *testing.T, transport *captureTransport) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:     "test-key",
		BaseURL:    "https://video.example/v1",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSubmitEmbedsCallbackURL(t *testing.T) {
	transport := &captureTransport{response: `{"task_id":"abc123"}`}
	client := newTestClient(t, transport)

	sub, err := client.Submit(context.Background(), providers.SubmitRequest{
		JobID:       "job-1",
		Instruction: "a drone shot over a fjord",
		CallbackURL: "https://api.example/v1/webhooks/async-webhook-video",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Handle != "abc123" {
		t.Fatalf("handle = %q, want abc123", sub.Handle)
	}
	if sub.Immediate != nil {
		t.Fatal("a webhook provider must not return an inline outcome")
	}

	var payload submitRequest
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.CallbackURL != "https://api.example/v1/webhooks/async-webhook-video" {
		t.Fatalf("callback url = %q", payload.CallbackURL)
	}
}

func TestSubmitRequiresCallbackURL(t *testing.T) {
	client := newTestClient(t, &captureTransport{})
	_, err := client.Submit(context.Background(), providers.SubmitRequest{Instruction: "something"})
	if !errors.Is(err, providers.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}

func TestCheckStatusSucceeded(t *testing.T) {
	transport := &captureTransport{
		response: `{"task_id":"abc123","status":"SUCCEEDED","video_url":"https://video.example/results/out.mp4","duration_seconds":8.5,"size_bytes":4200000}`,
	}
	client := newTestClient(t, transport)
	status, err := client.CheckStatus(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status.Kind != providers.StatusSucceeded {
		t.Fatalf("kind = %v, want succeeded", status.Kind)
	}
	if status.Outcome.DurationSeconds != 8.5 || status.Outcome.SizeBytes != 4200000 {
		t.Fatalf("usage not lifted: %+v", status.Outcome)
	}
	if got := transport.lastRequest.URL.String(); got != "https://video.example/v1/videos/abc123" {
		t.Fatalf("url = %q", got)
	}
}

func TestInterpretWebhookSucceeded(t *testing.T) {
	handle, status, err := InterpretWebhook(json.RawMessage(
		`{"task_id":"abc123","status":"COMPLETED","video_url":"https://video.example/results/out.mp4","duration_seconds":12}`,
	))
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if handle != "abc123" {
		t.Fatalf("handle = %q", handle)
	}
	if status.Kind != providers.StatusSucceeded {
		t.Fatalf("kind = %v, want succeeded", status.Kind)
	}
	if status.Outcome.ArtifactURL != "https://video.example/results/out.mp4" {
		t.Fatalf("artifact url = %q", status.Outcome.ArtifactURL)
	}
}

func TestInterpretWebhookRunning(t *testing.T) {
	_, status, err := InterpretWebhook(json.RawMessage(`{"task_id":"abc123","status":"PROCESSING"}`))
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if status.Kind != providers.StatusRunning {
		t.Fatalf("kind = %v, want running", status.Kind)
	}
}

func TestInterpretWebhookFailedContentPolicy(t *testing.T) {
	_, status, err := InterpretWebhook(json.RawMessage(
		`{"task_id":"abc123","status":"FAILED","code":"SafetyBlocked","message":"blocked"}`,
	))
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if status.Kind != providers.StatusFailed || !status.Outcome.ContentPolicy {
		t.Fatalf("status = %+v, want a content-policy failure", status)
	}
}

func TestInterpretWebhookMissingTaskID(t *testing.T) {
	if _, _, err := InterpretWebhook(json.RawMessage(`{"status":"SUCCEEDED"}`)); err == nil {
		t.Fatal("expected an error for a webhook without a task id")
	}
}

func TestInterpretWebhookMalformedBody(t *testing.T) {
	if _, _, err := InterpretWebhook(json.RawMessage(`not-json`)); err == nil {
		t.Fatal("expected a decode error")
	}
}
