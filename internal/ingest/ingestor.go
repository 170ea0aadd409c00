package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/storage"
)

var (
	// ErrIngestionFailed is the generic re-hosting failure.
	ErrIngestionFailed = errors.New("ingestion failed")
	// ErrSourceExpired means the provider URL stopped resolving before the
	// download completed. Provider output links are often short-lived.
	ErrSourceExpired = errors.New("source url expired")
	// ErrPayloadTooLarge means the source exceeded the configured ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrStorageUnavailable means the durable store rejected the upload.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// DurableRef is a stable, non-expiring pointer to re-hosted output: a public
// URL plus the storage key used for later deletion.
type DurableRef struct {
	URL        string
	StorageKey string
}

// Options configures an Ingestor.
type Options struct {
	Store      *storage.FileStore
	BaseURL    string
	MaxBytes   int64
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Ingestor downloads a provider's (possibly short-lived) output URL and
// re-uploads it to durable storage.
type Ingestor struct {
	store      *storage.FileStore
	baseURL    string
	maxBytes   int64
	httpClient *http.Client
	logger     *infra.Logger
}

// NewIngestor constructs an Ingestor with sane defaults.
func NewIngestor(opts Options) (*Ingestor, error) {
	if opts.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 200 * 1024 * 1024
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Ingestor{
		store:      opts.Store,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		maxBytes:   maxBytes,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Ingest downloads sourceURL and writes it to durable storage under a key
// derived from the job, returning the stable reference.
func (i *Ingestor) Ingest(ctx context.Context, sourceURL string, kind domain.AssetKind, jobID string) (*DurableRef, error) {
	parsed, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("%w: invalid source url %q", ErrIngestionFailed, sourceURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build download request: %v", ErrIngestionFailed, err)
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download: %v", ErrIngestionFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: status %d", ErrSourceExpired, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: download status %d", ErrIngestionFailed, resp.StatusCode)
	}
	if resp.ContentLength > i.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds ceiling %d", ErrPayloadTooLarge, resp.ContentLength, i.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, i.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrIngestionFailed, err)
	}
	if int64(len(data)) > i.maxBytes {
		return nil, fmt.Errorf("%w: body exceeds ceiling %d", ErrPayloadTooLarge, i.maxBytes)
	}

	key := storageKey(jobID, kind, resp.Header.Get("Content-Type"))
	savedKey, err := i.store.Write(ctx, key, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	i.logger.Debug().
		Str("job_id", jobID).
		Str("storage_key", savedKey).
		Int("bytes", len(data)).
		Msg("ingest: re-hosted artifact")

	return &DurableRef{
		URL:        i.baseURL + "/" + savedKey,
		StorageKey: savedKey,
	}, nil
}

func storageKey(jobID string, kind domain.AssetKind, mime string) string {
	category := "images"
	switch kind {
	case domain.AssetKindVideo:
		category = "videos"
	case domain.AssetKindText:
		category = "texts"
	}
	ext := extensionForMIME(mime)
	if ext == "" {
		ext = defaultExtension(kind)
	}
	return fmt.Sprintf("generated/%s/%s/artifact%s", category, jobID, ext)
}

func extensionForMIME(mime string) string {
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = mime[:idx]
	}
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "text/plain":
		return ".txt"
	default:
		return ""
	}
}

func defaultExtension(kind domain.AssetKind) string {
	switch kind {
	case domain.AssetKindVideo:
		return ".mp4"
	case domain.AssetKindText:
		return ".txt"
	default:
		return ".png"
	}
}
