package embedding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/erazemk/najdeno/internal/imaging"
	"github.com/erazemk/najdeno/internal/metrics"
)

// maxResponseBytes bounds the size of a feature service response.
const maxResponseBytes = 8 << 20

// Remote request modes.
const (
	// ModeImage posts the canonical JPEG as the request body.
	ModeImage = "image"
	// ModeURL posts {"image_url": "..."} and lets the service fetch the image.
	ModeURL = "url"
)

// RemoteExtractor calls an HTTP feature extraction service, which answers
// with either {"embedding": [...]} or {"features": [[...], ...]}.
type RemoteExtractor struct {
	url     string
	mode    string
	client  *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[[][]float64]
	dim     atomic.Int64
}

// StatusError is a non-200 answer from the feature service.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feature service returned status %d", e.Code)
}

// ClientError reports whether the service rejected this one request, such
// as an image URL it could not fetch, rather than failing itself.
func (e *StatusError) ClientError() bool {
	return e.Code >= 400 && e.Code < 500
}

// breakerSuccess keeps per-request rejections and caller cancellations from
// tripping the breaker; only service and transport failures count.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) && se.ClientError() {
		return true
	}
	return errors.Is(err, context.Canceled)
}

type urlRequest struct {
	ImageURL string `json:"image_url"`
}

type remoteResponse struct {
	Embedding []float64   `json:"embedding"`
	Features  [][]float64 `json:"features"`
}

// NewRemoteExtractor returns an extractor for the service at url.
// A nil client uses http.DefaultClient; an empty mode means ModeImage.
func NewRemoteExtractor(url, mode string, timeout time.Duration, client *http.Client) *RemoteExtractor {
	if client == nil {
		client = http.DefaultClient
	}
	if mode == "" {
		mode = ModeImage
	}
	name := "feature-service"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return &RemoteExtractor{
		url:     url,
		mode:    mode,
		client:  client,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker[[][]float64](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			IsSuccessful: breakerSuccess,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
				metrics.BreakerStateChange(name, from, to)
			},
		}),
	}
}

// RemoteLoader returns a Loader that probes the feature service before
// handing out the extractor. A 5xx answer or a network error fails the load.
func RemoteLoader(url, mode string, timeout time.Duration, client *http.Client) Loader {
	return func(ctx context.Context) (Extractor, error) {
		ext := NewRemoteExtractor(url, mode, timeout, client)
		if err := ext.probe(ctx); err != nil {
			return nil, err
		}
		return ext, nil
	}
}

func (r *RemoteExtractor) Name() string { return "remote" }

// Dimension returns the width of the last response, or 0 before the first call.
func (r *RemoteExtractor) Dimension() int { return int(r.dim.Load()) }

// FetchesURLs reports whether the service downloads images itself.
func (r *RemoteExtractor) FetchesURLs() bool { return r.mode == ModeURL }

// Extract encodes img as JPEG and posts it to the feature service.
func (r *RemoteExtractor) Extract(ctx context.Context, img image.Image) ([][]float64, error) {
	body, err := imaging.EncodeJPEG(img)
	if err != nil {
		return nil, err
	}
	return r.call(ctx, "image/jpeg", body)
}

// ExtractURL asks the feature service to fetch and embed imageURL.
func (r *RemoteExtractor) ExtractURL(ctx context.Context, imageURL string) ([][]float64, error) {
	body, err := json.Marshal(urlRequest{ImageURL: imageURL})
	if err != nil {
		return nil, fmt.Errorf("encoding feature request: %w", err)
	}
	return r.call(ctx, "application/json", body)
}

func (r *RemoteExtractor) call(ctx context.Context, contentType string, body []byte) ([][]float64, error) {
	rows, err := r.breaker.Execute(func() ([][]float64, error) {
		return r.post(ctx, contentType, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("feature service unavailable: %w", err)
		}
		return nil, err
	}
	r.dim.Store(int64(len(rows[0])))
	return rows, nil
}

func (r *RemoteExtractor) post(ctx context.Context, contentType string, body []byte) ([][]float64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating feature request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling feature service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var out remoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding feature response: %w", err)
	}

	switch {
	case len(out.Embedding) > 0:
		return [][]float64{out.Embedding}, nil
	case len(out.Features) > 0 && len(out.Features[0]) > 0:
		return out.Features, nil
	default:
		return nil, ErrNoFeatures
	}
}

func (r *RemoteExtractor) probe(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("creating probe request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing feature service: %w", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("probing feature service: status %d", resp.StatusCode)
	}
	return nil
}

func (r *RemoteExtractor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
