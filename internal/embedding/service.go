// Package embedding turns images into unit-length visual feature vectors.
package embedding

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/floats"

	"github.com/erazemk/najdeno/internal/imaging"
	"github.com/erazemk/najdeno/internal/metrics"
	"github.com/erazemk/najdeno/internal/model"
)

// Extractor computes visual features for an image. It returns one row per
// token or patch; all rows have the same width.
type Extractor interface {
	Name() string
	// Dimension returns the row width, or 0 if not yet known.
	Dimension() int
	Extract(ctx context.Context, img image.Image) ([][]float64, error)
}

// URLExtractor is implemented by extractors that can download images
// themselves. FetchesURLs reports whether that mode is enabled.
type URLExtractor interface {
	FetchesURLs() bool
	ExtractURL(ctx context.Context, imageURL string) ([][]float64, error)
}

// FetchFunc downloads image bytes.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// Loader creates an Extractor. It is called at most once at a time and again
// only after a failed attempt.
type Loader func(ctx context.Context) (Extractor, error)

// DefaultLoadTimeout bounds one extractor load.
const DefaultLoadTimeout = 2 * time.Minute

// ReadyFunc receives the extractor name and embedding dimension once both
// are known.
type ReadyFunc func(name string, dim int)

// Service embeds images with a lazily loaded, shared Extractor.
type Service struct {
	load        Loader
	loadTimeout time.Duration
	group       singleflight.Group

	mu  sync.RWMutex
	ext Extractor

	// dim is the width of the first pooled embedding, for extractors that
	// learn their dimension from the first response.
	dim       atomic.Int64
	readyMu   sync.Mutex
	ready     ReadyFunc
	readyDone bool
}

// NewService returns a service that loads its extractor with load on first use.
func NewService(load Loader) *Service {
	return &Service{load: load, loadTimeout: DefaultLoadTimeout}
}

// OnReady registers fn to run once, as soon as the extractor is loaded and
// its dimension is known. That is at load time for extractors with a fixed
// dimension, or after the first successful embedding otherwise. If both are
// already known fn runs immediately.
func (s *Service) OnReady(fn ReadyFunc) {
	s.readyMu.Lock()
	s.ready, s.readyDone = fn, false
	s.readyMu.Unlock()
	s.fireReady()
}

func (s *Service) fireReady() {
	name, dim := s.Name(), s.Dimension()
	if name == "" || dim == 0 {
		return
	}
	s.readyMu.Lock()
	fn := s.ready
	if fn == nil || s.readyDone {
		s.readyMu.Unlock()
		return
	}
	s.readyDone = true
	s.readyMu.Unlock()
	fn(name, dim)
}

// observe records the dimension of a successful embedding.
func (s *Service) observe(emb model.Embedding) {
	if s.dim.CompareAndSwap(0, int64(len(emb))) {
		s.fireReady()
	}
}

// Warm loads the extractor if it is not loaded yet.
func (s *Service) Warm(ctx context.Context) error {
	_, err := s.extractor(ctx)
	return err
}

// Loaded reports whether the extractor is ready.
func (s *Service) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ext != nil
}

// Name returns the extractor name, or "" before it is loaded.
func (s *Service) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ext == nil {
		return ""
	}
	return s.ext.Name()
}

// Dimension returns the embedding dimensionality, or 0 before it is known.
func (s *Service) Dimension() int {
	s.mu.RLock()
	ext := s.ext
	s.mu.RUnlock()
	if ext == nil {
		return 0
	}
	if d := ext.Dimension(); d > 0 {
		return d
	}
	return int(s.dim.Load())
}

// Embed decodes image bytes and returns their L2-normalized embedding.
// All failures are reported as *EncodingError.
func (s *Service) Embed(ctx context.Context, data []byte) (model.Embedding, error) {
	img, err := imaging.Normalize(data)
	if err != nil {
		return nil, s.fail("decode", err)
	}
	return s.EmbedImage(ctx, img)
}

// EmbedURL embeds the image at imageURL. Extractors that download images
// themselves get the URL; otherwise fetch downloads the bytes first.
func (s *Service) EmbedURL(ctx context.Context, imageURL string, fetch FetchFunc) (model.Embedding, error) {
	ext, err := s.extractor(ctx)
	if err != nil {
		return nil, s.fail("load", err)
	}

	if u, ok := ext.(URLExtractor); ok && u.FetchesURLs() {
		start := time.Now()
		rows, err := u.ExtractURL(ctx, imageURL)
		if err != nil {
			return nil, s.fail("extract", err)
		}
		emb, err := Pool(rows)
		if err != nil {
			return nil, s.fail("pool", err)
		}
		metrics.EmbeddingDuration.WithLabelValues(ext.Name()).Observe(time.Since(start).Seconds())
		s.observe(emb)
		return emb, nil
	}

	data, err := fetch(ctx, imageURL)
	if err != nil {
		return nil, s.fail("fetch", err)
	}
	return s.Embed(ctx, data)
}

// EmbedImage returns the L2-normalized embedding of an already decoded image.
func (s *Service) EmbedImage(ctx context.Context, img image.Image) (model.Embedding, error) {
	ext, err := s.extractor(ctx)
	if err != nil {
		return nil, s.fail("load", err)
	}

	start := time.Now()
	rows, err := ext.Extract(ctx, img)
	if err != nil {
		return nil, s.fail("extract", err)
	}

	emb, err := Pool(rows)
	if err != nil {
		return nil, s.fail("pool", err)
	}
	metrics.EmbeddingDuration.WithLabelValues(ext.Name()).Observe(time.Since(start).Seconds())
	s.observe(emb)
	return emb, nil
}

func (s *Service) fail(op string, err error) error {
	metrics.EmbeddingErrors.WithLabelValues(op).Inc()
	return &EncodingError{Op: op, Err: err}
}

// extractor returns the loaded extractor, loading it if needed. Concurrent
// callers share one load; a failed load is retried by the next caller.
// The load is detached from the caller that started it and bounded by
// loadTimeout, so one cancelled request does not fail every waiter. Each
// caller still stops waiting when its own ctx is done.
func (s *Service) extractor(ctx context.Context) (Extractor, error) {
	s.mu.RLock()
	ext := s.ext
	s.mu.RUnlock()
	if ext != nil {
		return ext, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan("extractor", func() (any, error) {
		s.mu.RLock()
		ext := s.ext
		s.mu.RUnlock()
		if ext != nil {
			return ext, nil
		}

		ctx, cancel := context.WithTimeout(loadCtx, s.loadTimeout)
		defer cancel()
		ext, err := s.safeLoad(ctx)
		if err != nil {
			metrics.ExtractorLoads.WithLabelValues("error").Inc()
			slog.Warn("loading extractor failed", "error", err)
			return nil, err
		}
		metrics.ExtractorLoads.WithLabelValues("ok").Inc()
		slog.Info("extractor loaded", "extractor", ext.Name(), "dimension", ext.Dimension())

		s.mu.Lock()
		s.ext = ext
		s.mu.Unlock()
		s.fireReady()
		return ext, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Extractor), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) safeLoad(ctx context.Context) (ext Extractor, err error) {
	defer func() {
		if r := recover(); r != nil {
			ext, err = nil, fmt.Errorf("extractor loader panicked: %v", r)
		}
	}()
	ext, err = s.load(ctx)
	if err == nil && ext == nil {
		err = fmt.Errorf("loader returned no extractor")
	}
	return ext, err
}

// Pool mean-pools feature rows and scales the result to unit L2 length.
func Pool(rows [][]float64) (model.Embedding, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrNoFeatures
	}

	dim := len(rows[0])
	out := make([]float64, dim)
	for i, row := range rows {
		if len(row) != dim {
			return nil, fmt.Errorf("feature row %d has width %d, want %d", i, len(row), dim)
		}
		floats.Add(out, row)
	}
	floats.Scale(1/float64(len(rows)), out)

	norm := floats.Norm(out, 2)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("pooled features have norm %v", norm)
	}
	floats.Scale(1/norm, out)
	return model.Embedding(out), nil
}
