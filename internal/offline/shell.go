package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"github.com/couchcryptid/cep-locator/internal/observability"
)

// Config describes one cache generation.
type Config struct {
	// Name is the cache version name. Activate deletes every other cache.
	Name string
	// BaseURL is the origin base against which manifest and handler paths
	// resolve, e.g. "http://static.local".
	BaseURL string
	// Manifest lists root-relative paths pre-cached by Install.
	Manifest []string
	// FallbackPath is the root document served when both cache and origin
	// fail. Empty disables the fallback.
	FallbackPath string
}

// Shell is a cache-first fetcher. It implements http.RoundTripper.
type Shell struct {
	storage  CacheStorage
	name     string
	base     *url.URL
	manifest []string
	fallback string
	origin   http.RoundTripper
	logger   *slog.Logger
	metrics  *observability.Metrics

	activated *atomic.Bool
}

// New creates a Shell that fills storage from origin.
func New(storage CacheStorage, cfg Config, origin http.RoundTripper, logger *slog.Logger, metrics *observability.Metrics) (*Shell, error) {
	if cfg.Name == "" {
		return nil, errors.New("cache name is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q is not absolute", cfg.BaseURL)
	}

	s := &Shell{
		storage:   storage,
		name:      cfg.Name,
		base:      base,
		manifest:  cfg.Manifest,
		origin:    origin,
		logger:    logger,
		metrics:   metrics,
		activated: new(atomic.Bool),
	}
	if cfg.FallbackPath != "" {
		s.fallback = s.resolve(cfg.FallbackPath).String()
	}
	return s, nil
}

// Name returns the cache version name.
func (s *Shell) Name() string { return s.name }

// Transport returns a RoundTripper that shares this shell's cache generation
// but fetches misses through rt. It has no fallback document.
func (s *Shell) Transport(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	t := *s
	t.origin = rt
	t.manifest = nil
	t.fallback = ""
	return &t
}

// Install pre-caches every manifest asset and returns how many were stored.
// Failures are logged and skipped.
func (s *Shell) Install(ctx context.Context) int {
	s.logger.Info("offline shell installing", "cache", s.name, "assets", len(s.manifest))

	cache, err := s.storage.Open(ctx, s.name)
	if err != nil {
		s.logger.Error("open cache failed", "cache", s.name, "error", err)
		return 0
	}

	installed := 0
	for _, p := range s.manifest {
		if err := s.add(ctx, cache, p); err != nil {
			s.logger.Error("pre-cache asset failed", "cache", s.name, "path", p, "error", err)
			continue
		}
		installed++
	}
	return installed
}

func (s *Shell) add(ctx context.Context, cache Cache, p string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.resolve(p).String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := s.origin.RoundTrip(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("origin returned status %d", resp.StatusCode)
	}
	snap, err := snapshot(resp)
	if err != nil {
		return err
	}
	return cache.Put(ctx, cacheKey(req), snap)
}

// Activate deletes every cache except the shell's own generation and marks
// the shell ready.
func (s *Shell) Activate(ctx context.Context) error {
	names, err := s.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}

	var errs []error
	for _, name := range names {
		if name == s.name {
			continue
		}
		if _, err := s.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete cache %s: %w", name, err))
			continue
		}
		s.metrics.CachesPruned.Inc()
		s.logger.Info("stale cache deleted", "cache", name)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.activated.Store(true)
	s.metrics.ShellInstalled.Set(1)
	return nil
}

// CheckReadiness reports an error until Activate has succeeded.
func (s *Shell) CheckReadiness(_ context.Context) error {
	if !s.activated.Load() {
		return errors.New("offline shell has not been activated")
	}
	return nil
}

// RoundTrip serves req cache-first. Only GET requests touch the cache; other
// methods go straight to the origin.
func (s *Shell) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		s.metrics.ShellRequests.WithLabelValues("bypass").Inc()
		return s.origin.RoundTrip(req)
	}

	resp, err := s.fetch(req)
	if err == nil {
		return resp, nil
	}

	s.logger.Error("fetch failed", "url", req.URL.String(), "error", err)
	if fb, ok := s.fallbackResponse(req); ok {
		s.metrics.ShellRequests.WithLabelValues("fallback").Inc()
		return fb, nil
	}
	s.metrics.ShellRequests.WithLabelValues("error").Inc()
	return nil, err
}

func (s *Shell) fetch(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	cache, err := s.storage.Open(ctx, s.name)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	key := cacheKey(req)
	cached, ok, err := cache.Match(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("match cache: %w", err)
	}
	if ok {
		s.metrics.ShellRequests.WithLabelValues("hit").Inc()
		return cached.httpResponse(req), nil
	}
	s.metrics.ShellRequests.WithLabelValues("miss").Inc()

	resp, err := s.origin.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	snap, err := snapshot(resp)
	if err != nil {
		return nil, err
	}
	if err := cache.Put(ctx, key, snap); err != nil {
		s.logger.Warn("cache put failed", "url", key, "error", err)
	}
	return snap.httpResponse(req), nil
}

func (s *Shell) fallbackResponse(req *http.Request) (*http.Response, bool) {
	if s.fallback == "" {
		return nil, false
	}
	// The request context may be what failed; the lookup must still run.
	ctx := context.WithoutCancel(req.Context())
	cache, err := s.storage.Open(ctx, s.name)
	if err != nil {
		return nil, false
	}
	cached, ok, err := cache.Match(ctx, s.fallback)
	if err != nil || !ok {
		return nil, false
	}
	return cached.httpResponse(req), true
}

// Handler serves incoming requests through the shell, resolving their path
// against the base URL.
func (s *Shell) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := r.Clone(r.Context())
		out.RequestURI = ""
		out.Host = ""
		out.URL = s.base.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})

		resp, err := s.RoundTrip(out)
		if err != nil {
			http.Error(w, "offline and not cached", http.StatusServiceUnavailable)
			return
		}
		defer resp.Body.Close()

		for k, vs := range resp.Header {
			if k == "Connection" || k == "Transfer-Encoding" {
				continue
			}
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	})
}

func (s *Shell) resolve(p string) *url.URL {
	ref, err := url.Parse(p)
	if err != nil {
		ref = &url.URL{Path: p}
	}
	return s.base.ResolveReference(ref)
}

// cacheKey is the request URL without fragment.
func cacheKey(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// snapshot reads and closes the response body.
func snapshot(resp *http.Response) (Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}
	return Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

func (r Response) httpResponse(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status)),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}
