package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/inference-lambda/fault"
)

func testFetchConfig() FetchConfig {
	cfg := DefaultFetchConfig()
	cfg.Timeout = 2 * time.Second
	cfg.RetryWait = time.Millisecond
	cfg.RetryMaxWait = 5 * time.Millisecond
	return cfg
}

func TestValidateURL(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"http", "http://example.com/cat.jpg", true},
		{"https with query", "https://example.com/a.png?x=1", true},
		{"surrounding space", "  https://example.com/a.png ", true},
		{"empty", "", false},
		{"blank", "   ", false},
		{"relative", "/images/a.png", false},
		{"ftp", "ftp://example.com/a.png", false},
		{"file", "file:///etc/passwd", false},
		{"no host", "http:///a.png", false},
		{"malformed", "http://[::1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := ValidateURL(tc.raw)
			if tc.ok {
				require.NoError(t, err)
				assert.NotNil(t, u)
				return
			}
			require.Error(t, err)
			assert.Equal(t, fault.KindValidation, fault.KindOf(err))
		})
	}
}

func TestFetchSuccess(t *testing.T) {
	payload := encodePNG(t, solidImage(4, 3))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "inference-lambda/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	body, err := NewFetcher(testFetchConfig(), nil).Fetch(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, payload, body)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := NewFetcher(testFetchConfig(), nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.Equal(t, int32(3), calls.Load(), "two retries should be spent before success")
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewFetcher(testFetchConfig(), nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, fault.KindFetch, fault.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewFetcher(testFetchConfig(), nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, fault.KindFetch, fault.KindOf(err))
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testFetchConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.Retries = 0

	start := time.Now()
	_, err := NewFetcher(cfg, nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, fault.KindFetch, fault.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetchRejectsOversizedAndEmptyBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			return
		}
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	cfg := testFetchConfig()
	cfg.MaxBytes = 32
	f := NewFetcher(cfg, nil)

	_, err := f.Fetch(context.Background(), srv.URL+"/big")
	require.Error(t, err)
	assert.Equal(t, fault.KindFetch, fault.KindOf(err))
	assert.Contains(t, err.Error(), "exceeds limit")

	_, err = f.Fetch(context.Background(), srv.URL+"/empty")
	require.Error(t, err)
	assert.Equal(t, fault.KindFetch, fault.KindOf(err))
}

func TestFetchStopsReadingOversizedBody(t *testing.T) {
	const (
		limit = 1 << 20
		total = 64 << 20
	)
	var (
		calls   atomic.Int32
		written atomic.Int64
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		chunk := make([]byte, 32<<10)
		for written.Load() < total {
			n, err := w.Write(chunk)
			written.Add(int64(n))
			if err != nil {
				return
			}
		}
	}))

	cfg := testFetchConfig()
	cfg.MaxBytes = limit
	_, err := NewFetcher(cfg, nil).Fetch(context.Background(), srv.URL)
	srv.Close()

	require.Error(t, err)
	assert.Equal(t, fault.KindFetch, fault.KindOf(err))
	assert.Contains(t, err.Error(), "exceeds limit")
	assert.Equal(t, int32(1), calls.Load(), "an oversized body is not retried")
	assert.Less(t, written.Load(), int64(total), "the body should not be drained")
}

func TestFetchInvalidURLIsValidationError(t *testing.T) {
	_, err := NewFetcher(testFetchConfig(), nil).Fetch(context.Background(), "not a url")
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}
