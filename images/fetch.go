package images

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/inference-lambda/fault"
)

// FetchConfig controls how images are retrieved from their URL.
type FetchConfig struct {
	// Timeout bounds a single attempt, including reading the body.
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`
	// Retries is the number of additional attempts after a transient failure.
	Retries int `json:"retries" yaml:"retries" validate:"gte=0,lte=10"`
	// RetryWait is the initial backoff between attempts.
	RetryWait time.Duration `json:"retry_wait" yaml:"retry_wait"`
	// RetryMaxWait caps the exponential backoff.
	RetryMaxWait time.Duration `json:"retry_max_wait" yaml:"retry_max_wait"`
	// MaxBytes rejects bodies larger than this many bytes.
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes" validate:"gt=0"`
	// UserAgent is sent with every request.
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// DefaultFetchConfig returns the fetch settings used when none are configured.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:      10 * time.Second,
		Retries:      2,
		RetryWait:    200 * time.Millisecond,
		RetryMaxWait: 2 * time.Second,
		MaxBytes:     20 << 20,
		UserAgent:    "inference-lambda/1.0",
	}
}

// Fetcher downloads images over HTTP(S) with a per-attempt timeout and a
// bounded number of retries on transient failures.
type Fetcher struct {
	client *resty.Client
	config FetchConfig
}

// NewFetcher creates a fetcher.
//
// Arguments:
//   - config: The fetch settings.
//   - log: Receives a warning for every retried attempt. May be nil.
//
// Returns:
//   - *Fetcher: The fetcher.
func NewFetcher(config FetchConfig, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	if config.Retries < 0 {
		config.Retries = 0
	}

	client := resty.New().
		SetTimeout(config.Timeout).
		SetRetryCount(config.Retries).
		SetRetryWaitTime(config.RetryWait).
		SetRetryMaxWaitTime(config.RetryMaxWait).
		SetHeader("Accept", "image/*").
		AddRetryCondition(isTransient).
		AddRetryHook(func(resp *resty.Response, err error) {
			fields := []zap.Field{zap.Error(err)}
			if resp != nil {
				fields = append(fields,
					zap.Int("status", resp.StatusCode()),
					zap.Int("attempt", resp.Request.Attempt))
			}
			log.Warn("retrying image fetch", fields...)
		})
	if config.UserAgent != "" {
		client.SetHeader("User-Agent", config.UserAgent)
	}
	if config.MaxBytes > 0 {
		client.SetResponseBodyLimit(int(config.MaxBytes))
	}

	return &Fetcher{client: client, config: config}
}

// isTransient reports whether an attempt failed in a way worth retrying:
// network errors, 429 and 5xx. Client errors and oversized bodies are final.
func isTransient(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, resty.ErrResponseBodyTooLarge)
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// ValidateURL checks that raw is an absolute http or https URL.
//
// Arguments:
//   - raw: The URL as received in the request.
//
// Returns:
//   - *url.URL: The parsed URL.
//   - error: A validation error describing why the URL was rejected.
func ValidateURL(raw string) (*url.URL, error) {
	const op = "images.ValidateURL"
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fault.Errorf(fault.KindValidation, op, "url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fault.New(fault.KindValidation, op, errors.Wrap(err, "malformed url"))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fault.Errorf(fault.KindValidation, op, "unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fault.Errorf(fault.KindValidation, op, "url has no host")
	}
	return u, nil
}

// Fetch downloads the resource at rawURL.
//
// Arguments:
//   - ctx: Cancels the download and any pending retry.
//   - rawURL: The image URL.
//
// Returns:
//   - []byte: The response body.
//   - error: A validation error for a bad URL, a fetch error otherwise.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	const op = "images.Fetch"
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.R().SetContext(ctx).Get(u.String())
	if errors.Is(err, resty.ErrResponseBodyTooLarge) {
		return nil, fault.Errorf(fault.KindFetch, op, "get %s: body exceeds limit of %d bytes", u.Redacted(), f.config.MaxBytes)
	}
	if err != nil {
		return nil, fault.New(fault.KindFetch, op, errors.Wrapf(err, "get %s", u.Redacted()))
	}
	if !resp.IsSuccess() {
		return nil, fault.Errorf(fault.KindFetch, op, "get %s: unexpected status %s", u.Redacted(), resp.Status())
	}

	body := resp.Body()
	if f.config.MaxBytes > 0 && int64(len(body)) > f.config.MaxBytes {
		return nil, fault.Errorf(fault.KindFetch, op, "get %s: body of %d bytes exceeds limit of %d",
			u.Redacted(), len(body), f.config.MaxBytes)
	}
	if len(body) == 0 {
		return nil, fault.Errorf(fault.KindFetch, op, "get %s: empty body", u.Redacted())
	}
	return body, nil
}
