// Package fault - Error taxonomy shared by the inference pipelines.
//
// Every boundary of a pipeline (configuration, request validation, image fetch,
// image decode, inference) wraps its failures in an *Error carrying a Kind. The
// handler maps the Kind to a response status and decides how much of the cause
// is safe to show to the caller.
package fault

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindUnknown is an error that was never classified.
	KindUnknown Kind = "unknown"
	// KindConfig is a missing or invalid configuration value. Fatal at startup.
	KindConfig Kind = "config"
	// KindValidation is a malformed request, e.g. a missing or invalid url.
	KindValidation Kind = "validation"
	// KindFetch is a failure to retrieve the image from its URL.
	KindFetch Kind = "fetch"
	// KindDecode is content that is not a decodable image.
	KindDecode Kind = "decode"
	// KindInference is a model load, runtime or output-shape failure.
	KindInference Kind = "inference"
)

// Error is a classified pipeline error.
type Error struct {
	// Kind is the taxonomy bucket of the error.
	Kind Kind
	// Op names the operation that failed, e.g. "images.Fetch".
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Cause returns the underlying cause for github.com/pkg/errors.Cause.
func (e *Error) Cause() error {
	return e.Err
}

// New classifies err under kind, attaching a stack trace to the cause.
//
// Arguments:
//   - kind: The taxonomy bucket.
//   - op: The failing operation.
//   - err: The cause. A nil cause still produces an error.
//
// Returns:
//   - error: The classified error.
func New(kind Kind, op string, err error) error {
	if err != nil {
		err = errors.WithStack(err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf classifies a formatted message under kind.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Status returns the HTTP status a gateway should answer with for kind.
func Status(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindFetch, KindDecode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the stable, caller-facing error code for kind.
func Code(kind Kind) string {
	switch kind {
	case KindValidation:
		return "invalid_request"
	case KindFetch:
		return "fetch_failed"
	case KindDecode:
		return "decode_failed"
	case KindConfig:
		return "misconfigured"
	default:
		return "inference_failed"
	}
}
