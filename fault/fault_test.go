package fault

import (
	"io"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrappedError(t *testing.T) {
	err := New(KindFetch, "images.Fetch", io.ErrUnexpectedEOF)
	wrapped := errors.Wrap(err, "handle request")

	assert.Equal(t, KindFetch, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindFetch))
	assert.True(t, errors.Is(wrapped, io.ErrUnexpectedEOF), "cause should stay reachable")
	assert.Equal(t, KindUnknown, KindOf(io.EOF))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestErrorMessage(t *testing.T) {
	err := Errorf(KindValidation, "handler.parseURL", "missing %q", "url")
	require.Error(t, err)
	assert.Equal(t, `handler.parseURL: missing "url"`, err.Error())

	bare := New(KindConfig, "config.Validate", nil)
	assert.Equal(t, "config.Validate: config error", bare.Error())
}

func TestStatusAndCode(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
		code   string
	}{
		{KindValidation, http.StatusBadRequest, "invalid_request"},
		{KindFetch, http.StatusBadGateway, "fetch_failed"},
		{KindDecode, http.StatusBadGateway, "decode_failed"},
		{KindInference, http.StatusInternalServerError, "inference_failed"},
		{KindUnknown, http.StatusInternalServerError, "inference_failed"},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.status, Status(tc.kind))
			assert.Equal(t, tc.code, Code(tc.kind))
		})
	}
}
