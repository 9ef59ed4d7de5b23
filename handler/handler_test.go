package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/inference-lambda/fault"
	"github.com/nvr-ai/inference-lambda/images"
	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/metrics"
	"github.com/nvr-ai/inference-lambda/models/model"
)

type countOutput struct {
	Boxes [][4]float32 `json:"boxes"`
}

func (o countOutput) Count() int { return len(o.Boxes) }

type fakeDetector struct {
	output model.Output
	err    error
	calls  atomic.Int32
	seen   *images.Image
}

func (f *fakeDetector) Name() model.Name     { return model.ModelNameDETR }
func (f *fakeDetector) Family() model.Family { return model.ModelFamilyCOCO91 }
func (f *fakeDetector) Close() error         { return nil }

func (f *fakeDetector) Detect(_ context.Context, img *images.Image) (model.Output, error) {
	f.calls.Add(1)
	f.seen = img
	return f.output, f.err
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 64, 48))))
	return buf.Bytes()
}

// imageServer serves a PNG at /cat.png, text at /text and 404 elsewhere.
func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cat.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(img)
		case "/text":
			_, _ = w.Write([]byte("this is not an image, just some plain text"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newHandler(detector *inference.Lazy[model.Detector]) *Handler {
	cfg := images.DefaultFetchConfig()
	cfg.Retries = 0
	cfg.Timeout = 2 * time.Second
	return New(model.ModelNameDETR, detector, images.NewFetcher(cfg, nil), metrics.New(), nil)
}

func request(url string) events.APIGatewayV2HTTPRequest {
	req := events.APIGatewayV2HTTPRequest{}
	if url != "" {
		req.QueryStringParameters = map[string]string{"url": url}
	}
	return req
}

func decodeError(t *testing.T, resp events.APIGatewayV2HTTPResponse) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	return body
}

func TestHandleSuccess(t *testing.T) {
	srv := imageServer(t)
	det := &fakeDetector{output: countOutput{Boxes: [][4]float32{{1, 2, 3, 4}}}}
	h := newHandler(inference.Ready[model.Detector](det))

	req := request(srv.URL + "/cat.png")
	req.RequestContext.RequestID = "req-1"
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
	assert.Equal(t, "req-1", resp.Headers[HeaderRequestID])
	assert.JSONEq(t, `{"boxes":[[1,2,3,4]]}`, resp.Body)
	require.NotNil(t, det.seen)
	assert.Equal(t, images.FormatPNG, det.seen.Format)
	assert.Equal(t, 64, det.seen.Width)
}

func TestHandleErrors(t *testing.T) {
	srv := imageServer(t)

	cases := []struct {
		name   string
		url    string
		det    *fakeDetector
		status int
		code   string
	}{
		{"missing url", "", &fakeDetector{}, http.StatusBadRequest, "invalid_request"},
		{"unsupported scheme", "ftp://example.com/cat.png", &fakeDetector{}, http.StatusBadRequest, "invalid_request"},
		{"not found", srv.URL + "/missing.png", &fakeDetector{}, http.StatusBadGateway, "fetch_failed"},
		{"not an image", srv.URL + "/text", &fakeDetector{}, http.StatusBadGateway, "decode_failed"},
		{
			"inference failure", srv.URL + "/cat.png",
			&fakeDetector{err: fault.New(fault.KindInference, "detr.Detect", errors.New("CUDA error 700 at /opt/secret/kernel.cu"))},
			http.StatusInternalServerError, "inference_failed",
		},
		{
			"unclassified failure", srv.URL + "/cat.png",
			&fakeDetector{err: errors.New("boom")},
			http.StatusInternalServerError, "inference_failed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHandler(inference.Ready[model.Detector](tc.det))
			resp, err := h.Handle(context.Background(), request(tc.url))
			require.NoError(t, err, "request failures never reach the runtime")

			assert.Equal(t, tc.status, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, tc.code, body.Code)
			assert.NotEmpty(t, body.Message)
			assert.NotEmpty(t, resp.Headers[HeaderRequestID])
			if tc.status == http.StatusInternalServerError {
				assert.Equal(t, internalMessage, body.Message)
				assert.NotContains(t, resp.Body, "/opt/secret")
			}
		})
	}
}

func TestHandleModelLoadFailure(t *testing.T) {
	srv := imageServer(t)
	det := &fakeDetector{output: countOutput{Boxes: [][4]float32{}}}
	var loads atomic.Int32
	lazy := inference.NewLazy(func(context.Context) (model.Detector, error) {
		if loads.Add(1) == 1 {
			return nil, fault.Errorf(fault.KindInference, "inference.NewSession", "out of memory")
		}
		return det, nil
	})
	h := newHandler(lazy)

	resp, err := h.Handle(context.Background(), request(srv.URL+"/cat.png"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, internalMessage, decodeError(t, resp).Message)

	resp, err = h.Handle(context.Background(), request(srv.URL+"/cat.png"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "a failed load is retried")
	assert.Equal(t, int32(2), loads.Load())
}

func TestHandleRecoversPanic(t *testing.T) {
	srv := imageServer(t)
	h := newHandler(inference.Ready[model.Detector](nil))

	resp, err := h.Handle(context.Background(), request(srv.URL+"/cat.png"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "inference_failed", decodeError(t, resp).Code)
}

func TestHandleRecordsResponseCodes(t *testing.T) {
	srv := imageServer(t)
	m := metrics.New()
	cfg := images.DefaultFetchConfig()
	cfg.Retries = 0
	det := &fakeDetector{output: countOutput{Boxes: [][4]float32{{1, 2, 3, 4}}}}
	h := New(model.ModelNameDETR, inference.Ready[model.Detector](det), images.NewFetcher(cfg, nil), m, nil)

	for _, url := range []string{srv.URL + "/cat.png", srv.URL + "/cat.png", "", srv.URL + "/text"} {
		_, err := h.Handle(context.Background(), request(url))
		require.NoError(t, err)
	}
	panicking := New(model.ModelNameDETR, inference.Ready[model.Detector](nil), images.NewFetcher(cfg, nil), m, nil)
	_, err := panicking.Handle(context.Background(), request(srv.URL+"/cat.png"))
	require.NoError(t, err)

	expected := `
# HELP inference_requests_total Total number of inference requests by model and response code.
# TYPE inference_requests_total counter
inference_requests_total{code="decode_failed",model="detr"} 1
inference_requests_total{code="inference_failed",model="detr"} 1
inference_requests_total{code="invalid_request",model="detr"} 1
inference_requests_total{code="ok",model="detr"} 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "inference_requests_total"))
}

func TestParseURL(t *testing.T) {
	u, err := ParseURL(request(" https://example.com/a.jpg "))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.jpg", u)

	u, err = ParseURL(events.APIGatewayV2HTTPRequest{Body: `{"url":"http://example.com/b.png"}`})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/b.png", u)

	u, err = ParseURL(events.APIGatewayV2HTTPRequest{
		Body:            base64.StdEncoding.EncodeToString([]byte(`{"url":"http://example.com/c.png"}`)),
		IsBase64Encoded: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/c.png", u)

	_, err = ParseURL(events.APIGatewayV2HTTPRequest{Body: `url=http://example.com`})
	assert.True(t, fault.Is(err, fault.KindValidation))

	_, err = ParseURL(events.APIGatewayV2HTTPRequest{Body: `%%%`, IsBase64Encoded: true})
	assert.True(t, fault.Is(err, fault.KindValidation))
}

func TestRequestID(t *testing.T) {
	req := events.APIGatewayV2HTTPRequest{}
	req.RequestContext.RequestID = "gw-id"
	assert.Equal(t, "gw-id", RequestID(context.Background(), req))

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "lambda-id"})
	assert.Equal(t, "lambda-id", RequestID(ctx, events.APIGatewayV2HTTPRequest{}))

	assert.Len(t, RequestID(context.Background(), events.APIGatewayV2HTTPRequest{}), 36)
}
