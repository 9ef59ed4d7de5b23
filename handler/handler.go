// Package handler - API Gateway handler running one detection model.
//
// A request carries the image URL in the "url" query parameter (or a JSON body
// {"url": "..."}). The handler downloads the image, runs the detector and
// answers with the detector output as JSON. Request level failures become an
// error response; Handle itself never returns an error to the Lambda runtime.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/inference-lambda/fault"
	"github.com/nvr-ai/inference-lambda/images"
	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/metrics"
	"github.com/nvr-ai/inference-lambda/models/model"
)

// HeaderRequestID carries the request id on every response.
const HeaderRequestID = "X-Request-Id"

const internalMessage = "internal error while running inference"

// codeOK labels successful requests in metrics.
const codeOK = "ok"

// Fetcher downloads the image behind a URL. *images.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// ErrorBody is the JSON body of an error response.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type requestBody struct {
	URL string `json:"url"`
}

// Handler serves detection requests for one model.
type Handler struct {
	name     model.Name
	detector *inference.Lazy[model.Detector]
	fetcher  Fetcher
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// New creates a handler.
//
// Arguments:
//   - name: The model served, used in logs and metrics.
//   - detector: The detector, loaded lazily or already Ready.
//   - fetcher: Downloads images.
//   - m: Records request metrics. May be nil.
//   - log: The logger.
//
// Returns:
//   - *Handler: The handler.
func New(name model.Name, detector *inference.Lazy[model.Detector], fetcher Fetcher, m *metrics.Metrics, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		name:     name,
		detector: detector,
		fetcher:  fetcher,
		metrics:  m,
		log:      log.With(zap.String("model", string(name))),
	}
}

// Handle runs the detection pipeline for one API Gateway v2 request.
//
// Arguments:
//   - ctx: The invocation context; its deadline bounds the whole request.
//   - req: The API Gateway HTTP API event.
//
// Returns:
//   - events.APIGatewayV2HTTPResponse: The JSON response.
//   - error: Always nil.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (resp events.APIGatewayV2HTTPResponse, _ error) {
	start := time.Now()
	requestID := RequestID(ctx, req)
	log := h.log.With(zap.String("request_id", requestID))

	code := codeOK
	fail := func(err error) events.APIGatewayV2HTTPResponse {
		code = fault.Code(fault.KindOf(err))
		return h.errorResponse(log, requestID, err)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while handling request", zap.Any("panic", r), zap.Stack("stack"))
			resp = fail(fault.Errorf(fault.KindInference, "handler.Handle", "panic: %v", r))
		}
		h.metrics.ObserveRequest(string(h.name), code, time.Since(start))
	}()

	output, err := h.run(ctx, log, req)
	if err != nil {
		return fail(err), nil
	}

	body, err := json.Marshal(output)
	if err != nil {
		return fail(fault.New(fault.KindInference, "handler.Handle", err)), nil
	}
	log.Info("request served",
		zap.Int("detections", output.Count()),
		zap.Duration("took", time.Since(start)))
	return respond(http.StatusOK, requestID, body), nil
}

func (h *Handler) run(ctx context.Context, log *zap.Logger, req events.APIGatewayV2HTTPRequest) (model.Output, error) {
	rawURL, err := ParseURL(req)
	if err != nil {
		return nil, err
	}

	fetchStart := time.Now()
	data, err := h.fetcher.Fetch(ctx, rawURL)
	h.metrics.ObserveStage(string(h.name), metrics.StageFetch, time.Since(fetchStart))
	if err != nil {
		return nil, err
	}

	img, err := images.NewImage(data)
	if err != nil {
		return nil, err
	}
	log.Debug("image fetched",
		zap.String("format", string(img.Format)),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.Int("bytes", len(data)))

	detector, err := h.detector.Get(ctx)
	if err != nil {
		return nil, err
	}

	detectStart := time.Now()
	output, err := detector.Detect(ctx, img)
	h.metrics.ObserveStage(string(h.name), metrics.StageDetect, time.Since(detectStart))
	if err != nil {
		return nil, err
	}
	h.metrics.ObserveDetections(string(h.name), output.Count())
	return output, nil
}

// ParseURL extracts the image URL from the "url" query parameter, falling back
// to a JSON body {"url": "..."}.
//
// Arguments:
//   - req: The API Gateway HTTP API event.
//
// Returns:
//   - string: The validated URL.
//   - error: A validation error if no valid URL is present.
func ParseURL(req events.APIGatewayV2HTTPRequest) (string, error) {
	const op = "handler.ParseURL"

	raw := req.QueryStringParameters["url"]
	if strings.TrimSpace(raw) == "" && req.Body != "" {
		body := []byte(req.Body)
		if req.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(req.Body)
			if err != nil {
				return "", fault.New(fault.KindValidation, op, errors.Wrap(err, "decode base64 body"))
			}
			body = decoded
		}
		var rb requestBody
		if err := json.Unmarshal(body, &rb); err != nil {
			return "", fault.New(fault.KindValidation, op, errors.Wrap(err, "request body is not valid JSON"))
		}
		raw = rb.URL
	}

	u, err := images.ValidateURL(raw)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// RequestID returns the id of the request: the API Gateway request id, else the
// Lambda invocation id, else a fresh UUID.
func RequestID(ctx context.Context, req events.APIGatewayV2HTTPRequest) string {
	if id := req.RequestContext.RequestID; id != "" {
		return id
	}
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}

// errorResponse logs err and renders it. Causes of inference and
// configuration failures are logged but never sent to the caller.
func (h *Handler) errorResponse(log *zap.Logger, requestID string, err error) events.APIGatewayV2HTTPResponse {
	kind := fault.KindOf(err)
	status := fault.Status(kind)

	body := ErrorBody{
		Code:      fault.Code(kind),
		Message:   err.Error(),
		RequestID: requestID,
	}
	if status >= http.StatusInternalServerError {
		body.Message = internalMessage
		log.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	} else {
		log.Warn("request rejected", zap.String("kind", string(kind)), zap.Error(err))
	}

	data, mErr := json.Marshal(body)
	if mErr != nil {
		data = []byte(`{"code":"inference_failed","message":"` + internalMessage + `"}`)
	}
	return respond(status, requestID, data)
}

func respond(status int, requestID string, body []byte) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			HeaderRequestID: requestID,
		},
		Body: string(body),
	}
}
