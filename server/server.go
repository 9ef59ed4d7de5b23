// Package server - Local HTTP gateway emulating API Gateway in front of the handlers.
package server

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/inference-lambda/handler"
	"github.com/nvr-ai/inference-lambda/metrics"
	"github.com/nvr-ai/inference-lambda/models/model"
)

// maxBodyBytes bounds request bodies; the body only ever carries a URL.
const maxBodyBytes = 1 << 20

// LambdaHandler answers API Gateway v2 events. *handler.Handler satisfies it.
type LambdaHandler interface {
	Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)
}

// Server routes HTTP requests to the handler of the requested model.
type Server struct {
	engine   *gin.Engine
	handlers map[model.Name]LambdaHandler
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// New creates the gateway.
//
// Routes:
//   - GET|POST /inference/:model runs the handler of :model.
//   - GET /health lists the served models.
//   - GET /metrics exposes m in the Prometheus format.
//
// Arguments:
//   - handlers: The handler of every served model.
//   - m: The metrics to expose. May be nil.
//   - log: The logger.
//
// Returns:
//   - *Server: The gateway.
func New(handlers map[model.Name]LambdaHandler, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		engine:   gin.New(),
		handlers: handlers,
		metrics:  m,
		log:      log,
	}
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(m.Handler()))
	s.engine.GET("/inference/:model", s.inference)
	s.engine.POST("/inference/:model", s.inference)
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gateway listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info("gateway shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, string(name))
	}
	sort.Strings(names)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "models": names})
}

func (s *Server) inference(c *gin.Context) {
	name := model.Name(c.Param("model"))
	h, ok := s.handlers[name]
	if !ok {
		c.JSON(http.StatusNotFound, handler.ErrorBody{
			Code:    "not_found",
			Message: "model " + string(name) + " is not served",
		})
		return
	}

	req, err := toEvent(c)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, handler.ErrorBody{Code: "invalid_request", Message: err.Error()})
		return
	}

	resp, err := h.Handle(c.Request.Context(), req)
	if err != nil {
		s.log.Error("handler returned an error", zap.Error(err))
		c.JSON(http.StatusBadGateway, handler.ErrorBody{Code: "inference_failed", Message: "handler error"})
		return
	}
	for k, v := range resp.Headers {
		c.Header(k, v)
	}
	c.Data(resp.StatusCode, resp.Headers["Content-Type"], []byte(resp.Body))
}

// toEvent translates the HTTP request into the event API Gateway would deliver.
func toEvent(c *gin.Context) (events.APIGatewayV2HTTPRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return events.APIGatewayV2HTTPRequest{}, errors.Wrapf(err, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return events.APIGatewayV2HTTPRequest{}, errors.Wrap(err, "read body")
	}

	query := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		query[k] = strings.Join(v, ",")
	}
	headers := make(map[string]string)
	for k := range c.Request.Header {
		headers[strings.ToLower(k)] = c.Request.Header.Get(k)
	}

	requestID := c.GetHeader(handler.HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	req := events.APIGatewayV2HTTPRequest{
		Version:               "2.0",
		RouteKey:              c.Request.Method + " /inference/{model}",
		RawPath:               c.Request.URL.Path,
		RawQueryString:        c.Request.URL.RawQuery,
		Headers:               headers,
		QueryStringParameters: query,
		PathParameters:        map[string]string{"model": c.Param("model")},
		Body:                  string(body),
	}
	req.RequestContext.RequestID = requestID
	req.RequestContext.HTTP.Method = c.Request.Method
	req.RequestContext.HTTP.Path = c.Request.URL.Path
	req.RequestContext.HTTP.SourceIP = c.ClientIP()
	req.RequestContext.HTTP.UserAgent = c.Request.UserAgent()
	return req, nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
