package app

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/inference-lambda/config"
	"github.com/nvr-ai/inference-lambda/fault"
	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/models"
	"github.com/nvr-ai/inference-lambda/models/model"
)

type stubRunner struct {
	closed atomic.Bool
}

func (s *stubRunner) Run(context.Context, ...inference.Tensor) ([]inference.Tensor, error) {
	return nil, errors.New("not implemented")
}

func (s *stubRunner) Close() error {
	s.closed.Store(true)
	return nil
}

func countingOpener(runner inference.Runner, err error) (models.Opener, *atomic.Int32) {
	var calls atomic.Int32
	return func(model.NewModelArgs) (inference.Runner, error) {
		calls.Add(1)
		if err != nil {
			return nil, err
		}
		return runner, nil
	}, &calls
}

func TestEagerLoadsBeforeServing(t *testing.T) {
	runner := &stubRunner{}
	open, calls := countingOpener(runner, nil)

	a, err := New(model.ModelNameYOLOv4, LoadEager, config.Default(), open, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, a.Loaded())
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, a.Close())
	assert.True(t, runner.closed.Load())
}

func TestEagerLoadFailureIsReturned(t *testing.T) {
	cause := fault.Errorf(fault.KindConfig, "inference.NewSession", "model not found")
	open, _ := countingOpener(nil, cause)

	_, err := New(model.ModelNameYOLOv4, LoadEager, config.Default(), open, zap.NewNop())
	assert.True(t, fault.Is(err, fault.KindConfig))
}

func TestLazyLoadsOnFirstRequest(t *testing.T) {
	open, calls := countingOpener(&stubRunner{}, nil)

	a, err := New(model.ModelNameDETR, LoadLazy, config.Default(), open, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, a.Loaded())
	assert.Equal(t, int32(0), calls.Load())
	require.NoError(t, a.Close(), "closing an unloaded app is a no-op")

	// A request that fails validation never loads the model.
	resp, err := a.Handler.Handle(context.Background(), events.APIGatewayV2HTTPRequest{})
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
	assert.False(t, a.Loaded())
}
