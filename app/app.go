// Package app - Bootstrap shared by the inference binaries.
package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/inference-lambda/config"
	"github.com/nvr-ai/inference-lambda/handler"
	"github.com/nvr-ai/inference-lambda/images"
	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/logger"
	"github.com/nvr-ai/inference-lambda/metrics"
	"github.com/nvr-ai/inference-lambda/models"
	"github.com/nvr-ai/inference-lambda/models/model"
	"github.com/nvr-ai/inference-lambda/server"
)

// LoadMode selects when the model is loaded.
type LoadMode int

const (
	// LoadLazy loads the model on the first request.
	LoadLazy LoadMode = iota
	// LoadEager loads the model before serving; a failure is fatal.
	LoadEager
)

// App is a bootstrapped function serving one model.
type App struct {
	Name     model.Name
	Config   config.Config
	Handler  *handler.Handler
	Metrics  *metrics.Metrics
	detector *inference.Lazy[model.Detector]
	log      *zap.Logger
}

// New wires the handler of the named model.
//
// With LoadEager the model is loaded before New returns. With LoadLazy it is
// loaded, exactly once, by the first request that needs it.
//
// Arguments:
//   - name: The model to serve.
//   - mode: When to load the model.
//   - cfg: The resolved configuration.
//   - open: Loads model weights into a runner.
//   - log: The logger.
//
// Returns:
//   - *App: The wired function.
//   - error: The load error in eager mode.
func New(name model.Name, mode LoadMode, cfg config.Config, open models.Opener, log *zap.Logger) (*App, error) {
	m := metrics.New()

	load := func(context.Context) (model.Detector, error) {
		start := time.Now()
		d, err := models.NewDetector(name, cfg.Models, open, log)
		m.ObserveLoad(string(name), err)
		if err != nil {
			return nil, err
		}
		log.Info("detector ready", zap.String("model", string(name)), zap.Duration("took", time.Since(start)))
		return d, nil
	}

	var detector *inference.Lazy[model.Detector]
	if mode == LoadEager {
		d, err := load(context.Background())
		if err != nil {
			return nil, err
		}
		detector = inference.Ready(d)
	} else {
		detector = inference.NewLazy(load)
	}

	return &App{
		Name:     name,
		Config:   cfg,
		Handler:  handler.New(name, detector, images.NewFetcher(cfg.Fetch, log), m, log),
		Metrics:  m,
		detector: detector,
		log:      log,
	}, nil
}

// Loaded reports whether the model has been loaded.
func (a *App) Loaded() bool {
	return a.detector.Loaded()
}

// Close releases the model if it was loaded.
func (a *App) Close() error {
	if !a.detector.Loaded() {
		return nil
	}
	d, err := a.detector.Get(context.Background())
	if err != nil {
		return err
	}
	return d.Close()
}

// Serve runs the local gateway on addr until ctx is done.
func (a *App) Serve(ctx context.Context, addr string) error {
	a.Metrics.StartSampler(ctx, 5*time.Second, a.log)
	srv := server.New(map[model.Name]server.LambdaHandler{a.Name: a.Handler}, a.Metrics, a.log)
	return srv.Run(ctx, addr, a.Config.Server.ShutdownTimeout)
}

// Main is the entry point of a binary serving one model. It never returns
// when running inside Lambda.
//
// Flags:
//
//	-config  YAML configuration file (default $INFERENCE_CONFIG)
//	-serve   run the local gateway on this address instead of the Lambda runtime
func Main(name model.Name, mode LoadMode) {
	var configPath, serve string
	flag.StringVar(&configPath, "config", os.Getenv(config.EnvConfigFile), "Path to the YAML configuration file")
	flag.StringVar(&serve, "serve", "", "Serve the local gateway on this address (e.g. :8080) instead of running as a Lambda function")
	flag.Parse()

	cfg, err := config.Resolve(configPath, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(name, mode, cfg, serve, log); err != nil {
		log.Fatal("function stopped", zap.String("model", string(name)), zap.Error(err))
	}
}

func run(name model.Name, mode LoadMode, cfg config.Config, serve string, log *zap.Logger) error {
	if mode == LoadEager {
		if err := cfg.RequireWeights(name); err != nil {
			return err
		}
	}
	if err := inference.InitEnvironment(cfg.Runtime.LibraryPath, log); err != nil {
		return err
	}
	defer func() {
		if err := inference.DestroyEnvironment(); err != nil {
			log.Warn("destroy onnxruntime environment", zap.Error(err))
		}
	}()

	a, err := New(name, mode, cfg, models.SessionOpener(cfg.Provider, log), log)
	if err != nil {
		return errors.Wrapf(err, "load %s", name)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close detector", zap.Error(err))
		}
	}()

	if serve == "" {
		log.Info("starting lambda runtime", zap.String("model", string(name)))
		lambda.Start(a.Handler.Handle)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx, serve)
}
