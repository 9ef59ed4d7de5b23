// Command benchmark measures the latency and throughput of a detector on this
// machine, using the same configuration as the functions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/nvr-ai/inference-lambda/benchmark"
	"github.com/nvr-ai/inference-lambda/config"
	"github.com/nvr-ai/inference-lambda/images"
	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/logger"
	"github.com/nvr-ai/inference-lambda/models"
	"github.com/nvr-ai/inference-lambda/models/model"
)

func main() {
	var (
		configFile  = flag.String("config", os.Getenv(config.EnvConfigFile), "Path to the YAML configuration file")
		modelName   = flag.String("model", string(model.ModelNameYOLOv4), "Model to benchmark: detr or yolov4")
		corpus      = flag.String("images", "", "Directory of test images; synthetic images are used when empty")
		outputDir   = flag.String("output", "./benchmark_results", "Output directory for results")
		format      = flag.String("format", string(images.FormatJPEG), "Synthetic image format: jpeg, png or webp")
		iterations  = flag.Int("iterations", 50, "Measured iterations per scenario")
		warmup      = flag.Int("warmup", 5, "Warmup iterations per scenario")
		concurrency = flag.Int("concurrency", 1, "Requests in flight")
		timeout     = flag.Duration("timeout", 30*time.Minute, "Benchmark timeout duration")
	)
	flag.Parse()

	cfg, err := config.Resolve(*configFile, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Log.Development = true
	log, err := logger.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	name := model.Name(*modelName)
	if err := cfg.RequireWeights(name); err != nil {
		log.Fatal("weights", zap.Error(err))
	}
	if err := inference.InitEnvironment(cfg.Runtime.LibraryPath, log); err != nil {
		log.Fatal("onnxruntime", zap.Error(err))
	}
	defer inference.DestroyEnvironment()

	detector, err := models.NewDetector(name, cfg.Models, models.SessionOpener(cfg.Provider, log), log)
	if err != nil {
		log.Fatal("load detector", zap.Error(err))
	}
	defer detector.Close()

	suite := benchmark.NewSuite(detector, *outputDir, log)
	if *corpus != "" {
		if err := suite.LoadCorpus(*corpus); err != nil {
			log.Fatal("load corpus", zap.Error(err))
		}
	}
	for _, res := range benchmark.CommonResolutions {
		suite.AddScenario(benchmark.NewScenarioBuilder(fmt.Sprintf("%s_%s", name, res.Name)).
			WithModel(name).
			WithResolution(res.Width, res.Height).
			WithImageFormat(images.ImageFormat(*format)).
			WithIterations(*iterations).
			WithWarmupRuns(*warmup).
			WithConcurrency(*concurrency).
			Build())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if err := suite.RunAllScenarios(ctx); err != nil {
		log.Error("benchmark", zap.Error(err))
	}
	paths, err := suite.SaveResults()
	if err != nil {
		log.Fatal("save results", zap.Error(err))
	}
	log.Info("results saved", zap.Strings("files", paths))
}
