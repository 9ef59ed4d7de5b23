// Package config - Runtime configuration of the inference functions.
//
// Configuration is resolved in three layers, later layers winning:
//  1. Defaults from Default.
//  2. An optional YAML file named by INFERENCE_CONFIG.
//  3. Environment variables (see ApplyEnv).
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/inference-lambda/fault"
	"github.com/nvr-ai/inference-lambda/images"
	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/inference/providers"
	"github.com/nvr-ai/inference-lambda/logger"
	"github.com/nvr-ai/inference-lambda/models"
	"github.com/nvr-ai/inference-lambda/models/model"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfigFile = "INFERENCE_CONFIG"
	EnvYOLO       = "YOLO_WEIGHTS"
	// EnvYOLOLegacy is honoured when EnvYOLO is unset.
	EnvYOLOLegacy = "TF_WEIGHTS"
	EnvDETR       = "DETR_WEIGHTS"
	EnvLibrary    = "ONNXRUNTIME_LIB"
	EnvLogLevel   = "LOG_LEVEL"
	EnvProvider   = "EXECUTION_PROVIDER"
	EnvFetch      = "FETCH_TIMEOUT"
)

// Config is the complete runtime configuration.
type Config struct {
	// Log configures the process logger.
	Log logger.Options `json:"log" yaml:"log"`
	// Runtime locates the ONNX Runtime shared library.
	Runtime Runtime `json:"runtime" yaml:"runtime"`
	// Provider selects the execution provider of every session.
	Provider providers.Config `json:"provider" yaml:"provider"`
	// Fetch controls image downloads.
	Fetch images.FetchConfig `json:"fetch" yaml:"fetch"`
	// Models configures every model pipeline.
	Models models.Config `json:"models" yaml:"models"`
	// Server configures the local gateway emulator.
	Server Server `json:"server" yaml:"server"`
}

// Runtime locates the ONNX Runtime shared library.
type Runtime struct {
	// LibraryPath is the shared library. Empty selects the platform default.
	LibraryPath string `json:"library_path" yaml:"library_path"`
}

// Server configures the local gateway emulator.
type Server struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `json:"addr" yaml:"addr"`
	// ShutdownTimeout bounds the graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
}

// Default returns the built-in configuration. Model weight paths are empty.
func Default() Config {
	return Config{
		Log:      logger.Options{Level: "info"},
		Runtime:  Runtime{LibraryPath: inference.DefaultLibraryPath()},
		Provider: providers.DefaultConfig(),
		Fetch:    images.DefaultFetchConfig(),
		Models:   models.DefaultConfig(),
		Server:   Server{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
	}
}

// LookupFunc reads an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load resolves the configuration from the process environment.
//
// Returns:
//   - Config: The resolved and validated configuration.
//   - error: A config error.
func Load() (Config, error) {
	return Resolve(os.Getenv(EnvConfigFile), os.LookupEnv)
}

// Resolve layers the YAML file at path (if any) and the environment seen
// through lookup over the defaults, then validates the result.
//
// Arguments:
//   - path: The YAML file. Empty skips the file layer.
//   - lookup: Reads environment variables.
//
// Returns:
//   - Config: The resolved and validated configuration.
//   - error: A config error.
func Resolve(path string, lookup LookupFunc) (Config, error) {
	const op = "config.Resolve"

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fault.New(fault.KindConfig, op, errors.Wrap(err, "read config file"))
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fault.New(fault.KindConfig, op, errors.Wrapf(err, "parse %s", path))
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment:
//
//	YOLO_WEIGHTS        models.yolov4.path (TF_WEIGHTS when unset)
//	DETR_WEIGHTS        models.detr.path
//	ONNXRUNTIME_LIB     runtime.library_path
//	LOG_LEVEL           log.level
//	EXECUTION_PROVIDER  provider.backend
//	FETCH_TIMEOUT       fetch.timeout, a Go duration such as "5s"
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	const op = "config.ApplyEnv"
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvYOLO); ok {
		c.Models.YOLOv4.Path = v
	} else if v, ok := get(EnvYOLOLegacy); ok {
		c.Models.YOLOv4.Path = v
	}
	if v, ok := get(EnvDETR); ok {
		c.Models.DETR.Path = v
	}
	if v, ok := get(EnvLibrary); ok {
		c.Runtime.LibraryPath = v
	}
	if v, ok := get(EnvLogLevel); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := get(EnvProvider); ok {
		c.Provider.Backend = providers.ProviderBackend(strings.ToLower(v))
	}
	if v, ok := get(EnvFetch); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fault.New(fault.KindConfig, op, errors.Wrapf(err, "%s", EnvFetch))
		}
		c.Fetch.Timeout = d
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the consistency of every section.
// Model weight paths are not required here; see RequireWeights.
func (c Config) Validate() error {
	const op = "config.Validate"

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Namespace()+" failed "+fe.Tag())
			}
			return fault.Errorf(fault.KindConfig, op, "invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fault.New(fault.KindConfig, op, err)
	}
	if err := c.Provider.Validate(); err != nil {
		return fault.New(fault.KindConfig, op, err)
	}
	if err := c.Models.DETR.Validate(); err != nil {
		return fault.New(fault.KindConfig, op, err)
	}
	if err := c.Models.YOLOv4.Validate(); err != nil {
		return fault.New(fault.KindConfig, op, err)
	}
	return nil
}

// RequireWeights checks that the weights of the named model are configured and
// readable.
//
// Arguments:
//   - name: The model whose weights are required.
//
// Returns:
//   - error: A config error naming the environment variable to set.
func (c Config) RequireWeights(name model.Name) error {
	const op = "config.RequireWeights"

	var path, env string
	switch name {
	case model.ModelNameYOLOv4:
		path, env = c.Models.YOLOv4.Path, EnvYOLO
	case model.ModelNameDETR:
		path, env = c.Models.DETR.Path, EnvDETR
	default:
		return fault.Errorf(fault.KindConfig, op, "unsupported model name: %s", name)
	}

	if path == "" {
		return fault.Errorf(fault.KindConfig, op, "%s weights are not configured, set %s", name, env)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fault.New(fault.KindConfig, op, errors.Wrapf(err, "%s weights", name))
	}
	if info.IsDir() {
		return fault.Errorf(fault.KindConfig, op, "%s weights at %s is a directory", name, path)
	}
	return nil
}
