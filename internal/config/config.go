// Package config holds the service configuration and its defaults.
package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ocrd/internal/common/fsutil"
	"ocrd/internal/engine"
	"ocrd/internal/imageproc"
	"ocrd/internal/sampling"
)

// Config holds runtime parameters for the service.
type Config struct {
	Engine   EngineConfig   `json:"engine" yaml:"engine" toml:"engine"`
	Sampling SamplingConfig `json:"sampling" yaml:"sampling" toml:"sampling"`
	Server   ServerConfig   `json:"server" yaml:"server" toml:"server"`
	Upload   UploadConfig   `json:"upload" yaml:"upload" toml:"upload"`
	Queue    QueueConfig    `json:"queue" yaml:"queue" toml:"queue"`
	Cache    CacheConfig    `json:"cache" yaml:"cache" toml:"cache"`
	Log      LogConfig      `json:"log" yaml:"log" toml:"log"`
}

// EngineConfig selects the backend and the model runtime parameters.
type EngineConfig struct {
	Backend              string   `json:"backend" yaml:"backend" toml:"backend"`
	ModelPath            string   `json:"model_path" yaml:"model_path" toml:"model_path"`
	ServedModelName      string   `json:"served_model_name" yaml:"served_model_name" toml:"served_model_name"`
	TensorParallelSize   int      `json:"tensor_parallel_size" yaml:"tensor_parallel_size" toml:"tensor_parallel_size"`
	GPUMemoryUtilization float64  `json:"gpu_memory_utilization" yaml:"gpu_memory_utilization" toml:"gpu_memory_utilization"`
	MaxModelLen          int      `json:"max_model_len" yaml:"max_model_len" toml:"max_model_len"`
	BlockSize            int      `json:"block_size" yaml:"block_size" toml:"block_size"`
	TrustRemoteCode      bool     `json:"trust_remote_code" yaml:"trust_remote_code" toml:"trust_remote_code"`
	EnforceEager         bool     `json:"enforce_eager" yaml:"enforce_eager" toml:"enforce_eager"`
	CUDAVisibleDevices   string   `json:"cuda_visible_devices" yaml:"cuda_visible_devices" toml:"cuda_visible_devices"`
	BaseURL              string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey               string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	Binary               string   `json:"binary" yaml:"binary" toml:"binary"`
	Host                 string   `json:"host" yaml:"host" toml:"host"`
	PortStart            int      `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd              int      `json:"port_end" yaml:"port_end" toml:"port_end"`
	ExtraArgs            []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
	Threads              int      `json:"threads" yaml:"threads" toml:"threads"`
	StartupTimeoutSec    int      `json:"startup_timeout_seconds" yaml:"startup_timeout_seconds" toml:"startup_timeout_seconds"`
	RequestTimeoutSec    int      `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
}

// SamplingConfig holds the per-process sampling defaults.
type SamplingConfig struct {
	Temperature       float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	MaxTokens         int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	MaxTokensCeiling  int     `json:"max_tokens_ceiling" yaml:"max_tokens_ceiling" toml:"max_tokens_ceiling"`
	NGramSize         int     `json:"ngram_size" yaml:"ngram_size" toml:"ngram_size"`
	WindowSize        int     `json:"window_size" yaml:"window_size" toml:"window_size"`
	WhitelistTokenIDs []int   `json:"whitelist_token_ids" yaml:"whitelist_token_ids" toml:"whitelist_token_ids"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host               string   `json:"host" yaml:"host" toml:"host"`
	Port               int      `json:"port" yaml:"port" toml:"port"`
	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins        []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	RequestTimeoutSec  int      `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	ShutdownTimeoutSec int      `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
}

// UploadConfig bounds accepted uploads.
type UploadConfig struct {
	MaxFileSize       int64    `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
	AllowedExtensions []string `json:"allowed_extensions" yaml:"allowed_extensions" toml:"allowed_extensions"`
}

// QueueConfig bounds concurrent generations.
type QueueConfig struct {
	MaxInflight     int `json:"max_inflight" yaml:"max_inflight" toml:"max_inflight"`
	MaxQueueDepth   int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSec      int `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
	DrainTimeoutSec int `json:"drain_timeout_seconds" yaml:"drain_timeout_seconds" toml:"drain_timeout_seconds"`
}

// CacheConfig configures the deterministic result cache. TTLSec 0 disables it.
type CacheConfig struct {
	TTLSec   int    `json:"ttl_seconds" yaml:"ttl_seconds" toml:"ttl_seconds"`
	Capacity uint64 `json:"capacity" yaml:"capacity" toml:"capacity"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Default returns the stock configuration.
func Default() Config {
	args := engine.DefaultArgs()
	sd := sampling.Default()
	return Config{
		Engine: EngineConfig{
			Backend:              "vllm-spawn",
			ModelPath:            args.Model,
			TensorParallelSize:   args.TensorParallelSize,
			GPUMemoryUtilization: args.GPUMemoryUtilization,
			MaxModelLen:          args.MaxModelLen,
			BlockSize:            args.BlockSize,
			TrustRemoteCode:      args.TrustRemoteCode,
			Binary:               args.Binary,
			Host:                 args.Host,
			StartupTimeoutSec:    int(args.StartupTimeout / time.Second),
		},
		Sampling: SamplingConfig{
			Temperature:       sd.Temperature,
			MaxTokens:         sd.MaxTokens,
			MaxTokensCeiling:  sd.MaxTokensCeiling,
			NGramSize:         sd.Repetition.NGramSize,
			WindowSize:        sd.Repetition.WindowSize,
			WhitelistTokenIDs: append([]int(nil), sd.Repetition.WhitelistTokenIDs...),
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			CORSOrigins:        []string{"*"},
			ShutdownTimeoutSec: 30,
		},
		Upload: UploadConfig{
			MaxFileSize:       imageproc.DefaultMaxFileSize,
			AllowedExtensions: append([]string(nil), imageproc.DefaultExtensions...),
		},
		Queue: QueueConfig{
			MaxInflight:     4,
			MaxQueueDepth:   32,
			MaxWaitSec:      30,
			DrainTimeoutSec: 30,
		},
		Cache: CacheConfig{TTLSec: 600, Capacity: 1024},
		Log:   LogConfig{Level: "info", Format: "json"},
	}
}

// Addr returns host:port for the HTTP listener.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// EngineArgs converts the engine section into engine.Args.
func (c Config) EngineArgs() engine.Args {
	e := c.Engine
	return engine.Args{
		Model:                e.ModelPath,
		ServedModelName:      e.ServedModelName,
		MaxModelLen:          e.MaxModelLen,
		BlockSize:            e.BlockSize,
		TensorParallelSize:   e.TensorParallelSize,
		GPUMemoryUtilization: e.GPUMemoryUtilization,
		TrustRemoteCode:      e.TrustRemoteCode,
		EnforceEager:         e.EnforceEager,
		Architectures:        []string{engine.DefaultArchitecture},
		BaseURL:              e.BaseURL,
		APIKey:               e.APIKey,
		Binary:               e.Binary,
		Host:                 e.Host,
		PortStart:            e.PortStart,
		PortEnd:              e.PortEnd,
		ExtraArgs:            append([]string(nil), e.ExtraArgs...),
		Threads:              e.Threads,
		StartupTimeout:       seconds(e.StartupTimeoutSec),
		RequestTimeout:       seconds(e.RequestTimeoutSec),
	}
}

// SamplingDefaults converts the sampling section into sampling.Defaults.
func (c Config) SamplingDefaults() sampling.Defaults {
	s := c.Sampling
	return sampling.Defaults{
		Temperature:      s.Temperature,
		MaxTokens:        s.MaxTokens,
		MaxTokensCeiling: s.MaxTokensCeiling,
		Repetition: sampling.RepetitionController{
			NGramSize:         s.NGramSize,
			WindowSize:        s.WindowSize,
			WhitelistTokenIDs: append([]int(nil), s.WhitelistTokenIDs...),
		},
	}
}

// UploadLimits converts the upload section into imageproc.Limits.
func (c Config) UploadLimits() imageproc.Limits {
	return imageproc.Limits{
		MaxFileSize:       c.Upload.MaxFileSize,
		AllowedExtensions: append([]string(nil), c.Upload.AllowedExtensions...),
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// MaxWait, DrainTimeout, CacheTTL, RequestTimeout and ShutdownTimeout expose
// the second-valued fields as durations.
func (c Config) MaxWait() time.Duration         { return seconds(c.Queue.MaxWaitSec) }
func (c Config) DrainTimeout() time.Duration    { return seconds(c.Queue.DrainTimeoutSec) }
func (c Config) CacheTTL() time.Duration        { return seconds(c.Cache.TTLSec) }
func (c Config) RequestTimeout() time.Duration  { return seconds(c.Server.RequestTimeoutSec) }
func (c Config) ShutdownTimeout() time.Duration { return seconds(c.Server.ShutdownTimeoutSec) }

// localBackends load the model from the local filesystem.
var localBackends = map[string]bool{"vllm-spawn": true, "llama": true}

// Validate checks ranges and cross-field constraints. All problems are
// reported together.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	e := c.Engine
	backend := strings.ToLower(e.Backend)
	if _, ok := engine.Lookup(backend); !ok {
		add("engine.backend: unknown backend %q (known: %s)", e.Backend, strings.Join(engine.Names(), ", "))
	}
	if strings.TrimSpace(e.ModelPath) == "" {
		add("engine.model_path: required")
	} else if localBackends[backend] && isLocalPath(e.ModelPath) {
		p, err := fsutil.ExpandHome(e.ModelPath)
		if err != nil {
			add("engine.model_path: %v", err)
		} else if !fsutil.PathExists(p) {
			add("engine.model_path: %s does not exist", p)
		}
	}
	if (backend == "vllm" || backend == "openai") && e.BaseURL == "" {
		add("engine.base_url: required for backend %s", backend)
	}
	if e.TensorParallelSize < 1 {
		add("engine.tensor_parallel_size: must be >= 1, got %d", e.TensorParallelSize)
	}
	if math.IsNaN(e.GPUMemoryUtilization) || e.GPUMemoryUtilization <= 0 || e.GPUMemoryUtilization > 1 {
		add("engine.gpu_memory_utilization: must be in (0, 1], got %v", e.GPUMemoryUtilization)
	}
	if e.MaxModelLen < 1 {
		add("engine.max_model_len: must be >= 1, got %d", e.MaxModelLen)
	}
	if e.BlockSize < 0 {
		add("engine.block_size: must be >= 0, got %d", e.BlockSize)
	}
	if e.PortStart > 0 && e.PortEnd > 0 && e.PortEnd < e.PortStart {
		add("engine.port_end: %d is below port_start %d", e.PortEnd, e.PortStart)
	}

	// Resolving the defaults with no overrides applies the same range checks
	// requests are subject to.
	if _, err := sampling.Resolve(sampling.Overrides{}, c.SamplingDefaults()); err != nil {
		add("sampling: %v", err)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port: must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Upload.MaxFileSize <= 0 {
		add("upload.max_file_size: must be > 0, got %d", c.Upload.MaxFileSize)
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		add("upload.allowed_extensions: at least one extension required")
	}
	if c.Queue.MaxInflight < 0 || c.Queue.MaxQueueDepth < 0 || c.Queue.MaxWaitSec < 0 || c.Queue.DrainTimeoutSec < 0 {
		add("queue: values must be >= 0")
	}
	if c.Cache.TTLSec < 0 {
		add("cache.ttl_seconds: must be >= 0, got %d", c.Cache.TTLSec)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		add("log.format: must be json or console, got %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

func isLocalPath(p string) bool {
	return filepath.IsAbs(p) || strings.HasPrefix(p, "~") || strings.HasPrefix(p, ".")
}
