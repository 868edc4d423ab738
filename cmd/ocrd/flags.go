package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ocrd/internal/config"
)

// setting is one overridable configuration key. key doubles as the viper
// key; the env name is OCRD_ plus the upper-cased key with dots replaced.
type setting struct {
	key    string
	flag   string
	usage  string
	legacy string // unprefixed env name accepted for compatibility
	define func(cmd *cobra.Command, s setting)
	apply  func(v *viper.Viper, c *config.Config, key string)
}

func stringFlag(cmd *cobra.Command, s setting) { cmd.Flags().String(s.flag, "", s.usage) }
func intFlag(cmd *cobra.Command, s setting)    { cmd.Flags().Int(s.flag, 0, s.usage) }
func floatFlag(cmd *cobra.Command, s setting)  { cmd.Flags().Float64(s.flag, 0, s.usage) }
func boolFlag(cmd *cobra.Command, s setting)   { cmd.Flags().Bool(s.flag, false, s.usage) }

var settings = []setting{
	{key: "engine.backend", flag: "backend", usage: "engine backend (vllm-spawn, vllm, openai, llama, tesseract)", define: stringFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Engine.Backend = v.GetString(k) }},
	{key: "engine.model_path", flag: "model-path", usage: "model directory or weights file", legacy: "MODEL_PATH", define: stringFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Engine.ModelPath = v.GetString(k) }},
	{key: "engine.served_model_name", flag: "served-model-name", usage: "model name sent to remote backends", define: stringFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Engine.ServedModelName = v.GetString(k) }},
	{key: "engine.base_url", flag: "base-url", usage: "base URL of a remote engine", define: stringFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Engine.BaseURL = v.GetString(k) }},
	{key: "engine.api_key",
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Engine.APIKey = v.GetString(k) }},
	{key: "engine.binary", flag: "engine-binary", usage: "runtime binary for vllm-spawn", define: stringFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Engine.Binary = v.GetString(k) }},
	{key: "engine.tensor_parallel_size", flag: "tensor-parallel-size", usage: "number of GPUs for tensor parallelism", legacy: "TENSOR_PARALLEL_SIZE", define: intFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Engine.TensorParallelSize = v.GetInt(k) }},
	{key: "engine.gpu_memory_utilization", flag: "gpu-memory-utilization", usage: "fraction of GPU memory to use (0,1]", legacy: "GPU_MEMORY_UTILIZATION", define: floatFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Engine.GPUMemoryUtilization = v.GetFloat64(k) }},
	{key: "engine.max_model_len", flag: "max-model-len", usage: "maximum sequence length", legacy: "MAX_MODEL_LEN", define: intFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Engine.MaxModelLen = v.GetInt(k) }},
	{key: "engine.trust_remote_code", flag: "trust-remote-code", usage: "trust remote code in the model repository", legacy: "TRUST_REMOTE_CODE", define: boolFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Engine.TrustRemoteCode = v.GetBool(k) }},
	{key: "engine.cuda_visible_devices", flag: "cuda-visible-devices", usage: "CUDA_VISIBLE_DEVICES for the engine", define: stringFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Engine.CUDAVisibleDevices = v.GetString(k) }},
	{key: "engine.extra_args", flag: "engine-extra-args", usage: "comma-separated extra runtime arguments", define: stringFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Engine.ExtraArgs = splitCSV(v.GetString(k)) }},
	{key: "sampling.temperature", flag: "temperature", usage: "default sampling temperature", legacy: "TEMPERATURE", define: floatFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Sampling.Temperature = v.GetFloat64(k) }},
	{key: "sampling.max_tokens", flag: "max-tokens", usage: "default token limit", legacy: "MAX_TOKENS", define: intFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Sampling.MaxTokens = v.GetInt(k) }},
	{key: "sampling.ngram_size", legacy: "NGRAM_SIZE",
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Sampling.NGramSize = v.GetInt(k) }},
	{key: "sampling.window_size", legacy: "WINDOW_SIZE",
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Sampling.WindowSize = v.GetInt(k) }},
	{key: "server.host", flag: "host", usage: "HTTP listen host", legacy: "API_HOST", define: stringFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Server.Host = v.GetString(k) }},
	{key: "server.port", flag: "port", usage: "HTTP listen port", legacy: "API_PORT", define: intFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Server.Port = v.GetInt(k) }},
	{key: "server.cors_enabled", flag: "cors", usage: "enable CORS", define: boolFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Server.CORSEnabled = v.GetBool(k) }},
	{key: "server.cors_origins", flag: "cors-origins", usage: "comma-separated allowed origins", define: stringFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Server.CORSOrigins = splitCSV(v.GetString(k)) }},
	{key: "server.request_timeout_seconds", flag: "request-timeout", usage: "OCR request timeout in seconds (0 disables)", define: intFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Server.RequestTimeoutSec = v.GetInt(k) }},
	{key: "upload.max_file_size", flag: "max-file-size", usage: "maximum upload size in bytes", legacy: "MAX_FILE_SIZE", define: intFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Upload.MaxFileSize = v.GetInt64(k) }},
	{key: "queue.max_inflight", flag: "max-inflight", usage: "concurrent generations", define: intFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Queue.MaxInflight = v.GetInt(k) }},
	{key: "queue.max_queue_depth", flag: "max-queue-depth", usage: "generations allowed to wait", define: intFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Queue.MaxQueueDepth = v.GetInt(k) }},
	{key: "cache.ttl_seconds", flag: "cache-ttl", usage: "result cache TTL in seconds (0 disables)", define: intFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Cache.TTLSec = v.GetInt(k) }},
	{key: "log.level", flag: "log-level", usage: "log level (debug, info, warn, error, off)", legacy: "LOG_LEVEL", define: stringFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Log.Level = v.GetString(k) }},
	{key: "log.format", flag: "log-format", usage: "log format (json, console)", define: stringFlag,
		apply: func(v *viper.Viper, c *config.Config, k string) { c.Log.Format = v.GetString(k) }},
}

// defineFlags registers the override flags on cmd.
func defineFlags(cmd *cobra.Command) {
	for _, s := range settings {
		if s.flag != "" && s.define != nil {
			s.define(cmd, s)
		}
	}
}

// newViper binds env and the flags of cmd. Only flags the user changed count
// as set.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("OCRD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, s := range settings {
		env := "OCRD_" + strings.ToUpper(strings.ReplaceAll(s.key, ".", "_"))
		names := []string{s.key, env}
		if s.legacy != "" {
			names = append(names, s.legacy)
		}
		if err := v.BindEnv(names...); err != nil {
			return nil, err
		}
		if s.flag == "" {
			continue
		}
		if f := cmd.Flags().Lookup(s.flag); f != nil {
			if err := v.BindPFlag(s.key, f); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

// resolveConfig layers defaults, the config file, env and flags.
func resolveConfig(cmd *cobra.Command, path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	v, err := newViper(cmd)
	if err != nil {
		return cfg, err
	}
	for _, s := range settings {
		if v.IsSet(s.key) {
			s.apply(v, &cfg, s.key)
		}
	}
	return cfg, nil
}

// splitCSV splits a comma-separated string and trims spaces; empty items are skipped.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
