package types

// OCRResponse is returned by POST /api/v1/ocr.
type OCRResponse struct {
	// Normalized markdown text.
	// example: # Invoice\n\nTotal: 42.00
	Text string `json:"text" example:"# Invoice\n\nTotal: 42.00"`
	// Raw model output with annotations, present only when include_raw was set.
	Raw *string `json:"raw,omitempty"`
	// HTML rendering of Text, present only when render_html was set.
	HTML *string `json:"html,omitempty"`
	// Wall-clock processing time in seconds.
	// example: 1.84
	ProcessingTime float64 `json:"processing_time" example:"1.84"`
	// Prompt sent to the engine.
	// example: Recognize the text in <image>.
	PromptUsed string `json:"prompt_used" example:"Recognize the text in <image>."`
	// Identifier assigned to the generation.
	// example: request-1700000000000-1
	RequestID string `json:"request_id,omitempty" example:"request-1700000000000-1"`
	// True when the result was served from the deterministic result cache.
	// example: false
	Cached bool `json:"cached,omitempty" example:"false"`
	// Dimensions of the decoded input image.
	ImageWidth  int `json:"image_width,omitempty" example:"1240"`
	ImageHeight int `json:"image_height,omitempty" example:"1754"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// healthy or initializing.
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// Whether the engine is loaded.
	// example: true
	ModelLoaded bool `json:"model_loaded" example:"true"`
	// Human readable status.
	// example: Service is ready to process requests
	Message string `json:"message" example:"Service is ready to process requests"`
}

// ModelInfoResponse is returned by GET /models.
type ModelInfoResponse struct {
	// example: /models/deepseek-ai/DeepSeek-OCR
	ModelPath string `json:"model_path" example:"/models/deepseek-ai/DeepSeek-OCR"`
	// example: DeepseekOCRForCausalLM
	ModelType string `json:"model_type" example:"DeepseekOCRForCausalLM"`
	// example: 4096
	MaxTokens int `json:"max_tokens" example:"4096"`
	// example: 0.5
	GPUMemoryUtilization float64 `json:"gpu_memory_utilization" example:"0.5"`
	// Engine backend serving the model.
	// example: vllm
	Backend string `json:"backend,omitempty" example:"vllm"`
	// Architectures read from the model directory, when available.
	Architectures []string `json:"architectures,omitempty"`
}

// ServiceInfo is returned by GET /.
type ServiceInfo struct {
	// example: ocrd
	Service string `json:"service" example:"ocrd"`
	// example: 1.0.0
	Version string `json:"version" example:"1.0.0"`
	// example: running
	Status    string `json:"status" example:"running"`
	Docs      string `json:"docs" example:"/docs"`
	Health    string `json:"health" example:"/health"`
	ModelInfo string `json:"model_info" example:"/models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: File too large
	Error string `json:"error" example:"File too large"`
	// Optional structured details.
	Details map[string]any `json:"details,omitempty"`
	// HTTP status code.
	// example: 413
	StatusCode int `json:"status_code" example:"413"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Lifecycle state of the engine (absent, initializing, ready, draining).
	// example: ready
	State string `json:"state" example:"ready"`
	// example: vllm
	Backend string `json:"backend" example:"vllm"`
	// example: /models/deepseek-ai/DeepSeek-OCR
	Model string `json:"model" example:"/models/deepseek-ai/DeepSeek-OCR"`
	// Last initialization error, if any.
	LastError string `json:"last_error,omitempty"`
	// Seconds the last successful initialization took.
	// example: 93.4
	InitSeconds float64 `json:"init_seconds" example:"93.4"`
	// Generations currently holding the engine.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Generations waiting for admission.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// example: 4
	MaxInflight int `json:"max_inflight" example:"4"`
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// example: 120
	GenerationsTotal uint64 `json:"generations_total" example:"120"`
	// example: 2
	FailuresTotal uint64 `json:"failures_total" example:"2"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Most recent lifecycle events, oldest first.
	Events []string `json:"events,omitempty"`
}
