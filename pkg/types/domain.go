package types

// ModelDescriptor describes a model directory on disk as read from its
// config.json.
type ModelDescriptor struct {
	// Absolute path to the model directory.
	// example: /models/deepseek-ai/DeepSeek-OCR
	Path string `json:"path" example:"/models/deepseek-ai/DeepSeek-OCR"`
	// Architectures declared by the model.
	Architectures []string `json:"architectures,omitempty"`
	// Model type string, e.g. deepseek_vl_v2.
	// example: deepseek_vl_v2
	ModelType string `json:"model_type,omitempty" example:"deepseek_vl_v2"`
	// Torch dtype declared by the model.
	// example: bfloat16
	TorchDType string `json:"torch_dtype,omitempty" example:"bfloat16"`
	// Size of the weight files in bytes.
	// example: 6672547120
	WeightBytes int64 `json:"weight_bytes,omitempty" example:"6672547120"`
}
