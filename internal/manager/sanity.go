package manager

import (
	"os/exec"
	"path/filepath"
	"strings"

	"ocrd/internal/common/fsutil"
)

// SanityReport describes runtime checks for external dependencies.
type SanityReport struct {
	Backend     string `json:"backend"`
	BinaryFound bool   `json:"binary_found"`
	BinaryPath  string `json:"binary_path,omitempty"`
	ModelFound  bool   `json:"model_found"`
	ModelPath   string `json:"model_path,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SanityCheck validates that the runtime binary and a local model path are
// available for backends that need them. It does not mutate state and is
// safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	r := SanityReport{Backend: m.backend, BinaryFound: true, ModelFound: true}
	backend := strings.ToLower(m.backend)

	if backend == "vllm-spawn" {
		bin := m.args.Binary
		if bin == "" {
			bin = "vllm"
		}
		path, err := exec.LookPath(bin)
		if err != nil {
			r.BinaryFound = false
			r.BinaryPath = bin
			r.Error = "runtime binary not found: " + bin
			return r
		}
		r.BinaryPath = path
	}

	switch backend {
	case "vllm-spawn", "llama":
		if !isLocalPath(m.args.Model) {
			return r
		}
		p, err := fsutil.ExpandHome(m.args.Model)
		if err != nil {
			r.ModelFound = false
			r.Error = err.Error()
			return r
		}
		r.ModelPath = p
		if !fsutil.PathExists(p) {
			r.ModelFound = false
			r.Error = "model path does not exist: " + p
		}
	}
	return r
}

// isLocalPath distinguishes filesystem paths from hub identifiers such as
// deepseek-ai/DeepSeek-OCR.
func isLocalPath(p string) bool {
	return filepath.IsAbs(p) || strings.HasPrefix(p, "~") || strings.HasPrefix(p, ".")
}
