// Package registry inspects model directories on disk.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ocrd/internal/common/fsutil"
	"ocrd/internal/engine"
	"ocrd/pkg/types"
)

// weightExts are file suffixes counted towards WeightBytes.
var weightExts = []string{".safetensors", ".bin", ".gguf", ".pt", ".pth"}

// hfConfig is the subset of a HuggingFace config.json we read.
type hfConfig struct {
	Architectures []string `json:"architectures"`
	ModelType     string   `json:"model_type"`
	TorchDType    string   `json:"torch_dtype"`
}

// Inspect describes the model at path. path may be a HuggingFace style
// directory or a single weights file. A missing or unreadable config.json is
// not an error; the architecture falls back to the OCR default.
func Inspect(path string) (types.ModelDescriptor, error) {
	base, err := fsutil.ExpandHome(path)
	if err != nil {
		return types.ModelDescriptor{}, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return types.ModelDescriptor{}, fmt.Errorf("abs path: %w", err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return types.ModelDescriptor{}, fmt.Errorf("stat model: %w", err)
	}
	d := types.ModelDescriptor{Path: abs}
	if !fi.IsDir() {
		d.WeightBytes = fi.Size()
		d.Architectures = []string{engine.DefaultArchitecture}
		return d, nil
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return types.ModelDescriptor{}, fmt.Errorf("read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isWeightFile(e.Name()) {
			continue
		}
		if info, err := e.Info(); err == nil {
			d.WeightBytes += info.Size()
		}
	}

	cfg, err := readHFConfig(filepath.Join(abs, "config.json"))
	if err == nil {
		d.Architectures = cfg.Architectures
		d.ModelType = cfg.ModelType
		d.TorchDType = cfg.TorchDType
	} else if !errors.Is(err, os.ErrNotExist) {
		return d, fmt.Errorf("read config.json: %w", err)
	}
	if len(d.Architectures) == 0 {
		d.Architectures = []string{engine.DefaultArchitecture}
	}
	return d, nil
}

func readHFConfig(p string) (hfConfig, error) {
	var cfg hfConfig
	b, err := os.ReadFile(p)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func isWeightFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range weightExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
