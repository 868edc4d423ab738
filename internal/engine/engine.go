// Package engine is the boundary to the model runtime. An Engine accepts one
// generation request at a time per call and returns a Stream of cumulative
// output snapshots; backends differ only in how they reach the model.
//
// Backends register themselves by name:
//
//   - vllm: a running vLLM OpenAI-compatible server (vllm.go).
//   - vllm-spawn: starts `vllm serve` as a child process, then behaves as vllm (vllm_spawn.go).
//   - openai: any OpenAI-compatible chat server through go-openai (openai.go).
//   - llama: in-process go-llama.cpp, text only. Requires `-tags=llama`.
//   - tesseract: classic OCR through gosseract. Requires `-tags=tesseract`.
//
// Without the build tag the llama and tesseract factories return ErrBackendNotBuilt.
package engine

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"ocrd/internal/sampling"
)

// ImagePlaceholder marks where the image is spliced into a prompt.
const ImagePlaceholder = "<image>"

// DefaultArchitecture is the model class registered through hf overrides.
const DefaultArchitecture = "DeepseekOCRForCausalLM"

// ErrBackendNotBuilt is returned by factories whose runtime was compiled out.
var ErrBackendNotBuilt = errors.New("engine backend not built into this binary")

// ImageFeatures is a preprocessed image ready to be attached to a request.
type ImageFeatures struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	// Crop asks the runtime to tile the image instead of using only the
	// downscaled global view.
	Crop bool
}

// Request is a single generation request.
type Request struct {
	ID     string
	Prompt string
	Image  *ImageFeatures
}

// Output is a cumulative snapshot: Text holds everything generated so far.
type Output struct {
	Text         string
	FinishReason string
}

// Stream yields cumulative snapshots. Next returns io.EOF after the last one.
type Stream interface {
	Next(ctx context.Context) (Output, error)
	Close() error
}

// Engine is a loaded model runtime. Generate may be called concurrently.
type Engine interface {
	Generate(ctx context.Context, req Request, cfg sampling.Config) (Stream, error)
	Close() error
}

// Args are the construction parameters shared by all backends. Fields that a
// backend does not understand are ignored by it.
type Args struct {
	Model                string
	ServedModelName      string
	MaxModelLen          int
	BlockSize            int
	TensorParallelSize   int
	GPUMemoryUtilization float64
	TrustRemoteCode      bool
	EnforceEager         bool
	Architectures        []string
	SkipSpecialTokens    bool

	BaseURL        string
	APIKey         string
	Binary         string
	Host           string
	PortStart      int
	PortEnd        int
	ExtraArgs      []string
	Env            []string
	Threads        int
	StartupTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultArgs returns the stock engine arguments for the OCR model.
func DefaultArgs() Args {
	return Args{
		Model:                "/models/deepseek-ai/DeepSeek-OCR",
		MaxModelLen:          4096,
		BlockSize:            256,
		TensorParallelSize:   1,
		GPUMemoryUtilization: 0.5,
		TrustRemoteCode:      true,
		Architectures:        []string{DefaultArchitecture},
		Binary:               "vllm",
		Host:                 "127.0.0.1",
		StartupTimeout:       10 * time.Minute,
	}
}

// HFOverrides renders the architecture override passed to the runtime.
func (a Args) HFOverrides() string {
	archs := a.Architectures
	if len(archs) == 0 {
		archs = []string{DefaultArchitecture}
	}
	b, _ := json.Marshal(map[string]any{"architectures": archs})
	return string(b)
}

// modelName is the identifier sent on the wire.
func (a Args) modelName() string {
	if a.ServedModelName != "" {
		return a.ServedModelName
	}
	return a.Model
}

// Factory constructs an Engine. It may block until the model is loaded.
type Factory func(ctx context.Context, args Args, log zerolog.Logger) (Engine, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under name. Registering a name twice
// replaces the earlier factory.
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[strings.ToLower(name)] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[strings.ToLower(name)]
	return f, ok
}

// Names lists registered backends in sorted order.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// textOnly lists backends that reject image features.
var textOnly = map[string]bool{"llama": true}

// AcceptsImages reports whether the named backend can take image features.
// Uploads through the OCR route always carry an image.
func AcceptsImages(name string) bool { return !textOnly[strings.ToLower(name)] }

// New constructs the named backend.
func New(ctx context.Context, name string, args Args, log zerolog.Logger) (Engine, error) {
	f, ok := Lookup(name)
	if !ok {
		return nil, errors.Errorf("unknown engine backend %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(ctx, args, log)
}

// ValidateRequest checks the prompt/image pairing every backend relies on.
func ValidateRequest(req Request) error {
	if req.Image != nil {
		if len(req.Image.Data) == 0 {
			return errors.New("image features are empty")
		}
		if !strings.Contains(req.Prompt, ImagePlaceholder) {
			return errors.Errorf("prompt must contain %s when an image is attached", ImagePlaceholder)
		}
		return nil
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return errors.New("prompt cannot be empty")
	}
	return nil
}

// promptSegment is one piece of a prompt split around image placeholders.
type promptSegment struct {
	Text  string
	Image bool
}

// splitPrompt splits prompt around the first image placeholder so the image
// part lands where the placeholder was. Later placeholders stay as text.
func splitPrompt(prompt string, hasImage bool) []promptSegment {
	if !hasImage {
		return []promptSegment{{Text: prompt}}
	}
	before, after, found := strings.Cut(prompt, ImagePlaceholder)
	if !found {
		return []promptSegment{{Text: prompt}}
	}
	var segs []promptSegment
	if before != "" {
		segs = append(segs, promptSegment{Text: before})
	}
	segs = append(segs, promptSegment{Image: true})
	if after != "" {
		segs = append(segs, promptSegment{Text: after})
	}
	return segs
}

// pipeStream adapts callback-style producers to Stream.
type pipeStream struct {
	ch     chan Output
	done   chan struct{}
	err    error
	cancel context.CancelFunc
	once   sync.Once
}

// runStream starts produce in a goroutine. produce calls emit with each
// cumulative snapshot; emit fails once the stream is closed.
func runStream(ctx context.Context, produce func(ctx context.Context, emit func(Output) error) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &pipeStream{ch: make(chan Output), done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(s.done)
		defer close(s.ch)
		s.err = produce(ctx, func(o Output) error {
			select {
			case s.ch <- o:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return s
}

func (s *pipeStream) Next(ctx context.Context) (Output, error) {
	select {
	case o, ok := <-s.ch:
		if ok {
			return o, nil
		}
		<-s.done
		if s.err != nil {
			return Output{}, s.err
		}
		return Output{}, io.EOF
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
}

func (s *pipeStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		for range s.ch {
		}
		<-s.done
	})
	return nil
}
