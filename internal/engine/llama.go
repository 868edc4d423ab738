//go:build llama

package engine

import (
	"context"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"ocrd/internal/sampling"
)

func init() {
	Register("llama", NewLlama)
}

// llamaEngine runs a GGUF model in-process. The binding keeps one token
// callback per model, so generations are serialized.
type llamaEngine struct {
	mu      sync.Mutex
	model   *llama.LLama
	threads int
	log     zerolog.Logger
}

// NewLlama loads args.Model with a context window of args.MaxModelLen.
func NewLlama(ctx context.Context, args Args, log zerolog.Logger) (Engine, error) {
	if strings.TrimSpace(args.Model) == "" {
		return nil, errors.New("llama: model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := []llama.ModelOption{llama.SetContext(args.MaxModelLen)}
	if args.GPUMemoryUtilization > 0 {
		opts = append(opts, llama.SetGPULayers(999))
	}
	m, err := llama.New(args.Model, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "llama: load model")
	}
	threads := args.Threads
	if threads <= 0 {
		threads = 4
	}
	return &llamaEngine{model: m, threads: threads, log: log.With().Str("engine", "llama").Logger()}, nil
}

func predictOptions(cfg sampling.Config, threads int) []llama.PredictOption {
	return []llama.PredictOption{
		llama.SetTokens(cfg.MaxTokens),
		llama.SetThreads(threads),
		llama.SetTemperature(float32(cfg.Temperature)),
		llama.SetPenalty(llama.DefaultOptions.Penalty),
		llama.SetRepeat(cfg.Repetition.WindowSize),
	}
}

func (e *llamaEngine) Generate(ctx context.Context, req Request, cfg sampling.Config) (Stream, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if req.Image != nil {
		return nil, errors.New("llama: image inputs are not supported by this backend")
	}
	return runStream(ctx, func(ctx context.Context, emit func(Output) error) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.model == nil {
			return errors.New("llama: model closed")
		}
		var text strings.Builder
		var emitErr error
		e.model.SetTokenCallback(func(tok string) bool {
			text.WriteString(tok)
			if emitErr = emit(Output{Text: text.String()}); emitErr != nil {
				return false
			}
			return true
		})
		if _, err := e.model.Predict(req.Prompt, predictOptions(cfg, e.threads)...); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "llama: predict")
		}
		if emitErr != nil {
			return emitErr
		}
		return emit(Output{Text: text.String(), FinishReason: "stop"})
	}), nil
}

func (e *llamaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}
