// Package ocr ties image preprocessing, generation and output normalization
// into one request pipeline.
package ocr

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ocrd/internal/imageproc"
	"ocrd/internal/manager"
	"ocrd/internal/postprocess"
	"ocrd/pkg/types"
)

// Generator runs generations. *manager.Manager implements it.
type Generator interface {
	Ready() bool
	Generate(ctx context.Context, p manager.GenerateParams) (string, error)
}

// Config configures a Service.
type Config struct {
	Limits imageproc.Limits
	// DefaultTemperature decides whether requests without an explicit
	// temperature are deterministic and therefore cacheable.
	DefaultTemperature float64
	// CacheTTL of zero disables the result cache.
	CacheTTL      time.Duration
	CacheCapacity uint64
	Logger        *zerolog.Logger
}

// Service processes OCR uploads.
type Service struct {
	gen   Generator
	proc  *imageproc.Processor
	norm  *postprocess.Normalizer
	cache *resultCache
	temp  float64
	log   zerolog.Logger
}

// NewService builds a Service over gen.
func NewService(gen Generator, cfg Config) *Service {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "ocr").Logger()
	}
	s := &Service{
		gen:  gen,
		proc: imageproc.NewProcessor(cfg.Limits, log),
		norm: postprocess.NewNormalizer(log),
		temp: cfg.DefaultTemperature,
		log:  log,
	}
	if cfg.CacheTTL > 0 {
		s.cache = newResultCache(cfg.CacheTTL, cfg.CacheCapacity, log)
	}
	return s
}

// Ready reports whether the underlying engine accepts work.
func (s *Service) Ready() bool { return s.gen.Ready() }

// Limits returns the upload limits in effect.
func (s *Service) Limits() imageproc.Limits { return s.proc.Limits() }

// CacheStats returns result cache counters; ok is false when caching is off.
func (s *Service) CacheStats() (CacheStats, bool) {
	if s.cache == nil {
		return CacheStats{}, false
	}
	return s.cache.stats(), true
}

// Close releases the result cache.
func (s *Service) Close() {
	if s.cache != nil {
		s.cache.close()
	}
}

// Process runs one upload through preprocessing, generation and
// normalization.
func (s *Service) Process(ctx context.Context, data []byte, filename string, req Request) (types.OCRResponse, error) {
	start := time.Now()
	if !s.gen.Ready() {
		return types.OCRResponse{}, manager.ErrEngineNotReady
	}
	if err := req.Validate(); err != nil {
		return types.OCRResponse{}, err
	}
	pre, err := s.proc.Preprocess(data, filename, req.CropMode)
	if err != nil {
		return types.OCRResponse{}, err
	}

	params := manager.GenerateParams{
		Prompt:      req.Prompt(),
		Image:       pre.Features,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	raw, cached, err := s.generate(ctx, params)
	if err != nil {
		return types.OCRResponse{}, err
	}

	out := s.norm.Normalize(raw, postprocess.Options{
		PreserveImageRefs: req.SaveImageRefs,
		IncludeRaw:        req.IncludeRaw,
	})
	resp := types.OCRResponse{
		Text:        out.Text,
		Raw:         out.Raw,
		PromptUsed:  params.Prompt,
		Cached:      cached,
		ImageWidth:  pre.Info.Width,
		ImageHeight: pre.Info.Height,
	}
	if req.RenderHTML {
		html, err := postprocess.RenderHTML(out.Text)
		if err != nil {
			s.log.Warn().Err(err).Msg("html rendering failed; omitting html")
		} else {
			resp.HTML = &html
		}
	}
	resp.ProcessingTime = time.Since(start).Seconds()
	s.log.Info().
		Str("filename", filename).
		Str("type", string(req.Type)).
		Bool("cached", cached).
		Int("chars", len(resp.Text)).
		Float64("seconds", resp.ProcessingTime).
		Msg("ocr processed")
	return resp, nil
}

// generate consults the result cache for deterministic requests.
func (s *Service) generate(ctx context.Context, p manager.GenerateParams) (string, bool, error) {
	temp := s.temp
	if p.Temperature != nil {
		temp = *p.Temperature
	}
	if s.cache == nil || temp != 0 {
		text, err := s.gen.Generate(ctx, p)
		return text, false, err
	}
	return s.cache.do(ctx, cacheKey(p), func(ctx context.Context) (string, error) {
		return s.gen.Generate(ctx, p)
	})
}
