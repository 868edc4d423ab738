//go:build tesseract

package engine

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"ocrd/internal/sampling"
)

func init() {
	Register("tesseract", NewTesseract)
}

// tesseractEngine is a CPU fallback that runs classic OCR on the image and
// ignores the prompt and sampling settings. Languages come from ExtraArgs.
type tesseractEngine struct {
	clientFactory func() *gosseract.Client
	languages     []string
	log           zerolog.Logger
}

// NewTesseract constructs the engine. Each request gets its own client.
func NewTesseract(ctx context.Context, args Args, log zerolog.Logger) (Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log = log.With().Str("engine", "tesseract").Logger()
	log.Info().Str("version", gosseract.Version()).Msg("tesseract available")
	return &tesseractEngine{clientFactory: gosseract.NewClient, languages: args.ExtraArgs, log: log}, nil
}

func (e *tesseractEngine) Generate(ctx context.Context, req Request, _ sampling.Config) (Stream, error) {
	if req.Image == nil {
		return nil, errors.New("tesseract: an image is required")
	}
	return runStream(ctx, func(ctx context.Context, emit func(Output) error) error {
		c := e.clientFactory()
		defer c.Close()
		if err := c.SetImageFromBytes(req.Image.Data); err != nil {
			return errors.Wrap(err, "tesseract: set image")
		}
		if len(e.languages) > 0 {
			if err := c.SetLanguage(e.languages...); err != nil {
				return errors.Wrap(err, "tesseract: set languages")
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := c.Text()
		if err != nil {
			return errors.Wrap(err, "tesseract: recognize")
		}
		return emit(Output{Text: strings.TrimSpace(text), FinishReason: "stop"})
	}), nil
}

func (e *tesseractEngine) Close() error { return nil }
