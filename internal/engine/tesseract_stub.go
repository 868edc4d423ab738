//go:build !tesseract

package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func init() {
	Register("tesseract", func(context.Context, Args, zerolog.Logger) (Engine, error) {
		return nil, errors.Wrap(ErrBackendNotBuilt, "tesseract (rebuild with -tags=tesseract)")
	})
}
