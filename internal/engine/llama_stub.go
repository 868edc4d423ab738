//go:build !llama

package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// The in-process llama backend needs CGO and libllama; default builds only
// register a factory that explains how to get it.
func init() {
	Register("llama", func(context.Context, Args, zerolog.Logger) (Engine, error) {
		return nil, errors.Wrap(ErrBackendNotBuilt, "llama (rebuild with -tags=llama)")
	})
}
