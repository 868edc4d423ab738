// Package postprocess turns raw model output into clean markdown: it strips
// ref/det grounding annotations, optionally keeps image placeholders and
// rewrites a few LaTeX symbols the renderer does not understand.
package postprocess

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Options controls a single normalization pass.
type Options struct {
	// PreserveImageRefs replaces image annotations with markdown placeholders
	// instead of removing them.
	PreserveImageRefs bool
	// IncludeRaw copies the unmodified input into Output.Raw.
	IncludeRaw bool
}

// Output is the normalized text, plus the raw text when requested.
type Output struct {
	Text string
	Raw  *string
}

var latexRewrites = strings.NewReplacer(
	`\coloneqq`, ":=",
	`\eqqcolon`, "=:",
)

// ImagePlaceholder is the markdown emitted for the i-th image annotation.
func ImagePlaceholder(i int) string {
	return fmt.Sprintf("![Image %d](images/%d.jpg)\n", i, i)
}

// Normalizer cleans model output. The zero value is usable and logs nowhere.
type Normalizer struct {
	log   zerolog.Logger
	clean func(string, Options) (string, Stats)
}

// Stats summarizes what a cleanup pass changed.
type Stats struct {
	Images int
	Others int
}

// NewNormalizer returns a Normalizer that reports progress to log.
func NewNormalizer(log zerolog.Logger) *Normalizer {
	return &Normalizer{log: log}
}

var defaultNormalizer = &Normalizer{log: zerolog.Nop()}

// Normalize runs the default Normalizer.
func Normalize(raw string, opts Options) Output {
	return defaultNormalizer.Normalize(raw, opts)
}

// Normalize never fails. If cleanup faults, the original text is returned as
// Text and the fault is logged.
func (n *Normalizer) Normalize(raw string, opts Options) (out Output) {
	if opts.IncludeRaw {
		r := raw
		out.Raw = &r
	}
	defer func() {
		if rec := recover(); rec != nil {
			n.log.Error().Interface("panic", rec).Int("chars", len(raw)).Msg("markdown cleanup failed; returning raw text")
			out.Text = raw
		}
	}()

	clean := n.clean
	if clean == nil {
		clean = cleanMarkdown
	}
	text, st := clean(raw, opts)
	out.Text = text
	n.log.Debug().
		Int("chars_in", len(raw)).
		Int("chars_out", len(text)).
		Int("images", st.Images).
		Int("others", st.Others).
		Bool("preserve_images", opts.PreserveImageRefs).
		Msg("markdown cleaned")
	return out
}

// cleanMarkdown rebuilds the text from the spans between annotations, so text
// outside annotations is preserved byte for byte.
func cleanMarkdown(raw string, opts Options) (string, Stats) {
	anns := ExtractAnnotations(raw)
	st := Stats{Images: len(anns.Images), Others: len(anns.Others)}
	if len(anns.All) == 0 {
		return latexRewrites.Replace(raw), st
	}

	var b strings.Builder
	b.Grow(len(raw))
	prev, img := 0, 0
	for _, a := range anns.All {
		b.WriteString(raw[prev:a.Start])
		if a.IsImage() && opts.PreserveImageRefs {
			b.WriteString(ImagePlaceholder(img))
		}
		if a.IsImage() {
			img++
		}
		prev = a.End
	}
	b.WriteString(raw[prev:])
	return latexRewrites.Replace(b.String()), st
}
