// Package imageproc validates uploaded images and turns them into the
// features attached to a generation request.
package imageproc

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"ocrd/internal/engine"
)

const (
	// DefaultMaxFileSize is 10 MiB.
	DefaultMaxFileSize int64 = 10 << 20
	// GlobalViewSize is the side of the downscaled global view.
	GlobalViewSize = 1024
)

// DefaultExtensions are the accepted upload extensions, lower case, no dot.
var DefaultExtensions = []string{"png", "jpg", "jpeg", "gif", "bmp", "tiff", "webp"}

// Limits bounds what ValidateFile accepts.
type Limits struct {
	MaxFileSize       int64
	AllowedExtensions []string
}

// DefaultLimits returns the stock upload limits.
func DefaultLimits() Limits {
	return Limits{MaxFileSize: DefaultMaxFileSize, AllowedExtensions: append([]string(nil), DefaultExtensions...)}
}

func (l Limits) allowed(ext string) bool {
	for _, a := range l.AllowedExtensions {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return true
		}
	}
	return false
}

// Info describes a decoded upload.
type Info struct {
	Format string
	Width  int
	Height int
}

// ValidateFile checks size, extension and that data looks like an image.
// Only the image header is decoded.
func ValidateFile(data []byte, filename string, limits Limits) (Info, error) {
	if limits.MaxFileSize > 0 && int64(len(data)) > limits.MaxFileSize {
		return Info{}, &FileTooLargeError{Size: int64(len(data)), Limit: limits.MaxFileSize}
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if len(limits.AllowedExtensions) > 0 && !limits.allowed(ext) {
		return Info{}, &UnsupportedFileTypeError{Ext: ext, Allowed: limits.AllowedExtensions}
	}
	if len(data) == 0 {
		return Info{}, &InvalidFileError{Cause: errors.New("empty file")}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, &InvalidFileError{Cause: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, &InvalidFileError{Cause: errors.New("image has no pixels")}
	}
	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Load decodes data and flattens it to opaque RGB on a white background.
func Load(data []byte) (image.Image, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ImageProcessingError{Cause: err}
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst, nil
}

// Encode produces the image features for img. With crop the native
// resolution is kept and the runtime tiles it; otherwise the image is scaled
// down to fit the global view.
func Encode(img image.Image, crop bool) (*engine.ImageFeatures, error) {
	out := img
	if !crop {
		out = fit(img, GlobalViewSize)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, &ImageProcessingError{Cause: err}
	}
	b := out.Bounds()
	return &engine.ImageFeatures{
		Data:     buf.Bytes(),
		MIMEType: "image/png",
		Width:    b.Dx(),
		Height:   b.Dy(),
		Crop:     crop,
	}, nil
}

// fit scales img so its longer side is at most size, preserving aspect ratio.
func fit(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= size && h <= size {
		return img
	}
	nw, nh := size, size
	if w >= h {
		nh = max(1, h*size/w)
	} else {
		nw = max(1, w*size/h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Result is a preprocessed upload.
type Result struct {
	Features *engine.ImageFeatures
	Info     Info
}

// Processor runs validation, decoding and encoding with fixed limits.
type Processor struct {
	limits Limits
	log    zerolog.Logger
}

// NewProcessor returns a Processor. Zero limits fall back to DefaultLimits.
func NewProcessor(limits Limits, log zerolog.Logger) *Processor {
	d := DefaultLimits()
	if limits.MaxFileSize <= 0 {
		limits.MaxFileSize = d.MaxFileSize
	}
	if len(limits.AllowedExtensions) == 0 {
		limits.AllowedExtensions = d.AllowedExtensions
	}
	return &Processor{limits: limits, log: log}
}

// Limits returns the effective limits.
func (p *Processor) Limits() Limits { return p.limits }

// Preprocess validates, decodes and encodes one upload.
func (p *Processor) Preprocess(data []byte, filename string, crop bool) (Result, error) {
	info, err := ValidateFile(data, filename, p.limits)
	if err != nil {
		p.log.Debug().Err(err).Str("filename", filename).Int("bytes", len(data)).Msg("upload rejected")
		return Result{}, err
	}
	img, err := Load(data)
	if err != nil {
		return Result{}, err
	}
	feat, err := Encode(img, crop)
	if err != nil {
		return Result{}, err
	}
	p.log.Debug().
		Str("format", info.Format).
		Int("width", info.Width).
		Int("height", info.Height).
		Int("encoded_width", feat.Width).
		Int("encoded_height", feat.Height).
		Bool("crop", crop).
		Msg("image preprocessed")
	return Result{Features: feat, Info: info}, nil
}
