package imageproc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FileTooLargeError is returned when an upload exceeds the configured limit.
type FileTooLargeError struct {
	Size  int64
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file too large: %d bytes exceeds limit of %d bytes", e.Size, e.Limit)
}
func (e *FileTooLargeError) StatusCode() int { return http.StatusRequestEntityTooLarge }
func (e *FileTooLargeError) Details() map[string]any {
	return map[string]any{"size": e.Size, "max_size": e.Limit}
}

// UnsupportedFileTypeError is returned for extensions outside the allow list.
type UnsupportedFileTypeError struct {
	Ext     string
	Allowed []string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported file type %q; allowed: %s", e.Ext, strings.Join(e.Allowed, ", "))
}
func (e *UnsupportedFileTypeError) StatusCode() int { return http.StatusBadRequest }
func (e *UnsupportedFileTypeError) Details() map[string]any {
	return map[string]any{"extension": e.Ext, "allowed": e.Allowed}
}

// InvalidFileError is returned when the upload is empty or not an image.
type InvalidFileError struct{ Cause error }

func (e *InvalidFileError) Error() string   { return "invalid image file: " + e.Cause.Error() }
func (e *InvalidFileError) Unwrap() error   { return e.Cause }
func (e *InvalidFileError) StatusCode() int { return http.StatusBadRequest }

// ImageProcessingError is returned when a valid upload cannot be converted
// into model input.
type ImageProcessingError struct{ Cause error }

func (e *ImageProcessingError) Error() string   { return "image processing failed: " + e.Cause.Error() }
func (e *ImageProcessingError) Unwrap() error   { return e.Cause }
func (e *ImageProcessingError) StatusCode() int { return http.StatusBadRequest }

func IsFileTooLarge(err error) bool {
	var e *FileTooLargeError
	return errors.As(err, &e)
}

func IsUnsupportedFileType(err error) bool {
	var e *UnsupportedFileTypeError
	return errors.As(err, &e)
}

func IsInvalidFile(err error) bool {
	var e *InvalidFileError
	return errors.As(err, &e)
}

func IsImageProcessing(err error) bool {
	var e *ImageProcessingError
	return errors.As(err, &e)
}
