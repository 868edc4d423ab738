// Package sampling resolves per-request generation parameters against the
// process defaults.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"net/http"
)

const (
	MinTemperature = 0.0
	MaxTemperature = 2.0

	// DefaultMaxTokensCeiling bounds max_tokens when Defaults leaves it unset.
	DefaultMaxTokensCeiling = 8192
)

// RepetitionController configures the n-gram repetition suppressor applied
// during decoding. Tokens in WhitelistTokenIDs are never suppressed.
type RepetitionController struct {
	NGramSize         int   `json:"ngram_size"`
	WindowSize        int   `json:"window_size"`
	WhitelistTokenIDs []int `json:"whitelist_token_ids"`
}

// Config is the fully resolved sampling configuration for one request.
type Config struct {
	Temperature float64
	MaxTokens   int
	Repetition  RepetitionController
}

// Defaults are the process-wide values used when a request omits a field.
type Defaults struct {
	Temperature      float64
	MaxTokens        int
	MaxTokensCeiling int
	Repetition       RepetitionController
}

// Overrides carries the optional per-request values. Nil means "use default".
type Overrides struct {
	Temperature *float64
	MaxTokens   *int
}

// Default returns the stock defaults: greedy decoding, 4096 new tokens and an
// n-gram controller that whitelists the table cell tokens.
func Default() Defaults {
	return Defaults{
		Temperature:      0.0,
		MaxTokens:        4096,
		MaxTokensCeiling: DefaultMaxTokensCeiling,
		Repetition: RepetitionController{
			NGramSize:         30,
			WindowSize:        90,
			WhitelistTokenIDs: []int{128821, 128822},
		},
	}
}

// InvalidConfigError reports a sampling value outside its accepted range.
type InvalidConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid sampling config: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidConfigError) StatusCode() int { return http.StatusBadRequest }

// Details is rendered into the error payload by the HTTP layer.
func (e *InvalidConfigError) Details() map[string]any {
	return map[string]any{"field": e.Field, "value": e.Value, "reason": e.Reason}
}

// IsInvalidConfig reports whether err is (or wraps) an InvalidConfigError.
func IsInvalidConfig(err error) bool {
	var ice *InvalidConfigError
	return errors.As(err, &ice)
}

// Resolve merges overrides with defaults and validates the result. Values
// outside their range are rejected, never clamped.
func Resolve(o Overrides, d Defaults) (Config, error) {
	cfg := Config{
		Temperature: d.Temperature,
		MaxTokens:   d.MaxTokens,
		Repetition: RepetitionController{
			NGramSize:         d.Repetition.NGramSize,
			WindowSize:        d.Repetition.WindowSize,
			WhitelistTokenIDs: append([]int(nil), d.Repetition.WhitelistTokenIDs...),
		},
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		cfg.MaxTokens = *o.MaxTokens
	}

	ceiling := d.MaxTokensCeiling
	if ceiling <= 0 {
		ceiling = DefaultMaxTokensCeiling
	}
	if math.IsNaN(cfg.Temperature) || cfg.Temperature < MinTemperature || cfg.Temperature > MaxTemperature {
		return Config{}, &InvalidConfigError{
			Field:  "temperature",
			Value:  cfg.Temperature,
			Reason: fmt.Sprintf("must be within [%g, %g]", MinTemperature, MaxTemperature),
		}
	}
	if cfg.MaxTokens < 1 || cfg.MaxTokens > ceiling {
		return Config{}, &InvalidConfigError{
			Field:  "max_tokens",
			Value:  cfg.MaxTokens,
			Reason: fmt.Sprintf("must be within [1, %d]", ceiling),
		}
	}
	if err := cfg.Repetition.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the controller invariants: a positive n-gram size and a
// window that can hold at least one n-gram.
func (r RepetitionController) Validate() error {
	if r.NGramSize <= 0 {
		return &InvalidConfigError{Field: "ngram_size", Value: r.NGramSize, Reason: "must be positive"}
	}
	if r.WindowSize < r.NGramSize {
		return &InvalidConfigError{Field: "window_size", Value: r.WindowSize, Reason: fmt.Sprintf("must be >= ngram_size (%d)", r.NGramSize)}
	}
	return nil
}
