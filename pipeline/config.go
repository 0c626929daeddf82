package pipeline

import (
	"log/slog"
	"time"
)

// Config tunes the orchestration core. The zero value is usable; defaults()
// fills anything unset.
type Config struct {
	// MaxAttempts is the per-part retry budget for the generate/review loop.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// MaxPartsInFlight caps concurrent part processors per document.
	MaxPartsInFlight int `json:"max_parts_in_flight" yaml:"max_parts_in_flight"`

	// MaxDocumentsInFlight caps concurrent document orchestrations in a batch.
	MaxDocumentsInFlight int `json:"max_documents_in_flight" yaml:"max_documents_in_flight"`

	// RetryDelay is the pause after a rejection before regenerating.
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	// ErrorRetryDelay is the longer pause after a generation/review error,
	// to avoid hammering a failing service.
	ErrorRetryDelay time.Duration `json:"error_retry_delay" yaml:"error_retry_delay"`

	// CallTimeout bounds each external generate/review/divide call.
	// Zero means the caller's context governs.
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`

	// MaxDivideChars truncates the body handed to the divider.
	MaxDivideChars int `json:"max_divide_chars" yaml:"max_divide_chars"`

	// MinPartChars is the minimum usable part content length; shorter parts
	// are a divider contract violation and fail the split.
	MinPartChars int `json:"min_part_chars" yaml:"min_part_chars"`

	// Logger for pipeline progress. Nil means slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxPartsInFlight <= 0 {
		c.MaxPartsInFlight = 3
	}
	if c.MaxDocumentsInFlight <= 0 {
		c.MaxDocumentsInFlight = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.ErrorRetryDelay <= 0 {
		c.ErrorRetryDelay = 2 * time.Second
	}
	if c.MaxDivideChars <= 0 {
		c.MaxDivideChars = 8000
	}
	if c.MinPartChars <= 0 {
		c.MinPartChars = 100
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
