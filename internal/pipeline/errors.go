package pipeline

import (
	"fmt"
	"time"
)

// SanitizerError reports a block verdict from the input sanitizer.
type SanitizerError struct {
	Score      float64
	Categories []string
}

func (e *SanitizerError) Error() string {
	return fmt.Sprintf("rejected by sanitizer (score %.0f)", e.Score)
}

// PolicyError reports a deny from the policy gate.
type PolicyError struct {
	ToolName string
	Reason   string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("tool %s denied by policy: %s", e.ToolName, e.Reason)
}

// VettingError reports a deny from the intent vetter, tagged with the stage
// that decided.
type VettingError struct {
	ToolName string
	Stage    string
	Reason   string
}

func (e *VettingError) Error() string {
	return fmt.Sprintf("tool %s denied by %s vetting: %s", e.ToolName, e.Stage, e.Reason)
}

// RateLimitError reports an exhausted token bucket with a retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ConcurrencyError reports a refused admission at the per-user concurrency
// cap.
type ConcurrencyError struct {
	Active int64
	Max    int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency limit reached (%d/%d in flight)", e.Active, e.Max)
}

// TimeoutError reports that execution exceeded the supervisor deadline.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.Elapsed)
}
