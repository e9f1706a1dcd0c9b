// Package sanitizer scores raw request text against weighted abuse patterns
// before any other pipeline stage runs.
package sanitizer

import (
	"sync"

	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/types"
)

// Verdict is the sanitizer decision for a request.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictWarn  Verdict = "warn"
	VerdictBlock Verdict = "block"
)

// Assessment is the outcome of scoring one request. It carries matched rule
// categories only, never the matched substrings, so nothing sensitive leaks
// into logs or audit events.
type Assessment struct {
	RequestID string
	Score     float64
	Matched   []string
	Verdict   Verdict
}

// Sanitizer scores text against a compiled rule table. Assess is a pure
// function of the text and the current thresholds.
type Sanitizer struct {
	mu    sync.RWMutex
	rules []Rule
	cfg   func() config.SanitizerConfig
}

// New creates a sanitizer from the built-in rules plus any extra patterns in
// the current config.
func New(cfg func() config.SanitizerConfig) (*Sanitizer, error) {
	s := &Sanitizer{cfg: cfg}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload recompiles the extra patterns from config. Called on config hot
// reload; the built-in table is always retained.
func (s *Sanitizer) Reload() error {
	extras, err := CompilePatterns(s.cfg().ExtraPatterns)
	if err != nil {
		return err
	}
	rules := append(DefaultRules(), extras...)
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	return nil
}

// Assess scores the request text. Each rule contributes its weight once if
// it matches anywhere in the text.
func (s *Sanitizer) Assess(req *types.Request) Assessment {
	cfg := s.cfg()
	a := Assessment{RequestID: req.ID, Verdict: VerdictAllow}
	if !cfg.Enabled {
		return a
	}

	s.mu.RLock()
	rules := s.rules
	s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, r := range rules {
		if !r.Regex.MatchString(req.Text) {
			continue
		}
		a.Score += r.Weight
		if !seen[r.Category] {
			seen[r.Category] = true
			a.Matched = append(a.Matched, r.Category)
		}
	}

	switch {
	case a.Score >= cfg.BlockThreshold:
		a.Verdict = VerdictBlock
	case a.Score >= cfg.WarnThreshold:
		a.Verdict = VerdictWarn
	}
	return a
}
