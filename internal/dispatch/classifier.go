package dispatch

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/types"
)

// Classifier assigns a complexity class to incoming requests. Tool requests
// always classify as tool-use; otherwise trigger patterns decide, with short
// pattern-free messages falling through to trivial.
type Classifier struct {
	cfg func() config.RoutingConfig

	mu       sync.RWMutex
	compiled []compiledTrigger
}

type compiledTrigger struct {
	class    types.Complexity
	patterns []*regexp.Regexp
}

func NewClassifier(cfg func() config.RoutingConfig) (*Classifier, error) {
	c := &Classifier{cfg: cfg}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload recompiles trigger patterns from config.
func (c *Classifier) Reload() error {
	routing := c.cfg()
	compiled := make([]compiledTrigger, 0, len(routing.Triggers))
	for _, t := range routing.Triggers {
		class, ok := types.ParseComplexity(t.Class)
		if !ok {
			return fmt.Errorf("unknown trigger class %q", t.Class)
		}
		ct := compiledTrigger{class: class}
		for _, p := range t.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("trigger pattern %q: %w", p, err)
			}
			ct.patterns = append(ct.patterns, re)
		}
		compiled = append(compiled, ct)
	}

	c.mu.Lock()
	c.compiled = compiled
	c.mu.Unlock()
	return nil
}

// Classify determines the request's complexity class.
func (c *Classifier) Classify(req *types.Request) types.Complexity {
	if req.WantsTool() {
		return types.ComplexityToolUse
	}

	c.mu.RLock()
	compiled := c.compiled
	c.mu.RUnlock()

	// The highest-ranked matching trigger wins regardless of config order,
	// so reasoning outranks query even when listed later.
	best := types.ComplexityTrivial
	matched := false
	for _, ct := range compiled {
		for _, re := range ct.patterns {
			if re.MatchString(req.Text) {
				if !matched || ct.class.Rank() > best.Rank() {
					best = ct.class
					matched = true
				}
				break
			}
		}
	}
	if matched {
		return best
	}

	if len(req.Text) <= c.cfg().TrivialMaxChars {
		return types.ComplexityTrivial
	}
	return types.ComplexityQuery
}
