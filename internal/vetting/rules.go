package vetting

import (
	"fmt"
	"regexp"

	"github.com/af-corp/warden/internal/config"
)

// Rule is one deterministic danger pattern applied to tool argument strings.
type Rule struct {
	Name  string
	Regex *regexp.Regexp
}

// DefaultRules returns the built-in stage-one danger patterns.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:  "path_traversal",
			Regex: regexp.MustCompile(`\.\./|\.\.\\`),
		},
		{
			Name:  "credential_path",
			Regex: regexp.MustCompile(`(?i)(/etc/shadow|/etc/passwd|id_rsa\b|\.aws/credentials|\.ssh/|\.netrc\b|\.env\b)`),
		},
		{
			Name:  "destructive_chain",
			Regex: regexp.MustCompile(`[;&|]\s*(rm|mkfs|dd|shred|chown|chmod)\b`),
		},
		{
			Name:  "recursive_delete",
			Regex: regexp.MustCompile(`(?i)\brm\s+-[a-z]*r[a-z]*f|\brm\s+-[a-z]*f[a-z]*r`),
		},
		{
			Name:  "command_substitution",
			Regex: regexp.MustCompile("\\$\\(|`"),
		},
		{
			Name:  "null_byte",
			Regex: regexp.MustCompile(`\x00`),
		},
	}
}

// CompileRules turns config-supplied pattern entries into stage-one rules.
func CompileRules(patterns []config.PatternConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile vetting pattern %q: %w", p.Name, err)
		}
		rules = append(rules, Rule{Name: p.Name, Regex: re})
	}
	return rules, nil
}
