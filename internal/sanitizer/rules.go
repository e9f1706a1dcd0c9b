package sanitizer

import (
	"fmt"
	"regexp"

	"github.com/af-corp/warden/internal/config"
)

// Rule is one weighted abuse-detection pattern. Matched rules contribute
// their weight to the request's risk score.
type Rule struct {
	Name     string
	Regex    *regexp.Regexp
	Weight   float64
	Category string // "credential_request", "claimed_authority", "environment_probe", "embedded_command", "instruction_override", "role_override", "encoding_trick"
}

// DefaultRules returns the built-in abuse detection rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "credential_request",
			Regex:    regexp.MustCompile(`(?i)\b(show|give|send|tell|reveal|print|share)\b.{0,40}\b(api[ _-]?key|password|passwd|secret|token|credential)s?\b`),
			Weight:   15,
			Category: "credential_request",
		},
		{
			Name:     "ignore_previous",
			Regex:    regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior)\s+(instructions|rules|context)`),
			Weight:   12,
			Category: "instruction_override",
		},
		{
			Name:     "new_instructions",
			Regex:    regexp.MustCompile(`(?i)(new|updated|revised)\s+instructions?\s*:`),
			Weight:   8,
			Category: "instruction_override",
		},
		{
			Name:     "claimed_authority",
			Regex:    regexp.MustCompile(`(?i)\b(i\s+am|i'm)\s+(your|the)\s+(developer|creator|admin|administrator|owner|operator)\b`),
			Weight:   8,
			Category: "claimed_authority",
		},
		{
			Name:     "env_probe",
			Regex:    regexp.MustCompile(`(?i)(environment\s+variables?|printenv\b|process\.env|os\.environ)`),
			Weight:   10,
			Category: "environment_probe",
		},
		{
			Name:     "secret_file_probe",
			Regex:    regexp.MustCompile(`(?i)(\.env\b|id_rsa\b|\.aws/credentials|\.ssh/|/etc/shadow)`),
			Weight:   10,
			Category: "environment_probe",
		},
		{
			Name:     "embedded_command",
			Regex:    regexp.MustCompile(`(;|\|\||&&|\x60)\s*(rm|curl|wget|chmod|chown|nc|bash|sh)\b`),
			Weight:   6,
			Category: "embedded_command",
		},
		{
			Name:     "jailbreak",
			Regex:    regexp.MustCompile(`(?i)\b(DAN|do\s+anything\s+now|jailbreak|unrestricted\s+mode)\b`),
			Weight:   8,
			Category: "role_override",
		},
		{
			Name:     "system_prefix",
			Regex:    regexp.MustCompile(`(?i)^\s*system\s*:\s*`),
			Weight:   6,
			Category: "role_override",
		},
		{
			Name:     "you_are_now",
			Regex:    regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s+`),
			Weight:   4,
			Category: "role_override",
		},
		{
			Name:     "base64_instruction",
			Regex:    regexp.MustCompile(`(?i)(decode|execute|follow)\s+(the\s+)?base64`),
			Weight:   5,
			Category: "encoding_trick",
		},
	}
}

// CompilePatterns turns config-supplied pattern entries into rules. Invalid
// regexes are rejected at load time rather than silently skipped.
func CompilePatterns(patterns []config.PatternConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p.Name, err)
		}
		rules = append(rules, Rule{
			Name:     p.Name,
			Regex:    re,
			Weight:   p.Weight,
			Category: p.Category,
		})
	}
	return rules, nil
}
