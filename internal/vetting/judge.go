package vetting

import (
	"context"
	"fmt"
	"strings"

	"github.com/af-corp/warden/internal/dispatch/providers"
	"github.com/af-corp/warden/internal/types"
)

// Judgment is the semantic judge's opinion on a tool invocation.
type Judgment struct {
	Allow     bool
	Rationale string
}

// Judge classifies a specific tool invocation as safe or unsafe. The caller
// imposes the timeout; a Judge implementation must respect ctx cancellation.
type Judge interface {
	Classify(ctx context.Context, toolName string, args map[string]string, reqContext string) (Judgment, error)
}

// LLMJudge reviews tool invocations with a reasoning provider. The verdict
// line protocol keeps parsing deterministic: the model answers ALLOW or
// DENY on the first line and its rationale after.
type LLMJudge struct {
	client providers.Client
}

func NewLLMJudge(client providers.Client) *LLMJudge {
	return &LLMJudge{client: client}
}

const judgeSystemPrompt = `You review a single tool invocation requested on behalf of a chat user.
Answer on the first line with exactly ALLOW or DENY. On following lines, give a one-sentence rationale.
DENY anything that reads or writes credentials, escapes a sandbox, destroys data, or exfiltrates information.`

func (j *LLMJudge) Classify(ctx context.Context, toolName string, args map[string]string, reqContext string) (Judgment, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tool: %s\n", toolName)
	for k, v := range args {
		fmt.Fprintf(&sb, "Arg %s: %s\n", k, v)
	}
	if reqContext != "" {
		fmt.Fprintf(&sb, "User request: %s\n", reqContext)
	}

	resp, err := j.client.Generate(ctx, &providers.GenerateRequest{
		Messages: []types.Message{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens: 200,
	})
	if err != nil {
		return Judgment{}, fmt.Errorf("judge generate: %w", err)
	}

	verdict, rationale, found := strings.Cut(strings.TrimSpace(resp.Content), "\n")
	if !found {
		rationale = ""
	}
	switch strings.ToUpper(strings.TrimSpace(verdict)) {
	case "ALLOW":
		return Judgment{Allow: true, Rationale: strings.TrimSpace(rationale)}, nil
	case "DENY":
		return Judgment{Allow: false, Rationale: strings.TrimSpace(rationale)}, nil
	default:
		// An unparseable verdict is treated as an error so the per-tool
		// fail-open/fail-closed flag decides.
		return Judgment{}, fmt.Errorf("unparseable judge verdict %q", verdict)
	}
}
