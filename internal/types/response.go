package types

// ResponseKind distinguishes plain generation from tool execution.
type ResponseKind string

const (
	KindGeneration ResponseKind = "generation"
	KindTool       ResponseKind = "tool"
)

// Response is the terminal successful outcome of one pipeline pass.
type Response struct {
	RequestID string       `json:"request_id"`
	Kind      ResponseKind `json:"kind"`
	Content   string       `json:"content"`

	// Generation-only fields
	Provider         string     `json:"provider,omitempty"`
	Complexity       Complexity `json:"complexity,omitempty"`
	Usage            Usage      `json:"usage"`
	EstimatedCostUSD float64    `json:"estimated_cost_usd,omitempty"`

	// Tool-only field
	ToolName string `json:"tool_name,omitempty"`

	// Warnings carries sanitizer warn categories that were flagged but did
	// not block the request.
	Warnings []string `json:"warnings,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
