package types

import "time"

// Request is the canonical internal representation of one inbound assistant
// request. It is created on ingress, is immutable, and lives only for the
// duration of a single pipeline pass.
type Request struct {
	// Identity (set by the connector / auth middleware)
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	SurfaceID string `json:"surface_id"`
	Tier      Tier   `json:"tier"`

	// Content
	Text     string            `json:"text"`
	ToolName string            `json:"tool_name,omitempty"`
	ToolArgs map[string]string `json:"tool_args,omitempty"`

	// ConversationID groups the turns of a multi-turn exchange. Used for
	// sticky provider pinning; empty means a standalone request.
	ConversationID string `json:"conversation_id,omitempty"`

	// Internal tracking
	ReceivedAt time.Time `json:"-"`
}

// WantsTool reports whether the connector resolved a tool invocation for
// this request. Requests without a tool go to plain generation.
func (r *Request) WantsTool() bool {
	return r.ToolName != ""
}

// Message is a single chat turn handed to a reasoning provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
