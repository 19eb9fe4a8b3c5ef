// Package provider defines the generative-text provider contract used by
// the engine, an OpenAI-compatible HTTP client and a scripted provider for
// tests and dry runs.
package provider

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReason reports why the provider stopped generating.
type FinishReason string

const (
	// FinishStop is a natural completion.
	FinishStop FinishReason = "stop"
	// FinishLength means the response hit the token limit and may be
	// continued.
	FinishLength FinishReason = "length"
	// FinishContentFilter means the provider refused part of the output.
	FinishContentFilter FinishReason = "content_filter"
	// FinishOther covers provider-specific terminal reasons.
	FinishOther FinishReason = "other"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	Model       string                 `json:"model"`
	Messages    []Message              `json:"messages"`
	Temperature *float64               `json:"temperature,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
}

// Usage accumulates token and cost accounting across calls.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// Add accumulates another call's usage into the receiver.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
}

// Response is the provider's answer to a single Request.
type Response struct {
	Text         string       `json:"text"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
	Model        string       `json:"model,omitempty"`
}

// Provider produces text completions.
type Provider interface {
	// Name identifies the provider in logs and results.
	Name() string
	// Complete performs one completion call. Transport failures are
	// returned as errors; refusals and truncation are reported through
	// Response.FinishReason.
	Complete(ctx context.Context, request *Request) (*Response, error)
}
