// Package provider sends argument-inference prompts to chat-completion APIs.
// Inference asks for one JSON object per tool call, so requests are
// single-shot and non-streaming.
package provider

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is one inference prompt. Model is the bare model name
// (the part of a ModelRef after the provider ID).
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	// JSONObject asks the API to constrain the reply to a JSON object where
	// the wire format supports it.
	JSONObject bool
}

// Usage is what the API reports; it is logged, never enforced.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionResponse carries the reply text the model inferrer parses as
// tool arguments.
type CompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Provider is one configured completion endpoint. failover.Controller also
// implements it, over several models.
type Provider interface {
	ID() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}
