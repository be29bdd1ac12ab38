package generation

import (
	"context"
	"errors"
)

var ErrMalformedOutput = errors.New("malformed model output")

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

type CompletionOptions struct {
	Temperature float32
	MaxTokens   int
}

// Generator completes a conversation. Implementations live in
// internal/adapter/gemini and internal/adapter/openai.
type Generator interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
}
