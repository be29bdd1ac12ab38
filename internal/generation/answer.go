package generation

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	MaxHistoryTurns = 10

	answerTemperature = 0.2
	answerMaxTokens   = 1024
)

const answerSystemPrompt = `You are a policy research assistant. Answer the user's question using ONLY the numbered context passages provided.
Rules:
- Cite every claim with the number of the passage it comes from, e.g. [1] or [2][3].
- If the context does not contain the answer, say that the available policy documents do not cover it.
- Do not use outside knowledge and do not speculate.
- Keep the answer concise and name the state a rule applies to when it matters.`

type AnswerGenerator struct {
	gen Generator
}

func NewAnswerGenerator(gen Generator) *AnswerGenerator {
	return &AnswerGenerator{gen: gen}
}

// Answer asks the model for a cited answer. The model output is returned
// verbatim; citations are not cross-checked against the context.
func (a *AnswerGenerator) Answer(ctx context.Context, question, contextBlock string, history []Message) (string, error) {
	messages := BuildAnswerMessages(question, contextBlock, history)

	slog.DebugContext(ctx, "generating answer", "messages", len(messages), "context_len", len(contextBlock))
	out, err := a.gen.Complete(ctx, messages, CompletionOptions{
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return out, nil
}

func BuildAnswerMessages(question, contextBlock string, history []Message) []Message {
	history = TruncateHistory(history, MaxHistoryTurns)

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: answerSystemPrompt})
	for _, m := range history {
		if m.Role == RoleSystem {
			continue
		}
		messages = append(messages, m)
	}
	messages = append(messages, Message{
		Role:    RoleUser,
		Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlock, question),
	})
	return messages
}

// TruncateHistory keeps the last n turns.
func TruncateHistory(history []Message, n int) []Message {
	if n <= 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
