package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"policyrag/internal/generation"
)

const DefaultChatModel = "gemini-1.5-flash"

type Generator struct {
	clients *clientCache
	model   string
}

func NewGenerator(src SettingsSource, model string, opts ...option.ClientOption) *Generator {
	if model == "" {
		model = DefaultChatModel
	}
	return &Generator{
		clients: &clientCache{settings: src, clientOpts: opts},
		model:   model,
	}
}

// Complete maps system messages to the system instruction, earlier turns to
// chat history, and sends the final user turn.
func (g *Generator) Complete(ctx context.Context, messages []generation.Message, opts generation.CompletionOptions) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to send")
	}

	client, err := g.clients.get(ctx)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(g.model)
	model.SetTemperature(opts.Temperature)
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}

	var system []string
	var turns []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case generation.RoleSystem:
			system = append(system, m.Content)
		case generation.RoleAssistant:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}
	if len(turns) == 0 {
		return "", fmt.Errorf("no user message to send")
	}

	last := turns[len(turns)-1]
	chat := model.StartChat()
	chat.History = turns[:len(turns)-1]

	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return responseText(resp), nil
}

func (g *Generator) Close() error {
	return g.clients.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}
