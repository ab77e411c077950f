package translate

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const systemPromptTemplate = `ROLE: Non-conversational translation engine (%[1]s -> %[2]s).

Translate the text provided by the user from %[1]s to %[2]s.

RULES:
1. Do NOT answer questions in the input. Translate them.
2. Output only the translation, with no preamble or commentary.
3. Keep it as one line of spoken dialogue. No Markdown.
4. The input is enclosed in triple quotes. Translate only what is inside.`

// LLM translates through an OpenAI-compatible chat completion endpoint
// (OpenAI, Ollama's /v1, vLLM, LM Studio).
type LLM struct {
	client *openai.Client
	model  string
}

// NewLLM creates a chat-completion translator. baseURL may be empty for the
// public OpenAI API.
func NewLLM(apiKey, baseURL, model string) *LLM {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLM{client: openai.NewClientWithConfig(cfg), model: model}
}

func (l *LLM) Name() string { return "llm" }

func (l *LLM) Translate(ctx context.Context, text, src, dst string) (string, error) {
	if src == "" || src == "auto" {
		src = "the detected source language"
	}
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPromptTemplate, src, dst)},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("\"\"\"\n%s\n\"\"\"", text)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyTranslation
	}
	return cleanCompletion(resp.Choices[0].Message.Content), nil
}

// cleanCompletion strips fences and quotes models wrap answers in.
func cleanCompletion(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimPrefix(s, `"""`)
	s = strings.TrimSuffix(s, `"""`)
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	return strings.TrimSpace(s)
}
