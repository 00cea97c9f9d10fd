package llm

import (
	"context"
	"strings"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/pipeline"
)

const (
	DefaultModel = "openrouter/auto"
	roleSystem   = "system"
	roleUser     = "user"
)

// Adapter adapts pipeline.LLMRequest to the concrete HTTP client.
type Adapter struct {
	Client        Client
	DefaultModel  string
	DefaultTemp   float64
	DefaultTokens int
}

func (a Adapter) Chat(ctx context.Context, req pipeline.LLMRequest) (pipeline.LLMResponse, error) {
	if strings.TrimSpace(a.Client.APIKey) == "" {
		return pipeline.LLMResponse{}, failure.Credential(ProviderName)
	}
	model := chooseString(req.Model, a.DefaultModel, DefaultModel)

	cr := ChatCompletionRequest{
		Model: model,
		Messages: []ChatMessage{
			{Role: roleSystem, Content: strings.TrimSpace(req.SystemPrompt)},
			{Role: roleUser, Content: strings.TrimSpace(req.UserPrompt)},
		},
		MaxTokens: chooseInt(req.MaxTokens, a.DefaultTokens),
	}
	if resolvedTemp := chooseFloat(req.Temperature, a.DefaultTemp); resolvedTemp > 0 {
		cr.Temperature = &resolvedTemp
	}

	out, err := a.Client.CreateChatCompletion(ctx, cr)
	if err != nil {
		return pipeline.LLMResponse{}, err
	}
	return pipeline.LLMResponse{RawText: out}, nil
}

func chooseString(candidates ...string) string {
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func chooseInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func chooseFloat(a, b float64) float64 {
	if a > 0 {
		return a
	}
	return b
}
