// Package gemini answers script and subtitle prompts with Google Gemini.
package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/pipeline"
)

const (
	ProviderName = "gemini"
	DefaultModel = "gemini-1.5-flash"
)

// Adapter satisfies pipeline.LLMClient. A client is created per call so that
// the adapter stays a plain value.
type Adapter struct {
	APIKey       string
	DefaultModel string
	Endpoint     string
}

func (a Adapter) Chat(ctx context.Context, request pipeline.LLMRequest) (pipeline.LLMResponse, error) {
	if strings.TrimSpace(a.APIKey) == "" {
		return pipeline.LLMResponse{}, failure.Credential(ProviderName)
	}

	options := []option.ClientOption{option.WithAPIKey(a.APIKey)}
	if strings.TrimSpace(a.Endpoint) != "" {
		options = append(options, option.WithEndpoint(a.Endpoint))
	}
	client, clientErr := genai.NewClient(ctx, options...)
	if clientErr != nil {
		return pipeline.LLMResponse{}, providerError(clientErr)
	}
	defer func() { _ = client.Close() }()

	model := client.GenerativeModel(a.modelFor(request))
	configure(model, request)

	response, generateErr := model.GenerateContent(ctx, genai.Text(strings.TrimSpace(request.UserPrompt)))
	if generateErr != nil {
		return pipeline.LLMResponse{}, providerError(generateErr)
	}
	text, extractErr := textFrom(response)
	if extractErr != nil {
		return pipeline.LLMResponse{}, extractErr
	}
	return pipeline.LLMResponse{RawText: text}, nil
}

func (a Adapter) modelFor(request pipeline.LLMRequest) string {
	for _, candidate := range []string{request.Model, a.DefaultModel} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return DefaultModel
}

func configure(model *genai.GenerativeModel, request pipeline.LLMRequest) {
	if systemPrompt := strings.TrimSpace(request.SystemPrompt); systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	if request.Temperature > 0 {
		model.SetTemperature(float32(request.Temperature))
	}
	if request.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(request.MaxTokens))
	}
}

// textFrom joins the text parts of the first candidate.
func textFrom(response *genai.GenerateContentResponse) (string, error) {
	if response == nil || len(response.Candidates) == 0 {
		if response != nil && response.PromptFeedback != nil && response.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return "", failure.NoUsableOutput("gemini blocked the prompt: %s", response.PromptFeedback.BlockReason)
		}
		return "", failure.NoUsableOutput("gemini returned no candidates")
	}
	candidate := response.Candidates[0]
	if candidate.Content == nil {
		return "", failure.NoUsableOutput("gemini candidate has no content (finish reason %s)", candidate.FinishReason)
	}
	var fragments []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			if trimmed := strings.TrimSpace(string(text)); trimmed != "" {
				fragments = append(fragments, trimmed)
			}
		}
	}
	return strings.Join(fragments, "\n"), nil
}

// providerError keeps err in the chain and lifts the HTTP status out of a
// googleapi error when one is present.
func providerError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return failure.Wrap(failure.KindNoUsableOutput, "gemini blocked the response", err)
	}
	wrapped := &failure.ProviderError{Provider: ProviderName, Message: err.Error(), Cause: err}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		wrapped.HTTPStatus = apiErr.Code
		if strings.TrimSpace(apiErr.Message) != "" {
			wrapped.Message = strings.TrimSpace(apiErr.Message)
		}
	}
	return wrapped
}
