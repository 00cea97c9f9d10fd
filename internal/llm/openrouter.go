package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/temirov/autoreel/internal/failure"
)

const (
	ProviderName         = "openrouter"
	DefaultHTTPBaseURL   = "https://openrouter.ai/api/v1"
	chatCompletionsPath  = "/chat/completions"
	bodyPreviewLimit     = 512
	fragmentPreviewLimit = 240
	refusalPreviewLimit  = 200
	finishReasonLength   = "length"
	headerAuthorization  = "Authorization"
	headerContentType    = "Content-Type"
	headerReferer        = "HTTP-Referer"
	headerTitle          = "X-Title"
	contentTypeJSON      = "application/json"
	bearerPrefix         = "Bearer "
	jsonNull             = "null"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	HTTPBaseURL string
	APIKey      string
	Referer     string
	Title       string
	HTTPClient  *http.Client
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessageResponse struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Refusal   json.RawMessage `json:"refusal,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

type chatCompletionChoice struct {
	Message      chatMessageResponse `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type ChatCompletionResponse struct {
	Choices []chatCompletionChoice `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func truncateForLog(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}

// CreateChatCompletion returns the trimmed text of the first choice. An empty
// string with a nil error means the model answered with nothing.
func (c Client) CreateChatCompletion(ctx context.Context, requestPayload ChatCompletionRequest) (string, error) {
	requestBytes, marshalErr := json.Marshal(requestPayload)
	if marshalErr != nil {
		return "", errors.Wrap(marshalErr, "encode chat completion request")
	}
	httpRequest, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.baseURL(), "/")+chatCompletionsPath, bytes.NewReader(requestBytes))
	if buildErr != nil {
		return "", errors.Wrap(buildErr, "build chat completion request")
	}
	httpRequest.Header.Set(headerContentType, contentTypeJSON)
	httpRequest.Header.Set(headerAuthorization, bearerPrefix+c.APIKey)
	if c.Referer != "" {
		httpRequest.Header.Set(headerReferer, c.Referer)
	}
	if c.Title != "" {
		httpRequest.Header.Set(headerTitle, c.Title)
	}

	httpResponse, httpErr := c.httpClient().Do(httpRequest)
	if httpErr != nil {
		return "", &failure.ProviderError{Provider: ProviderName, Message: "request failed", Cause: httpErr}
	}
	defer func(closer io.ReadCloser) { _ = closer.Close() }(httpResponse.Body)

	bodyBytes, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return "", &failure.ProviderError{Provider: ProviderName, Message: "read response", HTTPStatus: httpResponse.StatusCode, Cause: readErr}
	}
	bodyPreview := truncateForLog(string(bodyBytes), bodyPreviewLimit)

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return "", &failure.ProviderError{
			Provider:   ProviderName,
			Message:    errorDetail(bodyBytes, bodyPreview),
			HTTPStatus: httpResponse.StatusCode,
			Cause:      errors.Errorf("body: %s", bodyPreview),
		}
	}

	var completion ChatCompletionResponse
	if decodeErr := json.Unmarshal(bodyBytes, &completion); decodeErr != nil {
		return "", &failure.ProviderError{Provider: ProviderName, Message: "malformed chat completion", Cause: errors.Wrapf(decodeErr, "body: %s", bodyPreview)}
	}
	if len(completion.Choices) == 0 {
		return "", failure.NoUsableOutput("chat completion returned no choices")
	}

	choice := completion.Choices[0]
	content, extractErr := extractMessageContent(choice.Message)
	if extractErr != nil {
		return "", extractErr
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" && strings.EqualFold(strings.TrimSpace(choice.FinishReason), finishReasonLength) {
		return "", failure.NoUsableOutput("chat completion hit the token limit before producing text")
	}
	return trimmed, nil
}

func (c Client) baseURL() string {
	if strings.TrimSpace(c.HTTPBaseURL) == "" {
		return DefaultHTTPBaseURL
	}
	return c.HTTPBaseURL
}

func (c Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

func errorDetail(body []byte, preview string) string {
	var decoded errorResponse
	if err := json.Unmarshal(body, &decoded); err == nil && strings.TrimSpace(decoded.Error.Message) != "" {
		return strings.TrimSpace(decoded.Error.Message)
	}
	if strings.TrimSpace(preview) == "" {
		return "empty error response"
	}
	return truncateForLog(strings.TrimSpace(preview), fragmentPreviewLimit)
}

func extractMessageContent(message chatMessageResponse) (string, error) {
	if len(message.Content) == 0 || string(message.Content) == jsonNull {
		if refusal := decodeRefusal(message.Refusal); refusal != "" {
			return "", failure.NoUsableOutput("chat completion refusal: %s", refusal)
		}
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(message.Content, &asString); err == nil {
		return asString, nil
	}

	if text, ok := extractRichText(message.Content); ok {
		return text, nil
	}

	if refusal := decodeRefusal(message.Refusal); refusal != "" {
		return "", failure.NoUsableOutput("chat completion refusal: %s", refusal)
	}

	if len(message.ToolCalls) > 0 && string(message.ToolCalls) != jsonNull {
		return "", failure.NoUsableOutput("chat completion produced tool_calls: %s", truncateForLog(string(message.ToolCalls), fragmentPreviewLimit))
	}

	return "", failure.NoUsableOutput("unsupported message content: %s", truncateForLog(string(message.Content), fragmentPreviewLimit))
}

func extractRichText(raw json.RawMessage) (string, bool) {
	fragments := gatherTextFragments(raw)
	if len(fragments) == 0 {
		return "", false
	}
	combined := strings.TrimSpace(strings.Join(fragments, "\n"))
	if combined == "" {
		return "", false
	}
	return combined, true
}

func gatherTextFragments(raw json.RawMessage) []string {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return flattenText(data)
}

func flattenText(value any) []string {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	case []any:
		var collected []string
		for _, item := range v {
			collected = append(collected, flattenText(item)...)
		}
		return collected
	case map[string]any:
		if text, ok := v["text"]; ok {
			return flattenText(text)
		}
		if content, ok := v["content"]; ok {
			return flattenText(content)
		}
		if valuePart, ok := v["value"]; ok {
			return flattenText(valuePart)
		}
		return nil
	default:
		return nil
	}
}

func decodeRefusal(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == jsonNull {
		return ""
	}
	var refusalString string
	if err := json.Unmarshal(raw, &refusalString); err == nil {
		return strings.TrimSpace(refusalString)
	}
	if text, ok := extractRichText(raw); ok {
		return text
	}
	return strings.TrimSpace(truncateForLog(string(raw), refusalPreviewLimit))
}
