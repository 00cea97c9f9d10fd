package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/temirov/autoreel/internal/failure"
)

func chatServer(t *testing.T, status int, payload any) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(status)
		if err := json.NewEncoder(writer).Encode(payload); err != nil {
			t.Errorf("encode: %v", err)
		}
	}))
}

func choice(message map[string]any, finishReason string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{"message": message, "finish_reason": finishReason},
		},
	}
}

func TestCreateChatCompletion(t *testing.T) {
	testCases := []struct {
		name           string
		status         int
		payload        any
		expectedText   string
		expectedKind   failure.Kind
		expectedStatus int
	}{
		{
			name:         "trims plain content",
			status:       http.StatusOK,
			payload:      choice(map[string]any{"role": "assistant", "content": "  result  "}, "stop"),
			expectedText: "result",
		},
		{
			name:   "flattens structured content",
			status: http.StatusOK,
			payload: choice(map[string]any{
				"role": "assistant",
				"content": []any{
					map[string]any{"type": "output_text", "text": []any{map[string]any{"type": "text", "text": "alpha"}}},
					map[string]any{"type": "output_text", "text": "beta"},
				},
			}, "stop"),
			expectedText: "alpha\nbeta",
		},
		{
			name:         "empty content with stop is empty text",
			status:       http.StatusOK,
			payload:      choice(map[string]any{"role": "assistant", "content": ""}, "stop"),
			expectedText: "",
		},
		{
			name:         "empty content cut by length is no usable output",
			status:       http.StatusOK,
			payload:      choice(map[string]any{"role": "assistant", "content": ""}, "length"),
			expectedKind: failure.KindNoUsableOutput,
		},
		{
			name:         "refusal is no usable output",
			status:       http.StatusOK,
			payload:      choice(map[string]any{"role": "assistant", "content": nil, "refusal": "I can't help with that"}, "stop"),
			expectedKind: failure.KindNoUsableOutput,
		},
		{
			name:         "missing choices is no usable output",
			status:       http.StatusOK,
			payload:      map[string]any{"choices": []any{}},
			expectedKind: failure.KindNoUsableOutput,
		},
		{
			name:           "rate limit keeps provider message and status",
			status:         http.StatusTooManyRequests,
			payload:        map[string]any{"error": map[string]any{"message": "Rate limit exceeded"}},
			expectedKind:   failure.KindQuotaExceeded,
			expectedStatus: http.StatusTooManyRequests,
		},
		{
			name:           "invalid key is a credential failure",
			status:         http.StatusUnauthorized,
			payload:        map[string]any{"error": map[string]any{"message": "No auth credentials found"}},
			expectedKind:   failure.KindCredential,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "overload is transient",
			status:         http.StatusServiceUnavailable,
			payload:        map[string]any{"error": map[string]any{"message": "model overloaded"}},
			expectedKind:   failure.KindTransient,
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(testingT *testing.T) {
			server := chatServer(testingT, testCase.status, testCase.payload)
			defer server.Close()

			client := Client{HTTPBaseURL: server.URL, APIKey: "test"}
			result, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
			if testCase.expectedKind != "" {
				if failure.Classify(err) != testCase.expectedKind {
					testingT.Fatalf("expected %s, got %v", testCase.expectedKind, err)
				}
				if testCase.expectedStatus != 0 {
					providerErr, ok := err.(*failure.ProviderError)
					if !ok || providerErr.HTTPStatus != testCase.expectedStatus || providerErr.Provider != ProviderName {
						testingT.Fatalf("expected provider error with status %d, got %#v", testCase.expectedStatus, err)
					}
				}
				return
			}
			if err != nil {
				testingT.Fatalf("unexpected error: %v", err)
			}
			if result != testCase.expectedText {
				testingT.Fatalf("expected %q, got %q", testCase.expectedText, result)
			}
		})
	}
}

func TestCreateChatCompletionErrorMessage(t *testing.T) {
	server := chatServer(t, http.StatusTooManyRequests, map[string]any{"error": map[string]any{"message": "Rate limit exceeded"}})
	defer server.Close()

	client := Client{HTTPBaseURL: server.URL, APIKey: "test"}
	_, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	envelope := failure.EnvelopeFor(err)
	if envelope.Message != "openrouter: Rate limit exceeded" || !envelope.Retryable {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}
