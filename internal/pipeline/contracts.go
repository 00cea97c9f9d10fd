package pipeline

import (
	"context"

	"github.com/temirov/autoreel/internal/fallback"
	"github.com/temirov/autoreel/internal/media"
)

type LLMRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
	Model        string
}

type LLMResponse struct {
	RawText string
}

// LLMClient generates text for the script and subtitle stages.
type LLMClient interface {
	Chat(ctx context.Context, request LLMRequest) (LLMResponse, error)
}

// ProgressEvent is an informational update emitted while a provider call is in flight.
type ProgressEvent struct {
	RequestID string
	Stage     Stage
	Provider  string
	Message   string
}

// ProgressObserver receives progress events. It must not influence the result of the call.
type ProgressObserver func(ProgressEvent)

// Notify is safe to call on a nil observer.
func (observer ProgressObserver) Notify(event ProgressEvent) {
	if observer != nil {
		observer(event)
	}
}

type ImageRequest struct {
	Prompt   string
	Observer ProgressObserver
}

// VideoRequest only carries public URLs, so inline payloads cannot reach a video provider.
type VideoRequest struct {
	Images   []media.PublicURL
	Prompt   string
	Observer ProgressObserver
}

type VideoResult struct {
	URL      string
	Duration float64
}

type ImageStrategy = fallback.Strategy[ImageRequest, media.ImageReference]
type VideoStrategy = fallback.Strategy[VideoRequest, VideoResult]

// ImageGenerator exposes its invocation strategies in priority order.
type ImageGenerator interface {
	ImageStrategies() []ImageStrategy
}

// VideoGenerator exposes its invocation strategies in priority order.
type VideoGenerator interface {
	VideoStrategies() []VideoStrategy
}

// Bridger converts an image reference into a URL a remote provider can fetch.
type Bridger interface {
	Bridge(ctx context.Context, reference media.ImageReference) (media.PublicURL, error)
}

// Rehoster copies a generated image onto the asset host so that the returned
// URL outlives the provider's temporary link.
type Rehoster interface {
	Rehost(ctx context.Context, reference media.ImageReference) (media.PublicURL, error)
}
