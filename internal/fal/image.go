package fal

import (
	"context"

	"github.com/pkg/errors"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/media"
	"github.com/temirov/autoreel/internal/pipeline"
)

const DefaultImageModel = "fal-ai/flux/dev"

type imageInput struct {
	Prompt    string `json:"prompt"`
	ImageSize string `json:"image_size,omitempty"`
	NumImages int    `json:"num_images"`
	SyncMode  bool   `json:"sync_mode,omitempty"`
}

// ImageAdapter generates one image per prompt. With Inline set, fal returns
// the image as a data URI instead of a hosted URL.
type ImageAdapter struct {
	Client    Client
	Model     string
	ImageSize string
	Inline    bool
}

func (a ImageAdapter) ImageStrategies() []pipeline.ImageStrategy {
	return []pipeline.ImageStrategy{
		{Name: StrategySubscribe, Invoke: func(ctx context.Context, request pipeline.ImageRequest) (media.ImageReference, error) {
			response, err := a.Client.Subscribe(ctx, a.model(), a.input(request))
			if err != nil {
				return media.ImageReference{}, err
			}
			return imageFrom(response)
		}},
		{Name: StrategyPoll, Invoke: func(ctx context.Context, request pipeline.ImageRequest) (media.ImageReference, error) {
			response, err := a.Client.SubmitAndPoll(ctx, a.model(), a.input(request), request.Observer)
			if err != nil {
				return media.ImageReference{}, err
			}
			return imageFrom(response)
		}},
	}
}

func (a ImageAdapter) input(request pipeline.ImageRequest) imageInput {
	return imageInput{Prompt: request.Prompt, ImageSize: a.ImageSize, NumImages: 1, SyncMode: a.Inline}
}

func (a ImageAdapter) model() string {
	if a.Model == "" {
		return DefaultImageModel
	}
	return a.Model
}

func imageFrom(response Response) (media.ImageReference, error) {
	location := ExtractImageURL(response)
	if location == "" {
		return media.ImageReference{}, failure.NoUsableOutput("fal returned no image")
	}
	reference, err := media.ParseImageReference(location)
	if err != nil {
		return media.ImageReference{}, &failure.ProviderError{Provider: ProviderName, Message: "unusable image reference", Cause: errors.Wrap(err, "parse image reference")}
	}
	return reference, nil
}
