// Package placeholder answers the video stage with a configured static asset
// when no rendering provider is selected.
package placeholder

import (
	"context"
	"strings"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/pipeline"
)

const (
	ProviderName    = "placeholder"
	DefaultVideoURL = "/static/demo.mp4"
	strategyName    = "static"
)

type Provider struct {
	VideoURL string
	Duration float64
}

func (p Provider) VideoStrategies() []pipeline.VideoStrategy {
	return []pipeline.VideoStrategy{{Name: strategyName, Invoke: p.Generate}}
}

func (p Provider) Generate(ctx context.Context, request pipeline.VideoRequest) (pipeline.VideoResult, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.VideoResult{}, err
	}
	location := strings.TrimSpace(p.VideoURL)
	if location == "" {
		location = DefaultVideoURL
	}
	if len(request.Images) == 0 {
		return pipeline.VideoResult{}, failure.Validation("images must contain at least one image")
	}
	request.Observer.Notify(pipeline.ProgressEvent{Provider: ProviderName, Message: "returning static video"})
	return pipeline.VideoResult{URL: location, Duration: p.Duration}, nil
}
