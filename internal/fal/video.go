package fal

import (
	"context"
	"strconv"
	"strings"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/pipeline"
)

const (
	DefaultVideoModel    = "fal-ai/kling-video/v1.6/standard/image-to-video"
	DefaultVideoDuration = "5"
)

type videoInput struct {
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url"`
	Duration string `json:"duration,omitempty"`
}

// VideoAdapter animates the first image of the request.
type VideoAdapter struct {
	Client   Client
	Model    string
	Duration string
}

func (a VideoAdapter) VideoStrategies() []pipeline.VideoStrategy {
	return []pipeline.VideoStrategy{
		{Name: StrategySubscribe, Invoke: func(ctx context.Context, request pipeline.VideoRequest) (pipeline.VideoResult, error) {
			input, err := a.input(request)
			if err != nil {
				return pipeline.VideoResult{}, err
			}
			response, err := a.Client.Subscribe(ctx, a.model(), input)
			if err != nil {
				return pipeline.VideoResult{}, err
			}
			return a.videoFrom(response)
		}},
		{Name: StrategyPoll, Invoke: func(ctx context.Context, request pipeline.VideoRequest) (pipeline.VideoResult, error) {
			input, err := a.input(request)
			if err != nil {
				return pipeline.VideoResult{}, err
			}
			response, err := a.Client.SubmitAndPoll(ctx, a.model(), input, request.Observer)
			if err != nil {
				return pipeline.VideoResult{}, err
			}
			return a.videoFrom(response)
		}},
	}
}

func (a VideoAdapter) input(request pipeline.VideoRequest) (videoInput, error) {
	if len(request.Images) == 0 {
		return videoInput{}, failure.Validation("images must contain at least one image")
	}
	return videoInput{Prompt: request.Prompt, ImageURL: request.Images[0].String(), Duration: a.duration()}, nil
}

func (a VideoAdapter) videoFrom(response Response) (pipeline.VideoResult, error) {
	location := ExtractVideoURL(response)
	if location == "" {
		return pipeline.VideoResult{}, failure.NoUsableOutput("fal returned no video")
	}
	result := pipeline.VideoResult{URL: location}
	if seconds, err := strconv.ParseFloat(strings.TrimSpace(a.duration()), 64); err == nil {
		result.Duration = seconds
	}
	return result, nil
}

func (a VideoAdapter) model() string {
	if a.Model == "" {
		return DefaultVideoModel
	}
	return a.Model
}

func (a VideoAdapter) duration() string {
	if a.Duration == "" {
		return DefaultVideoDuration
	}
	return a.Duration
}
