// Package ark generates images with Seedream and image-to-video clips with
// Seedance through the Volcengine Ark runtime.
package ark

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
	"go.uber.org/zap"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/media"
	"github.com/temirov/autoreel/internal/pipeline"
	"github.com/temirov/autoreel/internal/retry"
)

const (
	ProviderName        = "ark"
	DefaultBaseURL      = "https://ark.cn-beijing.volces.com/api/v3"
	DefaultImageModel   = "doubao-seedream-4-0-250828"
	DefaultVideoModel   = "doubao-seedance-1-0-pro-250528"
	DefaultImageSize    = "1K"
	DefaultResolution   = "720p"
	DefaultDuration     = 5
	DefaultPollInterval = 5 * time.Second

	imageStrategyName = "generate_images"
	videoStrategyName = "content_generation_task"
	taskSucceeded     = "succeeded"
	taskFailed        = "failed"
	taskCancelled     = "cancelled"
	taskStatusMessage = "task "
)

var statusCodePattern = regexp.MustCompile(`status code:?\s*(\d{3})`)

// Runtime is the part of the Ark client this package uses.
type Runtime interface {
	GenerateImages(ctx context.Context, request model.GenerateImagesRequest) (model.ImagesResponse, error)
	CreateContentGenerationTask(ctx context.Context, request model.CreateContentGenerationTaskRequest) (model.CreateContentGenerationTaskResponse, error)
	GetContentGenerationTask(ctx context.Context, request model.GetContentGenerationTaskRequest) (model.GetContentGenerationTaskResponse, error)
}

type sdkRuntime struct {
	client *arkruntime.Client
}

func (r sdkRuntime) GenerateImages(ctx context.Context, request model.GenerateImagesRequest) (model.ImagesResponse, error) {
	return r.client.GenerateImages(ctx, request)
}

func (r sdkRuntime) CreateContentGenerationTask(ctx context.Context, request model.CreateContentGenerationTaskRequest) (model.CreateContentGenerationTaskResponse, error) {
	return r.client.CreateContentGenerationTask(ctx, request)
}

func (r sdkRuntime) GetContentGenerationTask(ctx context.Context, request model.GetContentGenerationTaskRequest) (model.GetContentGenerationTaskResponse, error) {
	return r.client.GetContentGenerationTask(ctx, request)
}

// NewRuntime builds an Ark client. It returns nil for a blank key so that the
// provider reports a missing credential instead of calling the API.
func NewRuntime(apiKey string, baseURL string) Runtime {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return sdkRuntime{client: arkruntime.NewClientWithApiKey(apiKey, arkruntime.WithBaseUrl(baseURL))}
}

type Provider struct {
	Runtime      Runtime
	ImageModel   string
	ImageSize    string
	Watermark    bool
	VideoModel   string
	Resolution   string
	Duration     int
	PollInterval time.Duration
	Logger       *zap.Logger
}

func (p Provider) ImageStrategies() []pipeline.ImageStrategy {
	return []pipeline.ImageStrategy{{Name: imageStrategyName, Invoke: p.GenerateImage}}
}

func (p Provider) VideoStrategies() []pipeline.VideoStrategy {
	return []pipeline.VideoStrategy{{Name: videoStrategyName, Invoke: p.GenerateVideo}}
}

func (p Provider) GenerateImage(ctx context.Context, request pipeline.ImageRequest) (media.ImageReference, error) {
	if p.Runtime == nil {
		return media.ImageReference{}, failure.Credential(ProviderName)
	}
	response, err := p.Runtime.GenerateImages(ctx, model.GenerateImagesRequest{
		Model:          orDefault(p.ImageModel, DefaultImageModel),
		Prompt:         request.Prompt,
		Size:           volcengine.String(orDefault(p.ImageSize, DefaultImageSize)),
		ResponseFormat: volcengine.String(model.GenerateImagesResponseFormatURL),
		Watermark:      volcengine.Bool(p.Watermark),
	})
	if err != nil {
		return media.ImageReference{}, sdkError(err)
	}
	if response.Error != nil {
		return media.ImageReference{}, &failure.ProviderError{Provider: ProviderName, Message: response.Error.Code + ": " + response.Error.Message}
	}
	location := firstImageURL(response)
	if location == "" {
		return media.ImageReference{}, failure.NoUsableOutput("ark returned no image")
	}
	return media.FromURL(media.PublicURL(location)), nil
}

// GenerateVideo creates a content generation task from the prompt and the
// first image and polls it until it reaches a final status.
func (p Provider) GenerateVideo(ctx context.Context, request pipeline.VideoRequest) (pipeline.VideoResult, error) {
	if p.Runtime == nil {
		return pipeline.VideoResult{}, failure.Credential(ProviderName)
	}
	if len(request.Images) == 0 {
		return pipeline.VideoResult{}, failure.Validation("images must contain at least one image")
	}

	duration := p.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	created, err := p.Runtime.CreateContentGenerationTask(ctx, model.CreateContentGenerationTaskRequest{
		Model: orDefault(p.VideoModel, DefaultVideoModel),
		Content: []*model.CreateContentGenerationContentItem{
			{
				Type: model.ContentGenerationContentItemTypeText,
				Text: volcengine.String(videoText(request.Prompt, orDefault(p.Resolution, DefaultResolution), duration)),
			},
			{
				Type:     model.ContentGenerationContentItemTypeImage,
				ImageURL: &model.ImageURL{URL: request.Images[0].String()},
			},
		},
	})
	if err != nil {
		return pipeline.VideoResult{}, sdkError(err)
	}
	if created.ID == "" {
		return pipeline.VideoResult{}, &failure.ProviderError{Provider: ProviderName, Message: "task was created without an id"}
	}

	logger := p.logger().With(zap.String("ark_task_id", created.ID))
	logger.Debug("created ark content generation task")
	lastStatus := ""
	for {
		query := model.GetContentGenerationTaskRequest{}
		query.ID = created.ID
		task, getErr := p.Runtime.GetContentGenerationTask(ctx, query)
		if getErr != nil {
			return pipeline.VideoResult{}, sdkError(getErr)
		}
		status := strings.ToLower(task.Status)
		if status != lastStatus {
			lastStatus = status
			request.Observer.Notify(pipeline.ProgressEvent{Provider: ProviderName, Message: taskStatusMessage + status})
		}

		switch status {
		case taskSucceeded:
			if strings.TrimSpace(task.Content.VideoURL) == "" {
				return pipeline.VideoResult{}, failure.NoUsableOutput("ark task finished without a video")
			}
			return pipeline.VideoResult{URL: strings.TrimSpace(task.Content.VideoURL), Duration: float64(duration)}, nil
		case taskFailed, taskCancelled:
			return pipeline.VideoResult{}, &failure.ProviderError{Provider: ProviderName, Message: "task " + status}
		}

		if sleepErr := retry.SleepContext(ctx, p.pollInterval()); sleepErr != nil {
			return pipeline.VideoResult{}, sleepErr
		}
	}
}

func videoText(prompt string, resolution string, duration int) string {
	return strings.TrimSpace(prompt) + " --resolution " + resolution + " --duration " + strconv.Itoa(duration)
}

func firstImageURL(response model.ImagesResponse) string {
	for _, image := range response.Data {
		if image.Url != nil && strings.TrimSpace(*image.Url) != "" {
			return strings.TrimSpace(*image.Url)
		}
	}
	return ""
}

// sdkError keeps the SDK error as the cause and recovers the HTTP status from
// its message so the shared classifier can decide the kind.
func sdkError(err error) error {
	if err == nil {
		return nil
	}
	providerErr := &failure.ProviderError{Provider: ProviderName, Message: err.Error(), Cause: err}
	if match := statusCodePattern.FindStringSubmatch(err.Error()); match != nil {
		if status, convErr := strconv.Atoi(match[1]); convErr == nil {
			providerErr.HTTPStatus = status
		}
	}
	return providerErr
}

func (p Provider) pollInterval() time.Duration {
	if p.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return p.PollInterval
}

func (p Provider) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func orDefault(value string, fallbackValue string) string {
	if strings.TrimSpace(value) == "" {
		return fallbackValue
	}
	return strings.TrimSpace(value)
}
