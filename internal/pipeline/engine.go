package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/fallback"
	"github.com/temirov/autoreel/internal/media"
	"github.com/temirov/autoreel/internal/retry"
)

const (
	DefaultScriptTimeout   = 60 * time.Second
	DefaultImageTimeout    = 120 * time.Second
	DefaultVideoTimeout    = 120 * time.Second
	DefaultSubtitleTimeout = 60 * time.Second
	DefaultAssetTimeout    = 30 * time.Second

	promptRequiredMessage       = "prompt is required"
	scriptRequiredMessage       = "script is required"
	imagesRequiredMessage       = "images must contain at least one image"
	imageEntryEmptyFormat       = "images[%d] is empty"
	imageEntryInvalidFormat     = "images[%d] is not a usable image reference"
	inputRequiredFormat         = "%s input is required"
	stageMismatchFormat         = "request stage %s does not match %s input"
	unsupportedInputFormat      = "unsupported stage input %T"
	providerMissingFormat       = "no %s provider is configured"
	noPromptsMessage            = "no image prompts could be derived from the text"
	emptyScriptMessage          = "script provider returned no text"
	emptySubtitleMessage        = "subtitle provider returned no text"
	emptyVideoMessage           = "video provider returned no video URL"
	tooFewImagesFormat          = "only %d of %d images were generated, at least %d required"
	chatStrategyName            = "chat"
	strategyOperationNameFormat = "%s/%s"
)

// Options bounds each stage. Stage timeouts apply per attempt. VideoBudget
// bounds the whole video invocation across retries and fallback, and
// AssetTimeout bounds each upload to or download from the asset host.
type Options struct {
	ScriptTimeout       time.Duration
	ImageTimeout        time.Duration
	VideoTimeout        time.Duration
	VideoBudget         time.Duration
	SubtitleTimeout     time.Duration
	AssetTimeout        time.Duration
	MaxImagePrompts     int
	MinSuccessfulImages int
	ImageConcurrency    int
	DefaultVideoPrompt  string
	ScriptModel         string
	SubtitleModel       string
}

func DefaultOptions() Options {
	return Options{
		ScriptTimeout:       DefaultScriptTimeout,
		ImageTimeout:        DefaultImageTimeout,
		VideoTimeout:        DefaultVideoTimeout,
		SubtitleTimeout:     DefaultSubtitleTimeout,
		AssetTimeout:        DefaultAssetTimeout,
		MaxImagePrompts:     DefaultMaxImagePrompts,
		MinSuccessfulImages: 1,
		ImageConcurrency:    DefaultMaxImagePrompts,
		DefaultVideoPrompt:  DefaultVideoPrompt,
	}
}

// Orchestrator runs one stage per GenerationRequest. It holds no per-request
// state, so a single instance serves concurrent requests.
type Orchestrator struct {
	Script   LLMClient
	Subtitle LLMClient
	Images   ImageGenerator
	Video    VideoGenerator
	Bridge   Bridger
	Rehost   Rehoster
	Retry    retry.Policy
	Options  Options
	Observer ProgressObserver
	Logger   *zap.Logger
}

// Run validates the request input, invokes the stage's providers and reports
// the outcome as a StageResult. It never returns a success without a payload.
func (o *Orchestrator) Run(ctx context.Context, request GenerationRequest) StageResult {
	logger := o.logger().With(zap.String("request_id", request.ID), zap.String("stage", string(request.Stage)))
	startedAt := time.Now()
	logger.Info("stage started")

	payload, err := o.dispatch(ctx, request)
	if err != nil {
		result := failed(err)
		logger.Error("stage failed",
			zap.String("kind", string(result.Error.Kind)),
			zap.Int("status", result.Error.HTTPStatus),
			zap.Duration("elapsed", time.Since(startedAt)),
			zap.Error(err),
		)
		return result
	}
	logger.Info("stage finished", zap.Duration("elapsed", time.Since(startedAt)))
	return succeeded(payload)
}

func (o *Orchestrator) dispatch(ctx context.Context, request GenerationRequest) (any, error) {
	if request.Input == nil {
		return nil, failure.Validation(inputRequiredFormat, request.Stage)
	}
	if request.Stage != "" && request.Stage != request.Input.Stage() {
		return nil, failure.Validation(stageMismatchFormat, request.Stage, request.Input.Stage())
	}
	observer := o.observerFor(request)

	switch input := request.Input.(type) {
	case ScriptInput:
		return o.runScript(ctx, input)
	case ImageInput:
		return o.runImages(ctx, input, observer)
	case VideoInput:
		return o.runVideo(ctx, input, observer)
	case SubtitleInput:
		return o.runSubtitle(ctx, input)
	default:
		return nil, failure.Validation(unsupportedInputFormat, request.Input)
	}
}

func (o *Orchestrator) runScript(ctx context.Context, input ScriptInput) (ScriptPayload, error) {
	if strings.TrimSpace(input.Topic) == "" {
		return ScriptPayload{}, failure.Validation(promptRequiredMessage)
	}
	if o.Script == nil {
		return ScriptPayload{}, failure.New(failure.KindProvider, fmt.Sprintf(providerMissingFormat, StageScript))
	}
	chatRequest := scriptRequest(input.Topic)
	chatRequest.Model = o.Options.ScriptModel

	response, err := invoke(ctx, o, StageScript, o.Options.ScriptTimeout, chatRequest, chatStrategies(o.Script))
	if err != nil {
		return ScriptPayload{}, err
	}
	script := strings.TrimSpace(response.RawText)
	if script == "" {
		return ScriptPayload{}, failure.NoUsableOutput(emptyScriptMessage)
	}
	return ScriptPayload{Script: script}, nil
}

func (o *Orchestrator) runImages(ctx context.Context, input ImageInput, observer ProgressObserver) (ImagePayload, error) {
	if strings.TrimSpace(input.Text) == "" {
		return ImagePayload{}, failure.Validation(promptRequiredMessage)
	}
	prompts := DeriveImagePrompts(input.Text, o.Options.MaxImagePrompts)
	if len(prompts) == 0 {
		return ImagePayload{}, failure.Validation(noPromptsMessage)
	}
	if o.Images == nil {
		return ImagePayload{}, failure.New(failure.KindProvider, fmt.Sprintf(providerMissingFormat, StageImage))
	}

	references := make([]media.ImageReference, len(prompts))
	failures := make([]error, len(prompts))
	var group errgroup.Group
	group.SetLimit(o.imageConcurrency(len(prompts)))
	for index, prompt := range prompts {
		group.Go(func() error {
			reference, err := invoke(ctx, o, StageImage, o.Options.ImageTimeout, ImageRequest{Prompt: prompt, Observer: observer}, o.Images.ImageStrategies())
			if err != nil {
				failures[index] = err
				return nil
			}
			if o.Rehost != nil {
				location, rehostErr := o.rehost(ctx, reference)
				if rehostErr != nil {
					failures[index] = rehostErr
					return nil
				}
				reference = media.FromURL(location)
			}
			references[index] = reference
			return nil
		})
	}
	_ = group.Wait()

	var payload ImagePayload
	var firstFailure error
	for index, prompt := range prompts {
		if failures[index] != nil {
			if firstFailure == nil {
				firstFailure = failures[index]
			}
			o.logger().Warn("image prompt failed", zap.Int("prompt_index", index), zap.Error(failures[index]))
			continue
		}
		payload.Images = append(payload.Images, references[index].String())
		payload.Prompts = append(payload.Prompts, prompt)
	}

	minimum := min(o.minSuccessfulImages(), len(prompts))
	if len(payload.Images) < minimum {
		if firstFailure != nil {
			return ImagePayload{}, firstFailure
		}
		return ImagePayload{}, failure.NoUsableOutput(tooFewImagesFormat, len(payload.Images), len(prompts), minimum)
	}
	return payload, nil
}

func (o *Orchestrator) runVideo(ctx context.Context, input VideoInput, observer ProgressObserver) (VideoPayload, error) {
	if len(input.Images) == 0 {
		return VideoPayload{}, failure.Validation(imagesRequiredMessage)
	}
	references := make([]media.ImageReference, 0, len(input.Images))
	for index, raw := range input.Images {
		if strings.TrimSpace(raw) == "" {
			return VideoPayload{}, failure.Validation(imageEntryEmptyFormat, index)
		}
		reference, parseErr := media.ParseImageReference(raw)
		if parseErr != nil {
			return VideoPayload{}, failure.Wrap(failure.KindValidation, fmt.Sprintf(imageEntryInvalidFormat, index), parseErr)
		}
		references = append(references, reference)
	}
	if o.Video == nil {
		return VideoPayload{}, failure.New(failure.KindProvider, fmt.Sprintf(providerMissingFormat, StageVideo))
	}

	locations := make([]media.PublicURL, 0, len(references))
	for _, reference := range references {
		location, bridgeErr := o.bridge(ctx, reference)
		if bridgeErr != nil {
			return VideoPayload{}, bridgeErr
		}
		locations = append(locations, location)
	}

	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		prompt = o.defaultVideoPrompt()
	}
	videoRequest := VideoRequest{Images: locations, Prompt: prompt, Observer: observer}
	budgetContext, cancel := withOptionalTimeout(ctx, o.Options.VideoBudget)
	defer cancel()
	result, err := invoke(budgetContext, o, StageVideo, o.Options.VideoTimeout, videoRequest, o.Video.VideoStrategies())
	if err != nil {
		return VideoPayload{}, err
	}
	if strings.TrimSpace(result.URL) == "" {
		return VideoPayload{}, failure.NoUsableOutput(emptyVideoMessage)
	}
	payload := VideoPayload{VideoURL: result.URL}
	if result.Duration > 0 {
		duration := result.Duration
		payload.Duration = &duration
	}
	return payload, nil
}

func (o *Orchestrator) runSubtitle(ctx context.Context, input SubtitleInput) (SubtitlePayload, error) {
	if strings.TrimSpace(input.Script) == "" {
		return SubtitlePayload{}, failure.Validation(scriptRequiredMessage)
	}
	if o.Subtitle == nil {
		return SubtitlePayload{}, failure.New(failure.KindProvider, fmt.Sprintf(providerMissingFormat, StageSubtitle))
	}
	chatRequest := subtitleRequest(input.Script)
	chatRequest.Model = o.Options.SubtitleModel

	response, err := invoke(ctx, o, StageSubtitle, o.Options.SubtitleTimeout, chatRequest, chatStrategies(o.Subtitle))
	if err != nil {
		return SubtitlePayload{}, err
	}
	subtitles := stripCodeFence(response.RawText)
	if subtitles == "" {
		return SubtitlePayload{}, failure.NoUsableOutput(emptySubtitleMessage)
	}
	return SubtitlePayload{SRT: subtitles}, nil
}

func (o *Orchestrator) bridge(ctx context.Context, reference media.ImageReference) (media.PublicURL, error) {
	if location, ok := reference.PublicURL(); ok {
		return location, nil
	}
	if o.Bridge == nil {
		return "", failure.Bridge("no asset host is configured for inline images", nil)
	}
	assetContext, cancel := withOptionalTimeout(ctx, o.Options.AssetTimeout)
	defer cancel()
	return o.Bridge.Bridge(assetContext, reference)
}

func (o *Orchestrator) rehost(ctx context.Context, reference media.ImageReference) (media.PublicURL, error) {
	assetContext, cancel := withOptionalTimeout(ctx, o.Options.AssetTimeout)
	defer cancel()
	return o.Rehost.Rehost(assetContext, reference)
}

// invoke runs strategies through the fallback selector. Every strategy call is
// wrapped by the retry policy, and every attempt gets its own deadline.
func invoke[In any, Out any](ctx context.Context, o *Orchestrator, stage Stage, timeout time.Duration, input In, strategies []fallback.Strategy[In, Out]) (Out, error) {
	guarded := make([]fallback.Strategy[In, Out], 0, len(strategies))
	for _, strategy := range strategies {
		operation := fmt.Sprintf(strategyOperationNameFormat, stage, strategy.Name)
		guarded = append(guarded, fallback.Strategy[In, Out]{
			Name: strategy.Name,
			Invoke: func(ctx context.Context, input In) (Out, error) {
				return retry.Do(ctx, o.Retry, operation, func(ctx context.Context) (Out, error) {
					attemptContext, cancel := withOptionalTimeout(ctx, timeout)
					defer cancel()
					return strategy.Invoke(attemptContext, input)
				})
			},
		})
	}
	return fallback.Select(ctx, o.logger(), input, guarded)
}

func chatStrategies(client LLMClient) []fallback.Strategy[LLMRequest, LLMResponse] {
	return []fallback.Strategy[LLMRequest, LLMResponse]{{Name: chatStrategyName, Invoke: client.Chat}}
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (o *Orchestrator) observerFor(request GenerationRequest) ProgressObserver {
	if o.Observer == nil {
		return nil
	}
	return func(event ProgressEvent) {
		event.RequestID = request.ID
		event.Stage = request.Input.Stage()
		o.Observer.Notify(event)
	}
}

func (o *Orchestrator) imageConcurrency(prompts int) int {
	if o.Options.ImageConcurrency > 0 && o.Options.ImageConcurrency < prompts {
		return o.Options.ImageConcurrency
	}
	return prompts
}

func (o *Orchestrator) minSuccessfulImages() int {
	if o.Options.MinSuccessfulImages > 0 {
		return o.Options.MinSuccessfulImages
	}
	return 1
}

func (o *Orchestrator) defaultVideoPrompt() string {
	if prompt := strings.TrimSpace(o.Options.DefaultVideoPrompt); prompt != "" {
		return prompt
	}
	return DefaultVideoPrompt
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
