package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/temirov/autoreel/internal/assethost"
	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/fallback"
	"github.com/temirov/autoreel/internal/media"
	"github.com/temirov/autoreel/internal/pipeline"
	"github.com/temirov/autoreel/internal/retry"
)

const catFactsScript = `SHOT: a tabby cat stretching in a sunbeam on a wooden floor
Cats sleep for most of the day.
SHOT: close up of whiskers twitching
Scene: a cat leaping between rooftops at dusk
They can rotate their ears 180 degrees.
Visual: kittens tumbling over a ball of yarn`

type scriptedChat struct {
	mu        sync.Mutex
	responses []string
	failures  []error
	requests  []pipeline.LLMRequest
}

func (client *scriptedChat) Chat(ctx context.Context, request pipeline.LLMRequest) (pipeline.LLMResponse, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	call := len(client.requests)
	client.requests = append(client.requests, request)
	if call < len(client.failures) && client.failures[call] != nil {
		return pipeline.LLMResponse{}, client.failures[call]
	}
	if call >= len(client.responses) {
		return pipeline.LLMResponse{}, errors.New("no more responses")
	}
	return pipeline.LLMResponse{RawText: client.responses[call]}, nil
}

func (client *scriptedChat) calls() int {
	client.mu.Lock()
	defer client.mu.Unlock()
	return len(client.requests)
}

type fakeImages struct {
	delays   map[string]time.Duration
	failures map[string]error
	calls    atomic.Int32
}

func (images *fakeImages) ImageStrategies() []pipeline.ImageStrategy {
	return []pipeline.ImageStrategy{{
		Name: "fake",
		Invoke: func(ctx context.Context, request pipeline.ImageRequest) (media.ImageReference, error) {
			images.calls.Add(1)
			for fragment, delay := range images.delays {
				if strings.Contains(request.Prompt, fragment) {
					time.Sleep(delay)
				}
			}
			for fragment, err := range images.failures {
				if strings.Contains(request.Prompt, fragment) {
					return media.ImageReference{}, err
				}
			}
			return media.FromURL(media.PublicURL("https://img.example.test/" + slug(request.Prompt))), nil
		},
	}}
}

type fakeVideo struct {
	strategies []pipeline.VideoStrategy
	received   []pipeline.VideoRequest
	mu         sync.Mutex
}

func (video *fakeVideo) VideoStrategies() []pipeline.VideoStrategy {
	if video.strategies != nil {
		return video.strategies
	}
	return []pipeline.VideoStrategy{{
		Name: "fake",
		Invoke: func(ctx context.Context, request pipeline.VideoRequest) (pipeline.VideoResult, error) {
			video.mu.Lock()
			video.received = append(video.received, request)
			video.mu.Unlock()
			return pipeline.VideoResult{URL: "https://video.example.test/out.mp4", Duration: 5}, nil
		},
	}}
}

type fakeBridge struct {
	bridged []media.ImageReference
	err     error
}

func (bridge *fakeBridge) Bridge(ctx context.Context, reference media.ImageReference) (media.PublicURL, error) {
	bridge.bridged = append(bridge.bridged, reference)
	if bridge.err != nil {
		return "", bridge.err
	}
	if location, ok := reference.PublicURL(); ok {
		return location, nil
	}
	return "https://res.example.test/bridged.png", nil
}

func slug(prompt string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(prompt, "High quality, cinematic, ")), " ", "-")
}

func noSleepPolicy(t *testing.T, delays *[]time.Duration) retry.Policy {
	policy := retry.NewPolicy(zaptest.NewLogger(t))
	policy.Sleep = func(ctx context.Context, delay time.Duration) error {
		if delays != nil {
			*delays = append(*delays, delay)
		}
		return nil
	}
	return policy
}

func newOrchestrator(t *testing.T) (*pipeline.Orchestrator, *scriptedChat, *fakeImages, *fakeVideo, *fakeBridge) {
	chat := &scriptedChat{}
	images := &fakeImages{}
	video := &fakeVideo{}
	bridge := &fakeBridge{}
	orchestrator := &pipeline.Orchestrator{
		Script:   chat,
		Subtitle: chat,
		Images:   images,
		Video:    video,
		Bridge:   bridge,
		Retry:    noSleepPolicy(t, nil),
		Options:  pipeline.DefaultOptions(),
		Logger:   zaptest.NewLogger(t),
	}
	return orchestrator, chat, images, video, bridge
}

func TestOrchestratorScenarioCatFacts(t *testing.T) {
	orchestrator, chat, _, video, _ := newOrchestrator(t)
	chat.responses = []string{catFactsScript}

	scriptResult := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.ScriptInput{Topic: "cat facts"}))
	if !scriptResult.Success {
		t.Fatalf("script stage failed: %+v", scriptResult.Error)
	}
	script := scriptResult.Payload.(pipeline.ScriptPayload).Script
	if script != catFactsScript {
		t.Fatalf("unexpected script %q", script)
	}
	if !strings.HasSuffix(chat.requests[0].UserPrompt, "Idea: cat facts") {
		t.Fatalf("topic missing from prompt: %q", chat.requests[0].UserPrompt)
	}

	imageResult := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.ImageInput{Text: script}))
	if !imageResult.Success {
		t.Fatalf("image stage failed: %+v", imageResult.Error)
	}
	imagePayload := imageResult.Payload.(pipeline.ImagePayload)
	if len(imagePayload.Images) < 1 || len(imagePayload.Images) > 4 {
		t.Fatalf("expected 1-4 images, got %d", len(imagePayload.Images))
	}
	if len(imagePayload.Images) != len(imagePayload.Prompts) {
		t.Fatalf("images and prompts are misaligned: %v / %v", imagePayload.Images, imagePayload.Prompts)
	}

	videoResult := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.VideoInput{Images: imagePayload.Images}))
	if !videoResult.Success {
		t.Fatalf("video stage failed: %+v", videoResult.Error)
	}
	videoPayload := videoResult.Payload.(pipeline.VideoPayload)
	if videoPayload.VideoURL == "" {
		t.Fatalf("expected a video_url")
	}
	if videoPayload.Duration == nil || *videoPayload.Duration != 5 {
		t.Fatalf("expected duration 5, got %v", videoPayload.Duration)
	}
	if video.received[0].Prompt != pipeline.DefaultVideoPrompt {
		t.Fatalf("expected default video prompt, got %q", video.received[0].Prompt)
	}
}

func TestOrchestratorValidation(t *testing.T) {
	testCases := []struct {
		name            string
		input           pipeline.StageInput
		expectedMessage string
	}{
		{name: "blank topic", input: pipeline.ScriptInput{Topic: "   "}, expectedMessage: "prompt is required"},
		{name: "blank image text", input: pipeline.ImageInput{Text: "\n\n"}, expectedMessage: "prompt is required"},
		{name: "empty image list", input: pipeline.VideoInput{Images: []string{}}, expectedMessage: "images must contain at least one image"},
		{name: "blank image entry", input: pipeline.VideoInput{Images: []string{"https://img.example.test/a.png", " "}}, expectedMessage: "images[1] is empty"},
		{name: "malformed data uri", input: pipeline.VideoInput{Images: []string{"data:image/png;base64,@@@"}}, expectedMessage: "images[0] is not a usable image reference"},
		{name: "blank script", input: pipeline.SubtitleInput{Script: ""}, expectedMessage: "script is required"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(testingT *testing.T) {
			orchestrator, chat, images, video, bridge := newOrchestrator(testingT)
			result := orchestrator.Run(context.Background(), pipeline.NewRequest(testCase.input))
			if result.Success || result.Error == nil {
				testingT.Fatalf("expected failure, got %+v", result)
			}
			if result.Error.Kind != failure.KindValidation || result.Error.HTTPStatus != http.StatusBadRequest {
				testingT.Fatalf("expected validation 400, got %+v", result.Error)
			}
			if result.Error.Message != testCase.expectedMessage {
				testingT.Fatalf("expected %q, got %q", testCase.expectedMessage, result.Error.Message)
			}
			if chat.calls() != 0 || images.calls.Load() != 0 || len(video.received) != 0 || len(bridge.bridged) != 0 {
				testingT.Fatalf("a provider was called for invalid input")
			}
		})
	}
}

func TestOrchestratorRejectsMismatchedStage(t *testing.T) {
	orchestrator, chat, _, _, _ := newOrchestrator(t)
	request := pipeline.GenerationRequest{ID: "r1", Stage: pipeline.StageVideo, Input: pipeline.ScriptInput{Topic: "cats"}}
	result := orchestrator.Run(context.Background(), request)
	if result.Success || result.Error.Kind != failure.KindValidation {
		t.Fatalf("expected validation failure, got %+v", result)
	}
	if chat.calls() != 0 {
		t.Fatalf("chat must not be called")
	}
}

func TestOrchestratorRetriesOverloadThenSucceeds(t *testing.T) {
	var delays []time.Duration
	orchestrator, chat, _, _, _ := newOrchestrator(t)
	orchestrator.Retry = noSleepPolicy(t, &delays)
	overloaded := &failure.ProviderError{Provider: "openrouter", Message: "model is overloaded", HTTPStatus: http.StatusServiceUnavailable}
	chat.failures = []error{overloaded, overloaded}
	chat.responses = []string{"", "", "third payload"}

	result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.ScriptInput{Topic: "cat facts"}))
	if !result.Success {
		t.Fatalf("expected success, got %+v", result.Error)
	}
	if result.Payload.(pipeline.ScriptPayload).Script != "third payload" {
		t.Fatalf("unexpected payload %+v", result.Payload)
	}
	if chat.calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", chat.calls())
	}
	if len(delays) != 2 || delays[0] != retry.DefaultDelay || delays[1] != retry.DefaultDelay {
		t.Fatalf("expected two fixed delays, got %v", delays)
	}
}

func TestOrchestratorProviderFailures(t *testing.T) {
	testCases := []struct {
		name              string
		failures          []error
		responses         []string
		expectedKind      failure.Kind
		expectedStatus    int
		expectedRetryable bool
		expectedCalls     int
	}{
		{
			name:           "missing credential is not retried",
			failures:       []error{failure.Credential("openrouter")},
			expectedKind:   failure.KindCredential,
			expectedStatus: http.StatusUnauthorized,
			expectedCalls:  1,
		},
		{
			name:              "always transient gives up after three attempts",
			failures:          []error{errors.New("service unavailable"), errors.New("service unavailable"), errors.New("service unavailable")},
			expectedKind:      failure.KindTransient,
			expectedStatus:    http.StatusServiceUnavailable,
			expectedRetryable: true,
			expectedCalls:     3,
		},
		{
			name:              "plain quota is surfaced immediately",
			failures:          []error{&failure.ProviderError{Provider: "openrouter", Message: "quota exhausted", HTTPStatus: http.StatusTooManyRequests}},
			expectedKind:      failure.KindQuotaExceeded,
			expectedStatus:    http.StatusTooManyRequests,
			expectedRetryable: true,
			expectedCalls:     1,
		},
		{
			name:           "empty text is no usable output",
			responses:      []string{"   "},
			expectedKind:   failure.KindNoUsableOutput,
			expectedStatus: http.StatusInternalServerError,
			expectedCalls:  1,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(testingT *testing.T) {
			orchestrator, chat, _, _, _ := newOrchestrator(testingT)
			chat.failures = testCase.failures
			chat.responses = testCase.responses

			result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.ScriptInput{Topic: "cats"}))
			if result.Success {
				testingT.Fatalf("expected failure")
			}
			if result.Payload != nil {
				testingT.Fatalf("failure must not carry a payload")
			}
			if result.Error.Kind != testCase.expectedKind || result.Error.HTTPStatus != testCase.expectedStatus || result.Error.Retryable != testCase.expectedRetryable {
				testingT.Fatalf("unexpected envelope %+v", result.Error)
			}
			if chat.calls() != testCase.expectedCalls {
				testingT.Fatalf("expected %d calls, got %d", testCase.expectedCalls, chat.calls())
			}
		})
	}
}

func TestOrchestratorImagesKeepPromptOrder(t *testing.T) {
	orchestrator, _, images, _, _ := newOrchestrator(t)
	images.delays = map[string]time.Duration{"one": 60 * time.Millisecond, "three": 30 * time.Millisecond}
	text := "Scene one\nScene two\nScene three\nScene four"

	result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.ImageInput{Text: text}))
	if !result.Success {
		t.Fatalf("image stage failed: %+v", result.Error)
	}
	payload := result.Payload.(pipeline.ImagePayload)
	expected := []string{
		"https://img.example.test/scene-one",
		"https://img.example.test/scene-two",
		"https://img.example.test/scene-three",
		"https://img.example.test/scene-four",
	}
	if strings.Join(payload.Images, ",") != strings.Join(expected, ",") {
		t.Fatalf("expected %v, got %v", expected, payload.Images)
	}
	if payload.Prompts[1] != "High quality, cinematic, Scene two" {
		t.Fatalf("unexpected prompt %q", payload.Prompts[1])
	}
}

func TestOrchestratorImagesPartialFailure(t *testing.T) {
	text := "Scene one\nScene two\nScene three"
	rejected := &failure.ProviderError{Provider: "fal", Message: "content rejected", HTTPStatus: http.StatusUnprocessableEntity}
	unknown := &failure.ProviderError{Provider: "fal", Message: "teapot", HTTPStatus: http.StatusTeapot}

	testCases := []struct {
		name           string
		failures       map[string]error
		minSuccessful  int
		expectedImages []string
		expectedKind   failure.Kind
	}{
		{
			name:           "successful images stay aligned with their prompts",
			failures:       map[string]error{"two": rejected},
			minSuccessful:  1,
			expectedImages: []string{"https://img.example.test/scene-one", "https://img.example.test/scene-three"},
		},
		{
			name:          "too few successes surface the first failure in prompt order",
			failures:      map[string]error{"one": unknown, "two": rejected},
			minSuccessful: 2,
			expectedKind:  failure.KindProvider,
		},
		{
			name:          "all failing surfaces the first failure",
			failures:      map[string]error{"one": rejected, "two": unknown, "three": unknown},
			minSuccessful: 1,
			expectedKind:  failure.KindValidation,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(testingT *testing.T) {
			orchestrator, _, images, _, _ := newOrchestrator(testingT)
			images.failures = testCase.failures
			orchestrator.Options.MinSuccessfulImages = testCase.minSuccessful

			result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.ImageInput{Text: text}))
			if testCase.expectedKind != "" {
				if result.Success || result.Error.Kind != testCase.expectedKind {
					testingT.Fatalf("expected %s, got %+v", testCase.expectedKind, result)
				}
				return
			}
			if !result.Success {
				testingT.Fatalf("unexpected failure %+v", result.Error)
			}
			payload := result.Payload.(pipeline.ImagePayload)
			if strings.Join(payload.Images, ",") != strings.Join(testCase.expectedImages, ",") {
				testingT.Fatalf("expected %v, got %v", testCase.expectedImages, payload.Images)
			}
			if payload.Prompts[1] != "High quality, cinematic, Scene three" {
				testingT.Fatalf("prompt misaligned: %v", payload.Prompts)
			}
		})
	}
}

func TestOrchestratorVideoBridgesInlineImages(t *testing.T) {
	orchestrator, _, _, video, bridge := newOrchestrator(t)
	inline := media.Inline("image/png", []byte("pixels")).String()

	result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.VideoInput{
		Images: []string{inline, "https://img.example.test/second.png"},
		Prompt: "slow pan",
	}))
	if !result.Success {
		t.Fatalf("video stage failed: %+v", result.Error)
	}
	if len(bridge.bridged) != 1 || !bridge.bridged[0].IsInline() {
		t.Fatalf("expected exactly the inline image to be bridged, got %+v", bridge.bridged)
	}
	images := video.received[0].Images
	if len(images) != 2 || images[0] != "https://res.example.test/bridged.png" || images[1] != "https://img.example.test/second.png" {
		t.Fatalf("unexpected video input %v", images)
	}
	if video.received[0].Prompt != "slow pan" {
		t.Fatalf("expected explicit prompt, got %q", video.received[0].Prompt)
	}
}

func TestOrchestratorVideoBridgeFailure(t *testing.T) {
	orchestrator, _, _, video, bridge := newOrchestrator(t)
	bridge.err = failure.Bridge("cloudinary upload failed", errors.New("status 500"))

	result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.VideoInput{
		Images: []string{media.Inline("image/png", []byte("pixels")).String()},
	}))
	if result.Success || result.Error.Kind != failure.KindBridge {
		t.Fatalf("expected bridge failure, got %+v", result)
	}
	if len(bridge.bridged) != 1 {
		t.Fatalf("bridge must not be retried, got %d calls", len(bridge.bridged))
	}
	if len(video.received) != 0 {
		t.Fatalf("video provider must not be called after a bridge failure")
	}
}

func TestOrchestratorVideoFallsBackOnlyWhenUnavailable(t *testing.T) {
	var order []string
	subscribe := pipeline.VideoStrategy{
		Name: "subscribe",
		Invoke: func(ctx context.Context, request pipeline.VideoRequest) (pipeline.VideoResult, error) {
			order = append(order, "subscribe")
			return pipeline.VideoResult{}, fallback.Unavailable("subscribe", "run endpoint answered 405")
		},
	}
	poll := pipeline.VideoStrategy{
		Name: "poll",
		Invoke: func(ctx context.Context, request pipeline.VideoRequest) (pipeline.VideoResult, error) {
			order = append(order, "poll")
			return pipeline.VideoResult{URL: "https://video.example.test/polled.mp4"}, nil
		},
	}
	orchestrator, _, _, video, _ := newOrchestrator(t)
	video.strategies = []pipeline.VideoStrategy{subscribe, poll}

	result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.VideoInput{Images: []string{"https://img.example.test/a.png"}}))
	if !result.Success {
		t.Fatalf("expected fallback success, got %+v", result.Error)
	}
	if strings.Join(order, ",") != "subscribe,poll" {
		t.Fatalf("unexpected strategy order %v", order)
	}
	payload := result.Payload.(pipeline.VideoPayload)
	if payload.VideoURL != "https://video.example.test/polled.mp4" || payload.Duration != nil {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestOrchestratorVideoEmptyURL(t *testing.T) {
	orchestrator, _, _, video, _ := newOrchestrator(t)
	video.strategies = []pipeline.VideoStrategy{{
		Name: "empty",
		Invoke: func(ctx context.Context, request pipeline.VideoRequest) (pipeline.VideoResult, error) {
			return pipeline.VideoResult{}, nil
		},
	}}
	result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.VideoInput{Images: []string{"https://img.example.test/a.png"}}))
	if result.Success || result.Error.Kind != failure.KindNoUsableOutput {
		t.Fatalf("expected no usable output, got %+v", result)
	}
}

func TestOrchestratorAttemptTimeout(t *testing.T) {
	orchestrator, _, _, video, _ := newOrchestrator(t)
	orchestrator.Options.VideoTimeout = 20 * time.Millisecond
	var attempts atomic.Int32
	video.strategies = []pipeline.VideoStrategy{{
		Name: "slow",
		Invoke: func(ctx context.Context, request pipeline.VideoRequest) (pipeline.VideoResult, error) {
			attempts.Add(1)
			<-ctx.Done()
			return pipeline.VideoResult{}, ctx.Err()
		},
	}}

	result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.VideoInput{Images: []string{"https://img.example.test/a.png"}}))
	if result.Success || result.Error.Kind != failure.KindTimeout || result.Error.HTTPStatus != http.StatusRequestTimeout {
		t.Fatalf("expected timeout 408, got %+v", result)
	}
	if attempts.Load() != 1 {
		t.Fatalf("timeouts must not be retried, got %d attempts", attempts.Load())
	}
}

func TestOrchestratorSubtitleStripsFence(t *testing.T) {
	orchestrator, chat, _, _, _ := newOrchestrator(t)
	chat.responses = []string{"```srt\n1\n00:00:00,000 --> 00:00:02,000\nCats rule\n```"}

	result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.SubtitleInput{Script: catFactsScript}))
	if !result.Success {
		t.Fatalf("subtitle stage failed: %+v", result.Error)
	}
	srt := result.Payload.(pipeline.SubtitlePayload).SRT
	if srt != "1\n00:00:00,000 --> 00:00:02,000\nCats rule" {
		t.Fatalf("unexpected srt %q", srt)
	}
	request := chat.requests[0]
	if request.Temperature != 0.6 || request.MaxTokens != 350 {
		t.Fatalf("unexpected subtitle request %+v", request)
	}
}

func TestOrchestratorForwardsProgress(t *testing.T) {
	var events []pipeline.ProgressEvent
	var mu sync.Mutex
	orchestrator, _, _, video, _ := newOrchestrator(t)
	orchestrator.Observer = func(event pipeline.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	}
	video.strategies = []pipeline.VideoStrategy{{
		Name: "chatty",
		Invoke: func(ctx context.Context, request pipeline.VideoRequest) (pipeline.VideoResult, error) {
			request.Observer.Notify(pipeline.ProgressEvent{Provider: "fake", Message: "IN_QUEUE"})
			return pipeline.VideoResult{URL: "https://video.example.test/out.mp4"}, nil
		},
	}}

	request := pipeline.NewRequest(pipeline.VideoInput{Images: []string{"https://img.example.test/a.png"}})
	result := orchestrator.Run(context.Background(), request)
	if !result.Success {
		t.Fatalf("unexpected failure %+v", result.Error)
	}
	if len(events) != 1 || events[0].RequestID != request.ID || events[0].Stage != pipeline.StageVideo || events[0].Message != "IN_QUEUE" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestOrchestratorBridgeUploadIsBounded(t *testing.T) {
	release := make(chan struct{})
	hanging := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		select {
		case <-release:
		case <-request.Context().Done():
		}
	}))
	defer hanging.Close()
	defer close(release)

	orchestrator, _, _, video, _ := newOrchestrator(t)
	host := assethost.Cloudinary{Endpoint: hanging.URL, CloudName: "demo", APIKey: "key", APISecret: "secret"}
	orchestrator.Bridge = assethost.NewBridge(host, 0, zaptest.NewLogger(t))
	orchestrator.Options.AssetTimeout = 50 * time.Millisecond

	finished := make(chan pipeline.StageResult, 1)
	go func() {
		request := pipeline.NewRequest(pipeline.VideoInput{Images: []string{media.Inline("image/png", []byte("pixels")).String()}})
		finished <- orchestrator.Run(context.WithoutCancel(context.Background()), request)
	}()

	select {
	case result := <-finished:
		if result.Success || result.Error.Kind != failure.KindBridge {
			t.Fatalf("expected bridge failure, got %+v", result)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("video stage still waiting on the asset host")
	}
	if len(video.received) != 0 {
		t.Fatalf("video provider must not be called after a bridge failure")
	}
}

type fakeRehost struct {
	mu       sync.Mutex
	failures map[string]error
	copied   []media.ImageReference
}

func (rehost *fakeRehost) Rehost(ctx context.Context, reference media.ImageReference) (media.PublicURL, error) {
	rehost.mu.Lock()
	defer rehost.mu.Unlock()
	rehost.copied = append(rehost.copied, reference)
	location, _ := reference.PublicURL()
	for fragment, err := range rehost.failures {
		if strings.Contains(location.String(), fragment) {
			return "", err
		}
	}
	return media.PublicURL(strings.Replace(location.String(), "https://img.example.test/", "http://localhost:8080/assets/", 1)), nil
}

func TestOrchestratorImagesRehost(t *testing.T) {
	text := "Scene one\nScene two\nScene three"
	testCases := []struct {
		name            string
		failures        map[string]error
		expectedImages  []string
		expectedPrompts []string
	}{
		{
			name: "every image is served from the asset host",
			expectedImages: []string{
				"http://localhost:8080/assets/scene-one",
				"http://localhost:8080/assets/scene-two",
				"http://localhost:8080/assets/scene-three",
			},
			expectedPrompts: []string{"High quality, cinematic, Scene one", "High quality, cinematic, Scene two", "High quality, cinematic, Scene three"},
		},
		{
			name:            "an image that cannot be copied is dropped with its prompt",
			failures:        map[string]error{"scene-two": failure.Bridge("download answered 410", nil)},
			expectedImages:  []string{"http://localhost:8080/assets/scene-one", "http://localhost:8080/assets/scene-three"},
			expectedPrompts: []string{"High quality, cinematic, Scene one", "High quality, cinematic, Scene three"},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(testingT *testing.T) {
			orchestrator, _, _, _, _ := newOrchestrator(testingT)
			rehost := &fakeRehost{failures: testCase.failures}
			orchestrator.Rehost = rehost

			result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.ImageInput{Text: text}))
			if !result.Success {
				testingT.Fatalf("image stage failed: %+v", result.Error)
			}
			payload := result.Payload.(pipeline.ImagePayload)
			if strings.Join(payload.Images, ",") != strings.Join(testCase.expectedImages, ",") {
				testingT.Fatalf("expected %v, got %v", testCase.expectedImages, payload.Images)
			}
			if strings.Join(payload.Prompts, "|") != strings.Join(testCase.expectedPrompts, "|") {
				testingT.Fatalf("expected prompts %v, got %v", testCase.expectedPrompts, payload.Prompts)
			}
			if len(rehost.copied) != 3 {
				testingT.Fatalf("expected 3 copies, got %d", len(rehost.copied))
			}
		})
	}
}

func TestOrchestratorImagesRehostFailureSurfacesBridgeError(t *testing.T) {
	orchestrator, _, _, _, _ := newOrchestrator(t)
	orchestrator.Rehost = &fakeRehost{failures: map[string]error{"scene": failure.Bridge("local upload failed", nil)}}

	result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.ImageInput{Text: "Scene one\nScene two"}))
	if result.Success || result.Error.Kind != failure.KindBridge {
		t.Fatalf("expected bridge failure, got %+v", result)
	}
}

func TestOrchestratorMinimumImagesCappedByPromptCount(t *testing.T) {
	orchestrator, _, images, _, _ := newOrchestrator(t)
	orchestrator.Options.MaxImagePrompts = 4
	orchestrator.Options.MinSuccessfulImages = 4

	result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.ImageInput{Text: "Scene one\nScene two"}))
	if !result.Success {
		t.Fatalf("expected success when every derived prompt succeeds, got %+v", result.Error)
	}
	if payload := result.Payload.(pipeline.ImagePayload); len(payload.Images) != 2 {
		t.Fatalf("expected 2 images, got %v", payload.Images)
	}
	if images.calls.Load() != 2 {
		t.Fatalf("expected 2 image calls, got %d", images.calls.Load())
	}
}

func TestOrchestratorVideoBudgetSpansRetries(t *testing.T) {
	orchestrator, _, _, video, _ := newOrchestrator(t)
	orchestrator.Options.VideoTimeout = time.Minute
	orchestrator.Options.VideoBudget = 50 * time.Millisecond
	var attempts atomic.Int32
	video.strategies = []pipeline.VideoStrategy{{
		Name: "queue",
		Invoke: func(ctx context.Context, request pipeline.VideoRequest) (pipeline.VideoResult, error) {
			attempts.Add(1)
			select {
			case <-time.After(30 * time.Millisecond):
				return pipeline.VideoResult{}, &failure.ProviderError{Provider: "fal", Message: "service unavailable", HTTPStatus: http.StatusServiceUnavailable}
			case <-ctx.Done():
				return pipeline.VideoResult{}, ctx.Err()
			}
		},
	}}

	startedAt := time.Now()
	result := orchestrator.Run(context.Background(), pipeline.NewRequest(pipeline.VideoInput{Images: []string{"https://img.example.test/a.png"}}))
	if result.Success || result.Error.Kind != failure.KindTimeout {
		t.Fatalf("expected timeout once the budget is spent, got %+v", result)
	}
	if attempts.Load() != 2 {
		t.Fatalf("expected the second attempt to hit the budget, got %d attempts", attempts.Load())
	}
	if elapsed := time.Since(startedAt); elapsed > time.Second {
		t.Fatalf("video stage outlived its budget: %v", elapsed)
	}
}
