// Package kling submits image-to-video tasks to the Kling API and polls them
// until they finish.
package kling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/pipeline"
	"github.com/temirov/autoreel/internal/retry"
)

const (
	ProviderName        = "kling"
	DefaultBaseURL      = "https://api.klingai.com"
	DefaultModel        = "kling-v1-6"
	DefaultMode         = "std"
	DefaultDuration     = "5"
	DefaultPollInterval = 5 * time.Second

	strategyName      = "image2video"
	submitPath        = "/v1/videos/image2video"
	taskPathFormat    = "/v1/videos/image2video/%s"
	tokenLifetime     = 1800
	tokenLeeway       = 5
	statusSucceed     = "succeed"
	statusFailed      = "failed"
	contentTypeJSON   = "application/json"
	bodyPreviewLimit  = 512
	taskStatusMessage = "task %s"
)

type Provider struct {
	BaseURL      string
	AccessKey    string
	SecretKey    string
	Model        string
	Mode         string
	Duration     string
	PollInterval time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
	Now          func() time.Time
}

type generationRequest struct {
	ModelName string `json:"model_name"`
	Image     string `json:"image"`
	Prompt    string `json:"prompt,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

type envelope[T any] struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Data      T      `json:"data"`
}

type taskData struct {
	TaskID        string      `json:"task_id"`
	TaskStatus    string      `json:"task_status"`
	TaskStatusMsg string      `json:"task_status_msg"`
	TaskResult    *taskResult `json:"task_result,omitempty"`
}

type taskResult struct {
	Videos []video `json:"videos,omitempty"`
}

type video struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Duration string `json:"duration"`
}

func (p Provider) VideoStrategies() []pipeline.VideoStrategy {
	return []pipeline.VideoStrategy{{Name: strategyName, Invoke: p.Generate}}
}

// Generate submits the first image of request and waits for the task to finish.
func (p Provider) Generate(ctx context.Context, request pipeline.VideoRequest) (pipeline.VideoResult, error) {
	if strings.TrimSpace(p.AccessKey) == "" || strings.TrimSpace(p.SecretKey) == "" {
		return pipeline.VideoResult{}, failure.Credential(ProviderName)
	}
	if len(request.Images) == 0 {
		return pipeline.VideoResult{}, failure.Validation("images must contain at least one image")
	}

	submission := generationRequest{
		ModelName: orDefault(p.Model, DefaultModel),
		Image:     request.Images[0].String(),
		Prompt:    request.Prompt,
		Mode:      orDefault(p.Mode, DefaultMode),
		Duration:  orDefault(p.Duration, DefaultDuration),
	}
	var created envelope[taskData]
	if err := p.call(ctx, http.MethodPost, submitPath, submission, &created); err != nil {
		return pipeline.VideoResult{}, err
	}
	if created.Data.TaskID == "" {
		return pipeline.VideoResult{}, &failure.ProviderError{Provider: ProviderName, Message: "task was created without an id"}
	}

	logger := p.logger().With(zap.String("kling_task_id", created.Data.TaskID))
	logger.Debug("submitted kling task")
	lastStatus := ""
	for {
		var task envelope[taskData]
		if err := p.call(ctx, http.MethodGet, fmt.Sprintf(taskPathFormat, created.Data.TaskID), nil, &task); err != nil {
			return pipeline.VideoResult{}, err
		}
		if task.Data.TaskStatus != lastStatus {
			lastStatus = task.Data.TaskStatus
			request.Observer.Notify(pipeline.ProgressEvent{Provider: ProviderName, Message: fmt.Sprintf(taskStatusMessage, lastStatus)})
		}

		switch task.Data.TaskStatus {
		case statusSucceed:
			return resultFrom(task.Data)
		case statusFailed:
			message := strings.TrimSpace(task.Data.TaskStatusMsg)
			if message == "" {
				message = "task failed"
			}
			return pipeline.VideoResult{}, &failure.ProviderError{Provider: ProviderName, Message: message}
		}

		if sleepErr := retry.SleepContext(ctx, p.pollInterval()); sleepErr != nil {
			return pipeline.VideoResult{}, sleepErr
		}
	}
}

func resultFrom(data taskData) (pipeline.VideoResult, error) {
	if data.TaskResult == nil || len(data.TaskResult.Videos) == 0 || strings.TrimSpace(data.TaskResult.Videos[0].URL) == "" {
		return pipeline.VideoResult{}, failure.NoUsableOutput("kling task finished without a video")
	}
	first := data.TaskResult.Videos[0]
	result := pipeline.VideoResult{URL: strings.TrimSpace(first.URL)}
	if duration, err := strconv.ParseFloat(first.Duration, 64); err == nil {
		result.Duration = duration
	}
	return result, nil
}

func (p Provider) call(ctx context.Context, method string, path string, payload any, target any) error {
	token, tokenErr := p.token()
	if tokenErr != nil {
		return errors.Wrap(tokenErr, "sign kling token")
	}

	var requestBody io.Reader
	if payload != nil {
		encoded, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return errors.Wrap(marshalErr, "encode kling request")
		}
		requestBody = bytes.NewReader(encoded)
	}
	httpRequest, buildErr := http.NewRequestWithContext(ctx, method, strings.TrimRight(orDefault(p.BaseURL, DefaultBaseURL), "/")+path, requestBody)
	if buildErr != nil {
		return errors.Wrap(buildErr, "build kling request")
	}
	httpRequest.Header.Set("Accept", contentTypeJSON)
	httpRequest.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		httpRequest.Header.Set("Content-Type", contentTypeJSON)
	}

	httpResponse, httpErr := p.httpClient().Do(httpRequest)
	if httpErr != nil {
		return &failure.ProviderError{Provider: ProviderName, Message: "request failed", Cause: httpErr}
	}
	defer func(closer io.ReadCloser) { _ = closer.Close() }(httpResponse.Body)

	body, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return &failure.ProviderError{Provider: ProviderName, Message: "read response", HTTPStatus: httpResponse.StatusCode, Cause: readErr}
	}

	var header envelope[json.RawMessage]
	decodeErr := json.Unmarshal(body, &header)
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		message := strings.TrimSpace(header.Message)
		if decodeErr != nil || message == "" {
			message = http.StatusText(httpResponse.StatusCode)
		}
		return &failure.ProviderError{Provider: ProviderName, Message: message, HTTPStatus: httpResponse.StatusCode, Cause: errors.Errorf("body: %s", preview(body))}
	}
	if decodeErr != nil {
		return &failure.ProviderError{Provider: ProviderName, Message: "malformed response", Cause: errors.Wrapf(decodeErr, "body: %s", preview(body))}
	}
	if header.Code != 0 {
		return &failure.ProviderError{Provider: ProviderName, Message: fmt.Sprintf("code %d: %s", header.Code, header.Message), HTTPStatus: statusForCode(header.Code)}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &failure.ProviderError{Provider: ProviderName, Message: "malformed response", Cause: errors.Wrapf(err, "body: %s", preview(body))}
	}
	return nil
}

// token signs a short-lived HS256 JWT with the access key as issuer.
func (p Provider) token() (string, error) {
	now := p.now().Unix()
	claims := jwt.MapClaims{
		"iss": p.AccessKey,
		"exp": now + tokenLifetime,
		"nbf": now - tokenLeeway,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["typ"] = "JWT"
	return token.SignedString([]byte(p.SecretKey))
}

// statusForCode maps Kling business codes onto HTTP statuses so that the
// shared classifier can decide the failure kind.
func statusForCode(code int) int {
	switch {
	case code >= 1000 && code < 1100:
		return http.StatusUnauthorized
	case code == 1101 || code == 1102 || code == 1302 || code == 1303:
		return http.StatusTooManyRequests
	case code >= 1100 && code < 1200:
		return http.StatusForbidden
	case code >= 1200 && code < 1300:
		return http.StatusBadRequest
	case code >= 1300 && code < 1400:
		return http.StatusBadRequest
	case code >= 5000:
		return http.StatusServiceUnavailable
	default:
		return 0
	}
}

func (p Provider) pollInterval() time.Duration {
	if p.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return p.PollInterval
}

func (p Provider) httpClient() *http.Client {
	if p.HTTPClient == nil {
		return http.DefaultClient
	}
	return p.HTTPClient
}

func (p Provider) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p Provider) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func orDefault(value string, fallbackValue string) string {
	if strings.TrimSpace(value) == "" {
		return fallbackValue
	}
	return strings.TrimSpace(value)
}

func preview(body []byte) string {
	text := string(body)
	if len(text) <= bodyPreviewLimit {
		return text
	}
	return text[:bodyPreviewLimit] + "…"
}
