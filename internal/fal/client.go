// Package fal calls fal.ai model endpoints, either synchronously through the
// run host or through the request queue with status polling.
package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/fallback"
	"github.com/temirov/autoreel/internal/pipeline"
	"github.com/temirov/autoreel/internal/retry"
)

const (
	ProviderName        = "fal"
	DefaultRunBaseURL   = "https://fal.run"
	DefaultQueueBaseURL = "https://queue.fal.run"
	DefaultPollInterval = 2 * time.Second

	StrategySubscribe = "subscribe"
	StrategyPoll      = "poll"

	statusInQueue    = "IN_QUEUE"
	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"

	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	contentTypeJSON     = "application/json"
	keyPrefix           = "Key "
	logsQuery           = "logs=1"
	requestStatusFormat = "%s/%s/requests/%s/status"
	requestResultFormat = "%s/%s/requests/%s"
	queuePositionFormat = "queue position %d"
	bodyPreviewLimit    = 512
	detailPreviewLimit  = 240
)

// Client holds the fal.ai endpoints and credential. An empty RunBaseURL
// disables the synchronous strategy.
type Client struct {
	RunBaseURL      string
	QueueBaseURL    string
	APIKey          string
	PollInterval    time.Duration
	QueueOnlyModels []string
	HTTPClient      *http.Client
	Logger          *zap.Logger
}

func NewClient(apiKey string, logger *zap.Logger) Client {
	return Client{
		RunBaseURL:   DefaultRunBaseURL,
		QueueBaseURL: DefaultQueueBaseURL,
		APIKey:       apiKey,
		PollInterval: DefaultPollInterval,
		Logger:       logger,
	}
}

type queueSubmission struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type queueLog struct {
	Message string `json:"message"`
}

type queueStatus struct {
	Status        string     `json:"status"`
	QueuePosition *int       `json:"queue_position,omitempty"`
	Logs          []queueLog `json:"logs,omitempty"`
	ResponseURL   string     `json:"response_url,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Subscribe posts input to the run host and waits for the result in the same
// request. A run host that cannot serve the model reports the strategy as unavailable.
func (c Client) Subscribe(ctx context.Context, model string, input any) (Response, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return Response{}, failure.Credential(ProviderName)
	}
	if strings.TrimSpace(c.RunBaseURL) == "" {
		return Response{}, fallback.Unavailable(StrategySubscribe, "run endpoint is not configured")
	}
	if c.queueOnly(model) {
		return Response{}, fallback.Unavailable(StrategySubscribe, "model "+model+" is queue-only")
	}

	body, err := c.do(ctx, http.MethodPost, joinURL(c.RunBaseURL, model), input)
	if err != nil {
		var providerErr *failure.ProviderError
		if errors.As(err, &providerErr) && syncUnsupported(providerErr.HTTPStatus) {
			return Response{}, fallback.MarkUnavailable(err)
		}
		return Response{}, err
	}
	return decodeResponse(body)
}

// SubmitAndPoll enqueues input, polls the request status until it completes
// and then fetches the result. Queue position and logs go to observer.
func (c Client) SubmitAndPoll(ctx context.Context, model string, input any, observer pipeline.ProgressObserver) (Response, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return Response{}, failure.Credential(ProviderName)
	}
	queueBase := c.queueBaseURL()

	body, err := c.do(ctx, http.MethodPost, joinURL(queueBase, model), input)
	if err != nil {
		return Response{}, err
	}
	var submission queueSubmission
	if decodeErr := json.Unmarshal(body, &submission); decodeErr != nil {
		return Response{}, &failure.ProviderError{Provider: ProviderName, Message: "malformed queue submission", Cause: errors.Wrapf(decodeErr, "body: %s", preview(body))}
	}
	if submission.RequestID == "" && submission.StatusURL == "" {
		return Response{}, &failure.ProviderError{Provider: ProviderName, Message: "queue submission returned no request id"}
	}
	statusURL := submission.StatusURL
	if statusURL == "" {
		statusURL = fmt.Sprintf(requestStatusFormat, queueBase, model, submission.RequestID)
	}
	responseURL := submission.ResponseURL
	if responseURL == "" {
		responseURL = fmt.Sprintf(requestResultFormat, queueBase, model, submission.RequestID)
	}

	logger := c.logger().With(zap.String("model", model), zap.String("fal_request_id", submission.RequestID))
	logger.Debug("queued fal request")

	seenLogs := 0
	lastPosition := -1
	for {
		statusBody, statusErr := c.do(ctx, http.MethodGet, withQuery(statusURL, logsQuery), nil)
		if statusErr != nil {
			return Response{}, statusErr
		}
		var status queueStatus
		if decodeErr := json.Unmarshal(statusBody, &status); decodeErr != nil {
			return Response{}, &failure.ProviderError{Provider: ProviderName, Message: "malformed queue status", Cause: errors.Wrapf(decodeErr, "body: %s", preview(statusBody))}
		}

		if status.QueuePosition != nil && *status.QueuePosition != lastPosition {
			lastPosition = *status.QueuePosition
			observer.Notify(pipeline.ProgressEvent{Provider: ProviderName, Message: fmt.Sprintf(queuePositionFormat, lastPosition)})
		}
		for _, entry := range status.Logs[min(seenLogs, len(status.Logs)):] {
			if message := strings.TrimSpace(entry.Message); message != "" {
				observer.Notify(pipeline.ProgressEvent{Provider: ProviderName, Message: message})
			}
		}
		seenLogs = max(seenLogs, len(status.Logs))

		switch status.Status {
		case statusCompleted:
			if status.Error != "" {
				return Response{}, &failure.ProviderError{Provider: ProviderName, Message: status.Error}
			}
			if status.ResponseURL != "" {
				responseURL = status.ResponseURL
			}
			resultBody, resultErr := c.do(ctx, http.MethodGet, responseURL, nil)
			if resultErr != nil {
				return Response{}, resultErr
			}
			logger.Debug("fal request completed")
			return decodeResponse(resultBody)
		case statusInQueue, statusInProgress:
		default:
			return Response{}, &failure.ProviderError{Provider: ProviderName, Message: "unexpected queue status " + status.Status}
		}

		if sleepErr := retry.SleepContext(ctx, c.pollInterval()); sleepErr != nil {
			return Response{}, sleepErr
		}
	}
}

func (c Client) do(ctx context.Context, method string, url string, payload any) ([]byte, error) {
	var requestBody io.Reader
	if payload != nil {
		encoded, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return nil, errors.Wrap(marshalErr, "encode fal request")
		}
		requestBody = bytes.NewReader(encoded)
	}
	httpRequest, buildErr := http.NewRequestWithContext(ctx, method, url, requestBody)
	if buildErr != nil {
		return nil, errors.Wrap(buildErr, "build fal request")
	}
	httpRequest.Header.Set(headerAuthorization, keyPrefix+c.APIKey)
	httpRequest.Header.Set(headerAccept, contentTypeJSON)
	if payload != nil {
		httpRequest.Header.Set(headerContentType, contentTypeJSON)
	}

	httpResponse, httpErr := c.httpClient().Do(httpRequest)
	if httpErr != nil {
		return nil, &failure.ProviderError{Provider: ProviderName, Message: "request failed", Cause: httpErr}
	}
	defer func(closer io.ReadCloser) { _ = closer.Close() }(httpResponse.Body)

	body, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return nil, &failure.ProviderError{Provider: ProviderName, Message: "read response", HTTPStatus: httpResponse.StatusCode, Cause: readErr}
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return nil, &failure.ProviderError{
			Provider:   ProviderName,
			Message:    errorDetail(body),
			HTTPStatus: httpResponse.StatusCode,
			Cause:      errors.Errorf("body: %s", preview(body)),
		}
	}
	return body, nil
}

func (c Client) queueOnly(model string) bool {
	for _, candidate := range c.QueueOnlyModels {
		if strings.EqualFold(strings.TrimSpace(candidate), model) {
			return true
		}
	}
	return false
}

func (c Client) queueBaseURL() string {
	if strings.TrimSpace(c.QueueBaseURL) == "" {
		return DefaultQueueBaseURL
	}
	return strings.TrimRight(c.QueueBaseURL, "/")
}

func (c Client) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return c.PollInterval
}

func (c Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

func (c Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func syncUnsupported(status int) bool {
	switch status {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	default:
		return false
	}
}

func joinURL(base string, model string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(model, "/")
}

func withQuery(location string, query string) string {
	if strings.Contains(location, "?") {
		return location + "&" + query
	}
	return location + "?" + query
}

func preview(body []byte) string {
	text := string(body)
	if len(text) <= bodyPreviewLimit {
		return text
	}
	return text[:bodyPreviewLimit] + "…"
}
