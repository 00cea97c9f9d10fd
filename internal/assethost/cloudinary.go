package assethost

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/media"
)

const (
	CloudinaryProviderName     = "cloudinary"
	DefaultCloudinaryEndpoint  = "https://api.cloudinary.com/v1_1"
	cloudinaryUploadPathFormat = "%s/%s/image/upload"
	squareTransformationFormat = "c_fill,g_auto,w_%d,h_%d"
	cloudinaryBodyLogLimit     = 512
	missingSecureURLMessage    = "upload response carried no secure_url"
)

// Cloudinary uploads assets through the signed upload REST API.
type Cloudinary struct {
	Endpoint   string
	CloudName  string
	APIKey     string
	APISecret  string
	Folder     string
	HTTPClient *http.Client
	Now        func() time.Time
}

type cloudinaryUploadResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c Cloudinary) Name() string { return CloudinaryProviderName }

func (c Cloudinary) Upload(ctx context.Context, asset Asset) (media.PublicURL, error) {
	if strings.TrimSpace(c.CloudName) == "" || strings.TrimSpace(c.APIKey) == "" || strings.TrimSpace(c.APISecret) == "" {
		return "", failure.Credential(CloudinaryProviderName)
	}

	params := map[string]string{
		"public_id":      asset.PublicID,
		"timestamp":      strconv.FormatInt(c.now().Unix(), 10),
		"transformation": fmt.Sprintf(squareTransformationFormat, asset.SquareSize, asset.SquareSize),
	}
	if folder := strings.TrimSpace(c.Folder); folder != "" {
		params["folder"] = folder
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range params {
		if err := writer.WriteField(key, value); err != nil {
			return "", errors.Wrap(err, "write upload field")
		}
	}
	fields := map[string]string{
		"api_key":   c.APIKey,
		"signature": signCloudinaryParams(params, c.APISecret),
		"file":      media.Inline(asset.MIMEType, asset.Data).String(),
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return "", errors.Wrap(err, "write upload field")
		}
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "close upload body")
	}

	endpoint := strings.TrimRight(c.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultCloudinaryEndpoint
	}
	request, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(cloudinaryUploadPathFormat, endpoint, c.CloudName), &body)
	if buildErr != nil {
		return "", errors.Wrap(buildErr, "build upload request")
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	response, httpErr := c.httpClient().Do(request)
	if httpErr != nil {
		return "", &failure.ProviderError{Provider: CloudinaryProviderName, Message: "upload request failed", Cause: httpErr}
	}
	defer func(closer io.ReadCloser) { _ = closer.Close() }(response.Body)

	responseBody, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return "", errors.Wrap(readErr, "read upload response")
	}

	var decoded cloudinaryUploadResponse
	decodeErr := json.Unmarshal(responseBody, &decoded)
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		message := truncateBody(responseBody)
		if decodeErr == nil && decoded.Error != nil && decoded.Error.Message != "" {
			message = decoded.Error.Message
		}
		return "", &failure.ProviderError{Provider: CloudinaryProviderName, Message: message, HTTPStatus: response.StatusCode}
	}
	if decodeErr != nil {
		return "", errors.Wrapf(decodeErr, "decode upload response body: %s", truncateBody(responseBody))
	}

	location := decoded.SecureURL
	if location == "" {
		location = decoded.URL
	}
	if location == "" {
		return "", &failure.ProviderError{Provider: CloudinaryProviderName, Message: missingSecureURLMessage, HTTPStatus: response.StatusCode}
	}
	return media.NewPublicURL(location)
}

// signCloudinaryParams signs the alphabetically sorted key=value pairs with the API secret.
func signCloudinaryParams(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}
	digest := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(digest[:])
}

func (c Cloudinary) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c Cloudinary) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func truncateBody(body []byte) string {
	runes := []rune(string(body))
	if len(runes) <= cloudinaryBodyLogLimit {
		return string(runes)
	}
	return string(runes[:cloudinaryBodyLogLimit]) + "…"
}
