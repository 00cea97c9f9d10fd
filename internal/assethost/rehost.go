package assethost

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/media"
)

const (
	downloadFailedFormat   = "download of %s failed"
	downloadStatusFormat   = "download of %s answered %d"
	downloadNotImageFormat = "download of %s is %s, not an image"
	imageContentPrefix     = "image/"
)

// Rehost stores a copy of reference on the host. URL references are downloaded
// first, so the returned URL no longer depends on the provider keeping the file.
func (b *Bridge) Rehost(ctx context.Context, reference media.ImageReference) (media.PublicURL, error) {
	location, remote := reference.PublicURL()
	if !remote {
		return b.upload(ctx, reference.MIMEType, reference.Data, "rehosted inline image")
	}
	if b.Host == nil {
		return "", failure.Bridge(noHostMessage, nil)
	}

	mimeType, data, err := b.download(ctx, location)
	if err != nil {
		b.Logger.Warn("image download failed", zap.String("url", location.String()), zap.Error(err))
		return "", err
	}
	return b.upload(ctx, mimeType, data, "rehosted generated image")
}

func (b *Bridge) download(ctx context.Context, location media.PublicURL) (string, []byte, error) {
	request, buildErr := http.NewRequestWithContext(ctx, http.MethodGet, location.String(), nil)
	if buildErr != nil {
		return "", nil, failure.Bridge(fmt.Sprintf(downloadFailedFormat, location), buildErr)
	}
	response, httpErr := b.httpClient().Do(request)
	if httpErr != nil {
		return "", nil, failure.Bridge(fmt.Sprintf(downloadFailedFormat, location), httpErr)
	}
	defer func(closer io.ReadCloser) { _ = closer.Close() }(response.Body)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", nil, failure.Bridge(fmt.Sprintf(downloadStatusFormat, location, response.StatusCode), nil)
	}

	reader := io.Reader(response.Body)
	if b.MaxInlineBytes > 0 {
		reader = io.LimitReader(response.Body, int64(b.MaxInlineBytes)+1)
	}
	data, readErr := io.ReadAll(reader)
	if readErr != nil {
		return "", nil, failure.Bridge(fmt.Sprintf(downloadFailedFormat, location), errors.Wrap(readErr, "read image body"))
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, imageContentPrefix) {
		return "", nil, failure.Bridge(fmt.Sprintf(downloadNotImageFormat, location, mimeType), nil)
	}
	return mimeType, data, nil
}

func (b *Bridge) httpClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}
