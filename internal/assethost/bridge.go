// Package assethost turns inline image payloads into public URLs that remote
// generation providers can fetch.
package assethost

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/media"
)

const (
	DefaultSquareSize     = 1024
	DefaultMaxInlineBytes = 10 << 20

	noHostMessage          = "no asset host is configured for inline images"
	oversizedMessageFormat = "inline image of %d bytes exceeds the %d byte limit"
	uploadFailedFormat     = "%s upload failed"
	publicIDPrefix         = "autoreel-"
)

// Asset is one inline image ready for upload.
type Asset struct {
	PublicID   string
	MIMEType   string
	Data       []byte
	SquareSize int
}

// Host stores an asset and returns where it can be fetched.
type Host interface {
	Name() string
	Upload(ctx context.Context, asset Asset) (media.PublicURL, error)
}

// Bridge uploads inline references through a Host. URL references pass through untouched.
type Bridge struct {
	Host           Host
	SquareSize     int
	MaxInlineBytes int
	Logger         *zap.Logger
	NewID          func() string
	HTTPClient     *http.Client
}

func NewBridge(host Host, squareSize int, logger *zap.Logger) *Bridge {
	if squareSize <= 0 {
		squareSize = DefaultSquareSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		Host:           host,
		SquareSize:     squareSize,
		MaxInlineBytes: DefaultMaxInlineBytes,
		Logger:         logger,
		NewID:          func() string { return publicIDPrefix + uuid.NewString() },
	}
}

// Bridge returns a URL for reference. Failures are terminal BridgeErrors.
func (b *Bridge) Bridge(ctx context.Context, reference media.ImageReference) (media.PublicURL, error) {
	if location, ok := reference.PublicURL(); ok {
		return location, nil
	}
	return b.upload(ctx, reference.MIMEType, reference.Data, "bridged inline image")
}

func (b *Bridge) upload(ctx context.Context, mimeType string, data []byte, logMessage string) (media.PublicURL, error) {
	if b.Host == nil {
		return "", failure.Bridge(noHostMessage, nil)
	}
	if b.MaxInlineBytes > 0 && len(data) > b.MaxInlineBytes {
		return "", failure.Bridge(fmt.Sprintf(oversizedMessageFormat, len(data), b.MaxInlineBytes), nil)
	}

	asset := Asset{
		PublicID:   b.NewID(),
		MIMEType:   mimeType,
		Data:       data,
		SquareSize: b.SquareSize,
	}
	location, uploadErr := b.Host.Upload(ctx, asset)
	if uploadErr != nil {
		b.Logger.Error("asset upload failed", zap.String("host", b.Host.Name()), zap.String("public_id", asset.PublicID), zap.Error(uploadErr))
		return "", failure.Bridge(fmt.Sprintf(uploadFailedFormat, b.Host.Name()), uploadErr)
	}
	b.Logger.Info(logMessage, zap.String("host", b.Host.Name()), zap.String("public_id", asset.PublicID), zap.String("url", location.String()))
	return location, nil
}
