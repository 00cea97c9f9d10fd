package assethost

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/temirov/autoreel/internal/fsops"
	"github.com/temirov/autoreel/internal/media"
)

const (
	LocalProviderName = "local"
	localJPEGQuality  = 90
	localAssetSuffix  = ".jpg"
)

// Local stores assets on a filesystem that the HTTP server exposes under BaseURL.
type Local struct {
	Files     fsops.Ops
	Directory string
	BaseURL   string
}

func (l Local) Name() string { return LocalProviderName }

func (l Local) Upload(ctx context.Context, asset Asset) (media.PublicURL, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	decoded, _, decodeErr := image.Decode(bytes.NewReader(asset.Data))
	if decodeErr != nil {
		return "", errors.Wrap(decodeErr, "decode inline image")
	}

	var encoded bytes.Buffer
	if err := jpeg.Encode(&encoded, SquareFit(decoded, asset.SquareSize), &jpeg.Options{Quality: localJPEGQuality}); err != nil {
		return "", errors.Wrap(err, "encode square image")
	}

	fileName := asset.PublicID + localAssetSuffix
	if _, err := l.Files.SaveAsset(l.Directory, fileName, encoded.Bytes()); err != nil {
		return "", errors.Wrapf(err, "save asset %s", fileName)
	}
	return media.NewPublicURL(strings.TrimRight(l.BaseURL, "/") + "/" + fileName)
}

// SquareFit center-crops source to a square and scales it down so neither side
// exceeds maxDimension. Smaller squares are kept at their size.
func SquareFit(source image.Image, maxDimension int) image.Image {
	bounds := source.Bounds()
	side := bounds.Dx()
	if bounds.Dy() < side {
		side = bounds.Dy()
	}
	cropOrigin := image.Point{
		X: bounds.Min.X + (bounds.Dx()-side)/2,
		Y: bounds.Min.Y + (bounds.Dy()-side)/2,
	}
	crop := image.Rectangle{Min: cropOrigin, Max: cropOrigin.Add(image.Point{X: side, Y: side})}

	target := side
	if maxDimension > 0 && target > maxDimension {
		target = maxDimension
	}
	destination := image.NewRGBA(image.Rect(0, 0, target, target))
	draw.CatmullRom.Scale(destination, destination.Bounds(), source, crop, draw.Over, nil)
	return destination
}
