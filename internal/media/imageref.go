// Package media models image references exchanged between generation stages.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	dataURIPrefix       = "data:"
	dataURIBase64Marker = ";base64"
	defaultInlineMIME   = "image/png"
	httpScheme          = "http"
	httpsScheme         = "https"
	dataURIFormat       = "data:%s;base64,%s"
	invalidURLFormat    = "%w: %q"
	invalidInlineFormat = "%w: %v"
)

var (
	ErrEmptyReference       = errors.New("image reference is empty")
	ErrUnsupportedReference = errors.New("image reference must be an http(s) URL or a base64 data URI")
	ErrMalformedInline      = errors.New("inline image is not valid base64 data")
)

// PublicURL is an image location a remote provider can fetch. Inline payloads
// never convert to a PublicURL without passing through an asset host.
type PublicURL string

func (u PublicURL) String() string { return string(u) }

// NewPublicURL validates raw as an absolute http(s) URL.
func NewPublicURL(raw string) (PublicURL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyReference
	}
	parsed, parseErr := url.Parse(trimmed)
	if parseErr != nil || parsed.Host == "" || (parsed.Scheme != httpScheme && parsed.Scheme != httpsScheme) {
		return "", fmt.Errorf(invalidURLFormat, ErrUnsupportedReference, trimmed)
	}
	return PublicURL(trimmed), nil
}

// ImageReference is either a fetchable URL or an inline payload.
type ImageReference struct {
	URL      PublicURL
	MIMEType string
	Data     []byte
}

// Inline builds an inline reference from raw bytes.
func Inline(mimeType string, data []byte) ImageReference {
	if strings.TrimSpace(mimeType) == "" {
		mimeType = defaultInlineMIME
	}
	return ImageReference{MIMEType: mimeType, Data: data}
}

// FromURL wraps an already public location.
func FromURL(location PublicURL) ImageReference {
	return ImageReference{URL: location}
}

// ParseImageReference accepts an http(s) URL or a data:<mime>;base64,<payload> URI.
func ParseImageReference(raw string) (ImageReference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ImageReference{}, ErrEmptyReference
	}
	if !strings.HasPrefix(strings.ToLower(trimmed), dataURIPrefix) {
		location, urlErr := NewPublicURL(trimmed)
		if urlErr != nil {
			return ImageReference{}, urlErr
		}
		return FromURL(location), nil
	}

	header, payload, found := strings.Cut(trimmed[len(dataURIPrefix):], ",")
	if !found || !strings.HasSuffix(strings.ToLower(header), dataURIBase64Marker) {
		return ImageReference{}, ErrMalformedInline
	}
	mimeType := header[:len(header)-len(dataURIBase64Marker)]
	decoded, decodeErr := base64.StdEncoding.DecodeString(payload)
	if decodeErr != nil {
		decoded, decodeErr = base64.RawStdEncoding.DecodeString(payload)
	}
	if decodeErr != nil {
		return ImageReference{}, fmt.Errorf(invalidInlineFormat, ErrMalformedInline, decodeErr)
	}
	if len(decoded) == 0 {
		return ImageReference{}, ErrMalformedInline
	}
	return Inline(mimeType, decoded), nil
}

// IsInline reports whether the reference carries its payload instead of a location.
func (r ImageReference) IsInline() bool { return r.URL == "" }

// PublicURL returns the location when the reference is already fetchable.
func (r ImageReference) PublicURL() (PublicURL, bool) {
	if r.IsInline() {
		return "", false
	}
	return r.URL, true
}

// String renders the reference as it travels over the wire.
func (r ImageReference) String() string {
	if !r.IsInline() {
		return r.URL.String()
	}
	return fmt.Sprintf(dataURIFormat, r.MIMEType, base64.StdEncoding.EncodeToString(r.Data))
}
