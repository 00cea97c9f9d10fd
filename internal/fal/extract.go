package fal

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/temirov/autoreel/internal/failure"
)

type File struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

type Payload struct {
	Video  *File  `json:"video,omitempty"`
	Image  *File  `json:"image,omitempty"`
	Images []File `json:"images,omitempty"`
}

// Response lists every place a fal model has been seen to put its output.
type Response struct {
	Payload
	Data     *Payload `json:"data,omitempty"`
	Output   *Payload `json:"output,omitempty"`
	URL      string   `json:"url,omitempty"`
	VideoURL string   `json:"video_url,omitempty"`
}

func decodeResponse(body []byte) (Response, error) {
	var response Response
	if err := json.Unmarshal(body, &response); err != nil {
		return Response{}, &failure.ProviderError{Provider: ProviderName, Message: "malformed result", Cause: errors.Wrapf(err, "body: %s", preview(body))}
	}
	return response, nil
}

// ExtractVideoURL returns the first non-empty of video.url, data.video.url,
// url, video_url and output.video.url.
func ExtractVideoURL(response Response) string {
	return firstNonEmpty(
		fileURL(response.Video),
		fileURL(dataOf(response.Data).Video),
		response.URL,
		response.VideoURL,
		fileURL(dataOf(response.Output).Video),
	)
}

// ExtractImageURL returns the first non-empty of images[0].url,
// data.images[0].url, image.url, output.images[0].url and url.
func ExtractImageURL(response Response) string {
	return firstNonEmpty(
		firstFileURL(response.Images),
		firstFileURL(dataOf(response.Data).Images),
		fileURL(response.Image),
		firstFileURL(dataOf(response.Output).Images),
		response.URL,
	)
}

func dataOf(payload *Payload) Payload {
	if payload == nil {
		return Payload{}
	}
	return *payload
}

func fileURL(file *File) string {
	if file == nil {
		return ""
	}
	return file.URL
}

func firstFileURL(files []File) string {
	if len(files) == 0 {
		return ""
	}
	return files[0].URL
}

func firstNonEmpty(candidates ...string) string {
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type detailEntry struct {
	Msg string `json:"msg"`
}

// errorDetail pulls a short message out of a fal error body. Validation
// failures carry a list of {msg} entries under detail.
func errorDetail(body []byte) string {
	var decoded errorBody
	if err := json.Unmarshal(body, &decoded); err == nil {
		var detail string
		if json.Unmarshal(decoded.Detail, &detail) == nil && strings.TrimSpace(detail) != "" {
			return strings.TrimSpace(detail)
		}
		var entries []detailEntry
		if json.Unmarshal(decoded.Detail, &entries) == nil {
			messages := make([]string, 0, len(entries))
			for _, entry := range entries {
				if strings.TrimSpace(entry.Msg) != "" {
					messages = append(messages, strings.TrimSpace(entry.Msg))
				}
			}
			if len(messages) > 0 {
				return strings.Join(messages, "; ")
			}
		}
		if message := firstNonEmpty(decoded.Message, decoded.Error); message != "" {
			return message
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty error response"
	}
	runes := []rune(text)
	if len(runes) > detailPreviewLimit {
		return string(runes[:detailPreviewLimit]) + "…"
	}
	return text
}
