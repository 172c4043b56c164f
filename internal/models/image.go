package models

import "strings"

// ImageKind distinguishes a hosted reference from an inline payload.
type ImageKind string

const (
	ImageKindURL    ImageKind = "url"
	ImageKindBase64 ImageKind = "base64"
)

const dataURIPrefix = "data:image/png;base64,"

// ImageResult is a single generated image, either a URL or a data URI.
type ImageResult struct {
	Kind    ImageKind `json:"kind"`
	Payload string    `json:"payload"`
	// Seed is echoed back when the upstream reports one.
	Seed *int64 `json:"seed,omitempty"`
}

// URLImage wraps an upstream URL.
func URLImage(url string) ImageResult {
	return ImageResult{Kind: ImageKindURL, Payload: url}
}

// Base64Image wraps a base64 payload as a PNG data URI. Payloads that already
// carry a data URI prefix are kept as-is.
func Base64Image(payload string) ImageResult {
	if strings.HasPrefix(payload, "data:") {
		return ImageResult{Kind: ImageKindBase64, Payload: payload}
	}
	return ImageResult{Kind: ImageKindBase64, Payload: dataURIPrefix + payload}
}

// IsURL reports whether the result references a remote resource.
func (r ImageResult) IsURL() bool {
	return r.Kind == ImageKindURL
}

// Empty reports whether the result carries no payload.
func (r ImageResult) Empty() bool {
	return strings.TrimSpace(r.Payload) == ""
}

// GenerationOptions are the per-call knobs passed to provider adapters.
type GenerationOptions struct {
	Size string
	Seed *int64
	N    int
}

// GenerationRequest is derived from user text before dispatch.
type GenerationRequest struct {
	Model  string
	Prompt string
	Size   string
	Count  int
	Seed   *int64
}

// Options converts the request into adapter options for a single image call.
func (r GenerationRequest) Options() GenerationOptions {
	return GenerationOptions{Size: r.Size, Seed: r.Seed, N: 1}
}

// ImagesRequest is the OpenAI images API request body.
type ImagesRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size,omitempty"`
	N              int    `json:"n,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
}

// ImageData is one entry in an OpenAI images API response.
type ImageData struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// ImagesResponse is the OpenAI images API response body.
type ImagesResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
	Error   *APIError   `json:"error,omitempty"`
}
