// Package native talks to SiliconFlow style synchronous text-to-image APIs.
package native

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/normalize"
	"github.com/ncecere/open_image_gateway/internal/prompt"
	"github.com/ncecere/open_image_gateway/internal/providers/keypool"
)

// DefaultBaseURL is used when the provider has no base URL.
const DefaultBaseURL = "https://api.siliconflow.cn"

// KolorsModel selects the batch/guidance request shape.
const KolorsModel = "Kwai-Kolors/Kolors"

var tracer = otel.Tracer("open-image-gateway/native")

type Options struct {
	BaseURL    string
	APIKeys    []string
	Picker     keypool.Picker
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Adapter issues one synchronous call per image.
type Adapter struct {
	baseURL string
	keys    []string
	picker  keypool.Picker
	client  *http.Client
	timeout time.Duration
}

func New(opts Options) (*Adapter, error) {
	if len(opts.APIKeys) == 0 {
		return nil, fmt.Errorf("native: at least one api key required")
	}
	a := &Adapter{
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		keys:    append([]string(nil), opts.APIKeys...),
		picker:  opts.Picker,
		client:  opts.HTTPClient,
		timeout: opts.Timeout,
	}
	if a.baseURL == "" {
		a.baseURL = DefaultBaseURL
	}
	if a.picker == nil {
		a.picker = keypool.NewRandom(nil)
	}
	if a.client == nil {
		a.client = http.DefaultClient
	}
	if a.timeout <= 0 {
		a.timeout = 60 * time.Second
	}
	return a, nil
}

// BuildRequest picks the endpoint and body shape for model.
func (a *Adapter) BuildRequest(model, text string, opts models.GenerationOptions) (string, map[string]any) {
	size := opts.Size
	if size == "" {
		size = prompt.DefaultSize
	}
	var (
		url  string
		body map[string]any
	)
	switch {
	case model == KolorsModel:
		url = a.baseURL + "/v1/images/generations"
		body = map[string]any{
			"model":               model,
			"prompt":              text,
			"image_size":          size,
			"batch_size":          1,
			"num_inference_steps": 20,
			"guidance_scale":      7.5,
		}
	case strings.Contains(strings.ToLower(model), "flux"):
		url = a.baseURL + "/v1/image/generations"
		body = map[string]any{
			"model":               model,
			"prompt":              text,
			"image_size":          size,
			"num_inference_steps": 20,
			"prompt_enhancement":  true,
		}
	default:
		url = a.baseURL + "/v1/" + model + "/text-to-image"
		body = map[string]any{
			"prompt":              text,
			"image_size":          size,
			"num_inference_steps": 20,
		}
	}
	if opts.Seed != nil {
		body["seed"] = *opts.Seed
	}
	return url, body
}

// Generate performs the upstream call and normalizes the response.
func (a *Adapter) Generate(ctx context.Context, model, text string, opts models.GenerationOptions) ([]models.ImageResult, error) {
	ctx, span := tracer.Start(ctx, "native_generate")
	defer span.End()
	span.SetAttributes(attribute.String("image.model", model))

	images, err := a.generate(ctx, model, text, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
	}
	return images, err
}

func (a *Adapter) generate(ctx context.Context, model, text string, opts models.GenerationOptions) ([]models.ImageResult, error) {
	url, body := a.BuildRequest(model, text, opts)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, models.NewGenerationError("encode request", err)
	}
	key, err := a.picker.Pick(a.keys)
	if err != nil {
		return nil, models.NewGenerationError("no api key available", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, models.NewGenerationError("build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, models.NewGenerationError("upstream request failed", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewGenerationError("read upstream response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.NewGenerationError(
			fmt.Sprintf("upstream returned status %d: %s", resp.StatusCode, normalize.ErrorMessage(raw)), nil)
	}

	img, ok := normalize.Extract(raw)
	if !ok {
		return nil, models.NewGenerationError("upstream response contained no image", nil)
	}
	return []models.ImageResult{img}, nil
}
