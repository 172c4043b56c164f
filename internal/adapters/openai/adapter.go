package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/normalize"
	"github.com/ncecere/open_image_gateway/internal/prompt"
	"github.com/ncecere/open_image_gateway/internal/providers/keypool"
)

// DefaultBaseURL is used when the provider has no base URL configured.
const DefaultBaseURL = "https://api.openai.com/v1"

var tracer = otel.Tracer("open-image-gateway/openai")

// Options configure the OpenAI-compatible images adapter.
type Options struct {
	BaseURL    string
	APIKeys    []string
	Picker     keypool.Picker
	HTTPClient *http.Client
	Timeout    time.Duration
	Extra      []option.RequestOption
}

// Adapter wraps the official OpenAI SDK for native + compatible deployments.
// Requests go to {baseURL}/images/generations; a key is picked per call.
type Adapter struct {
	client *openai.Client
	keys   []string
	picker keypool.Picker
}

// New creates an adapter for the provided key pool and optional base URL.
func New(opts Options) (*Adapter, error) {
	if len(opts.APIKeys) == 0 {
		return nil, errors.New("openai: api key required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	requestOpts := []option.RequestOption{
		option.WithBaseURL(baseURL + "/"),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	}
	if opts.HTTPClient != nil {
		requestOpts = append(requestOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	requestOpts = append(requestOpts, opts.Extra...)

	client := openai.NewClient(requestOpts...)
	picker := opts.Picker
	if picker == nil {
		picker = keypool.NewRandom(nil)
	}
	return &Adapter{client: &client, keys: append([]string(nil), opts.APIKeys...), picker: picker}, nil
}

// Generate produces images with the Images API and returns every url (or
// b64_json) entry in the response.
func (a *Adapter) Generate(ctx context.Context, model, text string, opts models.GenerationOptions) ([]models.ImageResult, error) {
	ctx, span := tracer.Start(ctx, "openai_generate")
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
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.NewGenerationError("openai: prompt required", nil)
	}
	key, err := a.picker.Pick(a.keys)
	if err != nil {
		return nil, models.NewGenerationError("no api key available", err)
	}

	size := opts.Size
	if size == "" {
		size = prompt.DefaultSize
	}
	n := opts.N
	if n <= 0 {
		n = 1
	}
	params := openai.ImageGenerateParams{
		Model:          openai.ImageModel(model),
		Prompt:         text,
		N:              param.NewOpt(int64(n)),
		Size:           openai.ImageGenerateParamsSize(size),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	}
	callOpts := []option.RequestOption{option.WithAPIKey(key)}
	if opts.Seed != nil {
		callOpts = append(callOpts, option.WithJSONSet("seed", *opts.Seed))
	}

	resp, err := a.client.Images.Generate(ctx, params, callOpts...)
	if err != nil {
		return nil, models.NewGenerationError(describeError(err), err)
	}

	images := make([]models.ImageResult, 0, len(resp.Data))
	for _, item := range resp.Data {
		switch {
		case strings.TrimSpace(item.URL) != "":
			images = append(images, models.URLImage(item.URL))
		case strings.TrimSpace(item.B64JSON) != "":
			images = append(images, models.Base64Image(item.B64JSON))
		}
	}
	if len(images) == 0 {
		// Some compatible servers answer in a non-OpenAI shape.
		if img, ok := normalize.Extract([]byte(resp.RawJSON())); ok {
			images = append(images, img)
		}
	}
	if len(images) == 0 {
		return nil, models.NewGenerationError("upstream response contained no image", nil)
	}
	return images, nil
}

func describeError(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = normalize.ErrorMessage([]byte(apiErr.RawJSON()))
		}
		return fmt.Sprintf("upstream returned status %d: %s", apiErr.StatusCode, msg)
	}
	return "upstream request failed"
}
