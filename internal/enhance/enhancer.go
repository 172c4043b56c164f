// Package enhance rewrites user prompts through an OpenAI compatible chat
// completion call. Every failure falls back to the original text.
package enhance

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ncecere/open_image_gateway/internal/models"
)

const chatCompletionsSuffix = "/chat/completions"

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Enhancer calls the configured chat model.
type Enhancer struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

func New(httpClient *http.Client, timeout time.Duration, logger *slog.Logger) *Enhancer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{httpClient: httpClient, timeout: timeout, logger: logger}
}

// Enhance returns the rewritten prompt, or text unchanged when disabled or
// on any error. fallbackKey is used when the settings carry no key.
func (e *Enhancer) Enhance(ctx context.Context, cfg models.PromptSettings, fallbackKey, text string) string {
	if !cfg.Enabled || strings.TrimSpace(text) == "" {
		return text
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		key = strings.TrimSpace(fallbackKey)
	}
	systemPrompt := cfg.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = models.DefaultEnhancerSystemPrompt
	}

	opts := []option.RequestOption{
		option.WithBaseURL(BaseURL(cfg.APIURL)),
		option.WithAPIKey(key),
		option.WithRequestTimeout(e.timeout),
		option.WithMaxRetries(0),
	}
	if e.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(e.httpClient))
	}
	client := openai.NewClient(opts...)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		e.logger.Warn("prompt enhancement failed", slog.String("model", cfg.Model), slog.String("error", err.Error()))
		return text
	}
	if len(resp.Choices) == 0 {
		return text
	}
	out := strings.TrimSpace(thinkBlock.ReplaceAllString(resp.Choices[0].Message.Content, ""))
	if out == "" {
		return text
	}
	return out
}

// BaseURL turns a full chat-completions URL into the SDK base URL.
func BaseURL(apiURL string) string {
	base := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	base = strings.TrimSuffix(base, chatCompletionsSuffix)
	return base + "/"
}
