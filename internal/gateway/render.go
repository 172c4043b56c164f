package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ncecere/open_image_gateway/internal/guardrails"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/providers"
)

// ErrModelRetired is returned for models that were taken offline.
var ErrModelRetired = errors.New("model retired")

const (
	downloadLabel = "下载链接(链接有时效性，及时下载保存)："
	hostedLabel   = "蓝空图床链接(永久有效)："
	defaultModel  = "flux-dev"
)

// ChatPrompt joins every non-assistant message with blank lines.
func ChatPrompt(messages []models.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == "assistant" {
			continue
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// ValidateChat checks the request shape and returns the prompt text.
func ValidateChat(req models.ChatRequest) (string, error) {
	if strings.TrimSpace(req.Model) == "" || len(req.Messages) == 0 {
		return "", fmt.Errorf("%w: missing required fields", ErrInvalidRequest)
	}
	if strings.Contains(strings.ToLower(req.Model), "janus") {
		return "", fmt.Errorf("%w: %s", ErrModelRetired, req.Model)
	}
	text := ChatPrompt(req.Messages)
	if text == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrInvalidRequest)
	}
	return text, nil
}

// Chat runs a non-streaming chat completion. Generation failures are
// rendered into the reply; only validation and provider lookup errors are
// returned.
func (d *Dispatcher) Chat(ctx context.Context, req models.ChatRequest) (models.ChatCompletion, error) {
	text, err := ValidateChat(req)
	if err != nil {
		return models.ChatCompletion{}, err
	}
	content, err := d.markdown(ctx, req.Model, text)
	if err != nil {
		return models.ChatCompletion{}, err
	}
	promptTokens := utf8.RuneCountInString(req.Messages[len(req.Messages)-1].Content)
	completionTokens := utf8.RuneCountInString(content)
	return models.ChatCompletion{
		ID:      d.newID(),
		Object:  "chat.completion",
		Created: d.now().Unix(),
		Model:   req.Model,
		Choices: []models.ChatChoice{{
			Index:        0,
			Message:      models.ChatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: models.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// Gen renders the markdown reply for a plain-text prompt.
func (d *Dispatcher) Gen(ctx context.Context, model, text string) (string, error) {
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrInvalidRequest)
	}
	return d.markdown(ctx, model, text)
}

func (d *Dispatcher) markdown(ctx context.Context, model, text string) (string, error) {
	plan, err := d.Prepare(ctx, model, text, 0)
	if err != nil {
		return "", err
	}
	if plan.Blocked {
		return guardrails.WarningMessage, nil
	}

	genCtx, cancel := d.Detach(ctx)
	defer cancel()
	outcomes := make([]Outcome, plan.Count)
	d.Run(genCtx, plan, func(o Outcome) { outcomes[o.Index] = o })

	var b strings.Builder
	var lastErr error
	rendered := 0
	for _, o := range outcomes {
		if o.Err != nil {
			lastErr = o.Err
			continue
		}
		if rendered == 0 {
			fmt.Fprintf(&b, "\n{\n \"prompt\":%s,\n \"image_size\": %q,\n \"count\": %d\n}\n\n",
				jsonString(plan.SafePrompt), plan.Size, plan.Count)
		} else {
			b.WriteString("\n\n")
		}
		rendered++
		if o.Image.IsURL() {
			b.WriteString(downloadLabel + o.Link + "\n\n")
		}
		if o.Hosted != "" {
			b.WriteString(hostedLabel + o.Hosted + "\n\n")
		}
		fmt.Fprintf(&b, "![image%d|%s](%s)", rendered, plan.SafePrompt, o.Display())
	}
	if rendered == 0 {
		msg := "unknown error"
		if lastErr != nil {
			msg = FailureReason(lastErr)
		}
		return "生成图像失败: " + msg, nil
	}
	return b.String(), nil
}

// Stream writes the staged chunk sequence for a chat request. The caller
// writes the [DONE] marker after Stream returns. emit errors abort the
// stream; upstream work already dispatched still runs to completion.
func (d *Dispatcher) Stream(ctx context.Context, req models.ChatRequest, emit func(models.ChatChunk) error) error {
	text, err := ValidateChat(req)
	if err != nil {
		return err
	}
	s := &streamer{id: d.newID(), created: d.now().Unix(), model: req.Model, emit: emit}
	if err := s.role(); err != nil {
		return err
	}

	plan, err := d.Prepare(ctx, req.Model, text, 0)
	switch {
	case errors.Is(err, providers.ErrNoProvider):
		if err := s.content(fmt.Sprintf("Model '%s' not found", req.Model)); err != nil {
			return err
		}
		return s.stop()
	case err != nil:
		if err := s.content("生成图像失败: " + err.Error()); err != nil {
			return err
		}
		return s.stop()
	case plan.Blocked:
		if err := s.content(guardrails.WarningMessage); err != nil {
			return err
		}
		return s.stop()
	}

	header := fmt.Sprintf("```\n{\n  \"prompt\":%s,\n  \"count\":%d\n}\n```\n", jsonString(plan.SafePrompt), plan.Count)
	if err := s.content(header); err != nil {
		return err
	}
	if err := s.content(fmt.Sprintf("> 正在生成 %d 张图片...", plan.Count)); err != nil {
		return err
	}

	genCtx, cancel := d.Detach(ctx)
	defer cancel()
	var emitErr error
	d.Run(genCtx, plan, func(o Outcome) {
		if emitErr != nil {
			return
		}
		emitErr = s.content(renderOutcome(o, plan))
	})
	if emitErr != nil {
		return emitErr
	}
	if err := s.content(fmt.Sprintf("\n\n所有 %d 张图片处理完成。", plan.Count)); err != nil {
		return err
	}
	return s.stop()
}

func renderOutcome(o Outcome, plan *Plan) string {
	n := o.Index + 1
	if o.Err != nil {
		return fmt.Sprintf("\n\n图片 #%d/%d 生成失败 ❌ - %s", n, plan.Count, FailureReason(o.Err))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n图片 #%d/%d 生成完成 ✅\n", n, plan.Count)
	if o.Image.IsURL() {
		b.WriteString(downloadLabel + o.Link + "\n\n")
	}
	if o.Hosted != "" {
		b.WriteString(hostedLabel + o.Hosted + "\n\n")
	}
	fmt.Fprintf(&b, "![image%d|%s](%s)", n, plan.SafePrompt, o.Display())
	return b.String()
}

type streamer struct {
	id      string
	created int64
	model   string
	emit    func(models.ChatChunk) error
}

func (s *streamer) chunk(delta models.DeltaBody, finish *string) error {
	return s.emit(models.ChatChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []models.ChunkDelta{{Index: 0, Delta: delta, FinishReason: finish}},
	})
}

func (s *streamer) role() error { return s.chunk(models.DeltaBody{Role: "assistant"}, nil) }

func (s *streamer) content(text string) error {
	return s.chunk(models.DeltaBody{Content: text}, nil)
}

func (s *streamer) stop() error {
	reason := "stop"
	return s.chunk(models.DeltaBody{}, &reason)
}

// Images serves the OpenAI images API. ErrNoProvider and validation errors
// are returned; generation failures come back in the response body.
func (d *Dispatcher) Images(ctx context.Context, req models.ImagesRequest) (models.ImagesResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return models.ImagesResponse{}, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = defaultModel
	}
	count := req.N
	if count <= 0 {
		count = 1
	}
	plan, err := d.Prepare(ctx, model, req.Prompt, count)
	if err != nil {
		return models.ImagesResponse{}, err
	}
	resp := models.ImagesResponse{Created: d.now().Unix(), Data: []models.ImageData{}}
	if plan.Blocked {
		resp.Error = &models.APIError{Message: guardrails.WarningMessage, Type: "content_policy_violation"}
		return resp, nil
	}
	if req.Size != "" {
		plan.Size = req.Size
	}
	if req.Seed != nil {
		plan.Seed = req.Seed
	}

	genCtx, cancel := d.Detach(ctx)
	defer cancel()
	outcomes := make([]Outcome, plan.Count)
	d.Run(genCtx, plan, func(o Outcome) { outcomes[o.Index] = o })

	var lastErr error
	for _, o := range outcomes {
		if o.Err != nil {
			lastErr = o.Err
			continue
		}
		entry := models.ImageData{}
		if plan.Prompt != req.Prompt {
			entry.RevisedPrompt = plan.Prompt
		}
		switch {
		case o.Hosted != "":
			entry.URL = o.Hosted
		case o.Image.IsURL():
			entry.URL = o.Link
		case req.ResponseFormat == "b64_json":
			entry.B64JSON = stripDataURI(o.Image.Payload)
		default:
			entry.URL = o.Image.Payload
		}
		resp.Data = append(resp.Data, entry)
	}
	if len(resp.Data) == 0 && lastErr != nil {
		resp.Error = &models.APIError{Message: "Image generation failed: " + FailureReason(lastErr), Type: "server_error"}
	}
	return resp, nil
}

func stripDataURI(payload string) string {
	if i := strings.Index(payload, ";base64,"); i >= 0 && strings.HasPrefix(payload, "data:") {
		return payload[i+len(";base64,"):]
	}
	return payload
}

func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
