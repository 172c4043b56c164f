package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_image_gateway/internal/guardrails"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/providers"
)

type stubSettings struct {
	system  models.SystemSettings
	prompt  models.PromptSettings
	hosting models.HostingSettings
	short   models.ShortLinkSettings
}

func (s stubSettings) System(context.Context) (models.SystemSettings, error) { return s.system, nil }
func (s stubSettings) Prompt(context.Context) (models.PromptSettings, error) { return s.prompt, nil }
func (s stubSettings) Hosting(context.Context) (models.HostingSettings, error) {
	return s.hosting, nil
}
func (s stubSettings) ShortLink(context.Context) (models.ShortLinkSettings, error) {
	return s.short, nil
}

type fakeAdapter struct {
	calls atomic.Int32
	mu    sync.Mutex
	opts  []models.GenerationOptions
	texts []string
	// fail makes the call with this 1-based sequence number fail.
	fail map[int32]bool
}

func (f *fakeAdapter) Generate(_ context.Context, model, text string, opts models.GenerationOptions) ([]models.ImageResult, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.fail[n] {
		return nil, models.NewGenerationError("upstream exploded", nil)
	}
	return []models.ImageResult{models.URLImage(fmt.Sprintf("https://cdn.example.com/%s/%d.png", model, n))}, nil
}

type fakeResolver struct {
	adapter  *fakeAdapter
	missing  bool
	buildErr error
}

func (r fakeResolver) Resolve(_ context.Context, model string) (models.Provider, providers.Adapter, error) {
	if r.missing {
		return models.Provider{}, nil, providers.ErrNoProvider
	}
	if r.buildErr != nil {
		err := fmt.Errorf("%w: %w", providers.ErrAdapterUnavailable, r.buildErr)
		return models.Provider{Name: "broken", Type: models.ProviderNative}, nil, err
	}
	return models.Provider{Name: "fal", Type: models.ProviderQueue, APIKeys: []string{"pk"}, Models: []string{model}}, r.adapter, nil
}

func (r fakeResolver) AllModels(context.Context) ([]providers.ModelRef, error) {
	return []providers.ModelRef{{ID: "flux-dev", OwnedBy: "fal_ai-fal"}}, nil
}

type upperEnhancer struct{ fallback string }

func (e *upperEnhancer) Enhance(_ context.Context, _ models.PromptSettings, fallbackKey, text string) string {
	e.fallback = fallbackKey
	return strings.ToUpper(text)
}

type prefixShortener struct{}

func (prefixShortener) Shorten(_ context.Context, _ models.ShortLinkSettings, url string) string {
	return "https://s.example/" + url[len(url)-5:]
}

type fixedRehoster struct{ ok bool }

func (r fixedRehoster) Rehost(context.Context, models.HostingSettings, string) (string, bool) {
	if !r.ok {
		return "", false
	}
	return "https://lsky.example/i/1.png", true
}

func newDispatcher(adapter *fakeAdapter, settings stubSettings) *Dispatcher {
	if settings.system.MaxImagesPerRequest == 0 {
		settings.system.MaxImagesPerRequest = 4
	}
	d := New(Deps{Settings: settings, Resolver: fakeResolver{adapter: adapter}})
	d.now = func() time.Time { return time.Unix(1700000000, 0) }
	d.newID = func() string { return "chatcmpl-test" }
	return d
}

func chatRequest(text string) models.ChatRequest {
	return models.ChatRequest{Model: "flux-dev", Messages: []models.ChatMessage{{Role: "user", Content: text}}}
}

func collect(t *testing.T, d *Dispatcher, req models.ChatRequest) []models.ChatChunk {
	t.Helper()
	var chunks []models.ChatChunk
	err := d.Stream(context.Background(), req, func(c models.ChatChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	return chunks
}

func TestModerationSkipsUpstream(t *testing.T) {
	adapter := &fakeAdapter{}
	d := newDispatcher(adapter, stubSettings{system: models.SystemSettings{BannedKeywords: "forbidden, nope"}})

	resp, err := d.Chat(context.Background(), chatRequest("a FORBIDDEN cat"))
	require.NoError(t, err)
	require.Equal(t, guardrails.WarningMessage, resp.Choices[0].Message.Content)

	chunks := collect(t, d, chatRequest("nope nope"))
	require.Len(t, chunks, 3)
	require.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	require.Equal(t, guardrails.WarningMessage, chunks[1].Choices[0].Delta.Content)
	require.Equal(t, "stop", *chunks[2].Choices[0].FinishReason)

	images, err := d.Images(context.Background(), models.ImagesRequest{Prompt: "forbidden"})
	require.NoError(t, err)
	require.Empty(t, images.Data)
	require.NotNil(t, images.Error)

	require.Zero(t, adapter.calls.Load())
}

func TestChatRendersImage(t *testing.T) {
	adapter := &fakeAdapter{}
	d := newDispatcher(adapter, stubSettings{short: models.ShortLinkSettings{Enabled: true}})
	d.shortener = prefixShortener{}

	resp, err := d.Chat(context.Background(), chatRequest("a cat\non a mat seed:42 16:9"))
	require.NoError(t, err)
	content := resp.Choices[0].Message.Content

	require.Equal(t, "chat.completion", resp.Object)
	require.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.Contains(t, content, `"prompt":"a cat on a mat"`)
	require.Contains(t, content, `"count": 1`)
	require.Contains(t, content, downloadLabel+"https://s.example/1.png")
	require.Contains(t, content, "![image1|a cat on a mat](https://s.example/1.png)")
	require.NotContains(t, content, hostedLabel)

	require.Len(t, adapter.opts, 1)
	require.Equal(t, int64(42), *adapter.opts[0].Seed)
	require.Equal(t, 1, adapter.opts[0].N)
	require.NotEqual(t, "1024x1024", adapter.opts[0].Size)
	require.Equal(t, len([]rune(content)), resp.Usage.CompletionTokens)
}

func TestChatPrefersHostedLink(t *testing.T) {
	adapter := &fakeAdapter{}
	d := newDispatcher(adapter, stubSettings{hosting: models.HostingSettings{Enabled: true}})
	d.rehoster = fixedRehoster{ok: true}

	resp, err := d.Chat(context.Background(), chatRequest("a dog"))
	require.NoError(t, err)
	content := resp.Choices[0].Message.Content
	require.Contains(t, content, hostedLabel+"https://lsky.example/i/1.png")
	require.Contains(t, content, "](https://lsky.example/i/1.png)")
}

func TestChatFailureMessage(t *testing.T) {
	adapter := &fakeAdapter{fail: map[int32]bool{1: true}}
	d := newDispatcher(adapter, stubSettings{})

	resp, err := d.Chat(context.Background(), chatRequest("a dog"))
	require.NoError(t, err)
	require.Equal(t, "生成图像失败: upstream exploded", resp.Choices[0].Message.Content)
}

func TestAdapterBuildFailureRenderedInBody(t *testing.T) {
	d := newDispatcher(&fakeAdapter{}, stubSettings{})
	d.resolver = fakeResolver{buildErr: errors.New("provider has no api keys")}

	resp, err := d.Chat(context.Background(), chatRequest("a dog"))
	require.NoError(t, err)
	content := resp.Choices[0].Message.Content
	require.True(t, strings.HasPrefix(content, "生成图像失败: "), content)
	require.Contains(t, content, "provider has no api keys")

	images, err := d.Images(context.Background(), models.ImagesRequest{Prompt: "a dog", N: 2})
	require.NoError(t, err)
	require.Empty(t, images.Data)
	require.Equal(t, "server_error", images.Error.Type)
	require.Contains(t, images.Error.Message, "provider has no api keys")

	chunks := collect(t, d, chatRequest("a dog pic:2"))
	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Choices[0].Delta.Content)
	}
	require.Contains(t, text.String(), "图片 #1/2 生成失败")
	require.Contains(t, text.String(), "图片 #2/2 生成失败")
	require.Equal(t, "stop", *chunks[len(chunks)-1].Choices[0].FinishReason)
}

func TestChatValidation(t *testing.T) {
	d := newDispatcher(&fakeAdapter{}, stubSettings{})

	_, err := d.Chat(context.Background(), models.ChatRequest{Model: "flux-dev"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = d.Chat(context.Background(), models.ChatRequest{Model: "Janus-Pro", Messages: []models.ChatMessage{{Role: "user", Content: "x"}}})
	require.ErrorIs(t, err, ErrModelRetired)

	d.resolver = fakeResolver{missing: true}
	_, err = d.Chat(context.Background(), chatRequest("a dog"))
	require.ErrorIs(t, err, providers.ErrNoProvider)
}

func TestChatPromptSkipsAssistant(t *testing.T) {
	got := ChatPrompt([]models.ChatMessage{
		{Role: "system", Content: "style: watercolor"},
		{Role: "assistant", Content: "ignored"},
		{Role: "user", Content: " a fox "},
	})
	require.Equal(t, "style: watercolor\n\n a fox", got)
}

func TestStreamStages(t *testing.T) {
	adapter := &fakeAdapter{fail: map[int32]bool{2: true}}
	d := newDispatcher(adapter, stubSettings{})

	chunks := collect(t, d, chatRequest("a fox pic:3"))
	require.Equal(t, int32(3), adapter.calls.Load())
	// role, header, progress, three results, summary, stop
	require.Len(t, chunks, 8)

	require.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	require.Equal(t, "```\n{\n  \"prompt\":\"a fox\",\n  \"count\":3\n}\n```\n", chunks[1].Choices[0].Delta.Content)
	require.Equal(t, "> 正在生成 3 张图片...", chunks[2].Choices[0].Delta.Content)

	var ok, failed int
	for _, c := range chunks[3:6] {
		text := c.Choices[0].Delta.Content
		switch {
		case strings.Contains(text, "生成完成 ✅"):
			ok++
		case strings.Contains(text, "生成失败 ❌ - upstream exploded"):
			failed++
		default:
			t.Fatalf("unexpected chunk %q", text)
		}
		require.Nil(t, c.Choices[0].FinishReason)
	}
	require.Equal(t, 2, ok)
	require.Equal(t, 1, failed)

	require.Equal(t, "\n\n所有 3 张图片处理完成。", chunks[6].Choices[0].Delta.Content)
	require.Equal(t, "stop", *chunks[7].Choices[0].FinishReason)
	for _, c := range chunks {
		require.Equal(t, "chatcmpl-test", c.ID)
		require.Equal(t, "chat.completion.chunk", c.Object)
	}
}

func TestStreamMissingProvider(t *testing.T) {
	d := newDispatcher(&fakeAdapter{}, stubSettings{})
	d.resolver = fakeResolver{missing: true}

	chunks := collect(t, d, chatRequest("a fox"))
	require.Len(t, chunks, 3)
	require.Equal(t, "Model 'flux-dev' not found", chunks[1].Choices[0].Delta.Content)
}

func TestStreamEmitErrorAborts(t *testing.T) {
	d := newDispatcher(&fakeAdapter{}, stubSettings{})
	boom := errors.New("client gone")
	err := d.Stream(context.Background(), chatRequest("a fox"), func(models.ChatChunk) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestCountClampedToLimit(t *testing.T) {
	adapter := &fakeAdapter{}
	d := newDispatcher(adapter, stubSettings{system: models.SystemSettings{MaxImagesPerRequest: 2}})

	collect(t, d, chatRequest("a fox pic:9"))
	require.Equal(t, int32(2), adapter.calls.Load())
}

func TestEnhancerUsesProviderKeyFallback(t *testing.T) {
	adapter := &fakeAdapter{}
	d := newDispatcher(adapter, stubSettings{})
	enh := &upperEnhancer{}
	d.enhancer = enh

	_, err := d.Chat(context.Background(), chatRequest("a fox seed:7"))
	require.NoError(t, err)
	require.Equal(t, "pk", enh.fallback)
	require.Equal(t, []string{"A FOX"}, adapter.texts)
}

func TestImages(t *testing.T) {
	adapter := &fakeAdapter{fail: map[int32]bool{1: true}}
	d := newDispatcher(adapter, stubSettings{})
	seed := int64(5)

	resp, err := d.Images(context.Background(), models.ImagesRequest{Prompt: "a fox", N: 2, Size: "512x768", Seed: &seed})
	require.NoError(t, err)
	require.EqualValues(t, 1700000000, resp.Created)
	require.Len(t, resp.Data, 1)
	require.Nil(t, resp.Error)
	require.True(t, strings.HasPrefix(resp.Data[0].URL, "https://cdn.example.com/flux-dev/"))
	for _, o := range adapter.opts {
		require.Equal(t, "512x768", o.Size)
		require.Equal(t, int64(5), *o.Seed)
	}

	adapter = &fakeAdapter{fail: map[int32]bool{1: true}}
	d = newDispatcher(adapter, stubSettings{})
	resp, err = d.Images(context.Background(), models.ImagesRequest{Prompt: "a fox"})
	require.NoError(t, err)
	require.Empty(t, resp.Data)
	require.Equal(t, "Image generation failed: upstream exploded", resp.Error.Message)

	_, err = d.Images(context.Background(), models.ImagesRequest{Model: "flux-dev"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	d.resolver = fakeResolver{missing: true}
	_, err = d.Images(context.Background(), models.ImagesRequest{Prompt: "a fox"})
	require.ErrorIs(t, err, providers.ErrNoProvider)
}

func TestListModels(t *testing.T) {
	d := newDispatcher(&fakeAdapter{}, stubSettings{})
	list, err := d.ListModels(context.Background())
	require.NoError(t, err)
	require.Equal(t, "list", list.Object)
	require.Equal(t, []models.ModelEntry{{ID: "flux-dev", Object: "model", Created: 1700000000, OwnedBy: "fal_ai-fal"}}, list.Data)
}

func TestDetachSurvivesRequestCancel(t *testing.T) {
	base, stopBase := context.WithCancel(context.Background())
	d := New(Deps{Settings: stubSettings{}, Resolver: fakeResolver{}, Base: base})

	req, cancelReq := context.WithCancel(context.Background())
	detached, release := d.Detach(req)
	defer release()

	cancelReq()
	require.NoError(t, detached.Err())

	stopBase()
	select {
	case <-detached.Done():
	case <-time.After(time.Second):
		t.Fatal("detached context not cancelled by base")
	}
}
