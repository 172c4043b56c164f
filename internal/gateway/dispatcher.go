// Package gateway orchestrates one generation request: moderation, directive
// extraction, prompt enhancement, provider resolution, adapter calls and
// post-processing, then shapes the OpenAI style reply.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ncecere/open_image_gateway/internal/guardrails"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/prompt"
	"github.com/ncecere/open_image_gateway/internal/providers"
)

// ErrInvalidRequest marks request-shape errors surfaced as 4xx.
var ErrInvalidRequest = errors.New("invalid request")

// Settings supplies the live configuration read on every request.
type Settings interface {
	System(ctx context.Context) (models.SystemSettings, error)
	Prompt(ctx context.Context) (models.PromptSettings, error)
	Hosting(ctx context.Context) (models.HostingSettings, error)
	ShortLink(ctx context.Context) (models.ShortLinkSettings, error)
}

// Resolver maps a model to a provider and its adapter.
type Resolver interface {
	Resolve(ctx context.Context, model string) (models.Provider, providers.Adapter, error)
	AllModels(ctx context.Context) ([]providers.ModelRef, error)
}

type Enhancer interface {
	Enhance(ctx context.Context, cfg models.PromptSettings, fallbackKey, text string) string
}

type Shortener interface {
	Shorten(ctx context.Context, cfg models.ShortLinkSettings, url string) string
}

type Rehoster interface {
	Rehost(ctx context.Context, cfg models.HostingSettings, ref string) (string, bool)
}

// Recorder receives generation metrics. observability.Provider implements it.
type Recorder interface {
	RecordGeneration(providerType, model, outcome string, duration time.Duration, images int)
	RecordPostProcess(step, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordGeneration(string, string, string, time.Duration, int) {}
func (nopRecorder) RecordPostProcess(string, string)                            {}

// Deps wires the dispatcher's collaborators.
type Deps struct {
	Settings  Settings
	Resolver  Resolver
	Enhancer  Enhancer
	Shortener Shortener
	Rehoster  Rehoster
	Recorder  Recorder
	Logger    *slog.Logger
	// Base bounds generation work that outlives a request; it is usually
	// cancelled on process shutdown.
	Base context.Context
}

// Dispatcher is the entry point used by the HTTP layer.
type Dispatcher struct {
	settings  Settings
	resolver  Resolver
	enhancer  Enhancer
	shortener Shortener
	rehoster  Rehoster
	recorder  Recorder
	logger    *slog.Logger
	base      context.Context

	now   func() time.Time
	newID func() string
}

func New(deps Deps) *Dispatcher {
	d := &Dispatcher{
		settings:  deps.Settings,
		resolver:  deps.Resolver,
		enhancer:  deps.Enhancer,
		shortener: deps.Shortener,
		rehoster:  deps.Rehoster,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		base:      deps.Base,
		now:       time.Now,
		newID:     func() string { return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
	if d.recorder == nil {
		d.recorder = nopRecorder{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.base == nil {
		d.base = context.Background()
	}
	return d
}

// Detach returns a context that keeps the values of ctx but is cancelled
// only when the dispatcher's base context is. Client disconnects do not
// abort upstream polling.
func (d *Dispatcher) Detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(d.base, cancel)
	return detached, func() {
		stop()
		cancel()
	}
}

// Plan is a request after moderation and directive extraction.
type Plan struct {
	Model string
	// Source is the text the user sent, after the count directive is removed.
	Source string
	// Prompt is what goes upstream: directives stripped, optionally enhanced.
	Prompt     string
	SafePrompt string
	Size       string
	Seed       *int64
	Count      int
	Blocked    bool

	provider models.Provider
	adapter  providers.Adapter
	// failure fails every slot when the adapter could not be built.
	failure error
}

// Outcome is the result of one image slot.
type Outcome struct {
	Index int
	Image models.ImageResult
	// Link is the (possibly shortened) original reference.
	Link string
	// Hosted is set when rehosting succeeded.
	Hosted string
	Err    error
}

// Display is the reference shown in markdown.
func (o Outcome) Display() string {
	if o.Hosted != "" {
		return o.Hosted
	}
	return o.Link
}

// Prepare runs moderation, extracts size and seed, resolves the provider and
// enhances the prompt. A count of zero reads the pic:N directive from
// text. A blocked plan is returned without error. ErrNoProvider is returned
// when no usable provider exists. An adapter that cannot be built does not
// fail Prepare; Run reports it on every slot.
func (d *Dispatcher) Prepare(ctx context.Context, model, text string, count int) (*Plan, error) {
	sys, err := d.settings.System(ctx)
	if err != nil {
		return nil, fmt.Errorf("load system settings: %w", err)
	}
	limit := sys.MaxImagesPerRequest
	if limit < 1 {
		limit = 1
	}
	if count <= 0 {
		text, count = prompt.ExtractImageCount(text, limit)
	}
	count = min(max(count, 1), limit)
	plan := &Plan{Model: model, Source: text, Count: count}
	if res := guardrails.Moderate(sys.BannedKeywords, text); res.Blocked() {
		d.logger.Info("prompt rejected by moderation", slog.String("model", model), slog.String("keyword", res.Violation))
		plan.Blocked = true
		return plan, nil
	}

	cleaned, seed := prompt.ExtractSeed(text)
	cleaned, size := prompt.ExtractResolution(cleaned)
	plan.Seed, plan.Size = seed, size

	provider, adapter, err := d.resolver.Resolve(ctx, model)
	switch {
	case errors.Is(err, providers.ErrAdapterUnavailable):
		d.logger.Error("provider adapter unavailable",
			slog.String("provider", provider.Name),
			slog.String("model", model),
			slog.String("error", err.Error()),
		)
		plan.failure = err
	case err != nil:
		return nil, err
	}
	plan.provider, plan.adapter = provider, adapter

	plan.Prompt = cleaned
	if d.enhancer != nil {
		cfg, err := d.settings.Prompt(ctx)
		if err != nil {
			d.logger.Warn("prompt settings unavailable", slog.String("error", err.Error()))
		} else {
			fallbackKey := ""
			if keys := provider.Keys(); len(keys) > 0 {
				fallbackKey = keys[0]
			}
			plan.Prompt = d.enhancer.Enhance(ctx, cfg, fallbackKey, cleaned)
		}
	}
	if strings.TrimSpace(plan.Prompt) == "" {
		plan.Prompt = cleaned
	}
	plan.SafePrompt = strings.ReplaceAll(plan.Prompt, "\n", " ")
	return plan, nil
}

// Run generates plan.Count images on a pool of plan.Count workers and calls
// emit for each as it completes. emit is never called concurrently. Run
// returns after every slot has been resolved.
func (d *Dispatcher) Run(ctx context.Context, plan *Plan, emit func(Outcome)) {
	if plan.failure != nil || plan.adapter == nil {
		err := plan.failure
		if err == nil {
			err = providers.ErrAdapterUnavailable
		}
		for i := 0; i < plan.Count; i++ {
			emit(Outcome{Index: i, Err: err})
		}
		return
	}
	hosting, shortCfg := d.postSettings(ctx)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(plan.Count)
	for i := 0; i < plan.Count; i++ {
		g.Go(func() error {
			out := d.generateOne(gctx, plan, i, hosting, shortCfg)
			mu.Lock()
			defer mu.Unlock()
			emit(out)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) postSettings(ctx context.Context) (models.HostingSettings, models.ShortLinkSettings) {
	hosting, err := d.settings.Hosting(ctx)
	if err != nil {
		d.logger.Warn("hosting settings unavailable", slog.String("error", err.Error()))
		hosting = models.HostingSettings{}
	}
	shortCfg, err := d.settings.ShortLink(ctx)
	if err != nil {
		d.logger.Warn("shortlink settings unavailable", slog.String("error", err.Error()))
		shortCfg = models.ShortLinkSettings{}
	}
	return hosting, shortCfg
}

func (d *Dispatcher) generateOne(ctx context.Context, plan *Plan, index int, hosting models.HostingSettings, shortCfg models.ShortLinkSettings) Outcome {
	out := Outcome{Index: index}
	start := d.now()
	opts := models.GenerationOptions{Size: plan.Size, Seed: plan.Seed, N: 1}
	images, err := plan.adapter.Generate(ctx, plan.Model, plan.Prompt, opts)
	if err == nil && (len(images) == 0 || images[0].Empty()) {
		err = models.NewGenerationError("upstream returned no image", nil)
	}
	elapsed := d.now().Sub(start)
	if err != nil {
		d.recorder.RecordGeneration(string(plan.provider.Type), plan.Model, "error", elapsed, 0)
		d.logger.Error("image generation failed",
			slog.String("provider", plan.provider.Name),
			slog.String("model", plan.Model),
			slog.Int("index", index+1),
			slog.String("error", err.Error()),
		)
		out.Err = err
		return out
	}
	d.recorder.RecordGeneration(string(plan.provider.Type), plan.Model, "success", elapsed, len(images))

	out.Image = images[0]
	out.Link = out.Image.Payload
	if d.rehoster != nil && hosting.Enabled {
		if hosted, ok := d.rehoster.Rehost(ctx, hosting, out.Image.Payload); ok {
			out.Hosted = hosted
			d.recorder.RecordPostProcess("rehost", "success")
		} else {
			d.recorder.RecordPostProcess("rehost", "fallback")
		}
	}
	if d.shortener != nil && out.Image.IsURL() {
		out.Link = d.shortener.Shorten(ctx, shortCfg, out.Image.Payload)
		if out.Link != out.Image.Payload {
			d.recorder.RecordPostProcess("shorten", "success")
		}
	}
	return out
}

// ListModels returns the OpenAI style model listing.
func (d *Dispatcher) ListModels(ctx context.Context) (models.ModelList, error) {
	refs, err := d.resolver.AllModels(ctx)
	if err != nil {
		return models.ModelList{}, err
	}
	created := d.now().Unix()
	list := models.ModelList{Object: "list", Data: make([]models.ModelEntry, 0, len(refs))}
	for _, ref := range refs {
		list.Data = append(list.Data, models.ModelEntry{ID: ref.ID, Object: "model", Created: created, OwnedBy: ref.OwnedBy})
	}
	return list, nil
}

// FailureReason renders an adapter error for users.
func FailureReason(err error) string {
	var genErr *models.GenerationError
	if errors.As(err, &genErr) {
		return genErr.Error()
	}
	if errors.Is(err, providers.ErrNoProvider) {
		return "no provider available for this model"
	}
	return err.Error()
}
