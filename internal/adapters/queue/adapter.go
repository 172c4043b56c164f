// Package queue implements the asynchronous submit/poll image adapter used by
// fal.ai style providers.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/normalize"
	"github.com/ncecere/open_image_gateway/internal/prompt"
	"github.com/ncecere/open_image_gateway/internal/providers/keypool"
)

var tracer = otel.Tracer("open-image-gateway/queue")

const (
	defaultRequestTimeout = 30 * time.Second
	defaultPollInterval   = 2 * time.Second
	defaultPollAttempts   = 60
	maxSubmitRetries      = 3
	maxBackoff            = 8 * time.Second
)

// SleepFunc pauses between attempts; it returns early with ctx's error.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configure the queue adapter. SubmitRetries is capped at 3; a
// negative value disables retries.
type Options struct {
	BaseURL        string
	APIKeys        []string
	Picker         keypool.Picker
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	PollInterval   time.Duration
	PollAttempts   int
	SubmitRetries  int
	OutputFormat   string
	Sleep          SleepFunc
	Logger         *slog.Logger
}

// Adapter submits a job then polls it to completion.
type Adapter struct {
	host          string
	keys          []string
	picker        keypool.Picker
	client        *http.Client
	timeout       time.Duration
	pollInterval  time.Duration
	pollAttempts  int
	submitRetries int
	outputFormat  string
	sleep         SleepFunc
	logger        *slog.Logger
}

// New validates opts and fills in the documented defaults.
func New(opts Options) (*Adapter, error) {
	if len(opts.APIKeys) == 0 {
		return nil, errors.New("queue: at least one api key required")
	}
	a := &Adapter{
		host:          strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		keys:          append([]string(nil), opts.APIKeys...),
		picker:        opts.Picker,
		client:        opts.HTTPClient,
		timeout:       opts.RequestTimeout,
		pollInterval:  opts.PollInterval,
		pollAttempts:  opts.PollAttempts,
		submitRetries: opts.SubmitRetries,
		outputFormat:  strings.TrimSpace(opts.OutputFormat),
		sleep:         opts.Sleep,
		logger:        opts.Logger,
	}
	if a.host == "" {
		a.host = DefaultHost
	}
	if a.picker == nil {
		a.picker = keypool.NewRandom(nil)
	}
	if a.client == nil {
		a.client = http.DefaultClient
	}
	if a.timeout <= 0 {
		a.timeout = defaultRequestTimeout
	}
	if a.pollInterval <= 0 {
		a.pollInterval = defaultPollInterval
	}
	if a.pollAttempts <= 0 {
		a.pollAttempts = defaultPollAttempts
	}
	switch {
	case a.submitRetries < 0:
		a.submitRetries = 0
	case a.submitRetries == 0, a.submitRetries > maxSubmitRetries:
		a.submitRetries = maxSubmitRetries
	}
	if a.sleep == nil {
		a.sleep = Sleep
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff is the delay after the given zero-based failed attempt:
// 1s, 2s, 4s, then capped at 8s.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 3 {
		return maxBackoff
	}
	return time.Duration(1<<attempt) * time.Second
}

// Generate submits the job and polls until images are available. It never
// returns an empty slice without an error.
func (a *Adapter) Generate(ctx context.Context, model, text string, opts models.GenerationOptions) ([]models.ImageResult, error) {
	ctx, span := tracer.Start(ctx, "queue_generate")
	defer span.End()
	span.SetAttributes(attribute.String("image.model", model))

	job, err := a.Submit(ctx, model, text, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("queue.request_id", job.RequestID))

	images, err := a.Poll(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(job.State))
		return nil, err
	}
	return images, nil
}

// BuildSubmitBody renders the submit payload for model.
func (a *Adapter) BuildSubmitBody(model, text string, opts models.GenerationOptions) map[string]any {
	n := opts.N
	if n <= 0 {
		n = 1
	}
	body := map[string]any{
		"prompt":     text,
		"num_images": n,
	}
	if opts.Seed != nil {
		body["seed"] = *opts.Seed
	}
	if a.outputFormat != "" {
		body["output_format"] = a.outputFormat
	}
	size := opts.Size
	if size == "" {
		size = prompt.DefaultSize
	}
	w, h, ok := prompt.ParseSize(size)
	if !ok {
		w, h = 1024, 1024
	}
	body["aspect_ratio"] = prompt.AspectRatio(fmt.Sprintf("%dx%d", w, h))
	// Ratio models reject explicit dimensions; the others treat
	// aspect_ratio as a hint and size from image_size.
	if !UsesAspectRatio(model) {
		body["image_size"] = map[string]int{"width": w, "height": h}
	}
	return body
}

// Submit posts the job, retrying with a freshly picked key after each
// failure. A 401/403 is retried too: when every key is invalid this spends
// all attempts on the same failure.
func (a *Adapter) Submit(ctx context.Context, model, text string, opts models.GenerationOptions) (*Job, error) {
	ctx, span := tracer.Start(ctx, "queue_submit")
	defer span.End()

	submitURL, statusBase := Endpoints(a.host, model)
	payload, err := json.Marshal(a.BuildSubmitBody(model, text, opts))
	if err != nil {
		return nil, models.NewGenerationError("encode queue request", err)
	}

	var lastErr error
	attempts := a.submitRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := a.sleep(ctx, Backoff(attempt-1)); err != nil {
				return nil, models.NewGenerationError("queue submission cancelled", err)
			}
		}
		key, err := a.picker.Pick(a.keys)
		if err != nil {
			return nil, models.NewGenerationError("no api key available", err)
		}
		id, err := a.submitOnce(ctx, submitURL, key, payload)
		if err == nil {
			span.SetAttributes(attribute.Int("queue.submit_attempts", attempt+1))
			return &Job{
				RequestID: id,
				SubmitURL: submitURL,
				StatusURL: statusBase + "/requests/" + id + "/status",
				ResultURL: statusBase + "/requests/" + id,
				State:     StateSubmitted,
				key:       key,
			}, nil
		}
		lastErr = err
		a.logger.Warn("queue submit attempt failed",
			slog.String("model", model),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)
		if ctx.Err() != nil {
			break
		}
	}
	if IsAuth(lastErr) {
		a.logger.Warn("queue submit rejected by upstream on every key attempt", slog.String("model", model))
	}
	span.RecordError(lastErr)
	return nil, models.NewGenerationError(fmt.Sprintf("queue submission failed after %d attempts", attempts), lastErr)
}

func (a *Adapter) submitOnce(ctx context.Context, url, key string, payload []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &AttemptError{Kind: KindTransient, Err: err}
	}
	req.Header.Set("Authorization", "Key "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &AttemptError{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AttemptError{Kind: KindTransient, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &AttemptError{Kind: KindAuth, Status: resp.StatusCode, Message: normalize.ErrorMessage(body)}
	case resp.StatusCode != http.StatusOK:
		return "", &AttemptError{Kind: KindTransient, Status: resp.StatusCode, Message: normalize.ErrorMessage(body)}
	}

	id := gjson.GetBytes(body, "request_id").String()
	if strings.TrimSpace(id) == "" {
		return "", &AttemptError{Kind: KindMissingID, Status: resp.StatusCode, Message: "response has no request_id"}
	}
	return id, nil
}

// Poll checks the job status at a fixed interval. FAILED stops immediately;
// transport and parse errors are logged and the loop continues.
func (a *Adapter) Poll(ctx context.Context, job *Job) ([]models.ImageResult, error) {
	ctx, span := tracer.Start(ctx, "queue_poll")
	defer span.End()
	span.SetAttributes(attribute.String("queue.request_id", job.RequestID))

	job.State = StatePolling
	for attempt := 0; attempt < a.pollAttempts; attempt++ {
		if attempt > 0 {
			if err := a.sleep(ctx, a.pollInterval); err != nil {
				job.State = StateFailed
				return nil, models.NewGenerationError("queue polling cancelled", err)
			}
		}
		images, err := a.pollOnce(ctx, job)
		switch {
		case errors.Is(err, ErrJobFailed):
			job.State = StateFailed
			return nil, models.NewGenerationError("queue job failed", err)
		case err != nil:
			a.logger.Debug("queue poll attempt failed",
				slog.String("request_id", job.RequestID),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
		case len(images) > 0:
			job.State = StateCompleted
			span.SetAttributes(attribute.Int("queue.poll_attempts", attempt+1))
			return images, nil
		}
	}
	job.State = StateTimedOut
	return nil, models.NewGenerationError(
		fmt.Sprintf("queue job %s produced no images after %d polls", job.RequestID, a.pollAttempts), nil)
}

// pollOnce returns images once the job completed, nil while it is pending,
// ErrJobFailed on FAILED, or an *AttemptError for anything transient.
func (a *Adapter) pollOnce(ctx context.Context, job *Job) ([]models.ImageResult, error) {
	status, err := a.get(ctx, job.StatusURL, job.key)
	if err != nil {
		return nil, err
	}
	switch strings.ToUpper(gjson.GetBytes(status, "status").String()) {
	case "FAILED":
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, normalize.ErrorMessage(status))
	case "COMPLETED":
	default:
		return nil, nil
	}

	result, err := a.get(ctx, job.ResultURL, job.key)
	if err != nil {
		return nil, err
	}
	return collectImages(result), nil
}

func (a *Adapter) get(ctx context.Context, url, key string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &AttemptError{Kind: KindTransient, Err: err}
	}
	req.Header.Set("Authorization", "Key "+key)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &AttemptError{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AttemptError{Kind: KindTransient, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := KindTransient
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = KindAuth
		}
		return nil, &AttemptError{Kind: kind, Status: resp.StatusCode, Message: normalize.ErrorMessage(body)}
	}
	return body, nil
}

func collectImages(body []byte) []models.ImageResult {
	var seed *int64
	if s, ok := normalize.ExtractSeed(body); ok {
		seed = &s
	}
	var out []models.ImageResult
	gjson.GetBytes(body, "images").ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		url := item.Get("url")
		if url.Type != gjson.String || strings.TrimSpace(url.Str) == "" {
			return true
		}
		img := models.URLImage(url.Str)
		img.Seed = seed
		out = append(out, img)
		return true
	})
	return out
}
