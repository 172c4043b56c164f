package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ncecere/open_image_gateway/internal/config"
)

func TestSetupDisabledReturnsNil(t *testing.T) {
	p, err := Setup(context.Background(), config.ObservabilityConfig{})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil provider")
	}
	// nil providers are safe to record against
	p.RecordGeneration("fal_ai", "flux-dev", "success", time.Second, 1)
	p.RecordPostProcess("rehost", "fallback")
	if p.PrometheusHandler() != nil {
		t.Fatalf("expected no handler")
	}
}

func TestMetricsExposed(t *testing.T) {
	p, err := Setup(context.Background(), config.ObservabilityConfig{EnableMetrics: true})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	p.RecordGeneration("fal_ai", "flux-dev", "success", 3*time.Second, 2)
	p.RecordPostProcess("shorten", "success")
	p.RecordHTTPRequest(context.Background(), "POST", "/v1/images/generations", 200, time.Second)
	p.RecordRateLimited("/v1/chat/completions")

	rec := httptest.NewRecorder()
	p.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`open_image_gateway_images_generated_total{model="flux-dev",provider_type="fal_ai"} 2`,
		`open_image_gateway_postprocess_total{outcome="success",step="shorten"} 1`,
		`open_image_gateway_generation_duration_seconds_count{model="flux-dev",outcome="success",provider_type="fal_ai"} 1`,
		`open_image_gateway_rate_limit_rejections_total{route="/v1/chat/completions"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
