package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/ncecere/open_image_gateway/internal/config"
)

const namespace = "open_image_gateway"

// Provider owns the tracer and meter providers plus the prometheus
// collectors. A nil *Provider is valid and records nothing.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter  *promreg.CounterVec
	httpRequestLatency  *promreg.HistogramVec
	generationLatency   *promreg.HistogramVec
	imagesCounter       *promreg.CounterVec
	postProcessCounter  *promreg.CounterVec
	rateLimitRejections *promreg.CounterVec
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("open-image-gateway"),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		rawEndpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		endpoint := rawEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{}
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		client := otlptracegrpc.NewClient(opts...)
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(promExporter),
			metric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		provider.meterProvider = mp
		provider.promExporter = promExporter
		provider.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
		provider.shutdownFuncs = append(provider.shutdownFuncs, mp.Shutdown)

		httpRequests := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		)
		latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}
		httpLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"method", "route", "status"},
		)
		generationBuckets := []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120}
		generationLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Duration of upstream image generation calls.",
				Buckets:   generationBuckets,
			},
			[]string{"provider_type", "model", "outcome"},
		)
		imagesCounter := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "images_generated_total",
				Help:      "Total images returned by upstream providers.",
			},
			[]string{"provider_type", "model"},
		)
		postProcess := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "postprocess_total",
				Help:      "Shortening and rehosting outcomes.",
			},
			[]string{"step", "outcome"},
		)
		rateLimited := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejections_total",
				Help:      "Requests rejected by the per-caller rate limiter.",
			},
			[]string{"route"},
		)
		for _, c := range []promreg.Collector{httpRequests, httpLatency, generationLatency, imagesCounter, postProcess, rateLimited} {
			if err := registry.Register(c); err != nil {
				return nil, err
			}
		}
		provider.httpRequestCounter = httpRequests
		provider.httpRequestLatency = httpLatency
		provider.generationLatency = generationLatency
		provider.imagesCounter = imagesCounter
		provider.postProcessCounter = postProcess
		provider.rateLimitRejections = rateLimited
	}

	return provider, nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}

	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

// RecordGeneration observes one upstream generation call.
func (p *Provider) RecordGeneration(providerType, model, outcome string, duration time.Duration, images int) {
	if p == nil || p.generationLatency == nil {
		return
	}
	p.generationLatency.WithLabelValues(providerType, model, outcome).Observe(duration.Seconds())
	if images > 0 {
		p.imagesCounter.WithLabelValues(providerType, model).Add(float64(images))
	}
}

func (p *Provider) RecordPostProcess(step, outcome string) {
	if p == nil || p.postProcessCounter == nil {
		return
	}
	p.postProcessCounter.WithLabelValues(step, outcome).Inc()
}

func (p *Provider) RecordRateLimited(route string) {
	if p == nil || p.rateLimitRejections == nil {
		return
	}
	p.rateLimitRejections.WithLabelValues(route).Inc()
}
