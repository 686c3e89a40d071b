package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/guilhermegouw/relay/internal/config"
)

const instrumentationName = "github.com/guilhermegouw/relay/internal/llm"

// New builds the backend selected by cfg and wraps it with tracing and a
// latency histogram.
func New(cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm", "backend", cfg.Backend)

	var backend Client
	switch cfg.Backend {
	case config.BackendFantasy, "":
		provider, err := NewFantasyProvider(FantasyOptions{
			BaseURL:  cfg.BaseURL,
			APIKey:   cfg.APIKey,
			Referrer: cfg.Referrer,
			AppTitle: cfg.AppTitle,
		})
		if err != nil {
			return nil, fmt.Errorf("building fantasy provider: %w", err)
		}
		backend = NewFantasy(provider, cfg.TitleModel, logger)
	case config.BackendOpenAI:
		backend = NewOpenAI(OpenAIOptions{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Referrer:   cfg.Referrer,
			AppTitle:   cfg.AppTitle,
			TitleModel: cfg.TitleModel,
			HTTPClient: &http.Client{Timeout: cfg.Timeout.Std()},
		}, logger)
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}

	name := cfg.Backend
	if name == "" {
		name = config.BackendFantasy
	}
	client, err := Instrument(backend, name, cfg.Timeout.Std())
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Instrumented decorates a Client with spans, a latency histogram and an
// optional per-call timeout.
type Instrumented struct {
	next    Client
	backend string
	timeout time.Duration
	tracer  trace.Tracer
	latency metric.Float64Histogram
}

// Instrument wraps next using the global OpenTelemetry providers.
func Instrument(next Client, backend string, timeout time.Duration) (*Instrumented, error) {
	latency, err := otel.Meter(instrumentationName).Float64Histogram("relay.llm.latency",
		metric.WithDescription("Duration of completion requests"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating latency histogram: %w", err)
	}
	return &Instrumented{
		next:    next,
		backend: backend,
		timeout: timeout,
		tracer:  otel.Tracer(instrumentationName),
		latency: latency,
	}, nil
}

// Complete implements Client.
func (i *Instrumented) Complete(ctx context.Context, turns []Turn, modelID string) (string, error) {
	ctx, finish := i.start(ctx, "llm.complete", modelID, attribute.Int("llm.turns", len(turns)))
	text, err := i.next.Complete(ctx, turns, modelID)
	finish(err)
	return text, err
}

// SuggestTitle implements Client.
func (i *Instrumented) SuggestTitle(ctx context.Context, text string) (string, error) {
	ctx, finish := i.start(ctx, "llm.suggest_title", "")
	title, err := i.next.SuggestTitle(ctx, text)
	finish(err)
	return title, err
}

func (i *Instrumented) start(ctx context.Context, op, modelID string, extra ...attribute.KeyValue) (context.Context, func(error)) {
	attrs := append([]attribute.KeyValue{
		attribute.String("llm.backend", i.backend),
		attribute.String("llm.model", modelID),
	}, extra...)

	var cancel context.CancelFunc = func() {}
	if i.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
	}
	ctx, span := i.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	began := time.Now()

	return ctx, func(err error) {
		defer cancel()
		defer span.End()
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		i.latency.Record(ctx, time.Since(began).Seconds(), metric.WithAttributes(
			attribute.String("llm.backend", i.backend),
			attribute.String("llm.op", op),
			attribute.String("outcome", outcome),
		))
	}
}
