package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "traffic-attendance-service"

type appMetricsSet struct {
	verifyCounter    metric.Int64Counter
	sessionCounter   metric.Int64Counter
	repoCounter      metric.Int64Counter
	rateLimitCounter metric.Int64Counter
	sweepCounter     metric.Int64Counter
	tokenCounter     metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *appMetricsSet
)

type MetricsConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
	Environment string
}

func InitMetrics(ctx context.Context, cfg MetricsConfig, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	verifyCounter, err := meter.Int64Counter("attendance.verify.attempts")
	if err != nil {
		return nil, err
	}
	sessionCounter, err := meter.Int64Counter("session.lifecycle.events")
	if err != nil {
		return nil, err
	}
	repoCounter, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return nil, err
	}
	rateLimitCounter, err := meter.Int64Counter("ratelimit.decisions")
	if err != nil {
		return nil, err
	}
	sweepCounter, err := meter.Int64Counter("session.sweep.closed")
	if err != nil {
		return nil, err
	}
	tokenCounter, err := meter.Int64Counter("auth.token.validations")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &appMetricsSet{
		verifyCounter:    verifyCounter,
		sessionCounter:   sessionCounter,
		repoCounter:      repoCounter,
		rateLimitCounter: rateLimitCounter,
		sweepCounter:     sweepCounter,
		tokenCounter:     tokenCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.Endpoint)
	return mp, nil
}

func current() *appMetricsSet {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

// RecordVerifyAttempt counts one token verification with its outcome:
// marked, already_marked, invalid_token, session_closed, not_found, error.
func RecordVerifyAttempt(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.verifyCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSessionEvent counts lifecycle transitions: opened, closed, expired.
func RecordSessionEvent(ctx context.Context, event string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, status string) {
	m := current()
	if m == nil {
		return
	}
	m.repoCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
	))
}

// RecordTokenValidation counts staff and launch token checks by kind and
// outcome: missing, invalid, valid.
func RecordTokenValidation(ctx context.Context, kind, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func RecordSweepClosed(ctx context.Context, n int64) {
	m := current()
	if m == nil || n == 0 {
		return
	}
	m.sweepCounter.Add(ctx, n)
}
