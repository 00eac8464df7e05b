package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var validationCounter = sync.OnceValue(func() metric.Int64Counter {
	counter, err := otel.Meter("traffic-attendance-service").
		Int64Counter("config.validation.events")
	if err != nil {
		return nil
	}
	return counter
})

func recordConfigValidationEvent(ctx context.Context, environment, outcome, errorClass string) {
	counter := validationCounter()
	if counter == nil {
		return
	}
	env := strings.TrimSpace(strings.ToLower(environment))
	if env == "" {
		env = "unknown"
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("environment", env),
		attribute.String("outcome", outcome),
		attribute.String("error_class", errorClass),
	))
}

func classifyConfigError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "must") {
		return "validation"
	}
	return "load"
}
