// Package awsinit performs process startup: AWS config loading, tracing
// setup, and Lambda runtime start. Every cmd main calls Init exactly once
// and passes the returned config into its constructors.
package awsinit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Runtime holds the process-wide dependencies built at startup.
type Runtime struct {
	Config aws.Config
	logger *slog.Logger
	tp     *sdktrace.TracerProvider
}

// Init loads AWS configuration and installs the X-Ray-compatible tracer
// provider. It must be called once from main before any clients are built.
func Init(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	tp, err := xrayconfig.NewTracerProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(xray.Propagator{})

	return &Runtime{Config: cfg, logger: logger, tp: tp}, nil
}

// Start runs the Lambda runtime with the handler wrapped for tracing.
// It does not return.
func (r *Runtime) Start(handler any) {
	lambda.Start(otellambda.InstrumentHandler(handler,
		xrayconfig.WithRecommendedOptions(r.tp)...))
}

// Shutdown flushes any buffered spans. Only used by tests and local runs;
// the Lambda runtime freezes the process instead of exiting.
func (r *Runtime) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.tp.Shutdown(ctx); err != nil && r.logger != nil {
		r.logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
	}
}
