package main

import (
	"bytes"
	"context"
	_ "embed"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/stagecraft/diag"
	"go.opentelemetry.io/otel"
)

//go:embed codes.yaml
var codeTable []byte

const (
	validatorInterval   = 1 * time.Second
	validatorNumWorkers = 4

	reporterInterval = 5 * time.Second

	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx := context.Background()

	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			// Level:      slog.LevelDebug,
			TimeFormat: time.TimeOnly,
		}),
	))

	err := diag.LoadCodes(bytes.NewReader(codeTable))
	if err != nil {
		slog.Error("error loading code table", diag.Err(err))
		os.Exit(1)
	}

	meterProvider, err := MeterProvider(ctx, "demo")
	if err != nil {
		slog.Error("error constructing meter provider", diag.Err(err))
	}

	otel.SetMeterProvider(meterProvider)

	tracerProvider, err := TracerProvider(ctx, "demo")
	if err != nil {
		slog.Error("error constructing tracer provider", diag.Err(err))
	}

	otel.SetTracerProvider(tracerProvider)

	diag.Default().RegisterDelegate(diag.DelegateFunc(func(ctx context.Context, rec *diag.Record) {
		slog.WarnContext(
			ctx,
			"unhandled scene error",
			"code", rec.Code.String(),
			"message", rec.Message,
			"location", rec.Location.String(),
			"scopeId", rec.ScopeID,
			"seq", rec.Seq,
		)
	}))

	validator := NewValidator(validatorNumWorkers)
	go func() {
		slog.Info("starting validator", "interval", validatorInterval, "workers", validatorNumWorkers)
		validator.Start(ctx, validatorInterval)
	}()

	reporter := NewReporter()
	go func() {
		slog.Info("starting reporter", "interval", reporterInterval)
		reporter.Start(ctx, reporterInterval)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigs

	slog.Debug("received signal", "signal", sig)

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, shutdownTimeout)
	defer shutdownCancel()

	slog.Info("shutting down validator")
	err = validator.Shutdown(shutdownCtx)
	if err != nil {
		slog.Warn("error shutting down validator", diag.Err(err))
	}

	slog.Info("shutting down reporter")
	err = reporter.Shutdown(shutdownCtx)
	if err != nil {
		slog.Warn("error shutting down reporter", diag.Err(err))
	}

	slog.Info("shutting down meter provider")
	err = meterProvider.Shutdown(shutdownCtx)
	if err != nil {
		slog.Warn("error shutting down meter provider", diag.Err(err))
	}

	slog.Info("shutting down tracer provider")
	err = tracerProvider.Shutdown(shutdownCtx)
	if err != nil {
		slog.Warn("error shutting down tracer provider", diag.Err(err))
	}
}
