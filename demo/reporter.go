package main

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/stagecraft/diag"
)

// Reporter periodically snapshots the crash log, the way a crash handler
// would, and logs how much pending error text is buffered.
type Reporter struct {
	done     chan bool
	shutdown chan bool
}

func NewReporter() *Reporter {
	return &Reporter{
		done:     make(chan bool, 1),
		shutdown: make(chan bool, 1),
	}
}

func (r *Reporter) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	for {
		select {
		case <-ticker.C:
			r.report(ctx)

		case <-r.shutdown:
			r.done <- true
			return
		}
	}
}

func (r *Reporter) Shutdown(ctx context.Context) error {
	r.shutdown <- true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-r.done:
			return nil
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	var buf bytes.Buffer
	err := diag.CrashSnapshot(&buf)
	if err != nil {
		slog.ErrorContext(ctx, "error snapshotting crash log", diag.Err(err))
		return
	}

	entries := bytes.Count(buf.Bytes(), []byte("\n"))

	slog.InfoContext(
		ctx,
		"crash log report",
		slog.Int("bufferedEntries", entries),
		slog.Int("bufferedBytes", buf.Len()),
	)
}
