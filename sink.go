package diag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Delegate observes records that reach the reporting stage. Delegates are
// invoked synchronously on the reporting goroutine, in registration order.
type Delegate interface {
	ReportError(ctx context.Context, rec *Record)
}

// DelegateFunc adapts a function to the Delegate interface.
type DelegateFunc func(ctx context.Context, rec *Record)

var _ Delegate = (DelegateFunc)(nil)

func (f DelegateFunc) ReportError(ctx context.Context, rec *Record) {
	f(ctx, rec)
}

// Sink is the destination for records with no active mark to hold them.
// Registered delegates each receive every reported record; with none
// registered, a human-readable rendering is written to the default stream.
// A single process-wide sink (Default) backs scopes that were not given
// one explicitly.
type Sink struct {
	mu         sync.RWMutex
	delegates  []*Registration
	nextRegID  uint64
	writer     io.Writer

	clearedCounter  metric.Int64Counter
	postedCounter   metric.Int64Counter
	reportedCounter metric.Int64Counter
	tracer          trace.Tracer
}

// SinkOption configures a sink at construction time.
type SinkOption func(*Sink)

// WithWriter sets the default stream written to when no delegates are
// registered, and the degraded-output stream for re-entrant posts. It
// defaults to os.Stderr.
func WithWriter(w io.Writer) SinkOption {
	return func(s *Sink) {
		s.writer = w
	}
}

// WithDelegates registers delegates at construction time.
func WithDelegates(delegates ...Delegate) SinkOption {
	return func(s *Sink) {
		for _, d := range delegates {
			s.register(d)
		}
	}
}

// NewSink creates a new reporting sink.
func NewSink(options ...SinkOption) (*Sink, error) {
	s := &Sink{
		writer: os.Stderr,
		tracer: otel.GetTracerProvider().Tracer("github.com/stagecraft/diag"),
	}

	for _, option := range options {
		option(s)
	}

	meter := otel.GetMeterProvider().Meter("github.com/stagecraft/diag")

	var err error
	s.postedCounter, err = meter.Int64Counter(
		"errors.posted",
		metric.WithDescription("The number of errors posted."),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, fmt.Errorf("constructing posted counter: %w", err)
	}

	s.reportedCounter, err = meter.Int64Counter(
		"errors.reported",
		metric.WithDescription("The number of errors reported to delegates or the default stream."),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, fmt.Errorf("constructing reported counter: %w", err)
	}

	s.clearedCounter, err = meter.Int64Counter(
		"errors.cleared",
		metric.WithDescription("The number of errors handled and cleared under a mark."),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, fmt.Errorf("constructing cleared counter: %w", err)
	}

	return s, nil
}

var (
	defaultSinkMu sync.Mutex
	defaultSink   *Sink
)

// Default returns the process-wide sink, constructing it on first use.
func Default() *Sink {
	defaultSinkMu.Lock()
	defer defaultSinkMu.Unlock()

	if defaultSink == nil {
		s, err := NewSink()
		if err != nil {
			slog.Error("diag: error constructing default sink", Err(err))
			s = &Sink{
				writer: os.Stderr,
				tracer: otel.GetTracerProvider().Tracer("github.com/stagecraft/diag"),
			}
		}

		defaultSink = s
	}

	return defaultSink
}

// SetDefault replaces the process-wide sink. Intended for process setup
// and test harnesses.
func SetDefault(s *Sink) {
	defaultSinkMu.Lock()
	defer defaultSinkMu.Unlock()

	defaultSink = s
}

// Registration identifies a registered delegate so it can be removed from
// the chain later.
type Registration struct {
	id       uint64
	delegate Delegate
	sink     *Sink
}

// Unregister removes the delegate from the sink's chain. Records already
// being dispatched may still reach it.
func (r *Registration) Unregister() {
	s := r.sink

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, other := range s.delegates {
		if other.id == r.id {
			s.delegates = slices.Delete(slices.Clone(s.delegates), i, i+1)
			return
		}
	}
}

// RegisterDelegate appends a delegate to the chain. Delegates receive
// records in registration order.
func (s *Sink) RegisterDelegate(d Delegate) *Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.register(d)
}

// register adds a delegate. Callers must hold s.mu except during
// construction.
func (s *Sink) register(d Delegate) *Registration {
	s.nextRegID++
	reg := &Registration{
		id:       s.nextRegID,
		delegate: d,
		sink:     s,
	}
	s.delegates = append(s.delegates, reg)

	return reg
}

type reportingCtxKey struct{}

func isReporting(ctx context.Context) bool {
	return ctx.Value(reportingCtxKey{}) != nil
}

// Report delivers a record that no mark captured. Every registered
// delegate receives the record; a misbehaving delegate cannot suppress
// delivery to the ones after it. With no delegates, the record's rendering
// is written to the default stream. The context handed to delegates is
// flagged so a post made during dispatch degrades to the default stream
// instead of recursing.
func (s *Sink) Report(ctx context.Context, rec *Record) {
	ctx, span := s.tracer.Start(ctx, "report error", trace.WithAttributes(
		attribute.Stringer("error.code", rec.Code),
		attribute.String("error.scope_id", rec.ScopeID),
		attribute.Int64("error.seq", int64(rec.Seq)),
	))
	defer span.End()

	ctx = context.WithValue(ctx, reportingCtxKey{}, true)

	s.mu.RLock()
	delegates := slices.Clone(s.delegates)
	s.mu.RUnlock()

	if len(delegates) == 0 {
		s.writeFallback(rec)
	} else {
		for _, reg := range delegates {
			s.dispatch(ctx, reg.delegate, rec)
		}
	}

	if s.reportedCounter != nil {
		s.reportedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Stringer("error.code", rec.Code),
			attribute.Int("delegates", len(delegates)),
		))
	}
}

func (s *Sink) dispatch(ctx context.Context, d Delegate, rec *Record) {
	defer func() {
		if rvr := recover(); rvr != nil {
			slog.ErrorContext(ctx, "diag: recovered panic in reporting delegate",
				"panic", fmt.Sprintf("%v", rvr),
				"code", rec.Code.String(),
			)
		}
	}()

	d.ReportError(ctx, rec)
}

// writeFallback is the degenerate-safe path: a plain rendering on the
// default stream. It must not be able to post through the sink again.
func (s *Sink) writeFallback(rec *Record) {
	w := s.writer
	if w == nil {
		w = os.Stderr
	}

	fmt.Fprintln(w, rec.String())
}

func (s *Sink) countPosted(ctx context.Context, deferred bool) {
	if s.postedCounter == nil {
		return
	}

	s.postedCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error.deferred", deferred)))
}

func (s *Sink) countCleared(ctx context.Context, n int) {
	if s.clearedCounter == nil {
		return
	}

	s.clearedCounter.Add(ctx, int64(n))
}
