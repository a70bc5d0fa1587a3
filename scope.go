package diag

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type scopeCtxKey struct{}

// Scope is a goroutine's pending-error list. A scope is owned by the
// goroutine that created it: all posting, mark, and transport operations
// against it must happen on that goroutine. Records are only ever appended
// at the tail, in detection order.
//
// A scope is created explicitly with WithScope, or lazily by SetMark when
// the context carries none. Explicitly created scopes must be closed by
// the owning goroutine before it exits.
type Scope struct {
	id       string
	sink     *Sink
	crashSeg *crashSegment
	records  []*Record
	marks    []*Mark
	seq      uint64
	closed   bool
}

// ScopeOption configures a scope at creation time.
type ScopeOption func(*Scope)

// WithSink directs records that reach the reporting stage on this scope to
// the given sink instead of the process-wide default. Test harnesses use
// this to substitute their own sink.
func WithSink(sink *Sink) ScopeOption {
	return func(s *Scope) {
		s.sink = sink
	}
}

// WithScope attaches a new scope to the context and returns both. The
// caller owns the scope and must close it before the goroutine exits.
func WithScope(ctx context.Context, options ...ScopeOption) (context.Context, *Scope) {
	s := newScope(options...)
	return context.WithValue(ctx, scopeCtxKey{}, s), s
}

// ScopeFrom returns the scope carried by the context, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeCtxKey{}).(*Scope)
	return s
}

func newScope(options ...ScopeOption) *Scope {
	s := &Scope{
		id: uuid.Must(uuid.NewV7()).String(),
	}

	for _, option := range options {
		option(s)
	}

	if s.sink == nil {
		s.sink = Default()
	}

	s.crashSeg = crashLog.attach(s.id)

	return s
}

// ID returns the scope identifier recorded on every record posted under it.
func (s *Scope) ID() string {
	return s.id
}

// Pending returns the number of records currently held on the scope.
func (s *Scope) Pending() int {
	if s == nil {
		return 0
	}

	return len(s.records)
}

// marked reports whether the scope can hold a posted record right now.
func (s *Scope) marked() bool {
	return s != nil && !s.closed && len(s.marks) > 0
}

func (s *Scope) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func (s *Scope) append(rec *Record) {
	s.records = append(s.records, rec)
	s.crashSeg.add(rec)
}

// flush reports every remaining record in post order and drops the
// corresponding crash-log entries.
func (s *Scope) flush(ctx context.Context) {
	if len(s.records) == 0 {
		return
	}

	recs := s.records
	s.records = nil
	s.crashSeg.drop(recs)

	for _, rec := range recs {
		s.sink.Report(ctx, rec)
	}
}

// Close tears the scope down. The list must be drained by now: closing
// with active marks or pending records is a usage error, surfaced loudly,
// and any leftover records are flushed to the sink rather than lost.
// Close is idempotent and safe on a nil scope.
func (s *Scope) Close() {
	if s == nil || s.closed {
		return
	}

	if len(s.marks) > 0 {
		slog.Error("diag: scope closed with active marks", "scopeId", s.id, "activeMarks", len(s.marks))

		for _, m := range s.marks {
			m.ended = true
		}
		s.marks = nil
	}

	if len(s.records) > 0 {
		slog.Error("diag: scope closed with pending errors", "scopeId", s.id, "pending", len(s.records))
		s.flush(context.Background())
	}

	s.closed = true
	crashLog.release(s.id)
}
