package diag

import (
	"context"
	"iter"
	"log/slog"
)

// Mark delimits a window over the calling goroutine's pending-error list:
// every record posted on the goroutine at or after the set point, and not
// yet cleared, is in the window. Marks on one goroutine must be ended in
// reverse construction order, like any scoped resource.
//
// The usual shape is:
//
//	mark, ctx := diag.SetMark(ctx)
//	defer mark.End()
//
//	doWork(ctx)
//
//	if !mark.IsClean() {
//		// inspect mark.Errors(), then mark.Clear() to handle them here,
//		// or leave them to propagate to the enclosing mark or the sink.
//	}
type Mark struct {
	scope     *Scope
	setPoint  int
	ownsScope bool
	ended     bool
}

// SetMark begins tracking errors posted on the calling goroutine from this
// point forward. If the context carries no scope, one is created lazily;
// the returned context must then be used for the work the mark covers, and
// ending the mark tears the scope down again.
func SetMark(ctx context.Context) (*Mark, context.Context) {
	s := ScopeFrom(ctx)

	var ownsScope bool
	if s == nil || s.closed {
		ctx, s = WithScope(ctx)
		ownsScope = true
	}

	m := &Mark{
		scope:     s,
		setPoint:  len(s.records),
		ownsScope: ownsScope,
	}
	s.marks = append(s.marks, m)

	return m, ctx
}

// IsClean reports whether the mark's window is empty: no record has been
// posted at or after the set point that was not already cleared.
func (m *Mark) IsClean() bool {
	return m.ended || len(m.window()) == 0
}

// Count returns the number of records currently in the window.
func (m *Mark) Count() int {
	if m.ended {
		return 0
	}

	return len(m.window())
}

// Errors returns the records in the window in post order. The sequence is
// lazy and may be re-iterated while the mark is alive; each iteration
// observes the window as of that moment.
func (m *Mark) Errors() iter.Seq[*Record] {
	return func(yield func(*Record) bool) {
		if m.ended {
			return
		}

		for _, rec := range m.window() {
			if !yield(rec) {
				return
			}
		}
	}
}

// Clear removes the records in the window from the list and from the
// crash log. Cleared records are considered handled: they are never
// reported to the sink, and the window resets to empty.
func (m *Mark) Clear() {
	if m.ended {
		return
	}

	w := m.window()
	if len(w) == 0 {
		return
	}

	m.scope.crashSeg.drop(w)
	m.scope.records = m.scope.records[:m.setPoint]
	m.scope.sink.countCleared(context.Background(), len(w))
}

// End destroys the mark. If it is the last active mark on the goroutine,
// every record still pending on the list is flushed to the sink in post
// order and removed from the crash log; otherwise the records pass to the
// next-outer mark. Ending marks out of stack order is a usage error: it is
// surfaced loudly, nothing is flushed, and the window semantics of the
// goroutine's remaining marks are undefined. End is idempotent.
func (m *Mark) End() {
	if m.ended {
		return
	}
	m.ended = true

	s := m.scope

	n := len(s.marks)
	if n == 0 || s.marks[n-1] != m {
		slog.Error("diag: mark ended out of stack order", "scopeId", s.id)
		s.removeMark(m)
		return
	}

	s.marks = s.marks[:n-1]

	if len(s.marks) == 0 {
		s.flush(context.Background())
	}

	if m.ownsScope {
		s.Close()
	}
}

func (m *Mark) window() []*Record {
	if m.setPoint >= len(m.scope.records) {
		return nil
	}

	return m.scope.records[m.setPoint:]
}

func (s *Scope) removeMark(m *Mark) {
	for i, other := range s.marks {
		if other == m {
			s.marks = append(s.marks[:i], s.marks[i+1:]...)
			return
		}
	}
}
