package diag

import (
	"context"
	"slices"
)

// Transport moves a mark's window of records from one goroutine to
// another, so errors detected during parallel child work surface under the
// parent's mark. Construction consumes the window on the source goroutine;
// Submit hands the records to the target goroutine's list, or reports them
// immediately if no mark is active there. Transported records keep their
// original scope ID and sequence number.
//
//	// child goroutine
//	mark, ctx := diag.SetMark(ctx)
//	doWork(ctx)
//	results <- diag.NewTransport(mark)
//	mark.End()
//
//	// parent goroutine
//	(<-results).Submit(ctx)
type Transport struct {
	records   []*Record
	submitted bool
}

// NewTransport consumes the mark's window: the records are removed from
// the source goroutine's list (and its crash-log segment) but retained, in
// post order, for later submission. Must be called on the goroutine that
// owns the mark.
func NewTransport(m *Mark) *Transport {
	t := &Transport{}

	if m == nil || m.ended {
		return t
	}

	w := m.window()
	if len(w) == 0 {
		return t
	}

	t.records = slices.Clone(w)
	m.scope.crashSeg.drop(w)
	m.scope.records = m.scope.records[:m.setPoint]

	return t
}

// Count returns the number of records the transport still carries.
func (t *Transport) Count() int {
	return len(t.records)
}

// Submit appends the carried records to the calling goroutine's list when
// a mark is active there, re-mirroring them in the crash log under the
// target scope; otherwise each record is reported immediately. Submit is
// single-shot: later calls are no-ops.
func (t *Transport) Submit(ctx context.Context) {
	if t.submitted {
		return
	}
	t.submitted = true

	if len(t.records) == 0 {
		return
	}

	recs := t.records
	t.records = nil

	s := ScopeFrom(ctx)
	if s.marked() {
		for _, rec := range recs {
			s.append(rec)
		}
		return
	}

	sink := Default()
	if s != nil && s.sink != nil {
		sink = s.sink
	}

	for _, rec := range recs {
		sink.Report(ctx, rec)
	}
}
