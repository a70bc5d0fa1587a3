package diag

import (
	"context"
	"io"
	"slices"
	"sync"
	"testing"
)

type testDelegate struct {
	mu      sync.Mutex
	records []*Record
}

var _ Delegate = (*testDelegate)(nil)

func (d *testDelegate) ReportError(_ context.Context, rec *Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.records = append(d.records, rec)
}

func (d *testDelegate) Records() []*Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.records)
}

func newTestSink(t *testing.T) (*Sink, *testDelegate) {
	t.Helper()

	d := &testDelegate{}
	s, err := NewSink(WithDelegates(d), WithWriter(io.Discard))
	if err != nil {
		t.Fatalf("constructing test sink: %v", err)
	}

	return s, d
}

// swapDefaultSink installs s as the process default for the duration of
// the test.
func swapDefaultSink(t *testing.T, s *Sink) {
	t.Helper()

	old := Default()
	SetDefault(s)
	t.Cleanup(func() {
		SetDefault(old)
	})
}
