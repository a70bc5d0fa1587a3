package diag

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSink_DelegatesReceiveInRegistrationOrder(t *testing.T) {
	assert := assert.New(t)

	var order []string
	first := DelegateFunc(func(_ context.Context, _ *Record) {
		order = append(order, "first")
	})
	second := DelegateFunc(func(_ context.Context, _ *Record) {
		order = append(order, "second")
	})

	sink, err := NewSink(WithWriter(io.Discard))
	assert.NoError(err)

	sink.RegisterDelegate(first)
	sink.RegisterDelegate(second)

	sink.Report(context.Background(), &Record{Code: "X", Message: "boom"})

	assert.Equal([]string{"first", "second"}, order)
}

func TestSink_PanickingDelegateDoesNotSuppressLaterOnes(t *testing.T) {
	assert := assert.New(t)

	var delivered int
	panicking := DelegateFunc(func(_ context.Context, _ *Record) {
		panic("delegate bug")
	})
	counting := DelegateFunc(func(_ context.Context, _ *Record) {
		delivered++
	})

	sink, err := NewSink(WithWriter(io.Discard), WithDelegates(panicking, counting))
	assert.NoError(err)

	assert.NotPanics(func() {
		sink.Report(context.Background(), &Record{Code: "X", Message: "boom"})
	})

	assert.Equal(1, delivered)
}

func TestSink_NoDelegatesWritesToDefaultStream(t *testing.T) {
	assert := assert.New(t)

	Register("render_fault", "A renderer fault was detected")

	var buf bytes.Buffer
	sink, err := NewSink(WithWriter(&buf))
	assert.NoError(err)

	sink.Report(context.Background(), &Record{
		Code:    "render_fault",
		Message: "boom",
		Location: Location{
			File:     "layer.go",
			Line:     42,
			Function: "compose",
		},
	})

	out := buf.String()
	assert.Contains(out, "A renderer fault was detected")
	assert.Contains(out, "boom")
	assert.Contains(out, "layer.go:42")
}

func TestSink_ReentrantPostDegradesToDefaultStream(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	var calls int

	sink, err := NewSink(WithWriter(&buf))
	assert.NoError(err)

	sink.RegisterDelegate(DelegateFunc(func(ctx context.Context, rec *Record) {
		calls++
		if calls == 1 {
			// A delegate posting through the same mechanism must not recurse.
			Post(ctx, "X", "reentrant")
		}
	}))

	sink.Report(context.Background(), &Record{Code: "X", Message: "original"})

	assert.Equal(1, calls)
	assert.Contains(buf.String(), "reentrant")
}

func TestSink_UnregisterDelegate(t *testing.T) {
	assert := assert.New(t)

	var delivered int
	d := DelegateFunc(func(_ context.Context, _ *Record) {
		delivered++
	})

	var buf bytes.Buffer
	sink, err := NewSink(WithWriter(&buf))
	assert.NoError(err)

	registration := sink.RegisterDelegate(d)
	sink.Report(context.Background(), &Record{Code: "X", Message: "boom"})
	assert.Equal(1, delivered)
	assert.Empty(buf.String())

	registration.Unregister()
	sink.Report(context.Background(), &Record{Code: "X", Message: "boom"})
	assert.Equal(1, delivered)

	// With the chain empty again, reports fall back to the stream.
	assert.Contains(buf.String(), "boom")
}
