package diag

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func snapshotText(t *testing.T) string {
	t.Helper()

	var buf bytes.Buffer
	err := CrashSnapshot(&buf)
	assert.NoError(t, err)

	return buf.String()
}

func TestCrashLog_MirrorsMarkedPosts(t *testing.T) {
	assert := assert.New(t)

	sink, _ := newTestSink(t)
	ctx, scope := WithScope(context.Background(), WithSink(sink))
	defer scope.Close()

	mark, ctx := SetMark(ctx)
	defer mark.End()

	Post(ctx, "X", "crashlog mirrors this post")

	assert.Contains(snapshotText(t), "crashlog mirrors this post")
}

func TestCrashLog_UnmarkedPostsAreNotBuffered(t *testing.T) {
	assert := assert.New(t)

	sink, _ := newTestSink(t)
	ctx, scope := WithScope(context.Background(), WithSink(sink))
	defer scope.Close()

	Post(ctx, "X", "crashlog never sees this post")

	assert.NotContains(snapshotText(t), "crashlog never sees this post")
}

func TestCrashLog_ClearRemovesEntries(t *testing.T) {
	assert := assert.New(t)

	sink, _ := newTestSink(t)
	ctx, scope := WithScope(context.Background(), WithSink(sink))
	defer scope.Close()

	mark, ctx := SetMark(ctx)
	defer mark.End()

	Post(ctx, "X", "crashlog entry cleared by mark")
	assert.Contains(snapshotText(t), "crashlog entry cleared by mark")

	mark.Clear()
	assert.NotContains(snapshotText(t), "crashlog entry cleared by mark")
}

func TestCrashLog_FlushRemovesEntries(t *testing.T) {
	assert := assert.New(t)

	sink, delegate := newTestSink(t)
	ctx, scope := WithScope(context.Background(), WithSink(sink))
	defer scope.Close()

	mark, ctx := SetMark(ctx)

	Post(ctx, "X", "crashlog entry flushed at mark end")
	assert.Contains(snapshotText(t), "crashlog entry flushed at mark end")

	mark.End()

	assert.Len(delegate.Records(), 1)
	assert.NotContains(snapshotText(t), "crashlog entry flushed at mark end")
}

func TestCrashLog_TransportMovesEntries(t *testing.T) {
	assert := assert.New(t)

	sink, _ := newTestSink(t)

	srcCtx, srcScope := WithScope(context.Background(), WithSink(sink))
	defer srcScope.Close()

	srcMark, srcCtx := SetMark(srcCtx)
	defer srcMark.End()

	Post(srcCtx, "X", "crashlog entry in transit")

	transport := NewTransport(srcMark)
	// Consumed from the source but not yet submitted: the record is in
	// flight and not buffered anywhere.
	assert.NotContains(snapshotText(t), "crashlog entry in transit")

	dstCtx, dstScope := WithScope(context.Background(), WithSink(sink))
	defer dstScope.Close()

	dstMark, dstCtx := SetMark(dstCtx)
	defer dstMark.End()

	transport.Submit(dstCtx)
	assert.Contains(snapshotText(t), "crashlog entry in transit")

	dstMark.Clear()
	assert.NotContains(snapshotText(t), "crashlog entry in transit")
}

func TestCrashLog_ScopeCloseReleasesSegment(t *testing.T) {
	assert := assert.New(t)

	sink, _ := newTestSink(t)
	ctx, scope := WithScope(context.Background(), WithSink(sink))

	mark, ctx := SetMark(ctx)
	Post(ctx, "X", "crashlog entry released with scope")
	mark.End()

	scope.Close()
	assert.NotContains(snapshotText(t), "crashlog entry released with scope")
}
