package diag

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// detachedSeq orders records posted outside any scope.
var detachedSeq atomic.Uint64

// PostOption configures a single post.
type PostOption func(*postConfig)

type postConfig struct {
	payload    any
	hasPayload bool
	callerSkip int
}

// WithPayload attaches an arbitrarily-typed contextual value to the
// record. Consumers retrieve it with PayloadAs.
func WithPayload(v any) PostOption {
	return func(cfg *postConfig) {
		cfg.payload = v
		cfg.hasPayload = true
	}
}

// WithCallerSkip attributes the post to a call site the given number of
// frames above the Post call, for helpers that post on behalf of their
// callers.
func WithCallerSkip(skip int) PostOption {
	return func(cfg *postConfig) {
		cfg.callerSkip = skip
	}
}

// Post records one error occurrence. If the calling goroutine has an
// active mark, the record is appended to its pending list and mirrored in
// the crash log; otherwise it is reported through the sink immediately.
//
// Post never fails and never panics. If internal bookkeeping breaks, the
// error is written directly to stderr rather than lost or turned into a
// failure of the caller.
func Post(ctx context.Context, code Code, message string, options ...PostOption) {
	post(ctx, code, message, 1, options...)
}

// Postf is Post with fmt.Sprintf formatting of the message.
func Postf(ctx context.Context, code Code, format string, args ...any) {
	post(ctx, code, fmt.Sprintf(format, args...), 1)
}

func post(ctx context.Context, code Code, message string, wrappers int, options ...PostOption) {
	defer func() {
		if rvr := recover(); rvr != nil {
			fmt.Fprintf(os.Stderr, "diag: error while posting %s (%s): %v\n", code, message, rvr)
		}
	}()

	cfg := postConfig{}
	for _, option := range options {
		option(&cfg)
	}

	rec := &Record{
		Code:     code,
		Message:  message,
		Location: callSite(wrappers + cfg.callerSkip + 1),
		PostedAt: time.Now(),
		payload:  cfg.payload,
		hasInfo:  cfg.hasPayload,
	}

	s := ScopeFrom(ctx)
	if s != nil && !s.closed {
		rec.ScopeID = s.id
		rec.Seq = s.nextSeq()
	} else {
		rec.Seq = detachedSeq.Add(1)
	}

	if s.marked() {
		s.append(rec)
		s.sink.countPosted(ctx, true)
		return
	}

	sink := Default()
	if s != nil && s.sink != nil {
		sink = s.sink
	}

	sink.countPosted(ctx, false)

	// A post made while the sink is dispatching this very mechanism must
	// not recurse into it.
	if isReporting(ctx) {
		sink.writeFallback(rec)
		return
	}

	sink.Report(ctx, rec)
}
