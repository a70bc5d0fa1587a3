// Package diag routes recoverable errors detected by library code to
// whoever is watching for them.
//
// An error is posted with Post. If the calling goroutine has an active
// Mark, the record is held on the goroutine's pending-error list until the
// mark is cleared or ends; otherwise it is reported immediately through a
// Sink. A Transport carries a mark's window of records from one goroutine
// to another so that parallel child work surfaces under the parent's mark.
package diag

import (
	"fmt"
	"runtime"
	"time"
)

// Location is the call site at which an error was posted.
type Location struct {
	File     string
	Line     int
	Function string
}

func (l Location) String() string {
	if len(l.Function) == 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}

	return fmt.Sprintf("%s:%d (%s)", l.File, l.Line, l.Function)
}

// Record is one posted error occurrence. Records are immutable once
// posted; ScopeID and Seq together identify a record and are preserved
// when it is moved between goroutines by a Transport.
type Record struct {
	Code     Code      // The error code.
	Message  string    // The formatted message.
	Location Location  // Where the error was posted.
	ScopeID  string    // The scope the error was posted under. Empty for posts outside any scope.
	Seq      uint64    // Monotonic per scope, in post order.
	PostedAt time.Time // When the error was posted.

	payload any
	hasInfo bool
}

// HasPayload reports whether a contextual payload was attached at post time.
func (r *Record) HasPayload() bool {
	return r.hasInfo
}

// PayloadAs retrieves the contextual payload as type T. The dynamic type
// stored at post time must match T exactly; no conversions are made.
func PayloadAs[T any](r *Record) (T, bool) {
	v, ok := r.payload.(T)
	return v, ok
}

// String renders the record for the default stream: the registered code
// description (or the raw code when unregistered), the message, and the
// post location.
func (r *Record) String() string {
	heading := r.Code.Description()
	if len(heading) == 0 {
		heading = r.Code.String()
	}

	return fmt.Sprintf("%s: %s [%s]", heading, r.Message, r.Location)
}

// callSite resolves the frame skip levels above the caller of callSite.
// CallersFrames is used so inlined frames resolve correctly.
func callSite(skip int) Location {
	var pcs [1]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return Location{File: "unknown"}
	}

	frame, _ := runtime.CallersFrames(pcs[:n]).Next()

	return Location{
		File:     frame.File,
		Line:     frame.Line,
		Function: frame.Function,
	}
}
