package diag

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// The crash log mirrors the text of every pending (posted-while-marked,
// not yet reported or cleared) record so a crash handler can recover them
// even if the owning goroutine never gets to flush. It is partitioned into
// per-scope segments: only the owning goroutine mutates a segment, and it
// does so by publishing copy-on-write snapshots, so snapshot readers never
// block writers.

// CrashEntry is one buffered line of crash-log text.
type CrashEntry struct {
	ScopeID  string    `json:"scopeId"` // The scope the record was posted under (not necessarily the holding scope).
	Seq      uint64    `json:"seq"`
	Text     string    `json:"text"`
	PostedAt time.Time `json:"postedAt"`
}

type crashSegment struct {
	entries atomic.Pointer[[]CrashEntry]
}

// add appends an entry. Only the segment's owning goroutine may call it.
func (seg *crashSegment) add(rec *Record) {
	old := seg.entries.Load()

	var next []CrashEntry
	if old != nil {
		next = make([]CrashEntry, len(*old), len(*old)+1)
		copy(next, *old)
	}

	next = append(next, CrashEntry{
		ScopeID:  rec.ScopeID,
		Seq:      rec.Seq,
		Text:     rec.String(),
		PostedAt: rec.PostedAt,
	})

	seg.entries.Store(&next)
}

// drop removes the entries for the given records, matched by record
// identity. Only the segment's owning goroutine may call it.
func (seg *crashSegment) drop(recs []*Record) {
	old := seg.entries.Load()
	if old == nil || len(*old) == 0 || len(recs) == 0 {
		return
	}

	type identity struct {
		scopeID string
		seq     uint64
	}

	dropped := make(map[identity]struct{}, len(recs))
	for _, rec := range recs {
		dropped[identity{rec.ScopeID, rec.Seq}] = struct{}{}
	}

	next := make([]CrashEntry, 0, len(*old))
	for _, entry := range *old {
		if _, ok := dropped[identity{entry.ScopeID, entry.Seq}]; ok {
			continue
		}

		next = append(next, entry)
	}

	seg.entries.Store(&next)
}

type crashBuffer struct {
	mu       sync.Mutex
	segments atomic.Pointer[map[string]*crashSegment]
}

var crashLog crashBuffer

func (b *crashBuffer) attach(scopeID string) *crashSegment {
	b.mu.Lock()
	defer b.mu.Unlock()

	seg := &crashSegment{}

	old := b.segments.Load()
	var next map[string]*crashSegment
	if old == nil {
		next = make(map[string]*crashSegment, 1)
	} else {
		next = make(map[string]*crashSegment, len(*old)+1)
		for id, s := range *old {
			next[id] = s
		}
	}

	next[scopeID] = seg
	b.segments.Store(&next)

	return seg
}

func (b *crashBuffer) release(scopeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.segments.Load()
	if old == nil {
		return
	}

	next := make(map[string]*crashSegment, len(*old))
	for id, s := range *old {
		if id == scopeID {
			continue
		}

		next[id] = s
	}

	b.segments.Store(&next)
}

func (b *crashBuffer) snapshot(w io.Writer) error {
	segments := b.segments.Load()
	if segments == nil {
		return nil
	}

	encoder := json.NewEncoder(w)
	for _, seg := range *segments {
		entries := seg.entries.Load()
		if entries == nil {
			continue
		}

		for _, entry := range *entries {
			err := encoder.Encode(entry)
			if err != nil {
				return fmt.Errorf("encoding crash log entry: %w", err)
			}
		}
	}

	return nil
}

// CrashSnapshot writes every currently buffered crash-log entry to w as
// JSON lines. It is safe to call from a crash handler at any time: reads
// are best-effort against concurrent writers and never block them.
func CrashSnapshot(w io.Writer) error {
	return crashLog.snapshot(w)
}
