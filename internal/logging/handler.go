package logging

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultRecordBufferSize is the number of recent records kept by
// NewRecordBuffer when size is not positive.
const DefaultRecordBufferSize = 100

// Record is a retained log record.
type Record struct {
	Time    time.Time
	Level   slog.Level
	Message string
	URI     string // value of the "uri" attribute, if any
}

// RecordBuffer is a slog.Handler that keeps the most recent records at or
// above a level in a ring and counts them by message, then passes every
// record on to the wrapped handler. The report footnotes and the TUI read
// from it.
//
// Handlers derived through WithAttrs and WithGroup share the ring.
type RecordBuffer struct {
	next  slog.Handler
	min   slog.Level
	state *recordState
}

type recordState struct {
	mu     sync.Mutex
	ring   []Record
	idx    int
	full   bool
	counts map[string]int
}

// NewRecordBuffer wraps next, retaining up to size records at level min
// or above.
func NewRecordBuffer(next slog.Handler, min slog.Level, size int) *RecordBuffer {
	if size <= 0 {
		size = DefaultRecordBufferSize
	}
	return &RecordBuffer{
		next: next,
		min:  min,
		state: &recordState{
			ring:   make([]Record, size),
			counts: make(map[string]int),
		},
	}
}

// Enabled implements slog.Handler.
func (h *RecordBuffer) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min || h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RecordBuffer) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.min {
		rec := Record{Time: r.Time, Level: r.Level, Message: r.Message}
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "uri" {
				rec.URI = a.Value.String()
				return false
			}
			return true
		})
		h.state.add(rec)
	}
	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *RecordBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RecordBuffer{next: h.next.WithAttrs(attrs), min: h.min, state: h.state}
}

// WithGroup implements slog.Handler.
func (h *RecordBuffer) WithGroup(name string) slog.Handler {
	return &RecordBuffer{next: h.next.WithGroup(name), min: h.min, state: h.state}
}

func (s *recordState) add(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.idx] = r
	s.idx = (s.idx + 1) % len(s.ring)
	if s.idx == 0 {
		s.full = true
	}
	s.counts[r.Message]++
}

// Recent returns up to n retained records, oldest first.
func (h *RecordBuffer) Recent(n int) []Record {
	s := h.state
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.idx
	if s.full {
		size = len(s.ring)
	}
	if n > size || n <= 0 {
		n = size
	}
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		idx := (s.idx - n + i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out
}

// Counts returns the number of records seen per message, including those
// that have since left the ring.
func (h *RecordBuffer) Counts() map[string]int {
	s := h.state
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Messages returns the counted messages, most frequent first.
func (h *RecordBuffer) Messages() []string {
	counts := h.Counts()
	out := make([]string, 0, len(counts))
	for m := range counts {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
