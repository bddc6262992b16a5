package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultRecentSize = 32

// Entry is a retained warning or error, reported through getStats.
type Entry struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
}

// recentLog is a fixed-size ring of the latest warnings and errors.
type recentLog struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func newRecentLog(size int) *recentLog {
	return &recentLog{entries: make([]Entry, size)}
}

func (r *recentLog) add(e Entry) {
	r.mu.Lock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// snapshot returns retained entries oldest first.
func (r *recentLog) snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]Entry(nil), r.entries[:r.next]...)
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}

// Recent returns the latest warnings and errors, oldest first.
func Recent() []Entry {
	return recent.snapshot()
}

// recordingHandler wraps a base handler and retains warn+ records in a ring.
type recordingHandler struct {
	base  slog.Handler
	log   *recentLog
	attrs []slog.Attr
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *recordingHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= slog.LevelWarn {
		entry := Entry{
			Time:    record.Time,
			Level:   record.Level.String(),
			Message: record.Message,
		}
		collect := func(a slog.Attr) bool {
			switch a.Key {
			case KeyComponent:
				entry.Component = a.Value.String()
			case KeyError:
				entry.Error = a.Value.String()
			}
			return true
		}
		for _, a := range h.attrs {
			collect(a)
		}
		record.Attrs(collect)
		h.log.add(entry)
	}
	return h.base.Handle(ctx, record)
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &recordingHandler{base: h.base.WithAttrs(attrs), log: h.log, attrs: merged}
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	return &recordingHandler{base: h.base.WithGroup(name), log: h.log, attrs: h.attrs}
}
