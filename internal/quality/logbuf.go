// internal/quality/logbuf.go
package quality

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// LogBuffer is a slog.Handler that can hold records instead of writing
// them. While held, Handle only copies the record into memory; Flush
// replays everything to the wrapped handler in order and releases the
// hold. Handlers derived with WithAttrs/WithGroup share the buffer.
type LogBuffer struct {
	next  slog.Handler
	state *bufState
}

type bufState struct {
	mu      sync.Mutex
	holding bool
	entries []bufEntry
}

type bufEntry struct {
	h slog.Handler
	r slog.Record
}

// NewLogBuffer wraps next. The buffer starts released.
func NewLogBuffer(next slog.Handler) *LogBuffer {
	return &LogBuffer{next: next, state: &bufState{}}
}

// Enabled defers to the wrapped handler so disabled levels cost nothing.
func (b *LogBuffer) Enabled(ctx context.Context, level slog.Level) bool {
	return b.next.Enabled(ctx, level)
}

func (b *LogBuffer) Handle(ctx context.Context, r slog.Record) error {
	b.state.mu.Lock()
	if b.state.holding {
		b.state.entries = append(b.state.entries, bufEntry{h: b.next, r: r.Clone()})
		b.state.mu.Unlock()
		return nil
	}
	b.state.mu.Unlock()
	return b.next.Handle(ctx, r)
}

func (b *LogBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogBuffer{next: b.next.WithAttrs(attrs), state: b.state}
}

func (b *LogBuffer) WithGroup(name string) slog.Handler {
	return &LogBuffer{next: b.next.WithGroup(name), state: b.state}
}

// Hold starts buffering.
func (b *LogBuffer) Hold() {
	b.state.mu.Lock()
	b.state.holding = true
	b.state.mu.Unlock()
}

// Pending is the number of held records.
func (b *LogBuffer) Pending() int {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()
	return len(b.state.entries)
}

// Flush writes held records and stops buffering. Every record is
// attempted; the errors are joined.
func (b *LogBuffer) Flush(ctx context.Context) error {
	b.state.mu.Lock()
	entries := b.state.entries
	b.state.entries = nil
	b.state.holding = false
	b.state.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.h.Handle(ctx, e.r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
