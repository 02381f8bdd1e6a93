package record

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/agentgraph/pkg/schema"
)

// MemoryRecorder is the default Recorder: events live for the duration of the
// process, grouped by run.
type MemoryRecorder struct {
	mu     sync.RWMutex
	events map[string][]schema.RunEvent
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{events: make(map[string][]schema.RunEvent)}
}

// Append stores the event, assigning its sequence, id, and timestamp.
func (r *MemoryRecorder) Append(_ context.Context, event *schema.RunEvent) error {
	if event == nil {
		return schema.NewError(schema.ErrCodeRecord, "event is nil")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	event.Sequence = int64(len(r.events[event.RunID])) + 1
	r.events[event.RunID] = append(r.events[event.RunID], *event)
	return nil
}

// Events returns the run's events in sequence order.
func (r *MemoryRecorder) Events(_ context.Context, runID string) ([]schema.RunEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.events[runID]
	out := make([]schema.RunEvent, len(stored))
	copy(out, stored)
	return out, nil
}

// Close is a no-op for the in-memory recorder.
func (r *MemoryRecorder) Close() error { return nil }

var _ Recorder = (*MemoryRecorder)(nil)
