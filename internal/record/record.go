package record

import (
	"context"

	"github.com/rendis/agentgraph/pkg/schema"
)

// Recorder persists the run-event audit trail. Append assigns the event's
// per-run sequence; callers fill everything else. Implementations must be
// safe for concurrent use; parallel branches append from multiple goroutines.
type Recorder interface {
	Append(ctx context.Context, event *schema.RunEvent) error
	Events(ctx context.Context, runID string) ([]schema.RunEvent, error)
	Close() error
}
