package eventbus

import (
	"context"

	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

// Recorder appends audit events through a transaction and remembers them
// so they can be published once the transaction commits. A Recorder is
// used for exactly one RunInTransaction call.
type Recorder struct {
	boardID int64
	pending []*Event
}

// NewRecorder returns a recorder for events on a board.
func NewRecorder(boardID int64) *Recorder {
	return &Recorder{boardID: boardID}
}

// Append writes e through tx and queues it for publishing.
func (r *Recorder) Append(ctx context.Context, tx storage.Transaction, e *types.Event) error {
	if err := tx.AppendEvent(ctx, e); err != nil {
		return err
	}
	r.pending = append(r.pending, FromAudit(r.boardID, e))
	return nil
}

// Add queues an event with no audit row.
func (r *Recorder) Add(e *Event) {
	r.pending = append(r.pending, e)
}

// Reset drops queued events. Call it at the top of a transaction body that
// may be retried.
func (r *Recorder) Reset() {
	r.pending = nil
}

// Flush publishes the queued events and clears the queue.
func (r *Recorder) Flush(ctx context.Context, p Publisher) {
	if p == nil || len(r.pending) == 0 {
		r.pending = nil
		return
	}
	events := r.pending
	r.pending = nil
	p.Publish(ctx, events...)
}

// Events returns the queued events.
func (r *Recorder) Events() []*Event {
	return r.pending
}
