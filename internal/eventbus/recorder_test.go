package eventbus

import (
	"context"
	"testing"

	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/testutil/teststore"
	"github.com/workboard/workboard/internal/types"
)

type collector struct{ got []*Event }

func (c *collector) Publish(_ context.Context, events ...*Event) { c.got = append(c.got, events...) }

func TestRecorderPublishesOnlyAfterFlush(t *testing.T) {
	env := teststore.NewEnv(t)
	task := env.Task(types.StageReady)
	rec := NewRecorder(env.Board.ID)
	c := &collector{}

	env.Tx(func(tx storage.Transaction) error {
		return rec.Append(env.Ctx, tx, &types.Event{
			ItemID: task.ID, Identifier: task.Identifier, EventType: types.EventMoved,
			Actor: "human", CreatedAt: teststore.Epoch,
		})
	})
	if len(c.got) != 0 {
		t.Fatal("published before flush")
	}
	rec.Flush(context.Background(), c)
	if len(c.got) != 1 || c.got[0].Identifier != task.Identifier || c.got[0].BoardID != env.Board.ID {
		t.Fatalf("published = %+v", c.got)
	}
	if len(rec.Events()) != 0 {
		t.Error("flush did not clear the queue")
	}

	events, err := env.Store.GetEvents(env.Ctx, task.ID, 0)
	if err != nil || len(events) != 1 {
		t.Fatalf("audit rows = %v, %v", events, err)
	}
}
