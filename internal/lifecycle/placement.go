package lifecycle

import (
	"context"
	"fmt"
	"slices"

	"github.com/workboard/workboard/internal/storage"
)

// Relocate places itemID at index in column to and closes the gap it left
// in column from. A negative or out-of-range index appends. Both columns
// are renumbered 0..n-1. It returns the item's final position.
//
// Relocate rewrites column and position only, so callers update the row's
// other fields first and then set the returned position on their copy.
func Relocate(ctx context.Context, tx storage.Transaction, itemID, from, to int64, index int) (int, error) {
	if from != 0 && from != to {
		rest, err := tx.ListColumnItems(ctx, from)
		if err != nil {
			return 0, fmt.Errorf("list column %d: %w", from, err)
		}
		if err := tx.SetPositions(ctx, from, without(storage.IDs(rest), itemID)); err != nil {
			return 0, fmt.Errorf("renumber column %d: %w", from, err)
		}
	}
	items, err := tx.ListColumnItems(ctx, to)
	if err != nil {
		return 0, fmt.Errorf("list column %d: %w", to, err)
	}
	ids := without(storage.IDs(items), itemID)
	if index < 0 || index > len(ids) {
		index = len(ids)
	}
	ids = slices.Insert(ids, index, itemID)
	if err := tx.SetPositions(ctx, to, ids); err != nil {
		return 0, fmt.Errorf("renumber column %d: %w", to, err)
	}
	return index, nil
}

// closeGap renumbers a column after an item left it.
func closeGap(ctx context.Context, tx storage.Transaction, columnID, removed int64) error {
	items, err := tx.ListColumnItems(ctx, columnID)
	if err != nil {
		return fmt.Errorf("list column %d: %w", columnID, err)
	}
	return tx.SetPositions(ctx, columnID, without(storage.IDs(items), removed))
}

// endOf returns the position one past the last item of a column.
func endOf(ctx context.Context, tx storage.Reader, columnID int64) (int, error) {
	items, err := tx.ListColumnItems(ctx, columnID)
	if err != nil {
		return 0, fmt.Errorf("list column %d: %w", columnID, err)
	}
	return len(items), nil
}

func without(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
