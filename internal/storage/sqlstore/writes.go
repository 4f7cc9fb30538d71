package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *queries) uniqueViolation(op string, err error) error {
	if s.dialect.isUnique != nil && s.dialect.isUnique(err) {
		return fmt.Errorf("%s: %w", op, storage.ErrConflict)
	}
	return wrapDBError(op, err)
}

func (s *queries) CreateBoard(ctx context.Context, board *types.Board) error {
	res, err := s.q.ExecContext(ctx, `INSERT INTO boards (name, created_at) VALUES (?, ?)`,
		board.Name, formatTime(board.CreatedAt))
	if err != nil {
		return wrapDBError("create board", err)
	}
	if board.ID, err = res.LastInsertId(); err != nil {
		return wrapDBError("create board", err)
	}
	for _, col := range board.Columns {
		col.BoardID = board.ID
		res, err := s.q.ExecContext(ctx, `
			INSERT INTO board_columns (board_id, name, stage, position, wip_limit)
			VALUES (?, ?, ?, ?, ?)`,
			col.BoardID, col.Name, string(col.Stage), col.Position, col.WIPLimit)
		if err != nil {
			return wrapDBError("create column", err)
		}
		if col.ID, err = res.LastInsertId(); err != nil {
			return wrapDBError("create column", err)
		}
	}
	return nil
}

func (s *queries) UpdateColumn(ctx context.Context, column *types.Column) error {
	res, err := s.q.ExecContext(ctx, `UPDATE board_columns SET name = ?, wip_limit = ? WHERE id = ?`,
		column.Name, column.WIPLimit, column.ID)
	if err != nil {
		return wrapDBError("update column", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetColumn(ctx, column.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *queries) NextIdentifier(ctx context.Context, boardID int64, prefix string) (string, error) {
	var next int
	err := s.q.QueryRowContext(ctx,
		`SELECT next_value FROM identifier_counters WHERE board_id = ? AND prefix = ?`, boardID, prefix).Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		next = 1
		_, err = s.q.ExecContext(ctx,
			`INSERT INTO identifier_counters (board_id, prefix, next_value) VALUES (?, ?, ?)`, boardID, prefix, 2)
	case err == nil:
		_, err = s.q.ExecContext(ctx,
			`UPDATE identifier_counters SET next_value = ? WHERE board_id = ? AND prefix = ?`, next+1, boardID, prefix)
	}
	if err != nil {
		return "", wrapDBError("allocate identifier", err)
	}
	return types.FormatIdentifier(prefix, next), nil
}

func (s *queries) insertItem(ctx context.Context, itemType string, it *types.Item, t *types.Task) (int64, error) {
	var (
		kind, complexity, caps, reviewStatus, reviewNotes string
		needsReview                                       bool
		parentID                                          sql.NullInt64
		assignedTo, claimedAt, expires                    sql.NullString
		agent                                             sql.NullBool
	)
	if t != nil {
		kind, complexity = string(t.Kind), string(t.Complexity)
		caps = t.RequiredCapabilities.String()
		needsReview, reviewStatus, reviewNotes = t.NeedsReview, string(t.ReviewStatus), t.ReviewNotes
		if t.ParentID != nil {
			parentID = sql.NullInt64{Int64: *t.ParentID, Valid: true}
		}
		if a := t.Assignment; a != nil {
			assignedTo = nullString(a.AssignedTo)
			agent = sql.NullBool{Bool: a.Agent, Valid: true}
			claimedAt = formatNullTime(&a.ClaimedAt)
			expires = formatNullTime(&a.ExpiresAt)
		}
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO items (
			board_id, column_id, identifier, item_type, kind, parent_id, position,
			title, description, status, priority, complexity, required_capabilities,
			needs_review, review_status, review_notes,
			assigned_to, assigned_agent, claimed_at, claim_expires_at,
			created_by, created_at, updated_at, completed_by, completed_at, completion_summary
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.BoardID, it.ColumnID, it.Identifier, itemType, kind, parentID, it.Position,
		it.Title, it.Description, string(it.Status), string(it.Priority), complexity, caps,
		needsReview, reviewStatus, reviewNotes,
		assignedTo, agent, claimedAt, expires,
		it.CreatedBy, formatTime(it.CreatedAt), formatTime(it.UpdatedAt), it.CompletedBy,
		formatNullTime(it.CompletedAt), it.CompletionSummary,
	)
	if err != nil {
		return 0, s.uniqueViolation("insert "+it.Identifier, err)
	}
	return res.LastInsertId()
}

func (s *queries) CreateTask(ctx context.Context, task *types.Task) error {
	id, err := s.insertItem(ctx, itemTypeTask, &task.Item, task)
	if err != nil {
		return err
	}
	task.ID = id
	return s.writeTaskDetails(ctx, task)
}

func (s *queries) CreateGoal(ctx context.Context, goal *types.Goal) error {
	id, err := s.insertItem(ctx, itemTypeGoal, &goal.Item, nil)
	if err != nil {
		return err
	}
	goal.ID = id
	return nil
}

// writeTaskDetails replaces the dependency and key file rows of a task.
func (s *queries) writeTaskDetails(ctx context.Context, task *types.Task) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM item_dependencies WHERE item_id = ?`, task.ID); err != nil {
		return wrapDBError("clear dependencies", err)
	}
	for i, dep := range task.Dependencies {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO item_dependencies (item_id, depends_on, position) VALUES (?, ?, ?)`,
			task.ID, dep, i); err != nil {
			return s.uniqueViolation("insert dependency "+dep, err)
		}
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM item_files WHERE item_id = ?`, task.ID); err != nil {
		return wrapDBError("clear key files", err)
	}
	for _, kf := range task.KeyFiles {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO item_files (item_id, file_path, note, position) VALUES (?, ?, ?, ?)`,
			task.ID, kf.Path, kf.Note, kf.Position); err != nil {
			return s.uniqueViolation("insert key file "+kf.Path, err)
		}
	}
	return nil
}

func (s *queries) UpdateTask(ctx context.Context, task *types.Task, expected types.Status) error {
	var (
		parentID                       sql.NullInt64
		assignedTo, claimedAt, expires sql.NullString
		agent                          sql.NullBool
	)
	if task.ParentID != nil {
		parentID = sql.NullInt64{Int64: *task.ParentID, Valid: true}
	}
	if a := task.Assignment; a != nil {
		assignedTo = nullString(a.AssignedTo)
		agent = sql.NullBool{Bool: a.Agent, Valid: true}
		claimedAt = formatNullTime(&a.ClaimedAt)
		expires = formatNullTime(&a.ExpiresAt)
	}

	// Conditional on the prior status: a concurrent transition makes this a no-op.
	res, err := s.q.ExecContext(ctx, `
		UPDATE items SET
			column_id = ?, parent_id = ?, position = ?, title = ?, description = ?,
			status = ?, priority = ?, complexity = ?, required_capabilities = ?,
			needs_review = ?, review_status = ?, review_notes = ?,
			assigned_to = ?, assigned_agent = ?, claimed_at = ?, claim_expires_at = ?,
			updated_at = ?, completed_by = ?, completed_at = ?, completion_summary = ?
		WHERE id = ? AND item_type = 'task' AND status = ?`,
		task.ColumnID, parentID, task.Position, task.Title, task.Description,
		string(task.Status), string(task.Priority), string(task.Complexity), task.RequiredCapabilities.String(),
		task.NeedsReview, string(task.ReviewStatus), task.ReviewNotes,
		assignedTo, agent, claimedAt, expires,
		formatTime(task.UpdatedAt), task.CompletedBy, formatNullTime(task.CompletedAt), task.CompletionSummary,
		task.ID, string(expected),
	)
	if err != nil {
		return wrapDBError("update task "+task.Identifier, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("update task "+task.Identifier, err)
	}
	if n == 0 {
		var current types.Status
		err := s.q.QueryRowContext(ctx, `SELECT status FROM items WHERE id = ? AND item_type = 'task'`, task.ID).Scan(&current)
		if err != nil {
			return wrapDBError("update task "+task.Identifier, err)
		}
		// Engines that report changed rather than matched rows land here
		// when the write was a no-op.
		if current != expected {
			return fmt.Errorf("task %s is %s, expected %s: %w", task.Identifier, current, expected, storage.ErrConflict)
		}
	}
	return s.writeTaskDetails(ctx, task)
}

func (s *queries) UpdateGoal(ctx context.Context, goal *types.Goal) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE items SET
			column_id = ?, position = ?, title = ?, description = ?, status = ?, priority = ?,
			updated_at = ?, completed_by = ?, completed_at = ?, completion_summary = ?
		WHERE id = ? AND item_type = 'goal'`,
		goal.ColumnID, goal.Position, goal.Title, goal.Description, string(goal.Status), string(goal.Priority),
		formatTime(goal.UpdatedAt), goal.CompletedBy, formatNullTime(goal.CompletedAt), goal.CompletionSummary,
		goal.ID,
	)
	if err != nil {
		return wrapDBError("update goal "+goal.Identifier, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetGoal(ctx, goal.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *queries) ClaimTask(ctx context.Context, id int64, claim types.Assignment, columnID int64, position int) error {
	now := formatTime(claim.ClaimedAt)
	res, err := s.q.ExecContext(ctx, `
		UPDATE items SET
			status = 'in_progress', assigned_to = ?, assigned_agent = ?, claimed_at = ?, claim_expires_at = ?,
			column_id = ?, position = ?, updated_at = ?
		WHERE id = ? AND item_type = 'task'
		  AND (status = 'open'
		       OR (status = 'in_progress' AND claim_expires_at IS NOT NULL AND claim_expires_at <= ?))`,
		claim.AssignedTo, claim.Agent, now, formatTime(claim.ExpiresAt),
		columnID, position, now,
		id, now,
	)
	if err != nil {
		return wrapDBError("claim task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("claim task", err)
	}
	if n == 0 {
		var assignee sql.NullString
		err := s.q.QueryRowContext(ctx, `SELECT assigned_to FROM items WHERE id = ? AND item_type = 'task'`, id).Scan(&assignee)
		if err != nil {
			return wrapDBError("claim task", err)
		}
		return fmt.Errorf("%w by %s", storage.ErrAlreadyClaimed, assignee.String)
	}
	return nil
}

func (s *queries) SetPositions(ctx context.Context, columnID int64, itemIDs []int64) error {
	for i, id := range itemIDs {
		res, err := s.q.ExecContext(ctx, `UPDATE items SET column_id = ?, position = ? WHERE id = ?`, columnID, i, id)
		if err != nil {
			return wrapDBError("set position", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			if err := s.q.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, id).Scan(&exists); err != nil {
				return wrapDBError(fmt.Sprintf("set position of item %d", id), err)
			}
		}
	}
	return nil
}

func (s *queries) deleteItem(ctx context.Context, itemType string, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM items WHERE id = ? AND item_type = ?`, id, itemType)
	if err != nil {
		return wrapDBError("delete "+itemType, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %d: %w", itemType, id, storage.ErrNotFound)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM item_dependencies WHERE item_id = ?`, id); err != nil {
		return wrapDBError("delete dependencies", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM item_files WHERE item_id = ?`, id); err != nil {
		return wrapDBError("delete key files", err)
	}
	return nil
}

func (s *queries) DeleteTask(ctx context.Context, id int64) error {
	return s.deleteItem(ctx, itemTypeTask, id)
}

func (s *queries) DeleteGoal(ctx context.Context, id int64) error {
	return s.deleteItem(ctx, itemTypeGoal, id)
}

func (s *queries) AppendEvent(ctx context.Context, event *types.Event) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO item_events (item_id, identifier, event_type, actor, old_value, new_value, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ItemID, event.Identifier, string(event.EventType), event.Actor,
		event.OldValue, event.NewValue, event.Comment, formatTime(event.CreatedAt))
	if err != nil {
		return wrapDBError("record event", err)
	}
	event.ID, err = res.LastInsertId()
	return err
}
