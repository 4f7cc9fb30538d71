package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

const (
	itemTypeTask = "task"
	itemTypeGoal = "goal"
)

// timeLayout is fixed-width so stored timestamps compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// queries implements storage.Reader and the write half of
// storage.Transaction against a querier.
type queries struct {
	q       querier
	dialect dialect
}

const itemColumns = `id, board_id, column_id, identifier, item_type, kind, parent_id, position,
	title, description, status, priority, complexity, required_capabilities,
	needs_review, review_status, review_notes,
	assigned_to, assigned_agent, claimed_at, claim_expires_at,
	created_by, created_at, updated_at, completed_by, completed_at, completion_summary`

type itemRow struct {
	itemType string
	task     types.Task
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*itemRow, error) {
	var (
		r                              itemRow
		t                              = &r.task
		parentID                       sql.NullInt64
		caps                           string
		assignedTo, claimedAt, expires sql.NullString
		assignedAgent                  sql.NullBool
		createdAt, updatedAt           string
		completedAt                    sql.NullString
	)
	if err := row.Scan(
		&t.ID, &t.BoardID, &t.ColumnID, &t.Identifier, &r.itemType, &t.Kind, &parentID, &t.Position,
		&t.Title, &t.Description, &t.Status, &t.Priority, &t.Complexity, &caps,
		&t.NeedsReview, &t.ReviewStatus, &t.ReviewNotes,
		&assignedTo, &assignedAgent, &claimedAt, &expires,
		&t.CreatedBy, &createdAt, &updatedAt, &t.CompletedBy, &completedAt, &t.CompletionSummary,
	); err != nil {
		return nil, err
	}

	var err error
	if parentID.Valid {
		p := parentID.Int64
		t.ParentID = &p
	}
	t.RequiredCapabilities = types.ParseCapabilities(caps)
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at of %s: %w", t.Identifier, err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at of %s: %w", t.Identifier, err)
	}
	if t.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at of %s: %w", t.Identifier, err)
	}
	if assignedTo.Valid {
		a := &types.Assignment{AssignedTo: assignedTo.String, Agent: assignedAgent.Bool}
		if a.ClaimedAt, err = parseTime(claimedAt.String); err != nil {
			return nil, fmt.Errorf("parse claimed_at of %s: %w", t.Identifier, err)
		}
		if a.ExpiresAt, err = parseTime(expires.String); err != nil {
			return nil, fmt.Errorf("parse claim_expires_at of %s: %w", t.Identifier, err)
		}
		t.Assignment = a
	}
	return &r, nil
}

func (r *itemRow) goal() *types.Goal {
	return &types.Goal{Item: r.task.Item}
}

// selectItems runs an item query and returns rows of both variants.
// Rows are fully drained before returning; the MySQL driver cannot
// interleave queries on one connection.
func (s *queries) selectItems(ctx context.Context, where string, args ...any) ([]*itemRow, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+itemColumns+" FROM items WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*itemRow
	for rows.Next() {
		r, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *queries) selectTasks(ctx context.Context, where string, args ...any) ([]*types.Task, error) {
	rowsOut, err := s.selectItems(ctx, "item_type = 'task' AND "+where, args...)
	if err != nil {
		return nil, err
	}
	tasks := make([]*types.Task, len(rowsOut))
	for i, r := range rowsOut {
		t := r.task
		tasks[i] = &t
	}
	if err := s.loadTaskDetails(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// loadTaskDetails fills dependencies and key files in two queries.
func (s *queries) loadTaskDetails(ctx context.Context, tasks []*types.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	byID := make(map[int64]*types.Task, len(tasks))
	ids := make([]any, 0, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	in := placeholders(len(ids))

	rows, err := s.q.QueryContext(ctx,
		"SELECT item_id, depends_on FROM item_dependencies WHERE item_id IN ("+in+") ORDER BY item_id, position", ids...)
	if err != nil {
		return wrapDBError("load dependencies", err)
	}
	for rows.Next() {
		var id int64
		var dep string
		if err := rows.Scan(&id, &dep); err != nil {
			_ = rows.Close()
			return wrapDBError("scan dependency", err)
		}
		byID[id].Dependencies = append(byID[id].Dependencies, dep)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = s.q.QueryContext(ctx,
		"SELECT item_id, file_path, note, position FROM item_files WHERE item_id IN ("+in+") ORDER BY item_id, position", ids...)
	if err != nil {
		return wrapDBError("load key files", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		var kf types.KeyFile
		if err := rows.Scan(&id, &kf.Path, &kf.Note, &kf.Position); err != nil {
			return wrapDBError("scan key file", err)
		}
		byID[id].KeyFiles = append(byID[id].KeyFiles, kf)
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (s *queries) GetBoard(ctx context.Context, id int64) (*types.Board, error) {
	var b types.Board
	var createdAt string
	err := s.q.QueryRowContext(ctx, `SELECT id, name, created_at FROM boards WHERE id = ?`, id).
		Scan(&b.ID, &b.Name, &createdAt)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get board %d", id), err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.Columns, err = s.listColumns(ctx, id); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *queries) ListBoards(ctx context.Context) ([]*types.Board, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, created_at FROM boards ORDER BY id`)
	if err != nil {
		return nil, wrapDBError("list boards", err)
	}
	var boards []*types.Board
	for rows.Next() {
		var b types.Board
		var createdAt string
		if err := rows.Scan(&b.ID, &b.Name, &createdAt); err != nil {
			_ = rows.Close()
			return nil, wrapDBError("scan board", err)
		}
		if b.CreatedAt, err = parseTime(createdAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		boards = append(boards, &b)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for _, b := range boards {
		if b.Columns, err = s.listColumns(ctx, b.ID); err != nil {
			return nil, err
		}
	}
	return boards, nil
}

func (s *queries) listColumns(ctx context.Context, boardID int64) ([]*types.Column, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, board_id, name, stage, position, wip_limit
		FROM board_columns WHERE board_id = ? ORDER BY position`, boardID)
	if err != nil {
		return nil, wrapDBError("list columns", err)
	}
	defer func() { _ = rows.Close() }()
	var cols []*types.Column
	for rows.Next() {
		var c types.Column
		if err := rows.Scan(&c.ID, &c.BoardID, &c.Name, &c.Stage, &c.Position, &c.WIPLimit); err != nil {
			return nil, wrapDBError("scan column", err)
		}
		cols = append(cols, &c)
	}
	return cols, rows.Err()
}

func (s *queries) GetColumn(ctx context.Context, id int64) (*types.Column, error) {
	var c types.Column
	err := s.q.QueryRowContext(ctx, `
		SELECT id, board_id, name, stage, position, wip_limit
		FROM board_columns WHERE id = ?`, id).
		Scan(&c.ID, &c.BoardID, &c.Name, &c.Stage, &c.Position, &c.WIPLimit)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get column %d", id), err)
	}
	return &c, nil
}

func (s *queries) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	tasks, err := s.selectTasks(ctx, "id = ?", id)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get task %d", id), err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %d: %w", id, storage.ErrNotFound)
	}
	return tasks[0], nil
}

func (s *queries) GetGoal(ctx context.Context, id int64) (*types.Goal, error) {
	rows, err := s.selectItems(ctx, "item_type = 'goal' AND id = ?", id)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get goal %d", id), err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("goal %d: %w", id, storage.ErrNotFound)
	}
	return rows[0].goal(), nil
}

func (s *queries) GetTaskByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Task, error) {
	tasks, err := s.selectTasks(ctx, "board_id = ? AND identifier = ?", boardID, identifier)
	if err != nil {
		return nil, wrapDBError("get task "+identifier, err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %s: %w", identifier, storage.ErrNotFound)
	}
	return tasks[0], nil
}

func (s *queries) GetGoalByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Goal, error) {
	rows, err := s.selectItems(ctx, "item_type = 'goal' AND board_id = ? AND identifier = ?", boardID, identifier)
	if err != nil {
		return nil, wrapDBError("get goal "+identifier, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("goal %s: %w", identifier, storage.ErrNotFound)
	}
	return rows[0].goal(), nil
}

func (s *queries) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*types.Task, error) {
	clauses := []string{"1 = 1"}
	var args []any
	if filter.BoardID != 0 {
		clauses = append(clauses, "board_id = ?")
		args = append(args, filter.BoardID)
	}
	if filter.ColumnID != 0 {
		clauses = append(clauses, "column_id = ?")
		args = append(args, filter.ColumnID)
	}
	if filter.ParentID != nil {
		clauses = append(clauses, "parent_id = ?")
		args = append(args, *filter.ParentID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if len(filter.Identifiers) > 0 {
		clauses = append(clauses, "identifier IN ("+placeholders(len(filter.Identifiers))+")")
		for _, id := range filter.Identifiers {
			args = append(args, id)
		}
	}
	if filter.DependsOn != "" {
		clauses = append(clauses, "id IN (SELECT item_id FROM item_dependencies WHERE depends_on = ?)")
		args = append(args, filter.DependsOn)
	}
	tasks, err := s.selectTasks(ctx, strings.Join(clauses, " AND ")+" ORDER BY id", args...)
	if err != nil {
		return nil, wrapDBError("list tasks", err)
	}
	return tasks, nil
}

func (s *queries) ListGoals(ctx context.Context, boardID int64) ([]*types.Goal, error) {
	where := "item_type = 'goal'"
	var args []any
	if boardID != 0 {
		where += " AND board_id = ?"
		args = append(args, boardID)
	}
	rows, err := s.selectItems(ctx, where+" ORDER BY id", args...)
	if err != nil {
		return nil, wrapDBError("list goals", err)
	}
	goals := make([]*types.Goal, len(rows))
	for i, r := range rows {
		goals[i] = r.goal()
	}
	return goals, nil
}

func (s *queries) StatusesByIdentifier(ctx context.Context, boardID int64, identifiers []string) (map[string]types.Status, error) {
	out := make(map[string]types.Status, len(identifiers))
	if len(identifiers) == 0 {
		return out, nil
	}
	args := []any{boardID}
	for _, id := range identifiers {
		args = append(args, id)
	}
	rows, err := s.q.QueryContext(ctx,
		"SELECT identifier, status FROM items WHERE board_id = ? AND identifier IN ("+placeholders(len(identifiers))+")", args...)
	if err != nil {
		return nil, wrapDBError("resolve identifiers", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		var st types.Status
		if err := rows.Scan(&id, &st); err != nil {
			return nil, wrapDBError("scan status", err)
		}
		out[id] = st
	}
	return out, rows.Err()
}

func (s *queries) ListColumnItems(ctx context.Context, columnID int64) ([]storage.ColumnItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, identifier, item_type, position, created_at
		FROM items WHERE column_id = ? ORDER BY position, id`, columnID)
	if err != nil {
		return nil, wrapDBError("list column items", err)
	}
	defer func() { _ = rows.Close() }()
	var out []storage.ColumnItem
	for rows.Next() {
		var it storage.ColumnItem
		var itemType, createdAt string
		if err := rows.Scan(&it.ID, &it.Identifier, &itemType, &it.Position, &createdAt); err != nil {
			return nil, wrapDBError("scan column item", err)
		}
		it.IsGoal = itemType == itemTypeGoal
		if it.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *queries) CountColumnTasks(ctx context.Context, columnID int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE column_id = ? AND item_type = 'task'`, columnID).Scan(&n)
	if err != nil {
		return 0, wrapDBError("count column tasks", err)
	}
	return n, nil
}

func (s *queries) GetEvents(ctx context.Context, itemID int64, limit int) ([]*types.Event, error) {
	query := `
		SELECT id, item_id, identifier, event_type, actor, old_value, new_value, comment, created_at
		FROM item_events WHERE item_id = ? ORDER BY id DESC`
	args := []any{itemID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("get events", err)
	}
	defer func() { _ = rows.Close() }()
	var events []*types.Event
	for rows.Next() {
		var e types.Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Identifier, &e.EventType, &e.Actor,
			&e.OldValue, &e.NewValue, &e.Comment, &createdAt); err != nil {
			return nil, wrapDBError("scan event", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
