package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/types"
)

const storageScopeName = "github.com/workboard/workboard/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every read, every transaction and the claim-path writes get a span and
// are counted in workboard.storage.* metrics.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	return NewInstrumentedStore(s)
}

// NewInstrumentedStore always wraps s, using the global providers.
func NewInstrumentedStore(s storage.Store) *InstrumentedStore {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("workboard.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("workboard.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("workboard.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// Unwrap returns the decorated store.
func (s *InstrumentedStore) Unwrap() storage.Store { return s.inner }

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// instrumentedReader instruments the read side for both the store and
// transactions.
type instrumentedReader struct {
	s     *InstrumentedStore
	inner storage.Reader
}

func boardAttr(id int64) attribute.KeyValue { return attribute.Int64("workboard.board.id", id) }

func (r instrumentedReader) GetBoard(ctx context.Context, id int64) (*types.Board, error) {
	attrs := []attribute.KeyValue{boardAttr(id)}
	ctx, span, t := r.s.op(ctx, "GetBoard", attrs...)
	v, err := r.inner.GetBoard(ctx, id)
	r.s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (r instrumentedReader) ListBoards(ctx context.Context) ([]*types.Board, error) {
	ctx, span, t := r.s.op(ctx, "ListBoards")
	v, err := r.inner.ListBoards(ctx)
	r.s.done(ctx, span, t, err)
	return v, err
}

func (r instrumentedReader) GetColumn(ctx context.Context, id int64) (*types.Column, error) {
	ctx, span, t := r.s.op(ctx, "GetColumn")
	v, err := r.inner.GetColumn(ctx, id)
	r.s.done(ctx, span, t, err)
	return v, err
}

func (r instrumentedReader) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	ctx, span, t := r.s.op(ctx, "GetTask")
	v, err := r.inner.GetTask(ctx, id)
	r.s.done(ctx, span, t, err)
	return v, err
}

func (r instrumentedReader) GetGoal(ctx context.Context, id int64) (*types.Goal, error) {
	ctx, span, t := r.s.op(ctx, "GetGoal")
	v, err := r.inner.GetGoal(ctx, id)
	r.s.done(ctx, span, t, err)
	return v, err
}

func (r instrumentedReader) GetTaskByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Task, error) {
	attrs := []attribute.KeyValue{boardAttr(boardID), attribute.String("workboard.identifier", identifier)}
	ctx, span, t := r.s.op(ctx, "GetTaskByIdentifier", attrs...)
	v, err := r.inner.GetTaskByIdentifier(ctx, boardID, identifier)
	r.s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (r instrumentedReader) GetGoalByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Goal, error) {
	attrs := []attribute.KeyValue{boardAttr(boardID), attribute.String("workboard.identifier", identifier)}
	ctx, span, t := r.s.op(ctx, "GetGoalByIdentifier", attrs...)
	v, err := r.inner.GetGoalByIdentifier(ctx, boardID, identifier)
	r.s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (r instrumentedReader) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*types.Task, error) {
	attrs := []attribute.KeyValue{boardAttr(filter.BoardID)}
	ctx, span, t := r.s.op(ctx, "ListTasks", attrs...)
	v, err := r.inner.ListTasks(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("workboard.result.count", len(v)))
	}
	r.s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (r instrumentedReader) ListGoals(ctx context.Context, boardID int64) ([]*types.Goal, error) {
	attrs := []attribute.KeyValue{boardAttr(boardID)}
	ctx, span, t := r.s.op(ctx, "ListGoals", attrs...)
	v, err := r.inner.ListGoals(ctx, boardID)
	r.s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (r instrumentedReader) StatusesByIdentifier(ctx context.Context, boardID int64, identifiers []string) (map[string]types.Status, error) {
	attrs := []attribute.KeyValue{boardAttr(boardID), attribute.Int("workboard.identifier.count", len(identifiers))}
	ctx, span, t := r.s.op(ctx, "StatusesByIdentifier", attrs...)
	v, err := r.inner.StatusesByIdentifier(ctx, boardID, identifiers)
	r.s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (r instrumentedReader) ListColumnItems(ctx context.Context, columnID int64) ([]storage.ColumnItem, error) {
	ctx, span, t := r.s.op(ctx, "ListColumnItems")
	v, err := r.inner.ListColumnItems(ctx, columnID)
	r.s.done(ctx, span, t, err)
	return v, err
}

func (r instrumentedReader) CountColumnTasks(ctx context.Context, columnID int64) (int, error) {
	ctx, span, t := r.s.op(ctx, "CountColumnTasks")
	v, err := r.inner.CountColumnTasks(ctx, columnID)
	r.s.done(ctx, span, t, err)
	return v, err
}

func (r instrumentedReader) GetEvents(ctx context.Context, itemID int64, limit int) ([]*types.Event, error) {
	ctx, span, t := r.s.op(ctx, "GetEvents")
	v, err := r.inner.GetEvents(ctx, itemID, limit)
	r.s.done(ctx, span, t, err)
	return v, err
}

// ── Store ───────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) reader() instrumentedReader { return instrumentedReader{s: s, inner: s.inner} }

func (s *InstrumentedStore) GetBoard(ctx context.Context, id int64) (*types.Board, error) {
	return s.reader().GetBoard(ctx, id)
}

func (s *InstrumentedStore) ListBoards(ctx context.Context) ([]*types.Board, error) {
	return s.reader().ListBoards(ctx)
}

func (s *InstrumentedStore) GetColumn(ctx context.Context, id int64) (*types.Column, error) {
	return s.reader().GetColumn(ctx, id)
}

func (s *InstrumentedStore) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	return s.reader().GetTask(ctx, id)
}

func (s *InstrumentedStore) GetGoal(ctx context.Context, id int64) (*types.Goal, error) {
	return s.reader().GetGoal(ctx, id)
}

func (s *InstrumentedStore) GetTaskByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Task, error) {
	return s.reader().GetTaskByIdentifier(ctx, boardID, identifier)
}

func (s *InstrumentedStore) GetGoalByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Goal, error) {
	return s.reader().GetGoalByIdentifier(ctx, boardID, identifier)
}

func (s *InstrumentedStore) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*types.Task, error) {
	return s.reader().ListTasks(ctx, filter)
}

func (s *InstrumentedStore) ListGoals(ctx context.Context, boardID int64) ([]*types.Goal, error) {
	return s.reader().ListGoals(ctx, boardID)
}

func (s *InstrumentedStore) StatusesByIdentifier(ctx context.Context, boardID int64, identifiers []string) (map[string]types.Status, error) {
	return s.reader().StatusesByIdentifier(ctx, boardID, identifiers)
}

func (s *InstrumentedStore) ListColumnItems(ctx context.Context, columnID int64) ([]storage.ColumnItem, error) {
	return s.reader().ListColumnItems(ctx, columnID)
}

func (s *InstrumentedStore) CountColumnTasks(ctx context.Context, columnID int64) (int, error) {
	return s.reader().CountColumnTasks(ctx, columnID)
}

func (s *InstrumentedStore) GetEvents(ctx context.Context, itemID int64, limit int) ([]*types.Event, error) {
	return s.reader().GetEvents(ctx, itemID, limit)
}

func (s *InstrumentedStore) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	ctx, span, t := s.op(ctx, "RunInTransaction")
	err := s.inner.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return fn(&instrumentedTx{Transaction: tx, r: instrumentedReader{s: s, inner: tx}})
	})
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}

// ── Transaction ─────────────────────────────────────────────────────────────

// instrumentedTx instruments reads and the writes on the claim and
// lifecycle hot path. Other writes pass straight through.
type instrumentedTx struct {
	storage.Transaction
	r instrumentedReader
}

func (tx *instrumentedTx) GetTaskByIdentifier(ctx context.Context, boardID int64, identifier string) (*types.Task, error) {
	return tx.r.GetTaskByIdentifier(ctx, boardID, identifier)
}

func (tx *instrumentedTx) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*types.Task, error) {
	return tx.r.ListTasks(ctx, filter)
}

func (tx *instrumentedTx) StatusesByIdentifier(ctx context.Context, boardID int64, identifiers []string) (map[string]types.Status, error) {
	return tx.r.StatusesByIdentifier(ctx, boardID, identifiers)
}

func (tx *instrumentedTx) ClaimTask(ctx context.Context, id int64, claim types.Assignment, columnID int64, position int) error {
	attrs := []attribute.KeyValue{
		attribute.Int64("workboard.task.id", id),
		attribute.String("workboard.actor", claim.AssignedTo),
	}
	ctx, span, t := tx.r.s.op(ctx, "ClaimTask", attrs...)
	err := tx.Transaction.ClaimTask(ctx, id, claim, columnID, position)
	tx.r.s.done(ctx, span, t, err, attrs...)
	return err
}

func (tx *instrumentedTx) UpdateTask(ctx context.Context, task *types.Task, expected types.Status) error {
	attrs := []attribute.KeyValue{
		attribute.String("workboard.identifier", task.Identifier),
		attribute.String("workboard.status.expected", string(expected)),
		attribute.String("workboard.status.new", string(task.Status)),
	}
	ctx, span, t := tx.r.s.op(ctx, "UpdateTask", attrs...)
	err := tx.Transaction.UpdateTask(ctx, task, expected)
	tx.r.s.done(ctx, span, t, err, attrs...)
	return err
}

func (tx *instrumentedTx) CreateTask(ctx context.Context, task *types.Task) error {
	attrs := []attribute.KeyValue{
		attribute.String("workboard.identifier", task.Identifier),
		attribute.String("workboard.task.kind", string(task.Kind)),
	}
	ctx, span, t := tx.r.s.op(ctx, "CreateTask", attrs...)
	err := tx.Transaction.CreateTask(ctx, task)
	tx.r.s.done(ctx, span, t, err, attrs...)
	return err
}

func (tx *instrumentedTx) DeleteTask(ctx context.Context, id int64) error {
	attrs := []attribute.KeyValue{attribute.Int64("workboard.task.id", id)}
	ctx, span, t := tx.r.s.op(ctx, "DeleteTask", attrs...)
	err := tx.Transaction.DeleteTask(ctx, id)
	tx.r.s.done(ctx, span, t, err, attrs...)
	return err
}
