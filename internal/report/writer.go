package report

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DB is the subset of *pgxpool.Pool the writer uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig holds configuration for the report writer.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		BufferSize:    10000,
	}
}

// WriterMetrics tracks writer activity.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS session_reports (
	id                UUID PRIMARY KEY,
	instance_id       TEXT NOT NULL,
	conn_id           BIGINT NOT NULL,
	remote_addr       TEXT NOT NULL,
	opened_at         TIMESTAMPTZ NOT NULL,
	closed_at         TIMESTAMPTZ NOT NULL,
	reason            TEXT NOT NULL,
	messages_received BIGINT NOT NULL,
	total_missed      BIGINT NOT NULL,
	last_sequence     NUMERIC(20,0) NOT NULL,
	loss_percentage   DOUBLE PRECISION NOT NULL
)`

const insertSQL = `
	INSERT INTO session_reports (id, instance_id, conn_id, remote_addr, opened_at, closed_at, reason, messages_received, total_missed, last_sequence, loss_percentage)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING
`

// EnsureSchema creates the session_reports table if it does not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create session_reports: %w", err)
	}
	return nil
}

// Writer is a Sink that batch-inserts reports into the database.
type Writer struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *Queue[SessionReport]
	db    DB

	batch   []reportRow
	batchMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

type reportRow struct {
	ID               string
	InstanceID       string
	ConnID           int64
	RemoteAddr       string
	OpenedAt         time.Time
	ClosedAt         time.Time
	Reason           string
	MessagesReceived int64
	TotalMissed      int64
	LastSequence     pgtype.Numeric // seq spans the full uint64 range
	LossPercentage   float64
}

// NewWriter creates a Writer. Call Start before submitting.
func NewWriter(cfg WriterConfig, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		logger: logger,
		input:  NewQueue[SessionReport](cfg.BufferSize),
		db:     db,
		batch:  make([]reportRow, 0, cfg.BatchSize),
	}
}

// Submit queues a report. Never blocks; the oldest queued report is
// dropped when the buffer is full.
func (w *Writer) Submit(r SessionReport) bool {
	return w.input.Send(r)
}

// Start begins consuming reports and writing batches.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("report writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued reports and flushes them using ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping report writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("report writer stop timed out")
	}

	for _, r := range w.input.DrainTo(0) {
		w.add(r)
	}
	w.flush(ctx)

	w.logger.Info("report writer stopped", "dropped", w.input.Stats().Dropped)
	return nil
}

// Stats returns current writer counters.
func (w *Writer) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// QueueStats returns input queue counters.
func (w *Writer) QueueStats() QueueStats {
	return w.input.Stats()
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		r, ok := w.input.TryReceive()
		if !ok {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		if w.add(r) && w.ctx.Err() == nil {
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends r to the batch and reports whether the batch is full.
func (w *Writer) add(r SessionReport) bool {
	row := transform(r)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

func transform(r SessionReport) reportRow {
	return reportRow{
		ID:               r.ID.String(),
		InstanceID:       r.InstanceID,
		ConnID:           int64(r.ConnID),
		RemoteAddr:       r.RemoteAddr,
		OpenedAt:         r.OpenedAt.UTC(),
		ClosedAt:         r.ClosedAt.UTC(),
		Reason:           r.Reason,
		MessagesReceived: int64(r.MessagesReceived),
		TotalMissed:      int64(r.TotalMissed),
		LastSequence:     pgtype.Numeric{Int: new(big.Int).SetUint64(r.LastSequence), Valid: true},
		LossPercentage:   r.LossPercentage,
	}
}

func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]reportRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed session reports",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (w *Writer) batchInsert(ctx context.Context, rows []reportRow) (conflicts int, err error) {
	if w.db == nil {
		return 0, fmt.Errorf("no database configured")
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL,
			r.ID, r.InstanceID, r.ConnID, r.RemoteAddr, r.OpenedAt, r.ClosedAt,
			r.Reason, r.MessagesReceived, r.TotalMissed, r.LastSequence, r.LossPercentage,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
