package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmfair/updown-fair/internal/metrics"
	"github.com/pmfair/updown-fair/internal/model"
)

// EstimateRow is one published snapshot sampled for persistence.
type EstimateRow struct {
	Asset       model.Asset
	Time        time.Time
	Up          float64
	Down        float64
	Hybrid      float64
	BookMid     float64
	WindowStart time.Time // zero stays NULL
}

// EstimateWriter batches sampled estimates into the fair_estimates table.
type EstimateWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input chan EstimateRow
	db    *pgxpool.Pool

	batch       []EstimateRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewEstimateWriter creates a new EstimateWriter.
func NewEstimateWriter(cfg WriterConfig, db *pgxpool.Pool, logger *slog.Logger) *EstimateWriter {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &EstimateWriter{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "store", "table", "fair_estimates"),
		input:  make(chan EstimateRow, cfg.BufferSize),
		batch:  make([]EstimateRow, 0, cfg.BatchSize),
	}
}

// Record enqueues one row without blocking the caller.
func (w *EstimateWriter) Record(row EstimateRow) {
	select {
	case w.input <- row:
	default:
		w.batchMu.Lock()
		w.metrics.Drops++
		w.batchMu.Unlock()
		metrics.StoreDrops.WithLabelValues("fair_estimates").Inc()
	}
}

// Start begins consuming rows and writing to the database.
func (w *EstimateWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("estimate writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer and flushes the remainder.
func (w *EstimateWriter) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("estimate writer stopped")
	case <-ctx.Done():
		w.logger.Warn("estimate writer stop timed out")
	}

	w.flush()
	return nil
}

// Stats returns current metrics.
func (w *EstimateWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *EstimateWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case row := <-w.input:
			w.add(row)
		}
	}
}

func (w *EstimateWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

func (w *EstimateWriter) add(row EstimateRow) {
	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

func (w *EstimateWriter) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]EstimateRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(batch)
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

	w.logger.Debug("flushed estimates",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (w *EstimateWriter) batchInsert(rows []EstimateRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		var windowStart any
		if !r.WindowStart.IsZero() {
			windowStart = r.WindowStart
		}
		batch.Queue(`
			INSERT INTO fair_estimates (asset, ts, up, down, hybrid, book_mid, window_start)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (asset, ts) DO NOTHING
		`, string(r.Asset), r.Time, r.Up, r.Down, r.Hybrid, r.BookMid, windowStart)
	}

	results := w.db.SendBatch(w.ctx, batch)
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
