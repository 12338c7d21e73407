package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"IntentLedger/internal/observability"
)

// Record is one pending write. Exactly one field is set.
type Record struct {
	Intent    *IntentRow
	Execution *ExecutionRow
	Insurance *InsuranceRow
}

// Worker drains the persist channel and batch-writes to Postgres. It runs
// independently of the request path: the engine sends with blocking sends,
// so if the worker falls behind, writers stall rather than lose a record.
type Worker struct {
	writer       *RowWriter
	db           *sql.DB
	inputChan    <-chan Record
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(db *sql.DB, inputChan <-chan Record, batchSize int, flushTimeout time.Duration, metrics *observability.Metrics) *Worker {
	return &Worker{
		writer:       NewRowWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

type rowBatch struct {
	intents    []IntentRow
	executions []ExecutionRow
	insurance  []InsuranceRow
}

func (b *rowBatch) add(rec Record) {
	switch {
	case rec.Intent != nil:
		b.intents = append(b.intents, *rec.Intent)
	case rec.Execution != nil:
		b.executions = append(b.executions, *rec.Execution)
	case rec.Insurance != nil:
		b.insurance = append(b.insurance, *rec.Insurance)
	}
}

func (b *rowBatch) size() int {
	return len(b.intents) + len(b.executions) + len(b.insurance)
}

func (b *rowBatch) reset() {
	b.intents = b.intents[:0]
	b.executions = b.executions[:0]
	b.insurance = b.insurance[:0]
}

// Run starts the worker loop. It batches incoming records and flushes either
// when the batch is full or the flush timeout expires. Blocks until ctx is
// cancelled or the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	var batch rowBatch
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if batch.size() > 0 {
				if err := w.flush(context.Background(), &batch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case rec, ok := <-w.inputChan:
			if !ok {
				if batch.size() > 0 {
					if err := w.flush(context.Background(), &batch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			batch.add(rec)

			if batch.size() >= w.batchSize {
				if err := w.flushWithRetry(ctx, &batch); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				batch.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if batch.size() > 0 {
				if err := w.flushWithRetry(ctx, &batch); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				batch.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// batch: it retries until the write succeeds or the context is cancelled, in
// which case it attempts one final flush with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch *rowBatch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, rows=%d)",
				attempt, backoff, batch.size())
			select {
			case <-ctx.Done():
				finalErr := w.flush(context.Background(), batch)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch *rowBatch) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteIntentBatch(ctx, tx, batch.intents); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("intents").Inc()
		}
		return err
	}
	if err := w.writer.WriteExecutionBatch(ctx, tx, batch.executions); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("executions").Inc()
		}
		return err
	}
	if err := w.writer.WriteInsuranceBatch(ctx, tx, batch.insurance); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("insurance_ledger").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistRowsWritten.WithLabelValues("intents").Add(float64(len(batch.intents)))
		w.metrics.PersistRowsWritten.WithLabelValues("executions").Add(float64(len(batch.executions)))
		w.metrics.PersistRowsWritten.WithLabelValues("insurance_ledger").Add(float64(len(batch.insurance)))
	}

	return nil
}
