// Package dispatcher drains the company queue in fixed-size concurrent batches.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/company-enricher/internal/company"
	"github.com/JakeFAU/company-enricher/internal/metrics"
)

// Processor runs one record to completion.
type Processor interface {
	Process(ctx context.Context, rec company.Record) company.Outcome
}

// Config controls batching.
type Config struct {
	StartID   int64
	BatchSize int // also the concurrency bound, default 7
}

// Summary describes a finished run.
type Summary struct {
	Batches  int
	Records  int
	Outcomes map[company.Outcome]int
	// Cursor is the next id that would have been selected.
	Cursor int64
	// Interrupted is set when the run stopped on ctx rather than an empty queue.
	Interrupted bool
	Elapsed     time.Duration
}

// Dispatcher selects batches from the store and processes each batch concurrently.
type Dispatcher struct {
	store     company.Store
	processor Processor
	cfg       Config
	logger    *zap.Logger

	mu       sync.Mutex
	progress Summary
}

// New creates a Dispatcher.
func New(store company.Store, processor Processor, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("dispatcher: store is required")
	}
	if processor == nil {
		return nil, errors.New("dispatcher: processor is required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 7
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("dispatcher: batch size must be positive, got %d", cfg.BatchSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: store, processor: processor, cfg: cfg, logger: logger.Named("dispatcher")}, nil
}

// Run processes batches until the queue is empty or ctx is done.
// ctx is checked only between batches; records already started always finish.
// A store selection error ends the run and is returned with the partial summary.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum := Summary{Outcomes: make(map[company.Outcome]int, len(company.Outcomes)), Cursor: d.cfg.StartID}
	defer func() {
		sum.Elapsed = time.Since(start)
		d.snapshot(sum)
	}()
	d.snapshot(sum)

	for {
		if ctx.Err() != nil {
			sum.Interrupted = true
			d.logger.Info("stop requested, no more batches will be processed", zap.Int64("cursor", sum.Cursor))
			return sum, nil
		}

		batch, err := d.store.SelectBatch(ctx, sum.Cursor, d.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				sum.Interrupted = true
				return sum, nil
			}
			return sum, fmt.Errorf("select batch at cursor %d: %w", sum.Cursor, err)
		}
		if len(batch) == 0 {
			d.logger.Info("all companies processed", zap.Int("records", sum.Records), zap.Int("batches", sum.Batches))
			return sum, nil
		}

		outcomes := d.runBatch(context.WithoutCancel(ctx), batch)
		sum.Batches++
		sum.Records += len(batch)
		for _, o := range outcomes {
			sum.Outcomes[o]++
		}
		sum.Cursor = nextCursor(sum.Cursor, batch)
		sum.Elapsed = time.Since(start)
		d.snapshot(sum)
		metrics.ObserveBatch(len(batch))
		d.logger.Info("batch finished",
			zap.Int("batch", sum.Batches),
			zap.Int("size", len(batch)),
			zap.Int64("next_cursor", sum.Cursor),
		)
	}
}

// Progress returns the summary as of the last finished batch.
func (d *Dispatcher) Progress() Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneSummary(d.progress)
}

func (d *Dispatcher) snapshot(sum Summary) {
	d.mu.Lock()
	d.progress = cloneSummary(sum)
	d.mu.Unlock()
}

func cloneSummary(sum Summary) Summary {
	out := sum
	out.Outcomes = make(map[company.Outcome]int, len(sum.Outcomes))
	for k, v := range sum.Outcomes {
		out.Outcomes[k] = v
	}
	return out
}

func (d *Dispatcher) runBatch(ctx context.Context, batch []company.Record) []company.Outcome {
	outcomes := make([]company.Outcome, len(batch))
	var g errgroup.Group
	g.SetLimit(d.cfg.BatchSize)
	var mu sync.Mutex
	for i, rec := range batch {
		g.Go(func() error {
			o := d.processor.Process(ctx, rec)
			mu.Lock()
			outcomes[i] = o
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// nextCursor moves past the highest id of batch so records left untouched are not reselected in this run.
func nextCursor(cursor int64, batch []company.Record) int64 {
	next := cursor
	for _, rec := range batch {
		if rec.ID >= next {
			next = rec.ID + 1
		}
	}
	return next
}
