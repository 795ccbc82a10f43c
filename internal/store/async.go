package store

import (
	"context"
	"log"
	"time"
)

const (
	asyncQueueSize    = 256
	asyncWriteTimeout = 5 * time.Second
)

type asyncJob func(ctx context.Context)

// AsyncWriter decouples persistence from the trading loop: fill and log
// records are pushed onto a bounded queue and written by a single background
// worker. When the queue is full the record is dropped, never blocking the
// caller; a store outage therefore cannot stall trading.
type AsyncWriter struct {
	store *Store
	jobs  chan asyncJob
	done  chan struct{}
}

// NewAsyncWriter starts the background worker. A nil store is allowed; every
// write then degrades to a no-op.
func NewAsyncWriter(s *Store) *AsyncWriter {
	w := &AsyncWriter{
		store: s,
		jobs:  make(chan asyncJob, asyncQueueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		job(ctx)
		cancel()
	}
}

// Close stops accepting writes and drains the queue.
func (w *AsyncWriter) Close() {
	if w == nil {
		return
	}
	close(w.jobs)
	<-w.done
}

func (w *AsyncWriter) enqueue(kind string, job asyncJob) {
	if w == nil || !w.store.Available() {
		return
	}
	select {
	case w.jobs <- job:
	default:
		log.Printf("[warn] store queue full; dropping %s record", kind)
	}
}

// RecordFill persists one fill, fire-and-forget.
func (w *AsyncWriter) RecordFill(traderID, marketSlug, side string, price, size float64, orderID string, pnl *float64) {
	w.enqueue("fill", func(ctx context.Context) {
		fill := FillRow{
			MarketSlug: marketSlug,
			Side:       side,
			Price:      price,
			Size:       size,
			OrderID:    orderID,
			PnL:        pnl,
		}
		if traderID != "" {
			fill.TraderID = &traderID
		}
		if err := w.store.SaveFill(ctx, fill); err != nil {
			log.Printf("[warn] save fill %s: %v", marketSlug, err)
		}
	})
}

// RecordLog persists one trader log line, fire-and-forget.
func (w *AsyncWriter) RecordLog(traderID, level, message string) {
	w.enqueue("log", func(ctx context.Context) {
		entry := LogRow{Level: level, Message: message}
		if traderID != "" {
			entry.TraderID = &traderID
		}
		if err := w.store.SaveLog(ctx, entry); err != nil {
			log.Printf("[warn] save log: %v", err)
		}
	})
}
