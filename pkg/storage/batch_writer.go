package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// BatchWriter batches visit writes, flushing when maxSize visits have
// accumulated or maxWait has elapsed since the first buffered visit.
//
// Usage:
//
//	writer := store.NewBatchWriter(100, 100*time.Millisecond)
//	defer writer.Close()
//	writer.Add(visit)
//
// Flush errors from the timer path are kept and returned by the next
// Flush or Close call.
type BatchWriter struct {
	store   *Store
	batch   []*Visit
	maxSize int
	maxWait time.Duration
	mu      sync.Mutex
	timer   *time.Timer
	closed  bool
	lastErr error
	flushed atomic.Int64
}

// NewBatchWriter creates a batch writer. Non-positive arguments fall back to
// 100 visits and 100ms.
func (s *Store) NewBatchWriter(maxSize int, maxWait time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 100
	}
	if maxWait <= 0 {
		maxWait = 100 * time.Millisecond
	}
	return &BatchWriter{
		store:   s,
		batch:   make([]*Visit, 0, maxSize),
		maxSize: maxSize,
		maxWait: maxWait,
	}
}

// Add buffers v. A full batch is flushed before Add returns.
func (bw *BatchWriter) Add(v *Visit) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return ErrStoreClosed
	}
	bw.batch = append(bw.batch, v)

	if len(bw.batch) >= bw.maxSize {
		return bw.flushLocked()
	}
	if len(bw.batch) == 1 {
		bw.startTimer()
	}
	return nil
}

// Flush writes the current batch.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if err := bw.flushLocked(); err != nil {
		return err
	}
	err := bw.lastErr
	bw.lastErr = nil
	return err
}

// Close flushes remaining visits and rejects later Adds. Close is idempotent.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return nil
	}
	bw.closed = true
	bw.mu.Unlock()
	return bw.Flush()
}

// flushLocked must be called with bw.mu held. The lock is released while
// the batch is written.
func (bw *BatchWriter) flushLocked() error {
	if len(bw.batch) == 0 {
		return nil
	}
	if bw.timer != nil {
		bw.timer.Stop()
		bw.timer = nil
	}

	batch := bw.batch
	bw.batch = make([]*Visit, 0, bw.maxSize)

	bw.mu.Unlock()
	err := bw.store.RecordVisits(context.Background(), batch)
	bw.mu.Lock()

	if err == nil {
		bw.flushed.Add(int64(len(batch)))
	}
	return err
}

// startTimer must be called with bw.mu held.
func (bw *BatchWriter) startTimer() {
	if bw.timer != nil {
		bw.timer.Stop()
	}
	bw.timer = time.AfterFunc(bw.maxWait, func() {
		bw.mu.Lock()
		defer bw.mu.Unlock()
		if err := bw.flushLocked(); err != nil {
			bw.lastErr = err
		}
	})
}

// BatchSize returns the number of buffered visits.
func (bw *BatchWriter) BatchSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.batch)
}

// FlushedCount returns how many visits were written so far.
func (bw *BatchWriter) FlushedCount() int64 {
	return bw.flushed.Load()
}
