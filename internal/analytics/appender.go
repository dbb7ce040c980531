// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package analytics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rhinontech/engage/internal/logging"
	"github.com/rhinontech/engage/internal/metrics"
	"github.com/rhinontech/engage/internal/models"
)

// AppenderStats holds runtime statistics for monitoring.
type AppenderStats struct {
	EventsReceived int64
	EventsFlushed  int64
	FlushCount     int64
	ErrorCount     int64
	LastFlushTime  time.Time
	LastError      string
	BufferSize     int
}

// Appender buffers visitor events and writes them to the sink in batches,
// either when the batch size is reached or the flush interval elapses.
//
// DETERMINISM: Flush operations are serialized via flushMu so timer-based
// and batch-triggered flushes cannot interleave and reorder inserts.
type Appender struct {
	sink          EventSink
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []*models.VisitorEvent

	flushMu sync.Mutex

	closed   atomic.Bool
	stopChan chan struct{}
	flushWg  sync.WaitGroup

	loopMu   sync.Mutex
	loopDone chan struct{}

	eventsReceived atomic.Int64
	eventsFlushed  atomic.Int64
	flushCount     atomic.Int64
	errorCount     atomic.Int64
	lastFlushTime  atomic.Value // time.Time
	lastError      atomic.Value // string
}

// NewAppender creates an Appender over the given sink.
func NewAppender(sink EventSink, batchSize int, flushInterval time.Duration) (*Appender, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if flushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive")
	}

	a := &Appender{
		sink:          sink,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buffer:        make([]*models.VisitorEvent, 0, batchSize),
		stopChan:      make(chan struct{}),
	}
	a.lastFlushTime.Store(time.Time{})
	a.lastError.Store("")
	return a, nil
}

// Start begins the periodic flush timer. Idempotent while a loop is
// running, and safe to call again after a previous run's context was
// canceled, so a supervised consumer restart resumes timed flushing.
func (a *Appender) Start(ctx context.Context) error {
	if a.closed.Load() {
		return fmt.Errorf("appender is closed")
	}

	a.loopMu.Lock()
	defer a.loopMu.Unlock()

	if a.loopDone != nil {
		select {
		case <-a.loopDone:
			// Previous loop exited with its context.
		default:
			return nil
		}
	}

	done := make(chan struct{})
	a.loopDone = done
	go a.flushLoop(ctx, done)
	return nil
}

// Append adds an event to the buffer. When the buffer reaches the batch
// size an async flush is triggered.
func (a *Appender) Append(event *models.VisitorEvent) error {
	if a.closed.Load() {
		return fmt.Errorf("appender is closed")
	}

	a.mu.Lock()
	a.buffer = append(a.buffer, event)
	needsFlush := len(a.buffer) >= a.batchSize
	a.mu.Unlock()
	a.eventsReceived.Add(1)

	if needsFlush {
		a.flushWg.Add(1)
		go func() {
			defer a.flushWg.Done()
			// Detached context: the caller's message context may be
			// canceled before the write completes.
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := a.doFlushSync(flushCtx); err != nil {
				logging.Debug().Err(err).Msg("async analytics flush failed")
			}
		}()
	}
	return nil
}

// Flush writes all buffered events, after waiting for in-flight flushes.
func (a *Appender) Flush(ctx context.Context) error {
	a.flushWg.Wait()
	return a.doFlushSync(ctx)
}

// Close stops the appender and flushes any pending events. Idempotent.
func (a *Appender) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	close(a.stopChan)

	a.loopMu.Lock()
	done := a.loopDone
	a.loopMu.Unlock()
	if done != nil {
		<-done
	}
	a.flushWg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.doFlushSync(ctx)
}

// Stats returns current runtime statistics.
func (a *Appender) Stats() AppenderStats {
	a.mu.Lock()
	bufferSize := len(a.buffer)
	a.mu.Unlock()

	var lastFlushTime time.Time
	if t, ok := a.lastFlushTime.Load().(time.Time); ok {
		lastFlushTime = t
	}
	var lastError string
	if e, ok := a.lastError.Load().(string); ok {
		lastError = e
	}

	return AppenderStats{
		EventsReceived: a.eventsReceived.Load(),
		EventsFlushed:  a.eventsFlushed.Load(),
		FlushCount:     a.flushCount.Load(),
		ErrorCount:     a.errorCount.Load(),
		LastFlushTime:  lastFlushTime,
		LastError:      lastError,
		BufferSize:     bufferSize,
	}
}

// flushLoop runs the periodic flush timer. The parent context only
// controls shutdown; each flush gets its own deadline.
func (a *Appender) flushLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := a.doFlushSync(flushCtx); err != nil {
				logging.Debug().Err(err).Msg("timed analytics flush failed")
			}
			cancel()
		}
	}
}

// doFlushSync flushes the buffer. On error, unwritten events are restored
// to the buffer for retry.
func (a *Appender) doFlushSync(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return nil
	}
	events := a.buffer
	a.buffer = make([]*models.VisitorEvent, 0, a.batchSize)
	a.mu.Unlock()

	start := time.Now()
	if err := a.sink.InsertVisitorEvents(ctx, events); err != nil {
		a.mu.Lock()
		a.buffer = append(events, a.buffer...)
		a.mu.Unlock()

		a.errorCount.Add(1)
		a.lastError.Store(err.Error())
		return fmt.Errorf("flush %d events: %w", len(events), err)
	}

	a.eventsFlushed.Add(int64(len(events)))
	a.flushCount.Add(1)
	a.lastFlushTime.Store(time.Now())
	a.lastError.Store("")
	metrics.AnalyticsFlushed.Add(float64(len(events)))

	logging.Debug().
		Int("count", len(events)).
		Dur("elapsed", time.Since(start)).
		Msg("analytics batch flushed")
	return nil
}
