package router

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/khanglvm/tool-router/internal/storage"
)

const (
	// decisionQueueSize bounds the async log queue. When full, decisions
	// are dropped rather than blocking the routing path.
	decisionQueueSize = 1000

	// batchFlushSize triggers an immediate flush.
	batchFlushSize = 10

	// flushInterval is how often pending decisions are flushed.
	flushInterval = 50 * time.Millisecond
)

// Tracker persists routing decisions in the background with non-blocking
// writes. Only completed decisions reach the log: Route never enqueues for
// requests abandoned mid-flight.
type Tracker struct {
	store    storage.Storage
	logger   *zap.Logger
	queue    chan storage.DecisionRecord
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTracker starts the background decision writer.
func NewTracker(store storage.Storage, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		store:    store,
		logger:   logger,
		queue:    make(chan storage.DecisionRecord, decisionQueueSize),
		stopChan: make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// Log enqueues a decision without blocking. A full queue drops the record.
func (t *Tracker) Log(rec storage.DecisionRecord) {
	select {
	case t.queue <- rec:
	default:
		t.logger.Warn("decision log queue full, dropping record",
			zap.String("decision_id", rec.ID))
	}
}

// Stop flushes pending decisions and shuts the writer down.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopChan)
		t.wg.Wait()
	})
}

// Pending returns the current queue depth.
func (t *Tracker) Pending() int {
	return len(t.queue)
}

func (t *Tracker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]storage.DecisionRecord, 0, batchFlushSize)

	for {
		select {
		case rec := <-t.queue:
			batch = append(batch, rec)
			if len(batch) >= batchFlushSize {
				t.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				t.flush(batch)
				batch = batch[:0]
			}

		case <-t.stopChan:
			// Drain whatever already made it into the queue, then exit.
			for {
				select {
				case rec := <-t.queue:
					batch = append(batch, rec)
					if len(batch) >= batchFlushSize {
						t.flush(batch)
						batch = batch[:0]
					}
				default:
					t.flush(batch)
					return
				}
			}
		}
	}
}

func (t *Tracker) flush(batch []storage.DecisionRecord) {
	for _, rec := range batch {
		if err := t.store.RecordDecision(rec); err != nil {
			t.logger.Warn("failed to record decision",
				zap.String("decision_id", rec.ID), zap.Error(err))
		}
	}
}
