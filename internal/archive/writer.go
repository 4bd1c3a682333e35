package archive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

const writerBatchSize = 64

// WriteFailure describes archived runs that could not be persisted.
type WriteFailure struct {
	Operation   string
	BatchSize   int
	FailedCount int
	Err         error
	ErrorClass  string
}

// WriteFailureHandler receives asynchronous write failure signals.
type WriteFailureHandler func(WriteFailure)

var noopWriteFailureHandler = WriteFailureHandler(func(WriteFailure) {})

// WriterStats is a point-in-time snapshot of the writer's counters.
type WriterStats struct {
	Accepted      int64            `json:"accepted"`
	QueueDropped  int64            `json:"queue_dropped"`
	WriteDropped  int64            `json:"write_dropped"`
	FailedByClass map[string]int64 `json:"failed_by_class,omitempty"`
}

// Writer persists runs in the background so an export never waits on the
// archive. Runs are flushed in batches of up to writerBatchSize.
type Writer struct {
	store Store
	queue chan *RunRecord
	wg    sync.WaitGroup

	started      atomic.Bool
	stopped      atomic.Bool
	stopOnce     sync.Once
	doneOnce     sync.Once
	done         chan struct{}
	queueMu      sync.RWMutex
	lifecycleMu  sync.RWMutex
	workerCancel context.CancelFunc
	failure      atomic.Value // WriteFailureHandler

	accepted     atomic.Int64
	queueDropped atomic.Int64
	writeDropped atomic.Int64

	classMu sync.Mutex
	byClass map[string]int64
}

func NewWriter(store Store, bufferSize int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	w := &Writer{
		store:   store,
		queue:   make(chan *RunRecord, bufferSize),
		done:    make(chan struct{}),
		byClass: make(map[string]int64),
	}
	w.failure.Store(noopWriteFailureHandler)
	return w
}

// SetWriteFailureHandler replaces the callback used for dropped write signals.
func (w *Writer) SetWriteFailureHandler(handler WriteFailureHandler) {
	if w == nil {
		return
	}
	if handler == nil {
		handler = noopWriteFailureHandler
	}
	w.failure.Store(handler)
}

func (w *Writer) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	workerCtx, cancel := context.WithCancel(ctx)
	w.lifecycleMu.Lock()
	w.workerCancel = cancel
	w.lifecycleMu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.markDone()

		for {
			select {
			case <-workerCtx.Done():
				return
			case run, ok := <-w.queue:
				if !ok {
					return
				}
				batch := make([]*RunRecord, 0, writerBatchSize)
				if run != nil {
					batch = append(batch, run)
				}
			drain:
				for len(batch) < writerBatchSize {
					select {
					case <-workerCtx.Done():
						w.flushBatch(context.Background(), batch)
						return
					case next, ok := <-w.queue:
						if !ok {
							w.flushBatch(context.Background(), batch)
							return
						}
						if next != nil {
							batch = append(batch, next)
						}
					default:
						break drain
					}
				}
				w.flushBatch(workerCtx, batch)
			}
		}
	}()
}

// Enqueue hands run to the background worker. It reports false when the
// queue is full or the writer has been shut down.
func (w *Writer) Enqueue(run *RunRecord) bool {
	if w.stopped.Load() {
		return false
	}
	w.queueMu.RLock()
	defer w.queueMu.RUnlock()
	if w.stopped.Load() {
		return false
	}

	select {
	case w.queue <- run:
		w.accepted.Add(1)
		return true
	default:
		w.queueDropped.Add(1)
		return false
	}
}

// Shutdown stops accepting runs and waits for queued runs to be flushed or
// for ctx to end.
func (w *Writer) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		w.queueMu.Lock()
		close(w.queue)
		w.queueMu.Unlock()
		if !w.started.Load() {
			w.markDone()
		}
	})

	select {
	case <-w.done:
		w.wg.Wait()
		w.cancelWorker()
		return nil
	case <-ctx.Done():
		w.cancelWorker()
		return ctx.Err()
	}
}

func (w *Writer) cancelWorker() {
	w.lifecycleMu.RLock()
	cancel := w.workerCancel
	w.lifecycleMu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (w *Writer) markDone() {
	w.doneOnce.Do(func() {
		close(w.done)
	})
}

func (w *Writer) Stats() WriterStats {
	if w == nil {
		return WriterStats{}
	}
	stats := WriterStats{
		Accepted:     w.accepted.Load(),
		QueueDropped: w.queueDropped.Load(),
		WriteDropped: w.writeDropped.Load(),
	}
	w.classMu.Lock()
	defer w.classMu.Unlock()
	if len(w.byClass) > 0 {
		stats.FailedByClass = make(map[string]int64, len(w.byClass))
		for class, count := range w.byClass {
			stats.FailedByClass[class] = count
		}
	}
	return stats
}

func (w *Writer) reportWriteFailure(failure WriteFailure) {
	if failure.FailedCount <= 0 {
		return
	}
	failure.ErrorClass = ClassifyWriteError(failure.Err)
	w.writeDropped.Add(int64(failure.FailedCount))
	w.classMu.Lock()
	w.byClass[failure.ErrorClass] += int64(failure.FailedCount)
	w.classMu.Unlock()

	handler, ok := w.failure.Load().(WriteFailureHandler)
	if !ok || handler == nil {
		return
	}
	handler(failure)
}

func (w *Writer) flushBatch(ctx context.Context, batch []*RunRecord) {
	if len(batch) == 0 {
		return
	}
	if len(batch) == 1 {
		if err := w.store.WriteRun(ctx, batch[0]); err != nil {
			w.reportWriteFailure(WriteFailure{Operation: "write_run", BatchSize: 1, FailedCount: 1, Err: err})
		}
		return
	}
	if err := w.store.WriteBatch(ctx, batch); err != nil {
		// A failed batch falls back to single writes so one bad row does not
		// drop its neighbours.
		failed := 0
		var fallbackErr error
		for _, run := range batch {
			if runErr := w.store.WriteRun(ctx, run); runErr != nil {
				failed++
				if fallbackErr == nil {
					fallbackErr = runErr
				}
			}
		}
		if failed > 0 {
			w.reportWriteFailure(WriteFailure{
				Operation:   "write_batch_fallback",
				BatchSize:   len(batch),
				FailedCount: failed,
				Err:         errors.Join(err, fallbackErr),
			})
		}
	}
}
