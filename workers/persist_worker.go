package workers

import (
	"context"
	"log"
	"time"
)

// Store is the durable write target (the R2 JSON document store).
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Job is one durable write. OnDone, if set, is called with the write
// result so the enqueuer can track unconfirmed records.
type Job struct {
	Key    string
	Data   []byte
	OnDone func(error)
}

// PersistWorker drains queued durable writes so request handlers never
// block on storage. Writes are last-write-wins; a crash loses whatever
// is still queued (accepted durability gap, re-covered by the dirty
// flush in the maintenance scheduler while the process lives).
type PersistWorker struct {
	store Store
	jobs  chan Job
}

func NewPersistWorker(store Store, buffer int) *PersistWorker {
	if buffer <= 0 {
		buffer = 256
	}
	return &PersistWorker{
		store: store,
		jobs:  make(chan Job, buffer),
	}
}

// Enqueue queues a write without blocking. Returns false when the
// queue is full; the caller falls back to a synchronous write.
func (w *PersistWorker) Enqueue(key string, data []byte, onDone func(error)) bool {
	select {
	case w.jobs <- Job{Key: key, Data: data, OnDone: onDone}:
		return true
	default:
		return false
	}
}

// Start runs the drain loop until ctx is cancelled, then flushes what
// is left in the queue before returning.
func (w *PersistWorker) Start(ctx context.Context) {
	log.Println("Starting ledger persist worker...")
	for {
		select {
		case <-ctx.Done():
			w.drain()
			log.Println("Ledger persist worker stopped.")
			return
		case job := <-w.jobs:
			w.run(job)
		}
	}
}

func (w *PersistWorker) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := w.store.Put(ctx, job.Key, job.Data)
	if err != nil {
		log.Printf("❌ Durable write for %s failed: %v", job.Key, err)
	}
	if job.OnDone != nil {
		job.OnDone(err)
	}
}

func (w *PersistWorker) drain() {
	for {
		select {
		case job := <-w.jobs:
			w.run(job)
		default:
			return
		}
	}
}
