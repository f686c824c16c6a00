package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failAll bool
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("storage down")
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) get(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key]
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	w := NewPersistWorker(newMemStore(), 2)

	assert.True(t, w.Enqueue("a", []byte("1"), nil))
	assert.True(t, w.Enqueue("b", []byte("2"), nil))
	assert.False(t, w.Enqueue("c", []byte("3"), nil), "full queue never blocks the caller")
}

func TestWorkerWritesAndReportsResult(t *testing.T) {
	store := newMemStore()
	w := NewPersistWorker(store, 8)

	done := make(chan error, 1)
	require.True(t, w.Enqueue("players/w1.json", []byte(`{"wallet":"w1"}`), func(err error) {
		done <- err
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go w.Start(ctx)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write was never processed")
	}
	cancel()

	assert.Equal(t, []byte(`{"wallet":"w1"}`), store.get("players/w1.json"))
}

func TestWorkerReportsWriteFailure(t *testing.T) {
	store := newMemStore()
	store.failAll = true
	w := NewPersistWorker(store, 8)

	done := make(chan error, 1)
	require.True(t, w.Enqueue("players/w2.json", []byte("{}"), func(err error) {
		done <- err
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go w.Start(ctx)
	defer cancel()

	select {
	case err := <-done:
		assert.Error(t, err, "failure surfaces through OnDone so the record stays dirty")
	case <-time.After(time.Second):
		t.Fatal("write was never processed")
	}
}

func TestStartDrainsQueueOnShutdown(t *testing.T) {
	store := newMemStore()
	w := NewPersistWorker(store, 8)

	var wg sync.WaitGroup
	for _, key := range []string{"players/d1.json", "players/d2.json", "players/d3.json"} {
		wg.Add(1)
		require.True(t, w.Enqueue(key, []byte("{}"), func(error) { wg.Done() }))
	}

	// Already-cancelled context: Start must still flush the queue.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)

	wg.Wait()
	assert.NotNil(t, store.get("players/d1.json"))
	assert.NotNil(t, store.get("players/d3.json"))
}
