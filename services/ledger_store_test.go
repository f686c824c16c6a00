package services

import (
	"context"
	"encoding/json"
	"testing"

	"chum-ledger/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate(t *testing.T) {
	docs := newMemDocStore()
	store := NewLedgerStore(docs)
	ctx := context.Background()

	rec, created, err := store.GetOrCreate(ctx, "WalletCreate1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "WalletCreate1", rec.Wallet)
	assert.True(t, rec.TotalEarned.IsZero())

	// Second call finds the cached record.
	again, created, err := store.GetOrCreate(ctx, "WalletCreate1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, rec, again)

	// The zeroed record was persisted.
	data, err := docs.Get(ctx, "players/WalletCreate1.json")
	require.NoError(t, err)
	assert.NotNil(t, data)
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := NewLedgerStore(newMemDocStore())

	rec, err := store.Get(context.Background(), "WalletMissing1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetFallsBackToDurableStore(t *testing.T) {
	docs := newMemDocStore()
	ctx := context.Background()

	saved := models.NewPlayerRecord("WalletDurable1")
	saved.TotalEarned = decimal.NewFromInt(7)
	saved.PendingRewards = decimal.NewFromInt(7)
	data, err := json.Marshal(saved)
	require.NoError(t, err)
	require.NoError(t, docs.Put(ctx, "players/WalletDurable1.json", data))

	// Fresh store, empty cache: the record loads from storage.
	store := NewLedgerStore(docs)
	rec, err := store.Get(ctx, "WalletDurable1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.TotalEarned.Equal(decimal.NewFromInt(7)))
	assert.NotNil(t, rec.EarnHistory)

	// Second read hits the cache, not storage.
	putsBefore := docs.puts
	again, err := store.Get(ctx, "WalletDurable1")
	require.NoError(t, err)
	assert.Same(t, rec, again)
	assert.Equal(t, putsBefore, docs.puts)
}

func TestSaveTruncatesDurableHistory(t *testing.T) {
	docs := newMemDocStore()
	store := NewLedgerStore(docs)
	ctx := context.Background()

	rec := models.NewPlayerRecord("WalletBig1")
	for i := 0; i < maxStoredHistory+50; i++ {
		rec.EarnHistory = append(rec.EarnHistory, models.EarnEntry{
			SessionID: models.NewSessionID(),
			Points:    int64(i),
		})
	}

	store.Lock(rec.Wallet)
	require.NoError(t, store.Save(ctx, rec))
	store.Unlock(rec.Wallet)

	// In-memory copy keeps everything.
	assert.Len(t, rec.EarnHistory, maxStoredHistory+50)

	// Durable copy keeps only the newest maxStoredHistory entries.
	data, err := docs.Get(ctx, "players/WalletBig1.json")
	require.NoError(t, err)
	var durable models.PlayerRecord
	require.NoError(t, json.Unmarshal(data, &durable))
	require.Len(t, durable.EarnHistory, maxStoredHistory)
	assert.Equal(t, int64(50), durable.EarnHistory[0].Points, "oldest entries dropped first")
}

func TestBulkLoad(t *testing.T) {
	docs := newMemDocStore()
	ctx := context.Background()

	for _, wallet := range []string{"WalletBulk1", "WalletBulk2", "WalletBulk3"} {
		data, err := json.Marshal(models.NewPlayerRecord(wallet))
		require.NoError(t, err)
		require.NoError(t, docs.Put(ctx, "players/"+wallet+".json", data))
	}

	store := NewLedgerStore(docs)
	loaded, err := store.BulkLoad(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded)

	seen := 0
	store.Walk(func(_ *models.PlayerRecord) { seen++ })
	assert.Equal(t, 3, seen)
}

func TestFlushDirtyRepersistsUnconfirmedWrites(t *testing.T) {
	docs := newMemDocStore()
	store := NewLedgerStore(docs)
	ctx := context.Background()

	// Async path that accepts the job but never completes it, so the
	// record stays dirty.
	store.SetAsyncPersist(func(key string, data []byte, onDone func(error)) bool {
		return true
	})

	rec := models.NewPlayerRecord("WalletDirty1")
	store.Lock(rec.Wallet)
	require.NoError(t, store.Save(ctx, rec))
	store.Unlock(rec.Wallet)
	assert.Equal(t, 0, docs.puts, "async path did not reach storage")

	// Flush falls back to the async path again; drop it to force the
	// synchronous write.
	store.SetAsyncPersist(nil)
	flushed := store.FlushDirty(ctx)
	assert.Equal(t, 1, flushed)
	assert.Equal(t, 1, docs.puts)

	// Nothing left dirty.
	assert.Equal(t, 0, store.FlushDirty(ctx))
}

func TestSaveClearsDirtyOnAsyncCompletion(t *testing.T) {
	docs := newMemDocStore()
	store := NewLedgerStore(docs)
	ctx := context.Background()

	// Async path that completes inline.
	store.SetAsyncPersist(func(key string, data []byte, onDone func(error)) bool {
		err := docs.Put(context.Background(), key, data)
		onDone(err)
		return true
	})

	rec := models.NewPlayerRecord("WalletAsync1")
	store.Lock(rec.Wallet)
	require.NoError(t, store.Save(ctx, rec))
	store.Unlock(rec.Wallet)

	assert.Equal(t, 1, docs.puts)
	assert.Equal(t, 0, store.FlushDirty(ctx), "confirmed write leaves nothing dirty")
}
