package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"chum-ledger/models"
)

const (
	playerKeyPrefix = "players/"

	// Durable copies keep only the newest entries; the Postgres session
	// log is the permanent audit trail for anything older.
	maxStoredHistory = 200
)

// DocumentStore is the remote JSON store the ledger persists into.
// Last-write-wins, no transactions. A missing key reads as (nil, nil).
type DocumentStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// LedgerStore maps wallet addresses to player records: an in-process
// cache in front of a DocumentStore. Durable writes are asynchronous;
// a crash between a cache mutation and its durable write loses that
// mutation (accepted at-most-once durability, see DESIGN.md).
type LedgerStore struct {
	docs    DocumentStore
	enqueue func(key string, data []byte, onDone func(error)) bool

	mu    sync.RWMutex
	cache map[string]*models.PlayerRecord
	dirty map[string]bool

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewLedgerStore(docs DocumentStore) *LedgerStore {
	return &LedgerStore{
		docs:  docs,
		cache: make(map[string]*models.PlayerRecord),
		dirty: make(map[string]bool),
		locks: make(map[string]*sync.Mutex),
	}
}

// SetAsyncPersist installs the fire-and-forget durable write path
// (the persist worker's enqueue). Without it, saves are synchronous.
func (s *LedgerStore) SetAsyncPersist(enqueue func(key string, data []byte, onDone func(error)) bool) {
	s.enqueue = enqueue
}

// Lock acquires the per-wallet mutex. Earn and claim paths hold it
// across read-modify-write so concurrent requests for the same wallet
// cannot race on PendingRewards.
func (s *LedgerStore) Lock(wallet string) {
	s.walletLock(wallet).Lock()
}

func (s *LedgerStore) Unlock(wallet string) {
	s.walletLock(wallet).Unlock()
}

func (s *LedgerStore) walletLock(wallet string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[wallet]
	if !ok {
		l = &sync.Mutex{}
		s.locks[wallet] = l
	}
	return l
}

// Get returns the cached record, falling back to durable storage on a
// cache miss. Returns (nil, nil) when no record exists.
func (s *LedgerStore) Get(ctx context.Context, wallet string) (*models.PlayerRecord, error) {
	s.mu.RLock()
	rec, ok := s.cache[wallet]
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}

	data, err := s.docs.Get(ctx, playerKeyPrefix+wallet+".json")
	if err != nil {
		return nil, fmt.Errorf("failed to load player %s: %w", wallet, err)
	}
	if data == nil {
		return nil, nil
	}

	loaded := models.NewPlayerRecord(wallet)
	if err := json.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("failed to decode player %s: %w", wallet, err)
	}
	if loaded.EarnHistory == nil {
		loaded.EarnHistory = []models.EarnEntry{}
	}

	s.mu.Lock()
	// Another request may have populated the cache meanwhile; keep the
	// cached copy so in-flight mutations are not lost.
	if existing, ok := s.cache[wallet]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.cache[wallet] = loaded
	s.mu.Unlock()
	return loaded, nil
}

// GetOrCreate returns the existing record or creates, caches, and
// persists a zeroed one. The second return reports whether a record
// was created.
func (s *LedgerStore) GetOrCreate(ctx context.Context, wallet string) (*models.PlayerRecord, bool, error) {
	rec, err := s.Get(ctx, wallet)
	if err != nil {
		return nil, false, err
	}
	if rec != nil {
		return rec, false, nil
	}

	rec = models.NewPlayerRecord(wallet)
	s.mu.Lock()
	if existing, ok := s.cache[wallet]; ok {
		s.mu.Unlock()
		return existing, false, nil
	}
	s.cache[wallet] = rec
	s.mu.Unlock()

	if err := s.Save(ctx, rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Save writes through the cache and schedules the durable write. The
// caller must hold the wallet lock; the record is marshaled here so
// later mutations cannot leak into the queued payload. Histories are
// truncated to the newest maxStoredHistory entries in the durable copy.
func (s *LedgerStore) Save(ctx context.Context, rec *models.PlayerRecord) error {
	s.mu.Lock()
	s.cache[rec.Wallet] = rec
	s.dirty[rec.Wallet] = true
	s.mu.Unlock()

	data, err := json.Marshal(truncatedCopy(rec))
	if err != nil {
		return fmt.Errorf("failed to encode player %s: %w", rec.Wallet, err)
	}

	key := playerKeyPrefix + rec.Wallet + ".json"
	wallet := rec.Wallet
	onDone := func(err error) {
		if err != nil {
			log.Printf("❌ Durable write failed for %s: %v", wallet, err)
			return
		}
		s.mu.Lock()
		delete(s.dirty, wallet)
		s.mu.Unlock()
	}

	if s.enqueue != nil && s.enqueue(key, data, onDone) {
		return nil
	}

	// No worker (tests) or queue full: write synchronously.
	err = s.docs.Put(ctx, key, data)
	onDone(err)
	return err
}

func truncatedCopy(rec *models.PlayerRecord) *models.PlayerRecord {
	if len(rec.EarnHistory) <= maxStoredHistory {
		return rec
	}
	c := *rec
	c.EarnHistory = rec.EarnHistory[len(rec.EarnHistory)-maxStoredHistory:]
	return &c
}

// BulkLoad hydrates the cache from durable storage at startup so
// requests do not pay a storage round-trip each. Returns the number of
// records loaded.
func (s *LedgerStore) BulkLoad(ctx context.Context) (int, error) {
	keys, err := s.docs.List(ctx, playerKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list player records: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		wallet := strings.TrimSuffix(strings.TrimPrefix(key, playerKeyPrefix), ".json")
		if wallet == "" {
			continue
		}
		if _, err := s.Get(ctx, wallet); err != nil {
			log.Printf("⚠️  Skipping unreadable player record %s: %v", key, err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// FlushDirty re-persists every record whose last durable write has not
// been confirmed. Safety net for the async write path; runs from the
// maintenance scheduler.
func (s *LedgerStore) FlushDirty(ctx context.Context) int {
	s.mu.RLock()
	wallets := make([]string, 0, len(s.dirty))
	for w := range s.dirty {
		wallets = append(wallets, w)
	}
	s.mu.RUnlock()

	flushed := 0
	for _, w := range wallets {
		s.Lock(w)
		s.mu.RLock()
		rec := s.cache[w]
		s.mu.RUnlock()
		if rec != nil {
			if err := s.Save(ctx, rec); err != nil {
				log.Printf("❌ Flush failed for %s: %v", w, err)
			} else {
				flushed++
			}
		}
		s.Unlock(w)
	}
	return flushed
}

// Walk calls fn for every cached record under the read lock. fn must
// not mutate records or call back into the store.
func (s *LedgerStore) Walk(fn func(rec *models.PlayerRecord)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.cache {
		fn(rec)
	}
}
