package services

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// memDocStore is an in-memory stand-in for the R2 document store.
type memDocStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	getErr  error
}

func newMemDocStore() *memDocStore {
	return &memDocStore{objects: make(map[string][]byte)}
}

func (m *memDocStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	m.objects[key] = copied
	m.puts++
	return nil
}

func (m *memDocStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (m *memDocStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// fakeChain is a scriptable BalanceSource.
type fakeChain struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func newFakeChain() *fakeChain {
	return &fakeChain{balances: make(map[string]decimal.Decimal)}
}

func (f *fakeChain) setBalance(wallet string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[wallet] = decimal.NewFromInt(amount)
}

func (f *fakeChain) IsValidAddress(addr string) bool {
	return addr != ""
}

func (f *fakeChain) TokenBalance(_ context.Context, wallet string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[wallet], nil
}

// fakeGateway is a scriptable TransferGateway.
type fakeGateway struct {
	mu           sync.Mutex
	vault        decimal.Decimal
	statuses     []string // consumed per ConfirmationStatus call
	findResult   bool
	builtDest    []string
	builtAmounts []decimal.Decimal
}

func newFakeGateway(vault int64) *fakeGateway {
	return &fakeGateway{vault: decimal.NewFromInt(vault)}
}

func (f *fakeGateway) VaultBalance(_ context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vault, nil
}

func (f *fakeGateway) BuildTransfer(_ context.Context, dest string, amount decimal.Decimal) (*TransferDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builtDest = append(f.builtDest, dest)
	f.builtAmounts = append(f.builtAmounts, amount)
	return &TransferDescriptor{Transaction: "dGVzdC10eA=="}, nil
}

func (f *fakeGateway) ConfirmationStatus(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return "unknown", nil
	}
	status := f.statuses[0]
	f.statuses = f.statuses[1:]
	return status, nil
}

func (f *fakeGateway) FindTransaction(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findResult, nil
}

func newTestRewards(docs *memDocStore) (*RewardService, *LedgerStore, *fakeChain) {
	store := NewLedgerStore(docs)
	chain := newFakeChain()
	rewards := NewRewardService(store, nil, chain, 1000, 100, 25000)
	return rewards, store, chain
}
