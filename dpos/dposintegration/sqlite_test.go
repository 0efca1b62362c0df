package dposintegration_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gordian-engine/gdpos/dpos/dposintegration"
	"github.com/gordian-engine/gdpos/dpos/dpossqlite"
	"github.com/gordian-engine/gdpos/dpos/dposstore"
)

// SQLiteFactory gives each node one on-disk database
// serving as both its round and finalization store.
type SQLiteFactory struct {
	e *dposintegration.Env

	dposintegration.InmemSchemeFactory

	mu     *sync.Mutex
	stores map[int]*dpossqlite.Store
}

func (f SQLiteFactory) store(ctx context.Context, idx int) (*dpossqlite.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.stores[idx]; ok {
		return s, nil
	}

	hs, err := f.HashScheme(ctx, idx)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(f.e.TempDir(), fmt.Sprintf("node%d.sqlite", idx))
	s, err := dpossqlite.NewOnDiskStore(ctx, path, hs, f.e.Registry)
	if err != nil {
		return nil, err
	}
	f.e.Cleanup(func() {
		if err := s.Close(); err != nil {
			f.e.RootLogger.Warn("Failed to close store", "idx", idx, "err", err)
		}
	})

	f.stores[idx] = s
	return s, nil
}

func (f SQLiteFactory) NewRoundStore(ctx context.Context, idx int) (dposstore.RoundStore, error) {
	return f.store(ctx, idx)
}

func (f SQLiteFactory) NewFinalizationStore(ctx context.Context, idx int) (dposstore.FinalizationStore, error) {
	return f.store(ctx, idx)
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	dposintegration.RunIntegrationTest(t, func(e *dposintegration.Env) dposintegration.Factory {
		return SQLiteFactory{
			e: e,

			mu:     new(sync.Mutex),
			stores: make(map[int]*dpossqlite.Store),
		}
	})
}
