package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ivfbuild/blobstore"
	"github.com/hupe1980/ivfbuild/model"
)

func TestBlobLedger(t *testing.T) {
	stores := map[string]blobstore.BlobStore{
		"memory": blobstore.NewMemoryStore(),
		"local":  blobstore.NewLocalStore(t.TempDir()),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			l := NewBlobLedger(store)

			committed, err := l.Committed(ctx, "docs")
			require.NoError(t, err)
			assert.Empty(t, committed)

			require.NoError(t, l.Commit(ctx, "docs", rng(4, 8)))
			require.NoError(t, l.Commit(ctx, "docs", rng(0, 4)))
			require.NoError(t, l.Commit(ctx, "other", rng(0, 8)))

			err = l.Commit(ctx, "docs", rng(6, 10))
			assert.ErrorIs(t, err, ErrOverlap)

			committed, err = l.Committed(ctx, "docs")
			require.NoError(t, err)
			assert.Equal(t, []model.PartitionRange{rng(0, 4), rng(4, 8)}, committed)

			versions, err := l.Versions(ctx, "docs")
			require.NoError(t, err)
			assert.Equal(t, []uint64{1, 2}, versions)

			m, err := l.Load(ctx, "docs")
			require.NoError(t, err)
			assert.Equal(t, uint64(2), m.ID)
			assert.Equal(t, "docs", m.Index)
			assert.False(t, m.CreatedAt.IsZero())

			// A fresh ledger over the same store sees the same state.
			committed, err = NewBlobLedger(store).Committed(ctx, "docs")
			require.NoError(t, err)
			assert.Len(t, committed, 2)
		})
	}
}

func TestBlobLedgerEmptyRange(t *testing.T) {
	l := NewBlobLedger(blobstore.NewMemoryStore())
	err := l.Commit(t.Context(), "docs", rng(3, 3))
	assert.ErrorIs(t, err, model.ErrInvalidRange)
}

func TestBlobLedgerCorruptManifest(t *testing.T) {
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(t.Context(), manifestName("docs", 1), []byte("{not json")))

	_, err := NewBlobLedger(store).Committed(t.Context(), "docs")
	assert.Error(t, err)
}

// racingStore publishes a competing manifest right before the ledger's
// conditional put, once per call budget.
type racingStore struct {
	*blobstore.MemoryStore
	mu    sync.Mutex
	races int
	other *BlobLedger
	r     model.PartitionRange
}

func (s *racingStore) PutIfNotExists(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	race := s.races > 0
	if race {
		s.races--
	}
	s.mu.Unlock()
	if race {
		m, err := s.other.load(ctx, "docs")
		if err != nil {
			return err
		}
		next := &Manifest{Version: ManifestVersion, ID: m.ID + 1, Index: "docs", Ranges: append(m.Ranges, s.r)}
		if err := s.MemoryStore.PutIfNotExists(ctx, manifestName("docs", next.ID), mustJSON(next)); err != nil {
			return err
		}
	}
	return s.MemoryStore.PutIfNotExists(ctx, name, data)
}

func mustJSON(m *Manifest) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return data
}

func TestBlobLedgerLostRace(t *testing.T) {
	ctx := t.Context()

	t.Run("retries against newer manifest", func(t *testing.T) {
		mem := blobstore.NewMemoryStore()
		store := &racingStore{MemoryStore: mem, races: 1, other: NewBlobLedger(mem), r: rng(0, 2)}
		l := NewBlobLedger(store)

		require.NoError(t, l.Commit(ctx, "docs", rng(2, 4)))
		committed, err := l.Committed(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, []model.PartitionRange{rng(0, 2), rng(2, 4)}, committed)
	})

	t.Run("rechecks overlap", func(t *testing.T) {
		mem := blobstore.NewMemoryStore()
		store := &racingStore{MemoryStore: mem, races: 1, other: NewBlobLedger(mem), r: rng(0, 4)}
		l := NewBlobLedger(store)

		err := l.Commit(ctx, "docs", rng(2, 6))
		assert.ErrorIs(t, err, ErrOverlap)
	})

	t.Run("gives up", func(t *testing.T) {
		mem := blobstore.NewMemoryStore()
		store := &racingStore{MemoryStore: mem, races: 100, other: NewBlobLedger(mem), r: rng(0, 1)}
		l := NewBlobLedger(store, WithManifestRetries(2))

		err := l.Commit(ctx, "docs", rng(10, 12))
		assert.ErrorIs(t, err, ErrConcurrentModification)
	})
}
