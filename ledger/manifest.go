package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/ivfbuild/blobstore"
	"github.com/hupe1980/ivfbuild/model"
)

const (
	// ManifestFileName prefixes every manifest version of an index.
	ManifestFileName = "MANIFEST"
	// ManifestVersion is the version of the manifest encoding.
	ManifestVersion = 1

	defaultManifestRetries = 5
)

// Manifest is one version of the committed state of an index.
type Manifest struct {
	Version   int                    `json:"version"`
	ID        uint64                 `json:"id"`
	Index     string                 `json:"index"`
	CreatedAt time.Time              `json:"created_at"`
	Ranges    []model.PartitionRange `json:"ranges"`
}

// BlobLedger keeps the committed ranges of each index as a sequence of
// immutable manifest blobs, <index>/MANIFEST-000001.json and so on. Every
// commit writes the next version holding all ranges so far.
//
// On stores implementing blobstore.ConditionalPutter a version is published
// with PutIfNotExists, so writers in different processes cannot overwrite one
// another and a lost race is retried against the newer manifest. Other stores
// are safe for a single process only.
type BlobLedger struct {
	store      blobstore.BlobStore
	maxRetries int
	mu         sync.Mutex
}

// BlobLedgerOption configures a BlobLedger.
type BlobLedgerOption func(*BlobLedger)

// WithManifestRetries sets how often a commit is retried after a lost race.
func WithManifestRetries(n int) BlobLedgerOption {
	return func(l *BlobLedger) {
		l.maxRetries = n
	}
}

// NewBlobLedger creates a ledger over store.
func NewBlobLedger(store blobstore.BlobStore, opts ...BlobLedgerOption) *BlobLedger {
	l := &BlobLedger{store: store, maxRetries: defaultManifestRetries}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Commit implements Ledger.
func (l *BlobLedger) Commit(ctx context.Context, index string, r model.PartitionRange) error {
	if r.Len() == 0 {
		return fmt.Errorf("%w: %s is empty", model.ErrInvalidRange, r)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		m, err := l.load(ctx, index)
		if err != nil {
			return err
		}
		if err := CheckOverlap(m.Ranges, r); err != nil {
			return err
		}

		next := &Manifest{
			Version:   ManifestVersion,
			ID:        m.ID + 1,
			Index:     index,
			CreatedAt: time.Now().UTC(),
			Ranges:    append(m.Ranges, r),
		}
		SortRanges(next.Ranges)

		err = l.save(ctx, next)
		if err == nil {
			return nil
		}
		if !errors.Is(err, blobstore.ErrExists) {
			return err
		}
	}
	return fmt.Errorf("%w: commit %s to %s after %d retries", ErrConcurrentModification, r, index, l.maxRetries)
}

// Committed implements Ledger.
func (l *BlobLedger) Committed(ctx context.Context, index string) ([]model.PartitionRange, error) {
	m, err := l.Load(ctx, index)
	if err != nil {
		return nil, err
	}
	return m.Ranges, nil
}

// Load returns the latest manifest of index. An index without manifests has
// an empty manifest with ID 0.
func (l *BlobLedger) Load(ctx context.Context, index string) (*Manifest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx, index)
}

// Versions returns the ids of all manifest versions of index in ascending
// order.
func (l *BlobLedger) Versions(ctx context.Context, index string) ([]uint64, error) {
	names, err := l.store.List(ctx, path.Join(index, ManifestFileName))
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(names))
	for _, name := range names {
		if id, ok := parseManifestName(index, name); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (l *BlobLedger) load(ctx context.Context, index string) (*Manifest, error) {
	ids, err := l.Versions(ctx, index)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &Manifest{Version: ManifestVersion, Index: index}, nil
	}
	latest := ids[len(ids)-1]

	b, err := l.store.Open(ctx, manifestName(index, latest))
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %d of %s: %w", latest, index, err)
	}
	defer b.Close()

	data, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode manifest %d of %s: %w", latest, index, err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("manifest %d of %s has unsupported version %d", latest, index, m.Version)
	}
	return m, nil
}

func (l *BlobLedger) save(ctx context.Context, m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	name := manifestName(m.Index, m.ID)
	if cp, ok := l.store.(blobstore.ConditionalPutter); ok {
		return cp.PutIfNotExists(ctx, name, data)
	}
	return l.store.Put(ctx, name, data)
}

func manifestName(index string, id uint64) string {
	return path.Join(index, fmt.Sprintf("%s-%06d.json", ManifestFileName, id))
}

func parseManifestName(index, name string) (uint64, bool) {
	base, ok := strings.CutPrefix(name, path.Join(index, ManifestFileName)+"-")
	if !ok {
		return 0, false
	}
	digits, ok := strings.CutSuffix(base, ".json")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
