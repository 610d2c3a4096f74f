package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemBlob() *memBlob { return &memBlob{objects: make(map[string][]byte)} }

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[path] = b
	m.mu.Unlock()
	return nil
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func TestLedgerStoreRoundTrip(t *testing.T) {
	blob := newMemBlob()
	store := NewLedgerStore(blob, blob, "")
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := domain.LedgerSnapshot{
		Positions: map[string]domain.Position{
			"a": {ID: "a", MarketID: "m", TokenID: "t", EntryPrice: 0.97, Size: 10,
				OpenedAt: opened, Status: domain.PositionStatusOpen},
		},
		Stats:     domain.TradingStats{TotalTrades: 1},
		DailyDate: "2026-03-01",
		SavedAt:   opened,
	}
	require.NoError(t, store.Save(ctx, snap))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	assert.Contains(t, blob.objects, "ledger/history/2026-03-01.json")

	snap.DailyDate = "2026-03-02"
	require.NoError(t, store.Save(ctx, snap))
	hist, err := store.History(ctx)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "ledger/history/2026-03-02.json", hist[1].Path)
}

func TestLedgerStoreSaveError(t *testing.T) {
	blob := newMemBlob()
	blob.putErr = errors.New("access denied")
	store := NewLedgerStore(blob, blob, "state/ledger.json")

	err := store.Save(context.Background(), domain.LedgerSnapshot{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}
