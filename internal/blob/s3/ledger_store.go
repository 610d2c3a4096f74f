package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

// LedgerStore keeps the ledger snapshot as one JSON object. Each Save also
// overwrites a per-day copy under history/ so earlier days stay
// recoverable.
type LedgerStore struct {
	w   domain.BlobWriter
	r   domain.BlobReader
	key string
}

// NewLedgerStore stores the snapshot at key.
func NewLedgerStore(w domain.BlobWriter, r domain.BlobReader, key string) *LedgerStore {
	if key == "" {
		key = "ledger/snapshot.json"
	}
	return &LedgerStore{w: w, r: r, key: key}
}

// Save uploads snap.
func (s *LedgerStore) Save(ctx context.Context, snap domain.LedgerSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("s3blob: save ledger: marshal: %w", err)
	}
	if err := s.w.Put(ctx, s.key, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("s3blob: save ledger: %w", err)
	}
	if snap.DailyDate != "" {
		if err := s.w.Put(ctx, s.historyKey(snap.DailyDate), bytes.NewReader(body), "application/json"); err != nil {
			return fmt.Errorf("s3blob: save ledger history: %w", err)
		}
	}
	return nil
}

// Load downloads the latest snapshot. A missing object yields
// domain.ErrNotFound.
func (s *LedgerStore) Load(ctx context.Context) (domain.LedgerSnapshot, error) {
	rc, err := s.r.Get(ctx, s.key)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.LedgerSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("s3blob: load ledger: %w", err)
	}
	defer rc.Close()

	var snap domain.LedgerSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("s3blob: load ledger: decode: %w", err)
	}
	if snap.Positions == nil {
		snap.Positions = make(map[string]domain.Position)
	}
	return snap, nil
}

// History lists the stored per-day copies.
func (s *LedgerStore) History(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := s.r.List(ctx, path.Join(path.Dir(s.key), "history")+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: ledger history: %w", err)
	}
	return infos, nil
}

func (s *LedgerStore) historyKey(day string) string {
	return path.Join(path.Dir(s.key), "history", day+".json")
}
