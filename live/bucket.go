package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"hockey-notifier/pkg/notifier"
	"hockey-notifier/storage"
)

const bucketPrefix = "live/"

// objectStore is the subset of storage.Store used for live documents.
type objectStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// BucketPrimary keeps one JSON object per match under live/ in a
// storage.Store (Cloud Storage or a local directory).
type BucketPrimary struct {
	store  objectStore
	logger *slog.Logger
}

// NewBucketPrimary creates a bucket-backed primary.
func NewBucketPrimary(store objectStore, logger *slog.Logger) *BucketPrimary {
	return &BucketPrimary{store: store, logger: logger}
}

func objectKey(key string) string {
	return bucketPrefix + key + ".json"
}

// Load reads one match.
func (b *BucketPrimary) Load(ctx context.Context, key string) (*notifier.LiveMatch, error) {
	data, err := b.store.Read(ctx, objectKey(key))
	if err != nil {
		return nil, err
	}
	var m notifier.LiveMatch
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal match %s: %w", key, err)
	}
	return &m, nil
}

// Save writes one match.
func (b *BucketPrimary) Save(ctx context.Context, m *notifier.LiveMatch) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal match %s: %w", m.Key, err)
	}
	return b.store.Write(ctx, objectKey(m.Key), data)
}

// Remove deletes one match.
func (b *BucketPrimary) Remove(ctx context.Context, key string) error {
	return b.store.Delete(ctx, objectKey(key))
}

// List reads every match. Unreadable objects are skipped.
func (b *BucketPrimary) List(ctx context.Context) ([]*notifier.LiveMatch, error) {
	keys, err := b.store.List(ctx, bucketPrefix)
	if err != nil {
		return nil, err
	}

	matches := make([]*notifier.LiveMatch, 0, len(keys))
	for _, k := range keys {
		m, err := b.Load(ctx, storage.KeyName(k))
		if err != nil {
			if errors.Is(err, notifier.ErrNotFound) {
				continue
			}
			b.logger.Warn("Failed to load live match", "key", k, "error", err)
			continue
		}
		matches = append(matches, m)
	}
	return matches, nil
}
