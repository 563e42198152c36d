package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"hockey-notifier/pkg/notifier"
)

// PersistTimeout bounds each rewrite of a persisted set.
const PersistTimeout = 10 * time.Second

// objectStore is the subset of Store used by the persisted sets.
type objectStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
}

// loadSet reads a JSON array of strings. A missing object is an empty set.
func loadSet(ctx context.Context, store objectStore, key string) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	data, err := store.Read(ctx, key)
	if err != nil {
		if errors.Is(err, notifier.ErrNotFound) {
			return set, nil
		}
		return nil, err
	}

	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set, nil
}

// saveSet rewrites the whole set as a sorted JSON array within timeout.
func saveSet(ctx context.Context, store objectStore, key string, set map[string]struct{}, timeout time.Duration) error {
	data, err := json.MarshalIndent(sortedKeys(set), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return store.Write(ctx, key, data)
}

func sortedKeys(set map[string]struct{}) []string {
	items := make([]string, 0, len(set))
	for item := range set {
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}
