package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hockey-notifier/pkg/notifier"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection is the Firestore collection holding live matches.
const DefaultCollection = "live_matches"

// firestoreDoc mirrors the live_matches row: the match as JSON plus its
// update time for console queries.
type firestoreDoc struct {
	UpdatedAt time.Time `firestore:"updated_at"`
	Doc       string    `firestore:"doc"`
}

// FirestorePrimary stores each match as one document keyed by match id.
type FirestorePrimary struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

// NewFirestorePrimary creates a Firestore-backed primary.
func NewFirestorePrimary(client *firestore.Client, collection string, logger *slog.Logger) *FirestorePrimary {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestorePrimary{client: client, collection: collection, logger: logger}
}

func (f *FirestorePrimary) doc(key string) *firestore.DocumentRef {
	return f.client.Collection(f.collection).Doc(key)
}

// Load reads one match.
func (f *FirestorePrimary) Load(ctx context.Context, key string) (*notifier.LiveMatch, error) {
	snap, err := f.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("match %s: %w", key, notifier.ErrNotFound)
		}
		return nil, fmt.Errorf("get match %s: %w", key, err)
	}
	return decodeSnapshot(snap)
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (*notifier.LiveMatch, error) {
	var d firestoreDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode match %s: %w", snap.Ref.ID, err)
	}
	var m notifier.LiveMatch
	if err := json.Unmarshal([]byte(d.Doc), &m); err != nil {
		return nil, fmt.Errorf("unmarshal match %s: %w", snap.Ref.ID, err)
	}
	return &m, nil
}

// Save writes the whole document.
func (f *FirestorePrimary) Save(ctx context.Context, m *notifier.LiveMatch) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal match %s: %w", m.Key, err)
	}
	if _, err := f.doc(m.Key).Set(ctx, firestoreDoc{UpdatedAt: m.LastUpdated, Doc: string(data)}); err != nil {
		return fmt.Errorf("set match %s: %w", m.Key, err)
	}
	return nil
}

// Remove deletes one match. The document must exist.
func (f *FirestorePrimary) Remove(ctx context.Context, key string) error {
	_, err := f.doc(key).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("match %s: %w", key, notifier.ErrNotFound)
		}
		return fmt.Errorf("delete match %s: %w", key, err)
	}
	return nil
}

// List returns every match ordered by key.
func (f *FirestorePrimary) List(ctx context.Context) ([]*notifier.LiveMatch, error) {
	iter := f.client.Collection(f.collection).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*notifier.LiveMatch
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list matches: %w", err)
		}
		m, err := decodeSnapshot(snap)
		if err != nil {
			f.logger.Warn("Skipping undecodable live match", "match_id", snap.Ref.ID, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
