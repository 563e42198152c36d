// Package storage handles persistence of small JSON documents, either in a
// Cloud Storage bucket or in a local directory for development.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hockey-notifier/pkg/notifier"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

// Store reads and writes whole objects by key.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a new storage handler. When localPath is non-empty the bucket is ignored.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// validKey rejects keys that could escape the storage root.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

func (s *Store) retryOptions(ctx context.Context, op, key string) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2 * time.Minute),
		retry.MaxJitter(10 * time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "key", key, "error", err)
		}),
	}
}

// Write replaces the object at key with data.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	if !validKey(key) {
		return fmt.Errorf("write %q: %w", key, notifier.ErrInvalidInput)
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, filepath.FromSlash(key))
		if err := writeFileAtomic(filePath, data); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Debug("Object saved to local storage", "path", filePath, "bytes", len(data))
		return nil
	}

	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		s.retryOptions(ctx, "write", key)...,
	)
	if err != nil {
		return fmt.Errorf("write after retries: %w", err)
	}

	s.logger.Debug("Object saved", "bucket", s.bucket, "key", key, "bytes", len(data))
	return nil
}

// writeFileAtomic writes through a temp file and rename so a crash never leaves a torn file.
func writeFileAtomic(filePath string, data []byte) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filePath)
}

// Read returns the object at key, or an error wrapping notifier.ErrNotFound.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("read %q: %w", key, notifier.ErrInvalidInput)
	}

	if s.localPath != "" {
		data, err := os.ReadFile(filepath.Join(s.localPath, filepath.FromSlash(key)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read %q: %w", key, notifier.ErrNotFound)
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	var data []byte
	var missing bool
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					missing = true
					return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		s.retryOptions(ctx, "read", key)...,
	)
	if err != nil {
		if missing {
			return nil, fmt.Errorf("read %q: %w", key, notifier.ErrNotFound)
		}
		return nil, fmt.Errorf("read after retries: %w", err)
	}
	return data, nil
}

// Delete removes the object at key. Deleting a missing object returns notifier.ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("delete %q: %w", key, notifier.ErrInvalidInput)
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, filepath.FromSlash(key))
		if err := os.Remove(filePath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("delete %q: %w", key, notifier.ErrNotFound)
			}
			return fmt.Errorf("delete from local storage: %w", err)
		}
		s.logger.Debug("Object deleted from local storage", "path", filePath)
		return nil
	}

	var missing bool
	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					missing = true
					return retry.Unrecoverable(fmt.Errorf("delete from storage: %w", deleteErr))
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		s.retryOptions(ctx, "delete", key)...,
	)
	if err != nil {
		if missing {
			return fmt.Errorf("delete %q: %w", key, notifier.ErrNotFound)
		}
		return fmt.Errorf("delete after retries: %w", err)
	}

	s.logger.Debug("Object deleted", "bucket", s.bucket, "key", key)
	return nil
}

// List returns the keys that start with prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	if s.localPath != "" {
		err := filepath.WalkDir(s.localPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
				return nil
			}
			rel, err := filepath.Rel(s.localPath, p)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("walk local storage: %w", err)
		}
		sort.Strings(keys)
		return keys, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		keys = append(keys, attrs.Name)
	}
	sort.Strings(keys)
	return keys, nil
}

// KeyName strips the directory and extension from a key: "live/m1.json" -> "m1".
func KeyName(key string) string {
	return strings.TrimSuffix(path.Base(key), path.Ext(key))
}
