// Package storage provides the object stores that hold uploaded datasets,
// model checkpoints, result snapshots and rendered PDFs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// ObjectStore is a flat key/value blob store. Keys use forward slashes.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get returns errdefs.ErrNotFound (wrapped) when the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns the keys starting with prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// PutBytes stores data under key.
func PutBytes(ctx context.Context, s ObjectStore, key string, data []byte, contentType string) error {
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// ReadAll fetches the whole object stored under key.
func ReadAll(ctx context.Context, s ObjectStore, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// Key joins path elements into a clean object key.
func Key(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty object key")
	}
	clean := path.Clean("/" + key)
	if clean != "/"+key || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}
