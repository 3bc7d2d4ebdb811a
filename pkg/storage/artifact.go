package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrUnavailable marks failures of the backing store that callers may retry later.
var ErrUnavailable = errors.New("artifact store unavailable")

// ErrUnknownURL is returned when a URL does not belong to the store.
var ErrUnknownURL = errors.New("url does not belong to this artifact store")

// PutOptions tunes how an artifact is stored and served.
type PutOptions struct {
	ContentType  string
	CacheControl string
	ExpiresAt    *time.Time
	Metadata     map[string]string
	// Size is the declared payload length; stores that need it up front rely on it.
	Size int64
}

// PutResult describes a stored artifact.
type PutResult struct {
	URL  string
	Key  string
	Size int64
}

// ArtifactStore is URL-addressable blob storage with cache invalidation.
type ArtifactStore interface {
	Put(ctx context.Context, r io.Reader, name string, opts PutOptions) (PutResult, error)
	Delete(ctx context.Context, url string) error
	Invalidate(ctx context.Context, url string, paths ...string) error
}

func keyFromURL(baseURL, url string) (string, error) {
	prefix := strings.TrimRight(baseURL, "/") + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", ErrUnknownURL
	}
	key := strings.TrimPrefix(url, prefix)
	if key == "" || strings.Contains(key, "..") {
		return "", ErrUnknownURL
	}
	return key, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
