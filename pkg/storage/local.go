package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const metaSuffix = ".meta.json"

// ObjectMeta is the serving metadata recorded alongside a locally stored artifact.
type ObjectMeta struct {
	ContentType  string            `json:"contentType,omitempty"`
	CacheControl string            `json:"cacheControl,omitempty"`
	ExpiresAt    *time.Time        `json:"expiresAt,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Size         int64             `json:"size"`
	Invalidated  *time.Time        `json:"invalidatedAt,omitempty"`
}

// LocalArtifactStore keeps artifacts on disk and addresses them below a public base URL.
type LocalArtifactStore struct {
	files   *LocalStorage
	baseURL string
}

// NewLocalArtifactStore builds a store rooted at dir.
func NewLocalArtifactStore(dir, baseURL string) (*LocalArtifactStore, error) {
	files, err := NewLocalStorage(dir)
	if err != nil {
		return nil, err
	}
	return &LocalArtifactStore{files: files, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put streams r to disk under name.
func (s *LocalArtifactStore) Put(ctx context.Context, r io.Reader, name string, opts PutOptions) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, err
	}
	if strings.HasSuffix(name, metaSuffix) {
		return PutResult{}, fmt.Errorf("reserved artifact name %q", name)
	}
	counter := &countingReader{r: r}
	if _, err := s.files.SaveStream(name, counter); err != nil {
		return PutResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	meta := ObjectMeta{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		ExpiresAt:    opts.ExpiresAt,
		Metadata:     opts.Metadata,
		Size:         counter.n,
	}
	if err := s.files.SaveJSON(name+metaSuffix, meta); err != nil {
		_ = s.files.Delete(name)
		return PutResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return PutResult{URL: s.baseURL + "/" + name, Key: name, Size: counter.n}, nil
}

// Delete removes the artifact addressed by url.
func (s *LocalArtifactStore) Delete(ctx context.Context, url string) error {
	key, err := keyFromURL(s.baseURL, url)
	if err != nil {
		return err
	}
	if err := s.files.Delete(key); err != nil {
		return err
	}
	return s.files.Delete(key + metaSuffix)
}

// Invalidate stamps the artifact metadata; there is no edge cache in front of local storage.
func (s *LocalArtifactStore) Invalidate(ctx context.Context, url string, _ ...string) error {
	key, err := keyFromURL(s.baseURL, url)
	if err != nil {
		return err
	}
	var meta ObjectMeta
	if err := s.files.LoadJSON(key+metaSuffix, &meta); err != nil {
		return err
	}
	now := time.Now().UTC()
	meta.Invalidated = &now
	return s.files.SaveJSON(key+metaSuffix, meta)
}

// Open returns the artifact stored under key together with its serving metadata.
func (s *LocalArtifactStore) Open(key string) (*os.File, ObjectMeta, error) {
	var meta ObjectMeta
	if strings.HasSuffix(key, metaSuffix) {
		return nil, meta, os.ErrNotExist
	}
	file, err := s.files.Open(key)
	if err != nil {
		return nil, meta, err
	}
	if err := s.files.LoadJSON(key+metaSuffix, &meta); err != nil && !errors.Is(err, os.ErrNotExist) {
		file.Close() //nolint:errcheck
		return nil, meta, err
	}
	return file, meta, nil
}
