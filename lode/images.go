package lode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/gatehouse/types"
)

// maxNameCollisions bounds the suffixes tried for same-second images.
const maxNameCollisions = 100

// ImageStore writes event images under images/day=<YYYY-MM-DD>/.
// Safe for concurrent use.
type ImageStore struct {
	factory lode.StoreFactory

	storeOnce sync.Once
	store     lode.Store
	storeErr  error

	mu sync.Mutex // serializes name reservation
}

// NewImageStore creates an image store. The store is opened lazily.
func NewImageStore(factory lode.StoreFactory) *ImageStore {
	return &ImageStore{factory: factory}
}

func (s *ImageStore) getOrCreateStore() (lode.Store, error) {
	s.storeOnce.Do(func() {
		s.store, s.storeErr = s.factory()
	})
	return s.store, s.storeErr
}

// ImageDir returns the day directory for an artifact.
func ImageDir(a *types.BinaryArtifact) string {
	return path.Join("images", "day="+a.CapturedAt.Format("2006-01-02"))
}

// Save writes the artifact and returns its store path. Images captured in
// the same second get a numeric suffix instead of overwriting each other.
func (s *ImageStore) Save(ctx context.Context, a *types.BinaryArtifact) (string, error) {
	if a == nil || len(a.Bytes) == 0 {
		return "", errors.New("empty artifact")
	}
	store, err := s.getOrCreateStore()
	if err != nil {
		return "", WrapInitError(err, "images")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.reserve(ctx, store, ImageDir(a), a.Filename())
	if err != nil {
		return "", err
	}
	if err := store.Put(ctx, p, bytes.NewReader(a.Bytes)); err != nil {
		return "", WrapWriteError(err, p)
	}
	return p, nil
}

func (s *ImageStore) reserve(ctx context.Context, store lode.Store, dir, name string) (string, error) {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameCollisions; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i+1, ext)
		}
		p := path.Join(dir, candidate)
		exists, err := store.Exists(ctx, p)
		if err != nil {
			return "", WrapReadError(err, p)
		}
		if !exists {
			return p, nil
		}
	}
	return "", fmt.Errorf("too many images named %s in %s", name, dir)
}
