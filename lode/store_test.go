package lode

import (
	"context"
	"io"

	"github.com/justapithecus/lode/lode"
)

// refusingStore is an in-memory store whose writes fail with putErr.
type refusingStore struct {
	lode.Store
	putErr error
	puts   []string
}

func newRefusingStore(putErr error) *refusingStore {
	return &refusingStore{Store: lode.NewMemory(), putErr: putErr}
}

func (s *refusingStore) Put(_ context.Context, path string, _ io.Reader) error {
	s.puts = append(s.puts, path)
	return s.putErr
}

// sharedFactory hands out the same store so writers and readers see one
// in-memory state.
func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}
