package index

import (
	"errors"
	"sync/atomic"
)

// ErrNotReady is returned before the first index has been published.
var ErrNotReady = errors.New("index not ready")

// Snapshot publishes the current index to concurrent readers. Readers keep
// using the index they obtained even after a newer one is swapped in.
type Snapshot struct {
	current atomic.Pointer[Index]
}

// Current returns the published index.
func (s *Snapshot) Current() (*Index, error) {
	ix := s.current.Load()
	if ix == nil {
		return nil, ErrNotReady
	}
	return ix, nil
}

// Swap publishes ix and returns the previous index, if any.
func (s *Snapshot) Swap(ix *Index) *Index {
	return s.current.Swap(ix)
}

// Ready reports whether an index has been published.
func (s *Snapshot) Ready() bool {
	return s.current.Load() != nil
}
