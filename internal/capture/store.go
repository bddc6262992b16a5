package capture

import (
	"sync"
	"time"
)

// FrameStore holds the most recently published resized frame.
// It is a single slot: readers always get the latest frame and a slow reader
// simply misses intermediate ones. The mutex is held for the whole write and
// the whole copy, so a reader never observes a partially written frame.
type FrameStore struct {
	mu          sync.Mutex
	pix         []byte
	size        Size
	filled      bool
	seq         uint64
	publishedAt time.Time
}

// NewFrameStore creates an empty store.
func NewFrameStore() *FrameStore {
	return &FrameStore{}
}

// Publish runs fill against the store buffer under the lock. The buffer is
// (re)allocated and marked empty when size changes. If fill returns an error
// the slot is left empty so the partial write is never observable.
func (s *FrameStore) Publish(size Size, fill func(dst []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size != size || len(s.pix) != size.Bytes() {
		s.pix = make([]byte, size.Bytes())
		s.size = size
		s.filled = false
	}
	if err := fill(s.pix); err != nil {
		s.filled = false
		return err
	}
	s.filled = true
	s.seq++
	s.publishedAt = time.Now()
	return nil
}

// Snapshot returns a copy of the latest frame, or nil if nothing was published.
func (s *FrameStore) Snapshot() []byte {
	frame, _ := s.SnapshotSince(0)
	return frame
}

// SnapshotSince returns a copy of the latest frame and its sequence number if
// the store has advanced past seq. Otherwise it returns nil and the current
// sequence number.
func (s *FrameStore) SnapshotSince(seq uint64) ([]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.filled || s.seq <= seq {
		return nil, s.seq
	}
	out := make([]byte, len(s.pix))
	copy(out, s.pix)
	return out, s.seq
}

// Seq returns the sequence number of the latest published frame.
func (s *FrameStore) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Has reports whether a complete frame of the given size is stored.
func (s *FrameStore) Has(size Size) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filled && s.size == size
}

// Info returns the stored frame size and the time it was last published.
func (s *FrameStore) Info() (Size, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size, s.publishedAt
}
