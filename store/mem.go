package store

import (
	"context"
	"fmt"
	"sync"
)

// Mem is an in-memory ObjectStore for tests and local development. It also
// counts calls per method so tests can assert how often the durable tier was
// touched.
type Mem struct {
	mu      sync.Mutex
	objects map[string][]byte

	gets, puts, deletes int
}

var _ ObjectStore = (*Mem)(nil)

func NewMem() *Mem {
	return &Mem{objects: make(map[string][]byte)}
}

func (s *Mem) key(bucket, key string) string { return bucket + "/" + key }

func (s *Mem) PutObject(_ context.Context, bucket, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[s.key(bucket, key)] = cp
	return nil
}

func (s *Mem) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	data, ok := s.objects[s.key(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *Mem) DeleteObject(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.objects, s.key(bucket, key))
	return nil
}

// Gets reports how many GetObject calls were made.
func (s *Mem) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// Has reports whether an object exists without counting as an access.
func (s *Mem) Has(bucket, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[s.key(bucket, key)]
	return ok
}
