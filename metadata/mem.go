package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/voxserve/overlay"
	"github.com/unkn0wn-root/voxserve/store"
)

// Mem is an in-memory Store for tests and local development. A single mutex
// serializes all access, which also makes InsertContour's version assignment
// trivially atomic.
type Mem struct {
	mu       sync.Mutex
	volumes  map[uuid.UUID]VolumeRecord
	photos   map[uuid.UUID]PhotoRecord
	contours []ContourRecord
	nextID   int64

	volumeGets int
}

var _ Store = (*Mem)(nil)

func NewMem() *Mem {
	return &Mem{
		volumes: make(map[uuid.UUID]VolumeRecord),
		photos:  make(map[uuid.UUID]PhotoRecord),
	}
}

func (s *Mem) CreateVolume(_ context.Context, v NewVolume) (VolumeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.Owner == uuid.Nil {
		v.IsPublic = true
	}
	rec := VolumeRecord{
		ID:         uuid.New(),
		Filename:   v.Filename,
		SizeBytes:  v.SizeBytes,
		SliceCount: v.SliceCount,
		Owner:      v.Owner,
		IsPublic:   v.IsPublic,
		CreatedAt:  time.Now().UTC(),
	}
	s.volumes[rec.ID] = rec
	return rec, nil
}

func (s *Mem) GetVolume(_ context.Context, id uuid.UUID) (VolumeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumeGets++
	rec, ok := s.volumes[id]
	if !ok {
		return VolumeRecord{}, fmt.Errorf("volume %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

// VolumeGets reports how many GetVolume calls were made, for tests asserting
// that the snapshot cache spares the relational tier.
func (s *Mem) VolumeGets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volumeGets
}

func (s *Mem) CreatePhoto(_ context.Context, author, volumeID uuid.UUID, slice int) (PhotoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.photos {
		if p.Author == author && p.VolumeID == volumeID && p.Slice == slice {
			return PhotoRecord{}, fmt.Errorf("photo for (%s, %s, %d): %w", author, volumeID, slice, ErrConflict)
		}
	}
	rec := PhotoRecord{
		ID:        uuid.New(),
		Author:    author,
		VolumeID:  volumeID,
		Slice:     slice,
		CreatedAt: time.Now().UTC(),
	}
	rec.ObjectKey = store.PhotoKey(author, rec.ID)
	rec.Name = rec.ObjectKey
	s.photos[rec.ID] = rec
	return rec, nil
}

func (s *Mem) GetPhoto(_ context.Context, id uuid.UUID) (PhotoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.photos[id]
	if !ok {
		return PhotoRecord{}, fmt.Errorf("photo %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

func (s *Mem) ListPhotosByAuthor(_ context.Context, author uuid.UUID) ([]PhotoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PhotoRecord
	for _, p := range s.photos {
		if p.Author == author {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Mem) DeletePhoto(_ context.Context, id, author uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.photos[id]
	if !ok || rec.Author != author {
		return fmt.Errorf("photo %s: %w", id, ErrNotFound)
	}
	delete(s.photos, id)
	return nil
}

func (s *Mem) InsertContour(_ context.Context, author, volumeID uuid.UUID, slice int, points overlay.ContourSet) (ContourRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := 0
	for _, c := range s.contours {
		if c.Author == author && c.VolumeID == volumeID && c.Slice == slice && c.Version > version {
			version = c.Version
		}
	}
	s.nextID++
	rec := ContourRecord{
		ID:        s.nextID,
		Author:    author,
		VolumeID:  volumeID,
		Slice:     slice,
		Points:    points,
		Version:   version + 1,
		CreatedAt: time.Now().UTC(),
	}
	rec.ObjectKey = store.ContourRenderKey(author, rec.ID, rec.Version)
	s.contours = append(s.contours, rec)
	return rec, nil
}

func (s *Mem) LatestContour(_ context.Context, author, volumeID uuid.UUID, slice int) (ContourRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best  ContourRecord
		found bool
	)
	for _, c := range s.contours {
		if c.Author == author && c.VolumeID == volumeID && c.Slice == slice && (!found || c.Version > best.Version) {
			best, found = c, true
		}
	}
	if !found {
		return ContourRecord{}, fmt.Errorf("contour (%s, %s, %d): %w", author, volumeID, slice, ErrNotFound)
	}
	return best, nil
}
