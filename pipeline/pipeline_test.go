package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pr "github.com/unkn0wn-root/voxserve/cache/provider"
	"github.com/unkn0wn-root/voxserve/materialize"
	"github.com/unkn0wn-root/voxserve/metadata"
	"github.com/unkn0wn-root/voxserve/overlay"
	"github.com/unkn0wn-root/voxserve/store"
)

// memProvider is a map-backed provider for tests. TTLs are stored but only
// enforced on read.
type memProvider struct {
	mu   sync.Mutex
	data map[string]memEntry
}

type memEntry struct {
	value   []byte
	expires time.Time
}

func newMemProvider() *memProvider {
	return &memProvider{data: make(map[string]memEntry)}
}

func (m *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || (!e.expires.IsZero() && time.Now().After(e.expires)) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.data[key] = memEntry{value: value, expires: exp}
	return true, nil
}

func (m *memProvider) SetMany(ctx context.Context, entries []pr.Entry, ttl time.Duration) error {
	for _, e := range entries {
		if _, err := m.Set(ctx, e.Key, e.Value, e.Cost, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (m *memProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memProvider) Close(context.Context) error { return nil }

func (m *memProvider) flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]memEntry)
}

func (m *memProvider) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// downProvider simulates a volatile tier that is hard down.
type downProvider struct{}

func (downProvider) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, pr.ErrUnavailable
}
func (downProvider) Set(context.Context, string, []byte, int64, time.Duration) (bool, error) {
	return false, pr.ErrUnavailable
}
func (downProvider) SetMany(context.Context, []pr.Entry, time.Duration) error {
	return pr.ErrUnavailable
}
func (downProvider) Del(context.Context, string) error { return pr.ErrUnavailable }
func (downProvider) Close(context.Context) error       { return nil }

// syncSched runs every task inline so tests observe background effects
// deterministically.
type syncSched struct{}

func (syncSched) Submit(t materialize.Task) bool {
	_ = t.Run(context.Background())
	return true
}

// dropSched rejects every task, modeling a saturated queue.
type dropSched struct{}

func (dropSched) Submit(materialize.Task) bool { return false }

// niiFile builds a minimal little-endian single-file NIfTI-1 upload with
// uint8 voxels.
func niiFile(t *testing.T, nx, ny, nz int, voxels []byte) []byte {
	t.Helper()
	require.Len(t, voxels, nx*ny*nz)
	raw := make([]byte, 352+len(voxels))
	le := binary.LittleEndian
	le.PutUint32(raw[0:4], 348)
	le.PutUint16(raw[40:42], 3)
	le.PutUint16(raw[42:44], uint16(nx))
	le.PutUint16(raw[44:46], uint16(ny))
	le.PutUint16(raw[46:48], uint16(nz))
	le.PutUint16(raw[70:72], 2) // uint8 voxels
	le.PutUint32(raw[108:112], math.Float32bits(352))
	copy(raw[344:347], "n+1")
	copy(raw[352:], voxels)
	return raw
}

// scanFixture is an 8x8x3 upload with a bright square in the middle of every
// slice, so thresholding always finds at least one contour.
func scanFixture(t *testing.T) []byte {
	t.Helper()
	const nx, ny, nz = 8, 8, 3
	voxels := make([]byte, nx*ny*nz)
	for z := 0; z < nz; z++ {
		for y := 2; y < 6; y++ {
			for x := 2; x < 6; x++ {
				voxels[x+nx*(y+ny*z)] = 200
			}
		}
	}
	return niiFile(t, nx, ny, nz, voxels)
}

type env struct {
	p     *Pipeline
	prov  *memProvider
	db    *metadata.Mem
	objs  *store.Mem
	sched materialize.Scheduler
}

func newEnv(t *testing.T, sched materialize.Scheduler) *env {
	t.Helper()
	e := &env{
		prov:  newMemProvider(),
		db:    metadata.NewMem(),
		objs:  store.NewMem(),
		sched: sched,
	}
	p, err := New(Options{
		Provider:  e.prov,
		Metadata:  e.db,
		Objects:   e.objs,
		Segmenter: overlay.Threshold{},
		Scheduler: e.sched,
		Buckets:   Buckets{Private: "scans", Public: "renders"},
	})
	require.NoError(t, err)
	e.p = p
	return e
}

func user() Identity { return Identity{UserID: uuid.New()} }

func TestUploadRejectsBadInput(t *testing.T) {
	e := newEnv(t, syncSched{})
	ctx := context.Background()

	_, err := e.p.Upload(ctx, user(), "scan.dcm", scanFixture(t), false)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.p.Upload(ctx, user(), "scan.nii", []byte("not a scan"), false)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestUploadPersistsBothObjects(t *testing.T) {
	e := newEnv(t, syncSched{})
	raw := scanFixture(t)

	rec, err := e.p.Upload(context.Background(), user(), "scan.nii", raw, false)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.SliceCount)
	assert.Equal(t, int64(len(raw)), rec.SizeBytes)

	assert.True(t, e.objs.Has("scans", store.RawVolumeKey(rec.ID)))
	assert.True(t, e.objs.Has("scans", store.ProcessedVolumeKey(rec.ID)))
	assert.True(t, e.prov.has("file:"+rec.ID.String()))
	assert.True(t, e.prov.has("file_metadata:"+rec.ID.String()))
}

func TestAnonymousUploadIsPublic(t *testing.T) {
	e := newEnv(t, syncSched{})

	rec, err := e.p.Upload(context.Background(), Identity{}, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)
	assert.True(t, rec.IsPublic)
}

func TestRenderIsDeterministic(t *testing.T) {
	e := newEnv(t, syncSched{})
	ctx := context.Background()
	owner := user()

	rec, err := e.p.Upload(ctx, owner, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)

	first, err := e.p.Render(ctx, rec.ID, 1, owner)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Second read hits the result cache; third reads after a flush recompute
	// from the durable tier. All must be byte-identical.
	second, err := e.p.Render(ctx, rec.ID, 1, owner)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, e.prov.has(fmt.Sprintf("result:%s:1", rec.ID)))

	e.prov.flush()
	third, err := e.p.Render(ctx, rec.ID, 1, owner)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestRenderFallsBackToDurableTier(t *testing.T) {
	e := newEnv(t, syncSched{})
	ctx := context.Background()
	owner := user()

	rec, err := e.p.Upload(ctx, owner, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)

	e.prov.flush()
	before := e.objs.Gets()
	_, err = e.p.Render(ctx, rec.ID, 0, owner)
	require.NoError(t, err)
	assert.Equal(t, before+1, e.objs.Gets(), "cold read should load the processed object exactly once")

	// Warmed now: another slice of the same volume must not touch the store.
	_, err = e.p.Render(ctx, rec.ID, 2, owner)
	require.NoError(t, err)
	assert.Equal(t, before+1, e.objs.Gets())
}

func TestMetadataCacheSparesRelationalTier(t *testing.T) {
	e := newEnv(t, syncSched{})
	ctx := context.Background()
	owner := user()

	rec, err := e.p.Upload(ctx, owner, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)

	_, err = e.p.Render(ctx, rec.ID, 0, owner)
	require.NoError(t, err)
	assert.Zero(t, e.db.VolumeGets())
}

func TestSliceBounds(t *testing.T) {
	e := newEnv(t, syncSched{})
	ctx := context.Background()
	owner := user()

	rec, err := e.p.Upload(ctx, owner, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)

	_, err = e.p.Render(ctx, rec.ID, rec.SliceCount-1, owner)
	assert.NoError(t, err)

	_, err = e.p.Render(ctx, rec.ID, rec.SliceCount, owner)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.p.Render(ctx, rec.ID, -1, owner)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestVisibility(t *testing.T) {
	e := newEnv(t, syncSched{})
	ctx := context.Background()
	owner, stranger := user(), user()

	private, err := e.p.Upload(ctx, owner, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)
	public, err := e.p.Upload(ctx, owner, "scan.nii", scanFixture(t), true)
	require.NoError(t, err)

	// A private volume looks Forbidden to a stranger, even with an absurd
	// slice index: visibility is checked before bounds.
	_, err = e.p.Render(ctx, private.ID, 999, stranger)
	assert.Equal(t, KindForbidden, KindOf(err))
	_, err = e.p.Render(ctx, private.ID, 0, Identity{})
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = e.p.Render(ctx, private.ID, 0, owner)
	assert.NoError(t, err)
	_, err = e.p.Render(ctx, public.ID, 0, stranger)
	assert.NoError(t, err)
}

func TestUnknownVolumeIsNotFound(t *testing.T) {
	e := newEnv(t, syncSched{})

	_, err := e.p.Render(context.Background(), uuid.New(), 0, user())
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestContoursMatchRenderInputs(t *testing.T) {
	e := newEnv(t, syncSched{})
	ctx := context.Background()
	owner := user()

	rec, err := e.p.Upload(ctx, owner, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)

	cs, err := e.p.Contours(ctx, rec.ID, 1, owner)
	require.NoError(t, err)
	require.NotEmpty(t, cs)

	// Cached and recomputed answers agree.
	again, err := e.p.Contours(ctx, rec.ID, 1, owner)
	require.NoError(t, err)
	assert.Equal(t, cs, again)

	e.prov.flush()
	cold, err := e.p.Contours(ctx, rec.ID, 1, owner)
	require.NoError(t, err)
	assert.Equal(t, cs, cold)
}

func TestConcurrentColdReadsConverge(t *testing.T) {
	e := newEnv(t, syncSched{})
	ctx := context.Background()
	owner := user()

	rec, err := e.p.Upload(ctx, owner, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)
	e.prov.flush()

	const readers = 8
	out := make([][]byte, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img, err := e.p.Render(ctx, rec.ID, 0, owner)
			assert.NoError(t, err)
			out[i] = img
		}(i)
	}
	wg.Wait()
	for i := 1; i < readers; i++ {
		assert.Equal(t, out[0], out[i])
	}
}

func TestCacheOutageIsNotAMiss(t *testing.T) {
	e := &env{db: metadata.NewMem(), objs: store.NewMem()}
	p, err := New(Options{
		Provider:  downProvider{},
		Metadata:  e.db,
		Objects:   e.objs,
		Segmenter: overlay.Threshold{},
		Scheduler: syncSched{},
		Buckets:   Buckets{Private: "scans", Public: "renders"},
	})
	require.NoError(t, err)

	_, err = p.Render(context.Background(), uuid.New(), 0, user())
	assert.Equal(t, KindCacheUnavailable, KindOf(err))
}

func TestSaturatedQueueStillServes(t *testing.T) {
	// Warm the durable tier with a synchronous run first, then swap in a
	// scheduler that drops everything.
	warm := newEnv(t, syncSched{})
	ctx := context.Background()
	owner := user()
	rec, err := warm.p.Upload(ctx, owner, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)

	p, err := New(Options{
		Provider:  newMemProvider(),
		Metadata:  warm.db,
		Objects:   warm.objs,
		Segmenter: overlay.Threshold{},
		Scheduler: dropSched{},
		Buckets:   Buckets{Private: "scans", Public: "renders"},
	})
	require.NoError(t, err)

	img, err := p.Render(ctx, rec.ID, 0, owner)
	require.NoError(t, err)
	assert.NotEmpty(t, img)
}

func TestSavePhoto(t *testing.T) {
	e := newEnv(t, syncSched{})
	ctx := context.Background()
	owner := user()

	rec, err := e.p.Upload(ctx, owner, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)

	_, err = e.p.SavePhoto(ctx, rec.ID, 0, Identity{})
	assert.Equal(t, KindForbidden, KindOf(err))

	photo, err := e.p.SavePhoto(ctx, rec.ID, 0, owner)
	require.NoError(t, err)
	assert.True(t, e.objs.Has("renders", photo.ObjectKey))

	// Saving the same (volume, slice) twice is a conflict.
	_, err = e.p.SavePhoto(ctx, rec.ID, 0, owner)
	assert.Equal(t, KindValidation, KindOf(err))

	list, err := e.p.PhotosOf(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, photo.ID, list[0].ID)
}

func TestDeletePhoto(t *testing.T) {
	e := newEnv(t, syncSched{})
	ctx := context.Background()
	owner, stranger := user(), user()

	rec, err := e.p.Upload(ctx, owner, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)
	photo, err := e.p.SavePhoto(ctx, rec.ID, 0, owner)
	require.NoError(t, err)

	// Someone else's photo is indistinguishable from a missing one.
	err = e.p.DeletePhoto(ctx, photo.ID, stranger)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, e.objs.Has("renders", photo.ObjectKey))

	require.NoError(t, e.p.DeletePhoto(ctx, photo.ID, owner))
	assert.False(t, e.objs.Has("renders", photo.ObjectKey))

	err = e.p.DeletePhoto(ctx, photo.ID, owner)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestSaveContoursAssignsVersions(t *testing.T) {
	e := newEnv(t, syncSched{})
	ctx := context.Background()
	owner := user()

	rec, err := e.p.Upload(ctx, owner, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)

	points := overlay.ContourSet{{{2, 2}, {5, 2}, {5, 5}, {2, 5}}}
	first, err := e.p.SaveContours(ctx, rec.ID, 0, points, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.True(t, e.objs.Has("renders", first.ObjectKey))

	second, err := e.p.SaveContours(ctx, rec.ID, 0, points, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.NotEqual(t, first.ObjectKey, second.ObjectKey)

	latest, err := e.p.LatestContours(ctx, rec.ID, 0, owner)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, points, latest.Points)
}

func TestSaveContoursValidation(t *testing.T) {
	e := newEnv(t, syncSched{})
	ctx := context.Background()
	owner := user()

	rec, err := e.p.Upload(ctx, owner, "scan.nii", scanFixture(t), false)
	require.NoError(t, err)

	points := overlay.ContourSet{{{1, 1}, {2, 2}}}
	_, err = e.p.SaveContours(ctx, rec.ID, 0, points, Identity{})
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = e.p.SaveContours(ctx, rec.ID, 0, nil, owner)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.p.SaveContours(ctx, rec.ID, 99, points, owner)
	assert.Equal(t, KindValidation, KindOf(err))
}
