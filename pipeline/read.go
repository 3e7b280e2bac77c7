package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/voxserve/cache"
	"github.com/unkn0wn-root/voxserve/materialize"
	"github.com/unkn0wn-root/voxserve/metadata"
	"github.com/unkn0wn-root/voxserve/overlay"
	"github.com/unkn0wn-root/voxserve/store"
	"github.com/unkn0wn-root/voxserve/volume"
)

// Render produces the overlay PNG for one slice, serving from whichever tier
// currently holds the pieces. Concurrent misses may both compute; results
// are deterministic for the same inputs, so the last cache writer winning is
// wasted work, not a correctness problem.
func (p *Pipeline) Render(ctx context.Context, id uuid.UUID, slice int, who Identity) ([]byte, error) {
	const op = "pipeline.Render"
	corr := CorrelationFrom(ctx)

	snap, err := p.authorize(ctx, op, corr, id, slice, who)
	if err != nil {
		return nil, err
	}
	vol, err := p.resolveVolume(ctx, op, corr, id, snap)
	if err != nil {
		return nil, err
	}

	// Result-level short circuit: the exact artifact may already exist.
	if img, ok, err := p.results.Get(ctx, resultKey(id, slice)); err != nil {
		return nil, p.fail(KindCacheUnavailable, op, corr, err)
	} else if ok {
		return img, nil
	}

	sl, err := vol.Slice(slice)
	if err != nil {
		// Bounds were validated against the snapshot; a mismatch here means
		// the snapshot lied about the stored volume.
		return nil, p.fail(KindStoreUnavailable, op, corr, err)
	}

	base, baseMissed, err := p.baseImage(ctx, op, corr, id, slice, sl)
	if err != nil {
		return nil, err
	}
	cs, csMissed, err := p.contourSet(ctx, op, corr, id, slice, sl)
	if err != nil {
		return nil, err
	}

	out, err := overlay.RenderOverlay(base, cs)
	if err != nil {
		return nil, p.fail(KindCompute, op, corr, err)
	}

	p.scheduleArtifactWarm(corr, id, slice, artifactWarm{
		contours:    cs,
		contoursHit: !csMissed,
		image:       base,
		imageHit:    !baseMissed,
		result:      out,
	})
	return out, nil
}

// Contours produces the contour polygon list for one slice; same tier walk
// as Render minus the image composition.
func (p *Pipeline) Contours(ctx context.Context, id uuid.UUID, slice int, who Identity) (overlay.ContourSet, error) {
	const op = "pipeline.Contours"
	corr := CorrelationFrom(ctx)

	snap, err := p.authorize(ctx, op, corr, id, slice, who)
	if err != nil {
		return nil, err
	}
	vol, err := p.resolveVolume(ctx, op, corr, id, snap)
	if err != nil {
		return nil, err
	}

	if cs, ok, err := p.contours.Get(ctx, contoursKey(id, slice)); err != nil {
		return nil, p.fail(KindCacheUnavailable, op, corr, err)
	} else if ok {
		return cs, nil
	}

	sl, err := vol.Slice(slice)
	if err != nil {
		return nil, p.fail(KindStoreUnavailable, op, corr, err)
	}
	cs, err := p.computeContours(ctx, op, corr, sl)
	if err != nil {
		return nil, err
	}

	key := contoursKey(id, slice)
	p.submit(materialize.Task{
		Name:          "cache-contours",
		CorrelationID: corr,
		Run: func(ctx context.Context) error {
			return p.contours.Put(ctx, key, cs, p.ttl)
		},
	})
	return cs, nil
}

// authorize resolves the metadata snapshot (volatile tier first, relational
// tier as the authority) and enforces visibility and slice bounds.
func (p *Pipeline) authorize(ctx context.Context, op, corr string, id uuid.UUID, slice int, who Identity) (metadata.Snapshot, error) {
	snap, ok, err := p.meta.Get(ctx, metadataKey(id))
	if err != nil {
		return metadata.Snapshot{}, p.fail(KindCacheUnavailable, op, corr, err)
	}
	if !ok {
		rec, err := p.db.GetVolume(ctx, id)
		if errors.Is(err, metadata.ErrNotFound) {
			return metadata.Snapshot{}, p.fail(KindNotFound, op, corr, err)
		}
		if err != nil {
			return metadata.Snapshot{}, p.fail(KindStoreUnavailable, op, corr, err)
		}
		snap = rec.Snapshot()
	}

	// Visibility first: a private volume must look Forbidden, not NotFound
	// and not out-of-bounds, to a stranger.
	if !snap.IsPublic && who.UserID != snap.Owner {
		return metadata.Snapshot{}, p.fail(KindForbidden, op, corr,
			fmt.Errorf("volume %s is private", id))
	}
	if slice < 0 || slice >= snap.SliceCount {
		return metadata.Snapshot{}, p.fail(KindValidation, op, corr,
			fmt.Errorf("slice %d out of range, volume has %d slices", slice, snap.SliceCount))
	}
	return snap, nil
}

// resolveVolume prefers the volatile tier; a miss falls through to the
// processed object in the durable store and schedules a non-blocking
// write-back so the next read takes the fast path.
func (p *Pipeline) resolveVolume(ctx context.Context, op, corr string, id uuid.UUID, snap metadata.Snapshot) (*volume.Volume, error) {
	vol, ok, err := p.volumes.Get(ctx, volumeKey(id))
	if err != nil {
		return nil, p.fail(KindCacheUnavailable, op, corr, err)
	}
	if ok {
		return vol, nil
	}

	p.log.Info("volume cache miss, loading from object store", cache.Fields{
		"volume":         id.String(),
		"correlation_id": corr,
	})
	raw, err := p.objects.GetObject(ctx, p.buckets.Private, store.ProcessedVolumeKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, p.fail(KindNotFound, op, corr, err)
	}
	if err != nil {
		return nil, p.fail(KindStoreUnavailable, op, corr, err)
	}
	vol, err = volume.DecodeProcessed(raw)
	if err != nil {
		return nil, p.fail(KindStoreUnavailable, op, corr, err)
	}

	p.scheduleVolumeWarm(corr, id, vol, snap)
	return vol, nil
}

// baseImage returns the grayscale slice PNG, telling the caller whether it
// had to be rendered (and therefore needs background population).
func (p *Pipeline) baseImage(ctx context.Context, op, corr string, id uuid.UUID, slice int, sl *volume.Slice) ([]byte, bool, error) {
	img, ok, err := p.images.Get(ctx, imageKey(id, slice))
	if err != nil {
		return nil, false, p.fail(KindCacheUnavailable, op, corr, err)
	}
	if ok {
		return img, false, nil
	}
	img, err = overlay.RenderSlice(sl)
	if err != nil {
		return nil, false, p.fail(KindCompute, op, corr, err)
	}
	return img, true, nil
}

// contourSet returns the contour polygons, reusing the contour-level cache
// even when the image level is the one missing: the two are independently
// cacheable.
func (p *Pipeline) contourSet(ctx context.Context, op, corr string, id uuid.UUID, slice int, sl *volume.Slice) (overlay.ContourSet, bool, error) {
	cs, ok, err := p.contours.Get(ctx, contoursKey(id, slice))
	if err != nil {
		return nil, false, p.fail(KindCacheUnavailable, op, corr, err)
	}
	if ok {
		return cs, false, nil
	}
	cs, err = p.computeContours(ctx, op, corr, sl)
	if err != nil {
		return nil, false, err
	}
	return cs, true, nil
}

func (p *Pipeline) computeContours(ctx context.Context, op, corr string, sl *volume.Slice) (overlay.ContourSet, error) {
	mask, err := p.seg.Predict(ctx, sl)
	if err != nil {
		return nil, p.fail(KindCompute, op, corr, err)
	}
	return overlay.FindContours(mask), nil
}

type artifactWarm struct {
	contours    overlay.ContourSet
	contoursHit bool
	image       []byte
	imageHit    bool
	result      []byte
}

// scheduleArtifactWarm populates whichever cache levels were missing, in
// dependency order: contours, then image, then the composed result.
func (p *Pipeline) scheduleArtifactWarm(corr string, id uuid.UUID, slice int, w artifactWarm) {
	ck, ik, rk := contoursKey(id, slice), imageKey(id, slice), resultKey(id, slice)
	p.submit(materialize.Task{
		Name:          "cache-artifacts",
		CorrelationID: corr,
		Run: func(ctx context.Context) error {
			if !w.contoursHit {
				if err := p.contours.Put(ctx, ck, w.contours, p.ttl); err != nil {
					return fmt.Errorf("%s: %w", ck, err)
				}
			}
			if !w.imageHit {
				if err := p.images.Put(ctx, ik, w.image, p.ttl); err != nil {
					return fmt.Errorf("%s: %w", ik, err)
				}
			}
			if err := p.results.Put(ctx, rk, w.result, p.ttl); err != nil {
				return fmt.Errorf("%s: %w", rk, err)
			}
			return nil
		},
	})
}

// scheduleVolumeWarm writes the volume payload and its metadata snapshot
// back to the volatile tier in one batched write, so a reader never sees one
// without the other.
func (p *Pipeline) scheduleVolumeWarm(corr string, id uuid.UUID, vol *volume.Volume, snap metadata.Snapshot) {
	ve, err := p.volumes.Entry(volumeKey(id), vol)
	if err != nil {
		p.log.Error("encode volume for warm", cache.Fields{"volume": id.String(), "err": err})
		return
	}
	me, err := p.meta.Entry(metadataKey(id), snap)
	if err != nil {
		p.log.Error("encode snapshot for warm", cache.Fields{"volume": id.String(), "err": err})
		return
	}
	p.submit(materialize.Task{
		Name:          "cache-volume",
		CorrelationID: corr,
		Run: func(ctx context.Context) error {
			return cache.PutMany(ctx, p.provider, p.ttl, ve, me)
		},
	})
}

func (p *Pipeline) submit(t materialize.Task) {
	if !p.sched.Submit(t) {
		p.log.Warn("background task dropped", cache.Fields{
			"task":           t.Name,
			"correlation_id": t.CorrelationID,
		})
	}
}
