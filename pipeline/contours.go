package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/voxserve/materialize"
	"github.com/unkn0wn-root/voxserve/metadata"
	"github.com/unkn0wn-root/voxserve/overlay"
	"github.com/unkn0wn-root/voxserve/volume"
)

// SaveContours stores an author-edited contour set as the next version for
// (author, volume, slice) and schedules a rendered overlay of the submitted
// polygons for the public bucket. Version assignment is atomic in the
// relational tier; a concurrent save of the same triple surfaces as a
// validation failure rather than a silently clobbered version.
func (p *Pipeline) SaveContours(ctx context.Context, id uuid.UUID, slice int, points overlay.ContourSet, who Identity) (metadata.ContourRecord, error) {
	const op = "pipeline.SaveContours"
	corr := CorrelationFrom(ctx)

	if who.Anonymous() {
		return metadata.ContourRecord{}, p.fail(KindForbidden, op, corr,
			fmt.Errorf("saving contours requires a signed-in user"))
	}
	if len(points) == 0 {
		return metadata.ContourRecord{}, p.fail(KindValidation, op, corr,
			fmt.Errorf("contour set is empty"))
	}

	snap, err := p.authorize(ctx, op, corr, id, slice, who)
	if err != nil {
		return metadata.ContourRecord{}, err
	}
	vol, err := p.resolveVolume(ctx, op, corr, id, snap)
	if err != nil {
		return metadata.ContourRecord{}, err
	}
	sl, err := vol.Slice(slice)
	if err != nil {
		return metadata.ContourRecord{}, p.fail(KindStoreUnavailable, op, corr, err)
	}

	rec, err := p.db.InsertContour(ctx, who.UserID, id, slice, points)
	if errors.Is(err, metadata.ErrConflict) {
		return metadata.ContourRecord{}, p.fail(KindValidation, op, corr, err)
	}
	if err != nil {
		return metadata.ContourRecord{}, p.fail(KindStoreUnavailable, op, corr, err)
	}

	p.scheduleContourRender(corr, rec, sl)
	return rec, nil
}

// LatestContours returns the caller's most recent saved contour version for
// the slice.
func (p *Pipeline) LatestContours(ctx context.Context, id uuid.UUID, slice int, who Identity) (metadata.ContourRecord, error) {
	const op = "pipeline.LatestContours"
	corr := CorrelationFrom(ctx)

	if who.Anonymous() {
		return metadata.ContourRecord{}, p.fail(KindForbidden, op, corr,
			fmt.Errorf("reading saved contours requires a signed-in user"))
	}
	if _, err := p.authorize(ctx, op, corr, id, slice, who); err != nil {
		return metadata.ContourRecord{}, err
	}
	rec, err := p.db.LatestContour(ctx, who.UserID, id, slice)
	if errors.Is(err, metadata.ErrNotFound) {
		return metadata.ContourRecord{}, p.fail(KindNotFound, op, corr, err)
	}
	if err != nil {
		return metadata.ContourRecord{}, p.fail(KindStoreUnavailable, op, corr, err)
	}
	return rec, nil
}

// scheduleContourRender composes the submitted polygons over the base slice
// and uploads the PNG under the record's versioned key. Rendering happens
// inside the task so a slow encode never blocks the save response.
func (p *Pipeline) scheduleContourRender(corr string, rec metadata.ContourRecord, sl *volume.Slice) {
	p.submit(materialize.Task{
		Name:          "persist-contour-render",
		CorrelationID: corr,
		Run: func(ctx context.Context) error {
			base, err := overlay.RenderSlice(sl)
			if err != nil {
				return err
			}
			img, err := overlay.RenderOverlay(base, rec.Points)
			if err != nil {
				return err
			}
			return p.objects.PutObject(ctx, p.buckets.Public, rec.ObjectKey, img)
		},
	})
}
