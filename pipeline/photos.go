package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/voxserve/materialize"
	"github.com/unkn0wn-root/voxserve/metadata"
)

// SavePhoto persists the current render of one slice as a durable, listable
// photo. Anonymous callers have nothing to own a photo with, so they are
// rejected outright. The rendered bytes are produced synchronously (reusing
// any cached level) and the public-bucket upload runs in the background.
func (p *Pipeline) SavePhoto(ctx context.Context, id uuid.UUID, slice int, who Identity) (metadata.PhotoRecord, error) {
	const op = "pipeline.SavePhoto"
	corr := CorrelationFrom(ctx)

	if who.Anonymous() {
		return metadata.PhotoRecord{}, p.fail(KindForbidden, op, corr,
			fmt.Errorf("saving photos requires a signed-in user"))
	}

	img, err := p.Render(ctx, id, slice, who)
	if err != nil {
		return metadata.PhotoRecord{}, err
	}

	rec, err := p.db.CreatePhoto(ctx, who.UserID, id, slice)
	if errors.Is(err, metadata.ErrConflict) {
		return metadata.PhotoRecord{}, p.fail(KindValidation, op, corr, err)
	}
	if err != nil {
		return metadata.PhotoRecord{}, p.fail(KindStoreUnavailable, op, corr, err)
	}

	key := rec.ObjectKey
	p.submit(materialize.Task{
		Name:          "persist-photo",
		CorrelationID: corr,
		Run: func(ctx context.Context) error {
			return p.objects.PutObject(ctx, p.buckets.Public, key, img)
		},
	})
	return rec, nil
}

// PhotosOf lists the caller's saved photos, newest first.
func (p *Pipeline) PhotosOf(ctx context.Context, who Identity) ([]metadata.PhotoRecord, error) {
	const op = "pipeline.PhotosOf"
	corr := CorrelationFrom(ctx)

	if who.Anonymous() {
		return nil, p.fail(KindForbidden, op, corr,
			fmt.Errorf("listing photos requires a signed-in user"))
	}
	recs, err := p.db.ListPhotosByAuthor(ctx, who.UserID)
	if err != nil {
		return nil, p.fail(KindStoreUnavailable, op, corr, err)
	}
	return recs, nil
}

// DeletePhoto removes the caller's photo record and schedules removal of its
// rendered object. A photo owned by someone else is indistinguishable from a
// missing one.
func (p *Pipeline) DeletePhoto(ctx context.Context, photoID uuid.UUID, who Identity) error {
	const op = "pipeline.DeletePhoto"
	corr := CorrelationFrom(ctx)

	if who.Anonymous() {
		return p.fail(KindForbidden, op, corr,
			fmt.Errorf("deleting photos requires a signed-in user"))
	}
	rec, err := p.db.GetPhoto(ctx, photoID)
	if errors.Is(err, metadata.ErrNotFound) {
		return p.fail(KindNotFound, op, corr, err)
	}
	if err != nil {
		return p.fail(KindStoreUnavailable, op, corr, err)
	}
	if err := p.db.DeletePhoto(ctx, photoID, who.UserID); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return p.fail(KindNotFound, op, corr, err)
		}
		return p.fail(KindStoreUnavailable, op, corr, err)
	}

	key := rec.ObjectKey
	p.submit(materialize.Task{
		Name:          "delete-photo-object",
		CorrelationID: corr,
		Run: func(ctx context.Context) error {
			return p.objects.DeleteObject(ctx, p.buckets.Public, key)
		},
	})
	return nil
}
