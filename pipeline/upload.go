package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/unkn0wn-root/voxserve/cache"
	"github.com/unkn0wn-root/voxserve/materialize"
	"github.com/unkn0wn-root/voxserve/metadata"
	"github.com/unkn0wn-root/voxserve/store"
	"github.com/unkn0wn-root/voxserve/volume"
)

// Upload ingests a NIfTI scan: parse, preprocess, record metadata, then hand
// the durable writes and cache warm to the background queue. The caller gets
// the record as soon as the relational tier has committed; the object tier
// catches up asynchronously, covered by the warm cache in the meantime.
func (p *Pipeline) Upload(ctx context.Context, who Identity, filename string, raw []byte, public bool) (metadata.VolumeRecord, error) {
	const op = "pipeline.Upload"
	corr := CorrelationFrom(ctx)

	if !strings.HasSuffix(strings.ToLower(filename), ".nii") {
		return metadata.VolumeRecord{}, p.fail(KindValidation, op, corr,
			fmt.Errorf("unsupported file %q, expected a .nii scan", filename))
	}
	vol, err := volume.ParseNIfTI(raw)
	if err != nil {
		return metadata.VolumeRecord{}, p.fail(KindValidation, op, corr, err)
	}
	vol = vol.Preprocess()

	rec, err := p.db.CreateVolume(ctx, metadata.NewVolume{
		Filename:   filename,
		SizeBytes:  int64(len(raw)),
		SliceCount: vol.SliceCount(),
		Owner:      who.UserID,
		IsPublic:   public || who.Anonymous(),
	})
	if err != nil {
		return metadata.VolumeRecord{}, p.fail(KindStoreUnavailable, op, corr, err)
	}

	processed, err := volume.EncodeProcessed(vol)
	if err != nil {
		return metadata.VolumeRecord{}, p.fail(KindCompute, op, corr, err)
	}

	p.scheduleVolumeWarm(corr, rec.ID, vol, rec.Snapshot())
	rawKey, procKey := store.RawVolumeKey(rec.ID), store.ProcessedVolumeKey(rec.ID)
	p.submit(materialize.Task{
		Name:          "persist-volume",
		CorrelationID: corr,
		Run: func(ctx context.Context) error {
			if err := p.objects.PutObject(ctx, p.buckets.Private, rawKey, raw); err != nil {
				return fmt.Errorf("%s: %w", rawKey, err)
			}
			if err := p.objects.PutObject(ctx, p.buckets.Private, procKey, processed); err != nil {
				return fmt.Errorf("%s: %w", procKey, err)
			}
			return nil
		},
	})

	p.log.Info("volume accepted", cache.Fields{
		"volume":         rec.ID.String(),
		"slices":         rec.SliceCount,
		"size_bytes":     rec.SizeBytes,
		"public":         rec.IsPublic,
		"correlation_id": corr,
	})
	return rec, nil
}
