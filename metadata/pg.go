package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/unkn0wn-root/voxserve/overlay"
	"github.com/unkn0wn-root/voxserve/store"
)

const pgUniqueViolation = "23505"

// PG backs Store with Postgres via a shared pgxpool. The pool is built once
// at startup and reused by every request.
type PG struct {
	pool *pgxpool.Pool
}

var _ Store = (*PG)(nil)

func NewPG(ctx context.Context, dsn string) (*PG, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("metadata: connect: %w", err)
	}
	return &PG{pool: pool}, nil
}

func (s *PG) Close() { s.pool.Close() }

func (s *PG) CreateVolume(ctx context.Context, v NewVolume) (VolumeRecord, error) {
	owner := uuid.NullUUID{UUID: v.Owner, Valid: v.Owner != uuid.Nil}
	if !owner.Valid {
		v.IsPublic = true
	}
	rec := VolumeRecord{
		ID:         uuid.New(),
		Filename:   v.Filename,
		SizeBytes:  v.SizeBytes,
		SliceCount: v.SliceCount,
		Owner:      v.Owner,
		IsPublic:   v.IsPublic,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO files (uuid, filename, size_bytes, num_slices, author_id, is_public)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		rec.ID, rec.Filename, rec.SizeBytes, rec.SliceCount, owner, rec.IsPublic,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return VolumeRecord{}, fmt.Errorf("metadata: create volume: %w", err)
	}
	return rec, nil
}

func (s *PG) GetVolume(ctx context.Context, id uuid.UUID) (VolumeRecord, error) {
	var (
		rec   VolumeRecord
		owner uuid.NullUUID
	)
	err := s.pool.QueryRow(ctx, `
		SELECT uuid, filename, size_bytes, num_slices, author_id, is_public, created_at
		FROM files WHERE uuid = $1`,
		id,
	).Scan(&rec.ID, &rec.Filename, &rec.SizeBytes, &rec.SliceCount, &owner, &rec.IsPublic, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return VolumeRecord{}, fmt.Errorf("volume %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return VolumeRecord{}, fmt.Errorf("metadata: get volume: %w", err)
	}
	rec.Owner = owner.UUID
	return rec, nil
}

func (s *PG) CreatePhoto(ctx context.Context, author, volumeID uuid.UUID, slice int) (PhotoRecord, error) {
	rec := PhotoRecord{
		ID:       uuid.New(),
		Author:   author,
		VolumeID: volumeID,
		Slice:    slice,
	}
	rec.ObjectKey = store.PhotoKey(author, rec.ID)
	rec.Name = rec.ObjectKey
	err := s.pool.QueryRow(ctx, `
		INSERT INTO photos (uuid, name, num_images, author_uuid, file_uuid, object_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		rec.ID, rec.Name, rec.Slice, rec.Author, rec.VolumeID, rec.ObjectKey,
	).Scan(&rec.CreatedAt)
	if isUnique(err) {
		return PhotoRecord{}, fmt.Errorf("photo for (%s, %s, %d): %w", author, volumeID, slice, ErrConflict)
	}
	if err != nil {
		return PhotoRecord{}, fmt.Errorf("metadata: create photo: %w", err)
	}
	return rec, nil
}

func (s *PG) GetPhoto(ctx context.Context, id uuid.UUID) (PhotoRecord, error) {
	var rec PhotoRecord
	err := s.pool.QueryRow(ctx, `
		SELECT uuid, name, num_images, author_uuid, file_uuid, object_key, created_at
		FROM photos WHERE uuid = $1`,
		id,
	).Scan(&rec.ID, &rec.Name, &rec.Slice, &rec.Author, &rec.VolumeID, &rec.ObjectKey, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PhotoRecord{}, fmt.Errorf("photo %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return PhotoRecord{}, fmt.Errorf("metadata: get photo: %w", err)
	}
	return rec, nil
}

func (s *PG) ListPhotosByAuthor(ctx context.Context, author uuid.UUID) ([]PhotoRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT uuid, name, num_images, author_uuid, file_uuid, object_key, created_at
		FROM photos WHERE author_uuid = $1
		ORDER BY created_at DESC`,
		author,
	)
	if err != nil {
		return nil, fmt.Errorf("metadata: list photos: %w", err)
	}
	defer rows.Close()

	var out []PhotoRecord
	for rows.Next() {
		var rec PhotoRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Slice, &rec.Author, &rec.VolumeID, &rec.ObjectKey, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("metadata: scan photo: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PG) DeletePhoto(ctx context.Context, id, author uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM photos WHERE uuid = $1 AND author_uuid = $2`, id, author)
	if err != nil {
		return fmt.Errorf("metadata: delete photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("photo %s: %w", id, ErrNotFound)
	}
	return nil
}

// InsertContour computes the next version inside the INSERT itself; the
// unique index on (author_id, file_uuid, num_images, version) turns a lost
// race into ErrConflict instead of a duplicate version number.
func (s *PG) InsertContour(ctx context.Context, author, volumeID uuid.UUID, slice int, points overlay.ContourSet) (ContourRecord, error) {
	blob, err := json.Marshal(points)
	if err != nil {
		return ContourRecord{}, fmt.Errorf("metadata: encode contour points: %w", err)
	}

	rec := ContourRecord{
		Author:   author,
		VolumeID: volumeID,
		Slice:    slice,
		Points:   points,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ContourRecord{}, fmt.Errorf("metadata: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO contours (author_id, file_uuid, num_images, points, version, object_key)
		VALUES ($1, $2, $3, $4,
			(SELECT COALESCE(MAX(version), 0) + 1
			   FROM contours
			  WHERE author_id = $1 AND file_uuid = $2 AND num_images = $3),
			'')
		RETURNING id, version, created_at`,
		author, volumeID, slice, blob,
	).Scan(&rec.ID, &rec.Version, &rec.CreatedAt)
	if isUnique(err) {
		return ContourRecord{}, fmt.Errorf("contour version race for (%s, %s, %d): %w", author, volumeID, slice, ErrConflict)
	}
	if err != nil {
		return ContourRecord{}, fmt.Errorf("metadata: insert contour: %w", err)
	}

	rec.ObjectKey = store.ContourRenderKey(author, rec.ID, rec.Version)
	if _, err := tx.Exec(ctx,
		`UPDATE contours SET object_key = $1 WHERE id = $2`, rec.ObjectKey, rec.ID); err != nil {
		return ContourRecord{}, fmt.Errorf("metadata: set contour key: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ContourRecord{}, fmt.Errorf("metadata: commit contour: %w", err)
	}
	return rec, nil
}

func (s *PG) LatestContour(ctx context.Context, author, volumeID uuid.UUID, slice int) (ContourRecord, error) {
	var (
		rec  ContourRecord
		blob []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, author_id, file_uuid, num_images, points, version, object_key, created_at
		FROM contours
		WHERE author_id = $1 AND file_uuid = $2 AND num_images = $3
		ORDER BY version DESC
		LIMIT 1`,
		author, volumeID, slice,
	).Scan(&rec.ID, &rec.Author, &rec.VolumeID, &rec.Slice, &blob, &rec.Version, &rec.ObjectKey, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ContourRecord{}, fmt.Errorf("contour (%s, %s, %d): %w", author, volumeID, slice, ErrNotFound)
	}
	if err != nil {
		return ContourRecord{}, fmt.Errorf("metadata: latest contour: %w", err)
	}
	if err := json.Unmarshal(blob, &rec.Points); err != nil {
		return ContourRecord{}, fmt.Errorf("metadata: decode contour points: %w", err)
	}
	return rec, nil
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
