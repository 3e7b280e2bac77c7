package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/voxserve/metadata"
	"github.com/unkn0wn-root/voxserve/overlay"
)

type fileResponse struct {
	ID         uuid.UUID `json:"id"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	SliceCount int       `json:"num_slices"`
	IsPublic   bool      `json:"is_public"`
	CreatedAt  time.Time `json:"created_at"`
}

func toFileResponse(r metadata.VolumeRecord) fileResponse {
	return fileResponse{
		ID:         r.ID,
		Filename:   r.Filename,
		SizeBytes:  r.SizeBytes,
		SliceCount: r.SliceCount,
		IsPublic:   r.IsPublic,
		CreatedAt:  r.CreatedAt,
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	who, ok := identity(r)
	if !ok {
		s.badRequest(w, r, "malformed "+headerUserID+" header")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		s.badRequest(w, r, "multipart field 'file' is required")
		return
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		s.badRequest(w, r, "could not read upload: "+err.Error())
		return
	}
	public := r.FormValue("is_public") == "true"

	rec, err := s.p.Upload(r.Context(), who, hdr.Filename, raw, public)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toFileResponse(rec))
}

// pathTarget parses the {id}/{slice} pair shared by the slice-addressed
// routes.
func pathTarget(r *http.Request) (uuid.UUID, int, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, 0, false
	}
	slice, err := strconv.Atoi(chi.URLParam(r, "slice"))
	if err != nil {
		return uuid.Nil, 0, false
	}
	return id, slice, true
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	who, ok := identity(r)
	if !ok {
		s.badRequest(w, r, "malformed "+headerUserID+" header")
		return
	}
	id, slice, ok := pathTarget(r)
	if !ok {
		s.badRequest(w, r, "path must be /files/{uuid}/slices/{int}")
		return
	}

	img, err := s.p.Render(r.Context(), id, slice, who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func (s *Server) handleContours(w http.ResponseWriter, r *http.Request) {
	who, ok := identity(r)
	if !ok {
		s.badRequest(w, r, "malformed "+headerUserID+" header")
		return
	}
	id, slice, ok := pathTarget(r)
	if !ok {
		s.badRequest(w, r, "path must be /files/{uuid}/slices/{int}/contours")
		return
	}

	cs, err := s.p.Contours(r.Context(), id, slice, who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]overlay.ContourSet{"contours": cs})
}

type photoResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	VolumeID  uuid.UUID `json:"file_id"`
	Slice     int       `json:"slice"`
	ObjectKey string    `json:"object_key"`
	CreatedAt time.Time `json:"created_at"`
}

func toPhotoResponse(p metadata.PhotoRecord) photoResponse {
	return photoResponse{
		ID:        p.ID,
		Name:      p.Name,
		VolumeID:  p.VolumeID,
		Slice:     p.Slice,
		ObjectKey: p.ObjectKey,
		CreatedAt: p.CreatedAt,
	}
}

type savePhotoRequest struct {
	VolumeID uuid.UUID `json:"file_id"`
	Slice    int       `json:"slice"`
}

func (s *Server) handleSavePhoto(w http.ResponseWriter, r *http.Request) {
	who, ok := identity(r)
	if !ok {
		s.badRequest(w, r, "malformed "+headerUserID+" header")
		return
	}
	var req savePhotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, r, "malformed body: "+err.Error())
		return
	}

	rec, err := s.p.SavePhoto(r.Context(), req.VolumeID, req.Slice, who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toPhotoResponse(rec))
}

func (s *Server) handleListPhotos(w http.ResponseWriter, r *http.Request) {
	who, ok := identity(r)
	if !ok {
		s.badRequest(w, r, "malformed "+headerUserID+" header")
		return
	}
	recs, err := s.p.PhotosOf(r.Context(), who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]photoResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toPhotoResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string][]photoResponse{"photos": out})
}

func (s *Server) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	who, ok := identity(r)
	if !ok {
		s.badRequest(w, r, "malformed "+headerUserID+" header")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, r, "photo id must be a uuid")
		return
	}
	if err := s.p.DeletePhoto(r.Context(), id, who); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type contourResponse struct {
	ID        int64              `json:"id"`
	VolumeID  uuid.UUID          `json:"file_id"`
	Slice     int                `json:"slice"`
	Version   int                `json:"version"`
	Points    overlay.ContourSet `json:"points"`
	ObjectKey string             `json:"object_key"`
	CreatedAt time.Time          `json:"created_at"`
}

func toContourResponse(c metadata.ContourRecord) contourResponse {
	return contourResponse{
		ID:        c.ID,
		VolumeID:  c.VolumeID,
		Slice:     c.Slice,
		Version:   c.Version,
		Points:    c.Points,
		ObjectKey: c.ObjectKey,
		CreatedAt: c.CreatedAt,
	}
}

type saveContoursRequest struct {
	VolumeID uuid.UUID          `json:"file_id"`
	Slice    int                `json:"slice"`
	Points   overlay.ContourSet `json:"points"`
}

func (s *Server) handleSaveContours(w http.ResponseWriter, r *http.Request) {
	who, ok := identity(r)
	if !ok {
		s.badRequest(w, r, "malformed "+headerUserID+" header")
		return
	}
	var req saveContoursRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, r, "malformed body: "+err.Error())
		return
	}

	rec, err := s.p.SaveContours(r.Context(), req.VolumeID, req.Slice, req.Points, who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toContourResponse(rec))
}

func (s *Server) handleLatestContours(w http.ResponseWriter, r *http.Request) {
	who, ok := identity(r)
	if !ok {
		s.badRequest(w, r, "malformed "+headerUserID+" header")
		return
	}
	id, slice, ok := pathTarget(r)
	if !ok {
		s.badRequest(w, r, "path must be /files/{uuid}/slices/{int}/contours/saved")
		return
	}

	rec, err := s.p.LatestContours(r.Context(), id, slice, who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toContourResponse(rec))
}
