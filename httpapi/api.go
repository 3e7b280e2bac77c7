// Package httpapi exposes the pipeline over HTTP. Routing is thin by intent:
// handlers translate between the wire and pipeline types, and every policy
// decision (visibility, bounds, versioning) lives below this package.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/voxserve/cache"
	"github.com/unkn0wn-root/voxserve/pipeline"
)

const (
	headerRequestID = "X-Request-ID"
	headerUserID    = "X-User-ID"
)

type Options struct {
	Logger         cache.Logger // nil => NopLogger
	MaxUploadBytes int64        // 0 => 256 MiB
}

type Server struct {
	p         *pipeline.Pipeline
	log       cache.Logger
	maxUpload int64
}

func New(p *pipeline.Pipeline, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = cache.NopLogger{}
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload == 0 {
		maxUpload = 256 << 20
	}
	return &Server{p: p, log: log, maxUpload: maxUpload}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.correlate)

	r.Post("/files", s.handleUpload)
	r.Get("/files/{id}/slices/{slice}", s.handleRender)
	r.Get("/files/{id}/slices/{slice}/contours", s.handleContours)

	r.Post("/photos", s.handleSavePhoto)
	r.Get("/photos", s.handleListPhotos)
	r.Delete("/photos/{id}", s.handleDeletePhoto)

	r.Post("/contours", s.handleSaveContours)
	r.Get("/files/{id}/slices/{slice}/contours/saved", s.handleLatestContours)

	return r
}

// correlate attaches the inbound request id (or a fresh one) to the context
// and echoes it back so clients can quote it when reporting failures.
func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(pipeline.WithCorrelation(r.Context(), id)))
	})
}

// identity reads the caller from the X-User-ID header. Absent means
// anonymous; present but unparsable is a client error.
func identity(r *http.Request) (pipeline.Identity, bool) {
	raw := r.Header.Get(headerUserID)
	if raw == "" {
		return pipeline.Identity{}, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return pipeline.Identity{}, false
	}
	return pipeline.Identity{UserID: id}, true
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch pipeline.KindOf(err) {
	case pipeline.KindNotFound:
		status = http.StatusNotFound
	case pipeline.KindForbidden:
		status = http.StatusForbidden
	case pipeline.KindValidation:
		status = http.StatusUnprocessableEntity
	case pipeline.KindCacheUnavailable, pipeline.KindStoreUnavailable:
		status = http.StatusServiceUnavailable
	case pipeline.KindCompute:
		status = http.StatusBadGateway
	}
	corr := pipeline.CorrelationFrom(r.Context())
	if status == http.StatusInternalServerError {
		s.log.Error("unclassified handler error", cache.Fields{
			"path":           r.URL.Path,
			"correlation_id": corr,
			"err":            err,
		})
	}
	s.writeJSON(w, status, errorBody{Error: publicMessage(err, status), RequestID: corr})
}

// publicMessage keeps infrastructure detail out of 5xx bodies.
func publicMessage(err error, status int) string {
	if status >= 500 {
		return http.StatusText(status)
	}
	return err.Error()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("write response", cache.Fields{"err": err})
	}
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorBody{
		Error:     msg,
		RequestID: pipeline.CorrelationFrom(r.Context()),
	})
}
