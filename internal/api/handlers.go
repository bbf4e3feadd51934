package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/cowbook/cowbook-api/internal/runconfig"
	"github.com/cowbook/cowbook-api/internal/tracking"
	"github.com/cowbook/cowbook-api/internal/upload"
)

// Multipart field names.
const (
	fieldVideos          = "videos"
	fieldIndices         = "indices"
	fieldTrackingVideo   = "tracking_video"
	fieldProjectionVideo = "projection_video"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
	})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			httpError(w, http.StatusBadRequest, "expected a multipart/form-data body")
			return
		}
		httpError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File[fieldVideos]
	if _, ok := r.MultipartForm.Value[fieldIndices]; !ok && len(files) > 0 {
		httpError(w, http.StatusBadRequest, "missing indices field for uploaded videos")
		return
	}

	req := tracking.Request{
		Indices:         r.MultipartForm.Value[fieldIndices],
		Uploads:         uploadsFromForm(files),
		TrackingVideo:   runconfig.ParseToggle(firstValue(r.MultipartForm, fieldTrackingVideo)),
		ProjectionVideo: runconfig.ParseToggle(firstValue(r.MultipartForm, fieldProjectionVideo)),
	}

	resp, err := s.tracker.Process(r.Context(), req)
	if err != nil {
		switch tracking.KindOf(err) {
		case tracking.KindInput:
			httpError(w, http.StatusBadRequest, err.Error())
		default:
			httpError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load run", err.Error())
		return
	}
	if rec == nil {
		httpError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func uploadsFromForm(files []*multipart.FileHeader) []upload.Upload {
	uploads := make([]upload.Upload, 0, len(files))
	for _, fh := range files {
		uploads = append(uploads, upload.Upload{
			Filename: fh.Filename,
			Open:     func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	if len(files) > 0 {
		log.Debug().Int("count", len(files)).Msg("Received video uploads")
	}
	return uploads
}

// firstValue returns the first value of a text field; later repeats are
// ignored.
func firstValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
