package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/dubsync/internal/jobs"
	"github.com/snarg/dubsync/internal/pipeline"
	"github.com/snarg/dubsync/internal/storage"
	"github.com/snarg/dubsync/internal/watcher"
)

// JobService submits and looks up dub jobs; *jobs.WorkerPool.
type JobService interface {
	Submit(ctx context.Context, req jobs.Request, origin string) (*jobs.Job, error)
	Store() jobs.Store
}

type JobsHandler struct {
	svc       JobService
	artifacts storage.ArtifactStore
	defaults  jobs.Request
	uploadDir string
	maxUpload int64
}

// NewJobsHandler creates the job endpoints. Uploaded videos are written
// under uploadDir; maxUploadMB caps the request body of an upload.
func NewJobsHandler(svc JobService, artifacts storage.ArtifactStore, defaults jobs.Request, uploadDir string, maxUploadMB int64) *JobsHandler {
	return &JobsHandler{
		svc:       svc,
		artifacts: artifacts,
		defaults:  defaults,
		uploadDir: uploadDir,
		maxUpload: maxUploadMB << 20,
	}
}

// CreateJob submits a video that already exists on the server's filesystem.
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	req = req.WithDefaults(h.defaults)
	if err := req.Validate(); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid job request", err.Error())
		return
	}
	if fi, err := os.Stat(req.VideoPath); err != nil || fi.IsDir() {
		WriteErrorDetail(w, http.StatusBadRequest, "video_path not found", req.VideoPath)
		return
	}
	h.submit(w, r, req)
}

// UploadJob accepts a multipart upload (field "video", optional
// source_lang, target_lang and voice) and submits it.
func (h *JobsHandler) UploadJob(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing video file")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !watcher.IsVideo(header.Filename) {
		WriteErrorDetail(w, http.StatusBadRequest, "unsupported video type", ext)
		return
	}

	req := jobs.Request{
		SourceLang: r.FormValue("source_lang"),
		TargetLang: r.FormValue("target_lang"),
		Voice:      r.FormValue("voice"),
	}.WithDefaults(h.defaults)

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to create upload dir")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	dst := filepath.Join(h.uploadDir, uuid.NewString()+ext)
	if err := saveUpload(dst, file); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to store upload")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	req.VideoPath = dst

	if err := req.Validate(); err != nil {
		os.Remove(dst)
		WriteErrorDetail(w, http.StatusBadRequest, "invalid job request", err.Error())
		return
	}
	h.submit(w, r, req)
}

func saveUpload(dst string, src io.Reader) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}

func (h *JobsHandler) submit(w http.ResponseWriter, r *http.Request, req jobs.Request) {
	j, err := h.svc.Submit(r.Context(), req, "api")
	switch {
	case err == nil:
		WriteJSON(w, http.StatusAccepted, j)
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrStopped):
		WriteErrorDetail(w, http.StatusServiceUnavailable, "job queue unavailable", err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("job submit failed")
		WriteError(w, http.StatusInternalServerError, "failed to submit job")
	}
}

// ListJobs returns jobs newest first, optionally filtered by ?state=.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	filter := jobs.ListFilter{Limit: p.Limit, Offset: p.Offset}
	if v, ok := QueryString(r, "state"); ok {
		filter.State = jobs.State(v)
		if !filter.State.Valid() {
			WriteErrorDetail(w, http.StatusBadRequest, "invalid state", v)
			return
		}
	}

	list, total, err := h.svc.Store().ListJobs(r.Context(), filter)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if list == nil {
		list = []jobs.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":   list,
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

// GetJob returns a single job.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, j)
}

// GetManifest returns the placement manifest of a finished job.
func (h *JobsHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !j.HasArtifact(pipeline.ManifestName) {
		WriteErrorDetail(w, http.StatusConflict, "manifest not available", "job state: "+string(j.State))
		return
	}
	h.serveArtifact(w, r, j.ID, pipeline.ManifestName)
}

// GetArtifact streams one named artifact of a job.
func (h *JobsHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !storage.ValidName(name) {
		WriteError(w, http.StatusBadRequest, "invalid artifact name")
		return
	}
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !j.HasArtifact(name) {
		WriteError(w, http.StatusNotFound, "artifact not found")
		return
	}
	h.serveArtifact(w, r, j.ID, name)
}

func (h *JobsHandler) lookup(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid job id")
		return nil, false
	}
	j, err := h.svc.Store().GetJob(r.Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("job_id", id).Msg("failed to get job")
		WriteError(w, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	return j, true
}

// serveArtifact prefers the local copy (range requests work), then a
// presigned URL, then streaming through the store.
func (h *JobsHandler) serveArtifact(w http.ResponseWriter, r *http.Request, jobID, name string) {
	key := storage.ArtifactKey(jobID, name)
	w.Header().Set("Content-Type", storage.ContentType(name))

	if p := h.artifacts.LocalPath(key); p != "" {
		http.ServeFile(w, r, p)
		return
	}
	if u, err := h.artifacts.URL(r.Context(), key); err == nil && u != "" {
		w.Header().Del("Content-Type")
		http.Redirect(w, r, u, http.StatusFound)
		return
	}

	rc, err := h.artifacts.Open(r.Context(), key)
	if err != nil {
		w.Header().Del("Content-Type")
		hlog.FromRequest(r).Warn().Err(err).Str("key", key).Msg("artifact unavailable")
		WriteError(w, http.StatusNotFound, "artifact not found")
		return
	}
	defer rc.Close()
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}

// Routes registers job routes on the given router.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.CreateJob)
	r.Post("/jobs/upload", h.UploadJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/jobs/{id}/manifest", h.GetManifest)
	r.Get("/jobs/{id}/artifacts/{name}", h.GetArtifact)
}
