package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/photosift/photosift/internal/common"
	"github.com/photosift/photosift/internal/job"
	"github.com/photosift/photosift/internal/pipeline"
	"github.com/photosift/photosift/internal/queue"
	"github.com/photosift/photosift/internal/scan"
	"github.com/photosift/photosift/internal/search"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 1 << 30
	uploadMemory  = 32 << 20
)

// Submitter creates a job and queues it for execution.
type Submitter interface {
	Submit(req job.CreateRequest) (job.Job, error)
}

// Processor runs a folder through the pipeline synchronously.
type Processor interface {
	Process(ctx context.Context, folder string, sink pipeline.Sink) (*job.Result, error)
}

type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]search.Result, error)
	Stats(ctx context.Context) (search.Stats, error)
}

// Index is the part of the vector store the handler resets.
type Index interface {
	Clear(ctx context.Context) error
}

type CacheClearer interface {
	ClearCache()
}

// Deps holds the dependencies for all HTTP handlers.
type Deps struct {
	Registry  *job.Registry
	Queue     Submitter
	Processor Processor
	Searcher  Searcher
	Index     Index
	Cache     CacheClearer
	UploadDir string
	Logger    *slog.Logger
}

type Handler struct {
	Deps
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handler{Deps: d}
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/sse", h.StreamSSE)
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", h.CancelJob)
	mux.HandleFunc("POST /api/v1/process", h.ProcessSync)
	mux.HandleFunc("POST /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/clear", h.Clear)
	mux.HandleFunc("POST /api/v1/uploads", h.Upload)
	mux.HandleFunc("GET /api/v1/photo", h.ServePhoto)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// CreateJob handles POST /api/v1/jobs and responds 202 with the new job id.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var req job.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	j, err := h.Queue.Submit(req)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"job_id":  j.ID,
		"message": "processing started",
	})
}

// ListJobs handles GET /api/v1/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.Registry.List()})
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.Registry.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// CancelJob handles POST /api/v1/jobs/{id}/cancel. A running job stops at its
// next batch boundary; a queued one is finished at once.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, err := h.Registry.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if j.Status.IsTerminal() {
		writeError(w, http.StatusConflict, "job already in terminal state")
		return
	}
	if _, err := h.Registry.Cancel(id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "job_id": id})
}

type processRequest struct {
	FolderPath string `json:"folder_path"`
}

type processResponse struct {
	Status string `json:"status"`
	*job.Result
}

// ProcessSync handles POST /api/v1/process and returns the summary once the
// whole folder has been screened and indexed.
func (h *Handler) ProcessSync(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	folder := strings.TrimSpace(req.FolderPath)
	if folder == "" {
		writeError(w, http.StatusBadRequest, "folder_path is required")
		return
	}

	res, err := h.Processor.Process(r.Context(), folder, nil)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processResponse{Status: "success", Result: res})
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Search handles POST /api/v1/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	req := searchRequest{TopK: search.DefaultTopK}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	results, err := h.Searcher.Search(r.Context(), req.Query, req.TopK)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Clear handles POST /api/v1/clear: every job, the decode cache, the index
// and all uploads are discarded.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var errs []error
	if err := h.Registry.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if h.Cache != nil {
		h.Cache.ClearCache()
	}
	if h.Index != nil {
		if err := h.Index.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if h.UploadDir != "" {
		if err := os.RemoveAll(h.UploadDir); err != nil {
			errs = append(errs, common.Store("remove uploads", err))
		} else if err := os.MkdirAll(h.UploadDir, 0o755); err != nil {
			errs = append(errs, common.Store("recreate uploads", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		h.Logger.Error("clear failed", "error", err)
		writeErr(w, err)
		return
	}
	h.Logger.Info("state cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "cache cleared"})
}

// Upload handles POST /api/v1/uploads. Files go to a fresh directory under
// the upload root; anything that is not an image is skipped.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploadID := uuid.New().String()
	dir := filepath.Join(h.UploadDir, uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeErr(w, common.Store("create upload dir", err))
		return
	}

	files := []string{}
	for _, fh := range r.MultipartForm.File["files"] {
		name := filepath.Base(fh.Filename)
		if name == "." || name == string(filepath.Separator) || !scan.IsImage(name) {
			h.Logger.Debug("upload: skipping file", "filename", fh.Filename)
			continue
		}
		dst := filepath.Join(dir, name)
		if err := saveUpload(fh, dst); err != nil {
			writeErr(w, common.Store("save upload", err))
			return
		}
		files = append(files, dst)
	}
	if len(files) == 0 {
		os.RemoveAll(dir)
		writeError(w, http.StatusBadRequest, "no valid image files")
		return
	}

	h.Logger.Info("upload stored", "upload_id", uploadID, "files", len(files))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"upload_id":      uploadID,
		"uploaded_count": len(files),
		"folder_path":    dir,
		"files":          files,
	})
}

func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ServePhoto handles GET /api/v1/photo?path=... Only image files are served.
func (h *Handler) ServePhoto(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	path = filepath.Clean(path)
	if !scan.IsImage(path) {
		writeError(w, http.StatusBadRequest, "not an image file")
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}
	http.ServeFile(w, r, path)
}

// Health handles GET /api/v1/health and reports index statistics.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	st, err := h.Searcher.Stats(r.Context())
	if err != nil {
		h.Logger.Warn("health: index stats", "error", err)
		resp["status"] = "degraded"
		resp["error"] = err.Error()
	} else {
		resp["total_photos"] = st.TotalPhotos
		resp["collection_name"] = st.CollectionName
		resp["embedding_available"] = st.EmbeddingAvailable
		if st.Model != "" {
			resp["model"] = st.Model
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

// writeErr maps an application error to its HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusOf(err), err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrProviderUnavailable), errors.Is(err, queue.ErrFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
