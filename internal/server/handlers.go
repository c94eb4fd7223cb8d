package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/panostitch/internal/archive"
	"github.com/maauso/panostitch/internal/batch"
	"github.com/maauso/panostitch/internal/media"
	"github.com/maauso/panostitch/internal/pipeline"
	"github.com/maauso/panostitch/internal/storage"
)

const (
	// DefaultMaxUploadBytes is the upload limit used when none is configured.
	DefaultMaxUploadBytes int64 = 512 << 20
	// multipartMemory is how much of a multipart body is held in memory.
	multipartMemory int64 = 32 << 20
	// FailedClipsHeader lists the clips left out of a downloaded archive.
	FailedClipsHeader = "X-Failed-Clips"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *batch.Service
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	maxUploadBytes     int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, ConvertBatch runs the convert inline and responds with the
// final batch state.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithMaxUploadBytes limits the size of a batch upload request.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *batch.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
		maxUploadBytes:     DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateBatch handles POST /batches requests.
// The body is multipart/form-data with one or more "files" parts and an
// optional "replaces" field naming the batch this upload supersedes.
func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit", "UPLOAD_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to parse multipart form",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_MULTIPART")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file is required", "NO_FILES")
		return
	}

	uploads := make([]batch.Upload, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			h.logger.Warn("failed to read upload",
				slog.String("file", fh.Filename),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadRequest, "failed to read "+fh.Filename, "INVALID_UPLOAD")
			return
		}
		if _, err := media.SniffContainer(data); err != nil {
			writeError(w, http.StatusUnsupportedMediaType, fh.Filename+": not a supported video", "UNSUPPORTED_MEDIA")
			return
		}
		uploads = append(uploads, batch.Upload{Name: fh.Filename, Data: data})
	}

	session, err := h.service.Create(r.Context(), batch.CreateInput{
		Uploads:  uploads,
		Replaces: r.FormValue("replaces"),
	})
	if err != nil {
		h.logger.Error("failed to create batch",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create batch", "BATCH_CREATION_FAILED")
		return
	}

	h.logger.Info("batch created",
		slog.String("batch_id", session.ID),
		slog.Int("clips", len(uploads)),
	)

	writeJSON(w, http.StatusCreated, toBatchResponse(session))
}

// ListBatches handles GET /batches requests.
func (h *Handlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list batches", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list batches", "BATCH_FETCH_FAILED")
		return
	}

	resp := make([]BatchResponse, len(sessions))
	for i, s := range sessions {
		resp[i] = toBatchResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBatch handles GET /batches/{id} requests.
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathID(w, r)
	if !ok {
		return
	}

	session, err := h.service.Get(r.Context(), batchID)
	if err != nil {
		h.writeServiceError(w, batchID, "failed to get batch", err)
		return
	}

	writeJSON(w, http.StatusOK, toBatchResponse(session))
}

// ConvertBatch handles POST /batches/{id}/convert requests.
// Only clips that have no finished video yet are converted.
func (h *Handlers) ConvertBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathID(w, r)
	if !ok {
		return
	}

	if !h.enableAsyncProcess {
		session, err := h.service.Convert(r.Context(), batchID)
		if err != nil {
			h.writeServiceError(w, batchID, "failed to convert batch", err)
			return
		}
		writeJSON(w, http.StatusOK, toBatchResponse(session))
		return
	}

	session, err := h.service.StartConvert(r.Context(), batchID)
	if err != nil {
		h.writeServiceError(w, batchID, "failed to start convert", err)
		return
	}

	h.logger.Info("convert started", slog.String("batch_id", batchID))
	writeJSON(w, http.StatusAccepted, toBatchResponse(session))
}

// AbortBatch handles POST /batches/{id}/abort requests.
func (h *Handlers) AbortBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.Abort(r.Context(), batchID); err != nil {
		h.writeServiceError(w, batchID, "failed to abort convert", err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// GetVideo handles GET /batches/{id}/videos/{n} requests.
// n is the 1-based clip number.
func (h *Handlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathID(w, r)
	if !ok {
		return
	}

	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "clip number must be a positive integer", "INVALID_CLIP_NUMBER")
		return
	}

	name, data, err := h.service.Video(r.Context(), batchID, n)
	if err != nil {
		h.writeServiceError(w, batchID, "failed to get video", err)
		return
	}

	writeAttachment(w, "video/mp4", name, data)
}

// ArchiveBatch handles POST /batches/{id}/archive requests.
// The zip is returned as a download unless push_to_s3 is set, in which case
// the response is JSON carrying the object URL.
func (h *Handlers) ArchiveBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req ArchiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	preset, err := pipeline.ParsePreset(req.Preset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	out, err := h.service.Archive(r.Context(), batchID, batch.ArchiveInput{
		Preset:   preset,
		PushToS3: req.PushToS3,
	})
	if err != nil {
		if errors.Is(err, archive.ErrArchive) && out != nil {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error:  err.Error(),
				Code:   "ARCHIVE_FAILED",
				Failed: toFailedClips(out.Failed),
			})
			return
		}
		h.writeServiceError(w, batchID, "failed to build archive", err)
		return
	}

	if out.URL != "" {
		writeJSON(w, http.StatusOK, ArchiveResponse{
			Name:    out.Name,
			URL:     out.URL,
			Entries: out.Entries,
			Failed:  toFailedClips(out.Failed),
		})
		return
	}

	if len(out.Failed) > 0 {
		idx := make([]string, len(out.Failed))
		for i, f := range out.Failed {
			idx[i] = strconv.Itoa(f.Index)
		}
		w.Header().Set(FailedClipsHeader, strings.Join(idx, ","))
	}
	writeAttachment(w, archive.ContentType, out.Name, out.Data)
}

// DeleteBatch handles DELETE /batches/{id} requests.
func (h *Handlers) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), batchID); err != nil {
		h.writeServiceError(w, batchID, "failed to delete batch", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps batch service errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, batchID, msg string, err error) {
	switch {
	case errors.Is(err, batch.ErrBatchNotFound):
		writeError(w, http.StatusNotFound, "batch not found", "BATCH_NOT_FOUND")
	case errors.Is(err, batch.ErrClipNotFound):
		writeError(w, http.StatusNotFound, "clip not found", "CLIP_NOT_FOUND")
	case errors.Is(err, batch.ErrClipNotReady):
		writeError(w, http.StatusConflict, "clip has not been converted", "CLIP_NOT_READY")
	case errors.Is(err, batch.ErrBusy):
		writeError(w, http.StatusConflict, "batch is busy", "BATCH_BUSY")
	case errors.Is(err, batch.ErrNotRunning):
		writeError(w, http.StatusConflict, "batch is not converting", "NOT_RUNNING")
	case errors.Is(err, batch.ErrNotConverted):
		writeError(w, http.StatusConflict, "batch has no converted clips", "NOT_CONVERTED")
	case errors.Is(err, batch.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error(), "INVALID_STATE")
	case errors.Is(err, storage.ErrS3NotConfigured):
		writeError(w, http.StatusBadRequest, "S3 upload is not configured", "S3_NOT_CONFIGURED")
	default:
		h.logger.Error(msg,
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, msg, "INTERNAL_ERROR")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	batchID := r.PathValue("id")
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "batch ID is required", "MISSING_BATCH_ID")
		return "", false
	}
	return batchID, true
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func toBatchResponse(s *batch.Session) BatchResponse {
	resp := BatchResponse{
		ID:        s.ID,
		Status:    string(s.Status),
		Error:     s.Error,
		Clips:     make([]ClipResponse, len(s.Clips)),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	for i, c := range s.Clips {
		cr := ClipResponse{
			Index:       c.Index,
			Name:        c.Name,
			Stage:       string(c.Stage),
			FailedStage: c.FailedStage,
			Error:       c.Error,
		}
		if c.Stage == batch.ClipMerged {
			cr.DownloadURL = fmt.Sprintf("/batches/%s/videos/%d", s.ID, c.Index+1)
		}
		resp.Clips[i] = cr
	}
	for _, a := range s.Archives {
		resp.Archives = append(resp.Archives, ArchiveSummary{
			Preset:  a.Preset,
			Name:    a.Name,
			Entries: a.Entries,
			Failed:  a.Failed,
			URL:     a.URL,
		})
	}
	return resp
}

func toFailedClips(failures []batch.ClipFailure) []FailedClip {
	if len(failures) == 0 {
		return nil
	}
	out := make([]FailedClip, len(failures))
	for i, f := range failures {
		out[i] = FailedClip{Index: f.Index, Stage: f.Stage, Error: f.Error}
	}
	return out
}

// writeAttachment writes data as a file download.
func writeAttachment(w http.ResponseWriter, contentType, name string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("failed to write attachment", slog.String("error", err.Error()))
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
