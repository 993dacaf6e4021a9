package capture

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"clip-capture/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	// DefaultAcquireTimeout bounds how long POST /session/start waits for the camera.
	DefaultAcquireTimeout = 10 * time.Second
	// DefaultMaxUploadBytes caps a single upload request body.
	DefaultMaxUploadBytes = 512 << 20

	uploadField     = "files"
	multipartMemory = 32 << 20
)

// HandlerConfig tunes the HTTP layer. Zero values select the defaults.
type HandlerConfig struct {
	AcquireTimeout time.Duration
	MaxUploadBytes int64
}

// Handler exposes the capture controller over HTTP using go-chi.
type Handler struct {
	ctrl    *Controller
	log     *slog.Logger
	metrics *metrics.Metrics
	cfg     HandlerConfig
}

// NewHandler returns a Handler for ctrl. Metrics may be nil to disable metric
// recording (e.g. in tests).
func NewHandler(ctrl *Controller, log *slog.Logger, m *metrics.Metrics, cfg HandlerConfig) *Handler {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{ctrl: ctrl, log: log, metrics: m, cfg: cfg}
}

// Routes mounts every capture endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/start", h.StartSession)
		r.Post("/stop", h.StopSession)
	})
	r.Route("/clips", func(r chi.Router) {
		r.Get("/", h.ListClips)
		r.Post("/", h.UploadClips)
		r.Get("/{clip_id}/media", h.GetClipMedia)
	})
}

type stopResponse struct {
	Session Snapshot  `json:"session"`
	Clip    *ClipView `json:"clip"`
}

// GetSession handles GET /session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// StartSession handles POST /session/start. The response carries the session
// snapshot; a request made while a session is active is ignored, not rejected.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.AcquireTimeout)
	defer cancel()

	if err := h.ctrl.StartSession(ctx); err != nil {
		switch {
		case errors.Is(err, ErrAcquire):
			h.log.Info("session start failed", slog.String("error", err.Error()))
			h.writeJSON(w, http.StatusServiceUnavailable, h.ctrl.Snapshot())
		case errors.Is(err, ErrClosed):
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			h.log.Error("session start failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// StopSession handles POST /session/stop. 201 when a clip was produced,
// 200 otherwise.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	clip, err := h.ctrl.StopSession(r.Context())
	if err != nil {
		h.log.Error("session stop failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	resp := stopResponse{Session: h.ctrl.Snapshot()}
	status := http.StatusOK
	if clip != nil {
		v := viewOf(*clip)
		resp.Clip = &v
		status = http.StatusCreated
	}
	h.writeJSON(w, status, resp)
}

// ListClips handles GET /clips.
func (h *Handler) ListClips(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, BuildListing(h.ctrl.Gallery().List()))
}

// UploadClips handles POST /clips with a multipart body whose "files" parts
// are video files. Any non-video part rejects the whole request with 415,
// mirroring an accept="video/*" file picker. An empty selection is a no-op.
func (h *Handler) UploadClips(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		h.log.Debug("invalid upload body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[uploadField]
	uploads := make([]Upload, 0, len(headers))
	for _, fh := range headers {
		mimeType := partType(fh)
		if !strings.HasPrefix(mimeType, "video/") {
			h.log.Info("upload rejected, not a video",
				slog.String("name", fh.Filename),
				slog.String("type", mimeType))
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		data, err := readPart(fh)
		if err != nil {
			h.log.Error("read upload failed", slog.String("name", fh.Filename), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		uploads = append(uploads, Upload{Name: fh.Filename, Type: mimeType, Data: data})
	}

	clips := h.ctrl.UploadClips(uploads)
	status := http.StatusCreated
	if len(clips) == 0 {
		status = http.StatusOK
	}
	h.writeJSON(w, status, BuildListing(clips))
}

// GetClipMedia handles GET /clips/{clip_id}/media, the playback handle for a clip.
func (h *Handler) GetClipMedia(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "clip_id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	clip, ok := h.ctrl.Gallery().Get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if clip.Type != "" {
		w.Header().Set("Content-Type", clip.Type)
	}
	http.ServeContent(w, r, clip.Name, clip.CreatedAt, clip.Open())
}

// RefreshGauges updates the phase and gallery gauges. It is meant to run
// before each metrics scrape.
func (h *Handler) RefreshGauges() {
	if h.metrics == nil {
		return
	}
	h.metrics.SetSessionPhase(int(h.ctrl.Snapshot().Phase))
	h.metrics.SetGalleryClips(h.ctrl.Gallery().Len())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}

// videoTypes maps video file extensions to MIME types. Go's built-in
// extension table has no video entries, so uploads sent without a usable
// Content-Type would otherwise depend on the host's mime.types.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".3gp":  "video/3gpp",
	".ogv":  "video/ogg",
}

// partType returns the media type of an uploaded part, falling back to the
// file extension when the client sent none or a generic one.
func partType(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "application/octet-stream" {
		return mt
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if vt, ok := videoTypes[ext]; ok {
		return vt
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	return ct
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
