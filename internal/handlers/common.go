package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/flattener/internal/detection"
	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"github.com/lehigh-university-libraries/flattener/internal/imageio"
	"github.com/lehigh-university-libraries/flattener/internal/models"
	"github.com/lehigh-university-libraries/flattener/internal/pipeline"
	"github.com/lehigh-university-libraries/flattener/internal/rectify"
	"github.com/lehigh-university-libraries/flattener/internal/storage"
)

// MaxUploadSize bounds uploaded and downloaded images.
const MaxUploadSize = 20 << 20

type Handler struct {
	// ctx outlives individual requests; detection and rectification started
	// by a request keep running after the response is written.
	ctx          context.Context
	sessionStore *storage.SessionStore
	detector     detection.Detector
	rectifier    *rectify.Engine
	config       detection.Config
	httpClient   *http.Client
}

// New returns a handler whose background work is bound to ctx.
func New(ctx context.Context, d detection.Detector, cfg detection.Config) *Handler {
	return &Handler{
		ctx:          ctx,
		sessionStore: storage.New(),
		detector:     d,
		rectifier:    rectify.New(),
		config:       cfg,
		httpClient:   http.DefaultClient,
	}
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/detect", h.HandleDetect)
	mux.HandleFunc("GET /api/sessions", h.HandleListSessions)
	mux.HandleFunc("POST /api/sessions", h.HandleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", h.HandleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.HandleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/detect", h.HandleSessionDetect)
	mux.HandleFunc("POST /api/sessions/{id}/rectify", h.HandleSessionRectify)
	mux.HandleFunc("PUT /api/sessions/{id}/corners", h.HandleSetCorners)
	mux.HandleFunc("PUT /api/sessions/{id}/corners/{corner}", h.HandleMoveCorner)
	mux.HandleFunc("POST /api/sessions/{id}/compare", h.HandleCompare)
	mux.HandleFunc("GET /api/sessions/{id}/image", h.HandleImage)
	mux.HandleFunc("GET /api/sessions/{id}/overlay.png", h.HandleOverlay)
	mux.HandleFunc("POST /api/sessions/{id}/confirm", h.HandleConfirm)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", h.HandleCancel)
	mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	return mux
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	h.writeJSONStatus(w, http.StatusOK, data)
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message, "status", code)
	http.Error(w, message, code)
}

// writeFailure reports err with the status its kind maps to.
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	h.writeError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, imageio.ErrImageDecode), errors.Is(err, geometry.ErrCornerIndex):
		return http.StatusBadRequest
	case errors.Is(err, geometry.ErrInvalidDetectionFormat), errors.Is(err, detection.ErrDetectionService):
		return http.StatusBadGateway
	case errors.Is(err, geometry.ErrDegenerateGeometry):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrInvalidTransition):
		return http.StatusConflict
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// Session helpers
func (h *Handler) getSessionOrError(w http.ResponseWriter, r *http.Request) (*models.DocumentSession, bool) {
	session, exists := h.sessionStore.Get(r.PathValue("id"))
	if !exists {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

// readUpload returns the multipart "image" field.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", fmt.Errorf("read image field: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("read image contents: %w", err)
	}
	return data, header.Filename, nil
}

func (h *Handler) downloadImageFromURL(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(io.LimitReader(resp.Body, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if len(imageData) > MaxUploadSize {
		return nil, fmt.Errorf("image too large (max %dMB)", MaxUploadSize>>20)
	}
	return imageData, nil
}

func uploadStatus(err error) int {
	if code := statusFor(err); code == http.StatusRequestEntityTooLarge {
		return code
	}
	return http.StatusBadRequest
}
