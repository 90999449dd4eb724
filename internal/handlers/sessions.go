package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/flattener/internal/editor"
	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"github.com/lehigh-university-libraries/flattener/internal/imageio"
	"github.com/lehigh-university-libraries/flattener/internal/models"
	"github.com/lehigh-university-libraries/flattener/internal/pipeline"
)

func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessionStore.List()
	sessionList := make([]models.SessionView, 0, len(sessions))
	for _, session := range sessions {
		sessionList = append(sessionList, session.View())
	}
	h.writeJSON(w, sessionList)
}

// HandleCreateSession accepts either a multipart "image" upload or a JSON
// body naming an image_url, and starts detection. auto=false stops the
// pipeline at Detected instead of rectifying.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var (
		data     []byte
		filename string
		auto     = r.URL.Query().Get("auto") != "false"
	)

	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var request struct {
			ImageURL string `json:"image_url"`
			Auto     *bool  `json:"auto"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&request); err != nil {
			h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		if request.ImageURL == "" {
			h.writeError(w, "image_url is required", http.StatusBadRequest)
			return
		}
		if request.Auto != nil {
			auto = *request.Auto
		}
		var err error
		data, err = h.downloadImageFromURL(r.Context(), request.ImageURL)
		if err != nil {
			h.writeError(w, "Failed to process image URL: "+err.Error(), http.StatusBadRequest)
			return
		}
		parts := strings.Split(request.ImageURL, "/")
		filename = parts[len(parts)-1]
	} else {
		var err error
		data, filename, err = h.readUpload(w, r)
		if err != nil {
			h.writeError(w, "Failed to read image: "+err.Error(), uploadStatus(err))
			return
		}
		if r.FormValue("auto") == "false" {
			auto = false
		}
	}
	if filename == "" {
		filename = "image.jpg"
	}

	img, format, err := imageio.DecodeBytes(data)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	baseFilename := strings.TrimSuffix(filename, filepath.Ext(filename))
	session := &models.DocumentSession{
		ID:        fmt.Sprintf("%s_%d", baseFilename, time.Now().UnixNano()),
		Filename:  filename,
		Provider:  h.config.Provider,
		Model:     h.config.Model,
		CreatedAt: time.Now(),
		Pipeline:  pipeline.NewSession(img, h.detector, h.rectifier),
	}
	h.sessionStore.Set(session.ID, session)

	b := img.Bounds()
	slog.Info("Session created", "session_id", session.ID, "format", format, "width", b.Dx(), "height", b.Dy())

	session.Pipeline.SetAutoRectify(auto)
	if err := session.Pipeline.Detect(h.ctx); err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSONStatus(w, http.StatusCreated, session.View())
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("wait") == "1" {
		session.Pipeline.Wait()
	}
	h.writeJSON(w, session.View())
}

func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	session.Pipeline.Cancel()
	h.sessionStore.Delete(session.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSessionDetect(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *models.DocumentSession) error {
		s.Pipeline.SetAutoRectify(r.URL.Query().Get("auto") != "false")
		return s.Pipeline.Detect(h.ctx)
	})
}

func (h *Handler) HandleSessionRectify(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *models.DocumentSession) error {
		return s.Pipeline.Rectify(h.ctx)
	})
}

// HandleSetCorners replaces all four corners. Points are Natural unless
// space is "normalized".
func (h *Handler) HandleSetCorners(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Corners [][]float64 `json:"corners"`
		Space   string      `json:"space"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(request.Corners) != 4 {
		h.writeError(w, "corners must hold four [x, y] pairs", http.StatusBadRequest)
		return
	}
	for _, c := range request.Corners {
		if len(c) != 2 {
			h.writeError(w, "corners must hold four [x, y] pairs", http.StatusBadRequest)
			return
		}
	}
	if request.Space != "" && request.Space != "natural" && request.Space != "normalized" {
		h.writeError(w, "Invalid space. Must be 'natural' or 'normalized'", http.StatusBadRequest)
		return
	}

	h.withSession(w, r, func(s *models.DocumentSession) error {
		bounds := s.Pipeline.Bounds()
		var q geometry.Quad[geometry.Natural]
		for i, c := range request.Corners {
			if request.Space == "normalized" {
				q[i] = geometry.FromDetector(geometry.Pt[geometry.Normalized](c[0], c[1]), bounds)
			} else {
				q[i] = geometry.Pt[geometry.Natural](c[0], c[1])
			}
		}
		return s.Pipeline.SetQuad(q)
	})
}

// HandleMoveCorner places one corner from a position on the rendered image.
func (h *Handler) HandleMoveCorner(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(r.PathValue("corner"))
	if err != nil {
		h.writeError(w, "Invalid corner index: "+r.PathValue("corner"), http.StatusBadRequest)
		return
	}
	var request struct {
		X             float64 `json:"x"`
		Y             float64 `json:"y"`
		DisplayWidth  float64 `json:"display_width"`
		DisplayHeight float64 `json:"display_height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	display := geometry.Ext[geometry.Display](request.DisplayWidth, request.DisplayHeight)
	if display.Empty() {
		h.writeError(w, "display_width and display_height must be positive", http.StatusBadRequest)
		return
	}

	h.withSession(w, r, func(s *models.DocumentSession) error {
		e := editor.New(s.Pipeline, display)
		_, err := e.Place(geometry.Corner(i), geometry.Pt[geometry.Display](request.X, request.Y))
		return err
	})
}

func (h *Handler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	var request struct {
		On bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	h.withSession(w, r, func(s *models.DocumentSession) error {
		s.Pipeline.SetCompare(request.On)
		return nil
	})
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *models.DocumentSession) error {
		_, err := s.Pipeline.Confirm()
		if err == nil {
			slog.Info("Session confirmed", "session_id", s.ID)
		}
		return err
	})
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *models.DocumentSession) error {
		s.Pipeline.Cancel()
		return nil
	})
}

// withSession runs fn against the addressed session and responds with the
// resulting view, or with the mapped status if fn fails. With wait=1 the
// response is held until background work finishes and reports its error.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(*models.DocumentSession) error) {
	session, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	if err := fn(session); err != nil {
		h.writeFailure(w, err)
		return
	}
	if r.URL.Query().Get("wait") == "1" {
		session.Pipeline.Wait()
		if err := session.Pipeline.Snapshot().Err; err != nil {
			h.writeFailure(w, err)
			return
		}
	}
	h.writeJSON(w, session.View())
}
