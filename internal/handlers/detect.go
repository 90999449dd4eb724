package handlers

import (
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/flattener/internal/detection"
	"github.com/lehigh-university-libraries/flattener/internal/imageio"
)

// HandleDetect runs corner detection on an uploaded image and returns the
// corners on the detector's 0-1000 scale.
func (h *Handler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	data, _, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, "Failed to read image: "+err.Error(), uploadStatus(err))
		return
	}
	if len(data) == 0 {
		h.writeError(w, "image is required", http.StatusBadRequest)
		return
	}

	img, _, err := imageio.DecodeBytes(data)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	points, err := h.detector.Detect(r.Context(), img)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	slog.Info("Detected corners", "provider", h.config.Provider, "points", points)
	h.writeJSON(w, detection.NewPayload(points))
}
