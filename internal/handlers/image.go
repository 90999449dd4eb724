package handlers

import (
	"image"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"github.com/lehigh-university-libraries/flattener/internal/imageio"
	"github.com/lehigh-university-libraries/flattener/internal/overlay"
)

// HandleImage serves the image currently on screen: the source while
// comparing or before any result, otherwise the last rectified output.
// compare=1 forces the source.
func (h *Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	format, err := imageio.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var img image.Image
	if r.URL.Query().Get("compare") == "1" {
		img = session.Pipeline.Source()
	} else {
		img = session.Pipeline.Displayed()
	}
	h.writeImage(w, img, format)
}

// HandleOverlay renders the corners over a preview sized width x height.
// Missing dimensions default to the natural size. Neither side may exceed
// overlay.MaxDimension.
func (h *Handler) HandleOverlay(w http.ResponseWriter, r *http.Request) {
	session, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	snap := session.Pipeline.Snapshot()
	display := geometry.Ext[geometry.Display](snap.Bounds.W, snap.Bounds.H)
	if v := r.URL.Query().Get("width"); v != "" {
		width, err := strconv.ParseFloat(v, 64)
		if err != nil || !(width > 0 && width <= overlay.MaxDimension) {
			h.writeError(w, "Invalid width: "+v, http.StatusBadRequest)
			return
		}
		display.W = width
	}
	if v := r.URL.Query().Get("height"); v != "" {
		height, err := strconv.ParseFloat(v, 64)
		if err != nil || !(height > 0 && height <= overlay.MaxDimension) {
			h.writeError(w, "Invalid height: "+v, http.StatusBadRequest)
			return
		}
		display.H = height
	}
	// An unset side falls back to the natural size, which may be larger.
	display = overlay.Bound(display)
	active := geometry.Corner(-1)
	if v := r.URL.Query().Get("active"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || !geometry.Corner(i).Valid() {
			h.writeError(w, "Invalid active corner: "+v, http.StatusBadRequest)
			return
		}
		active = geometry.Corner(i)
	}

	img := overlay.Render(session.Pipeline.Source(), snap.Quad, display, active, overlay.DefaultStyle)
	h.writeImage(w, img, imageio.PNG)
}

func (h *Handler) writeImage(w http.ResponseWriter, img image.Image, format imageio.Format) {
	data, err := imageio.EncodeBytes(img, format, imageio.DefaultJPEGQuality)
	if err != nil {
		h.writeError(w, "Failed to encode image: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		slog.Error("Unable to write image", "err", err)
	}
}
