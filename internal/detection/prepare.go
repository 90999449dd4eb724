package detection

import (
	"image"
	"math"

	"github.com/lehigh-university-libraries/flattener/internal/imageio"
	"golang.org/x/image/draw"
)

// DefaultMaxDimension bounds the longer side of the image sent upstream.
const DefaultMaxDimension = 1280

// UploadJPEGQuality is the JPEG quality used for detector uploads.
const UploadJPEGQuality = 85

// Downscale returns img shrunk so that neither side exceeds maxDim. Images
// already within bounds, or a non-positive maxDim, are returned unchanged.
// Normalized detector coordinates are resolution independent, so the
// reduced image needs no correction afterwards.
func Downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	scale := float64(maxDim) / float64(max(w, h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// PrepareImage downsizes img and encodes it as JPEG for upload.
func PrepareImage(img image.Image, maxDim int) ([]byte, error) {
	return imageio.EncodeBytes(Downscale(img, maxDim), imageio.JPEG, UploadJPEGQuality)
}
