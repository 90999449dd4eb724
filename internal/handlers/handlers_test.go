package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/flattener/internal/detection"
	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"github.com/lehigh-university-libraries/flattener/internal/imageio"
	"github.com/lehigh-university-libraries/flattener/internal/models"
	"github.com/lehigh-university-libraries/flattener/internal/providers"
)

type fakeDetector struct {
	points []geometry.Point[geometry.Normalized]
	err    error
}

func (f fakeDetector) Detect(context.Context, image.Image) ([]geometry.Point[geometry.Normalized], error) {
	return f.points, f.err
}

func (f fakeDetector) DetectEncoded(context.Context, []byte, string) ([]geometry.Point[geometry.Normalized], error) {
	return f.points, f.err
}

var square = []geometry.Point[geometry.Normalized]{{X: 100, Y: 100}, {X: 900, Y: 100}, {X: 900, Y: 900}, {X: 100, Y: 900}}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	data, err := imageio.EncodeBytes(img, imageio.PNG, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func newHandler(d detection.Detector) *Handler {
	return New(context.Background(), d, detection.Config{Provider: "fake", Model: "test"})
}

func upload(t *testing.T, target string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "page.png")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeView(t *testing.T, rr *httptest.ResponseRecorder) models.SessionView {
	t.Helper()
	var v models.SessionView
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode view: %v (%s)", err, rr.Body.String())
	}
	return v
}

// createSession uploads the test image and waits for the pipeline to settle.
func createSession(t *testing.T, h *Handler, query string) models.SessionView {
	t.Helper()
	rr := serve(h, upload(t, "/api/sessions"+query, testPNG(t)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rr.Code, rr.Body.String())
	}
	v := decodeView(t, rr)
	s, ok := h.sessionStore.Get(v.ID)
	if !ok {
		t.Fatalf("session %s not stored", v.ID)
	}
	s.Pipeline.Wait()
	return s.View()
}

func TestHealthcheck(t *testing.T) {
	rr := serve(newHandler(fakeDetector{}), httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Errorf("healthcheck = %d %q", rr.Code, rr.Body.String())
	}
}

func TestHandleDetect(t *testing.T) {
	tests := []struct {
		name     string
		detector fakeDetector
		body     []byte
		want     int
	}{
		{"ok", fakeDetector{points: square}, nil, http.StatusOK},
		{"not an image", fakeDetector{points: square}, []byte("definitely not pixels"), http.StatusBadRequest},
		{"bad reply", fakeDetector{err: fmt.Errorf("%w: missing corners", geometry.ErrInvalidDetectionFormat)}, nil, http.StatusBadGateway},
		{"upstream", fakeDetector{err: &providers.ServiceError{Provider: "fake", Status: 500, Body: "boom"}}, nil, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if body == nil {
				body = testPNG(t)
			}
			rr := serve(newHandler(tt.detector), upload(t, "/api/detect", body))
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			var p detection.Payload
			if err := json.NewDecoder(rr.Body).Decode(&p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(p.TopLeft) != 2 || p.TopLeft[0] != 100 || p.BottomRight[1] != 900 {
				t.Errorf("unexpected payload %+v", p)
			}
		})
	}
}

func TestHandleDetectMissingImage(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/detect", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	if rr := serve(newHandler(fakeDetector{}), req); rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestCreateSessionDetectsAndRectifies(t *testing.T) {
	h := newHandler(fakeDetector{points: square})
	v := createSession(t, h, "")

	if v.State != "rectified" {
		t.Fatalf("state = %s (%s)", v.State, v.Error)
	}
	if v.Natural.W != 200 || v.Natural.H != 100 {
		t.Errorf("natural = %+v", v.Natural)
	}
	if len(v.Corners) != 4 || v.Corners[0] != geometry.Pt[geometry.Natural](20, 10) {
		t.Errorf("corners = %+v", v.Corners)
	}
	if v.Result == nil || v.Result.Width != 160 || v.Result.Height != 80 {
		t.Errorf("result = %+v", v.Result)
	}

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	var list []models.SessionView
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil || len(list) != 1 || list[0].ID != v.ID {
		t.Errorf("list = %+v, err %v", list, err)
	}
}

func TestCreateSessionFailedDetection(t *testing.T) {
	h := newHandler(fakeDetector{err: &providers.ServiceError{Provider: "fake", Status: 401, Body: "no key"}})
	v := createSession(t, h, "")
	if v.State != "failed" || !strings.Contains(v.Error, "401") {
		t.Errorf("state = %s error = %q", v.State, v.Error)
	}
	if len(v.Corners) != 0 {
		t.Errorf("failed session has corners %+v", v.Corners)
	}
}

func TestCreateSessionFromURL(t *testing.T) {
	data := testPNG(t)
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer src.Close()

	h := newHandler(fakeDetector{points: square})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{"image_url":"`+src.URL+`/scan.png","auto":false}`))
	req.Header.Set("Content-Type", "application/json")
	rr := serve(h, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	v := decodeView(t, rr)
	if v.State != "idle" || v.Filename != "scan.png" {
		t.Errorf("state = %s filename = %s", v.State, v.Filename)
	}
}

func TestMoveCorner(t *testing.T) {
	h := newHandler(fakeDetector{points: square})
	v := createSession(t, h, "")

	body := `{"x":50,"y":25,"display_width":100,"display_height":50}`
	rr := serve(h, httptest.NewRequest(http.MethodPut, "/api/sessions/"+v.ID+"/corners/0", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	got := decodeView(t, rr)
	if got.Corners[0] != geometry.Pt[geometry.Natural](100, 50) {
		t.Errorf("top left = %+v, want (100,50)", got.Corners[0])
	}
	if got.State != "dirty" {
		t.Errorf("state = %s, want dirty", got.State)
	}

	tests := []struct {
		name, path, body string
		want             int
	}{
		{"index out of range", "/corners/7", body, http.StatusBadRequest},
		{"index not a number", "/corners/tl", body, http.StatusBadRequest},
		{"bad json", "/corners/1", "{", http.StatusBadRequest},
		{"missing display size", "/corners/2", `{"x":50,"y":40}`, http.StatusBadRequest},
		{"zero display width", "/corners/2", `{"x":50,"y":40,"display_width":0,"display_height":50}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, httptest.NewRequest(http.MethodPut, "/api/sessions/"+v.ID+tt.path, strings.NewReader(tt.body)))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}

	s, _ := h.sessionStore.Get(v.ID)
	if got := s.Pipeline.Quad()[geometry.BottomRight]; got != geometry.Pt[geometry.Natural](180, 90) {
		t.Errorf("rejected moves changed bottom right to %+v", got)
	}
}

func TestDetectAutoFlag(t *testing.T) {
	h := newHandler(fakeDetector{points: square})
	v := createSession(t, h, "?auto=false")
	if v.State != "detected" || len(v.Corners) != 4 {
		t.Fatalf("create with auto=false: state = %s corners = %v", v.State, v.Corners)
	}
	path := "/api/sessions/" + v.ID + "/detect"

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"detect only", "?auto=false&wait=1", "detected"},
		{"default rectifies", "?wait=1", "rectified"},
		{"detect only again", "?auto=false&wait=1", "detected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, httptest.NewRequest(http.MethodPost, path+tt.query, nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
			}
			if got := decodeView(t, rr); got.State != tt.want {
				t.Errorf("state = %s, want %s", got.State, tt.want)
			}
		})
	}
}

func TestRectifyDegenerate(t *testing.T) {
	h := newHandler(fakeDetector{points: square})
	v := createSession(t, h, "?auto=false")

	body := `{"corners":[[10,10],[10,10],[150,90],[20,90]]}`
	rr := serve(h, httptest.NewRequest(http.MethodPut, "/api/sessions/"+v.ID+"/corners", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("set corners status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = serve(h, httptest.NewRequest(http.MethodPost, "/api/sessions/"+v.ID+"/rectify?wait=1", nil))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422: %s", rr.Code, rr.Body.String())
	}

	s, _ := h.sessionStore.Get(v.ID)
	if q := s.Pipeline.Quad(); q[1] != geometry.Pt[geometry.Natural](10, 10) {
		t.Errorf("corners changed after failed rectify: %+v", q)
	}
}

func TestSetCornersNormalized(t *testing.T) {
	h := newHandler(fakeDetector{points: square})
	v := createSession(t, h, "?auto=false")

	body := `{"space":"normalized","corners":[[0,0],[500,0],[500,1000],[0,1000]]}`
	serve(h, httptest.NewRequest(http.MethodPut, "/api/sessions/"+v.ID+"/corners", strings.NewReader(body)))
	rr := serve(h, httptest.NewRequest(http.MethodPost, "/api/sessions/"+v.ID+"/rectify?wait=1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	got := decodeView(t, rr)
	if got.State != "rectified" || got.Result.Width != 100 || got.Result.Height != 100 {
		t.Errorf("state = %s result = %+v", got.State, got.Result)
	}

	bad := `{"space":"polar","corners":[[0,0],[1,0],[1,1],[0,1]]}`
	if rr := serve(h, httptest.NewRequest(http.MethodPut, "/api/sessions/"+v.ID+"/corners", strings.NewReader(bad))); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown space status = %d", rr.Code)
	}
}

func TestImages(t *testing.T) {
	h := newHandler(fakeDetector{points: square})
	v := createSession(t, h, "")

	tests := []struct {
		name          string
		path          string
		contentType   string
		width, height int
	}{
		{"result", "/image", "image/jpeg", 160, 80},
		{"compare", "/image?compare=1&format=png", "image/png", 200, 100},
		{"overlay", "/overlay.png?width=100&height=50&active=2", "image/png", 100, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/sessions/"+v.ID+tt.path, nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
			}
			if ct := rr.Header().Get("Content-Type"); ct != tt.contentType {
				t.Errorf("content type = %s, want %s", ct, tt.contentType)
			}
			img, _, err := imageio.DecodeBytes(rr.Body.Bytes())
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tt.width || b.Dy() != tt.height {
				t.Errorf("size = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.width, tt.height)
			}
		})
	}

	for _, q := range []string{"width=-3", "width=100000000&height=100000000", "height=NaN"} {
		if rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/sessions/"+v.ID+"/overlay.png?"+q, nil)); rr.Code != http.StatusBadRequest {
			t.Errorf("overlay %s status = %d, want 400", q, rr.Code)
		}
	}
	if rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/sessions/"+v.ID+"/image?format=gif", nil)); rr.Code != http.StatusBadRequest {
		t.Errorf("gif output status = %d", rr.Code)
	}
}

func TestCompareShowsSource(t *testing.T) {
	h := newHandler(fakeDetector{points: square})
	v := createSession(t, h, "")

	rr := serve(h, httptest.NewRequest(http.MethodPost, "/api/sessions/"+v.ID+"/compare", strings.NewReader(`{"on":true}`)))
	if got := decodeView(t, rr); !got.Comparing || got.State != "rectified" {
		t.Errorf("comparing = %v state = %s", got.Comparing, got.State)
	}
	rr = serve(h, httptest.NewRequest(http.MethodGet, "/api/sessions/"+v.ID+"/image?format=png", nil))
	img, _, err := imageio.DecodeBytes(rr.Body.Bytes())
	if err != nil || img.Bounds().Dx() != 200 {
		t.Errorf("expected source while comparing, got %v (err %v)", img.Bounds(), err)
	}
}

func TestConfirmAndDelete(t *testing.T) {
	h := newHandler(fakeDetector{points: square})
	v := createSession(t, h, "")
	path := "/api/sessions/" + v.ID

	rr := serve(h, httptest.NewRequest(http.MethodPost, path+"/confirm", nil))
	if got := decodeView(t, rr); got.State != "done" {
		t.Errorf("state = %s, want done", got.State)
	}
	if rr := serve(h, httptest.NewRequest(http.MethodPost, path+"/confirm", nil)); rr.Code != http.StatusConflict {
		t.Errorf("second confirm status = %d, want 409", rr.Code)
	}

	if rr := serve(h, httptest.NewRequest(http.MethodDelete, path, nil)); rr.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rr.Code)
	}
	if rr := serve(h, httptest.NewRequest(http.MethodGet, path, nil)); rr.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", imageio.ErrImageDecode), http.StatusBadRequest},
		{geometry.ErrInvalidDetectionFormat, http.StatusBadGateway},
		{&providers.ServiceError{Status: 503}, http.StatusBadGateway},
		{geometry.ErrDegenerateGeometry, http.StatusUnprocessableEntity},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
