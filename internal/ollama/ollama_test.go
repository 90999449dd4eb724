package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lehigh-university-libraries/flattener/internal/providers"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Model  string   `json:"model"`
			Images []string `json:"images"`
			Format string   `json:"format"`
			Stream bool     `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "qwen2.5vl:7b" || len(body.Images) != 1 || body.Images[0] != "AQID" || body.Format != "json" || body.Stream {
			t.Errorf("unexpected request %+v", body)
		}
		_, _ = w.Write([]byte(`{"response":"{\"points\":[]}"}`))
	}))
	defer srv.Close()

	reply, err := New(srv.URL+"/").Generate(context.Background(), providers.Config{Model: DefaultModel, Image: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != `{"points":[]}` {
		t.Errorf("reply = %q", reply)
	}
}

func TestGenerateStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Generate(context.Background(), providers.Config{})
	var se *providers.ServiceError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Fatalf("expected 404 ServiceError, got %v", err)
	}
	if !errors.Is(err, providers.ErrDetectionService) {
		t.Error("expected ErrDetectionService")
	}
}
