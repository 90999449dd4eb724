package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/flattener/internal/providers"
)

func TestGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"points\":[]}"}}]}`))
	}))
	defer srv.Close()

	o := New(srv.URL+"/", "secret")
	reply, err := o.Generate(context.Background(), providers.Config{
		Model:  "qwen3-vl-plus",
		Prompt: "find corners",
		Image:  []byte{1, 2, 3},
		TopP:   0.1,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != `{"points":[]}` {
		t.Errorf("reply = %q", reply)
	}
	if got["model"] != "qwen3-vl-plus" || got["top_p"] != 0.1 {
		t.Errorf("unexpected request body: %v", got)
	}

	msgs := got["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].([]any)
	imagePart := content[0].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(imagePart, "data:image/jpeg;base64,") {
		t.Errorf("image url = %q", imagePart)
	}
}

func TestGenerateUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").Generate(context.Background(), providers.Config{})
	var se *providers.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if se.Status != http.StatusUnauthorized || se.Body != `{"error":"bad key"}` {
		t.Errorf("status=%d body=%q", se.Status, se.Body)
	}
	if !errors.Is(err, providers.ErrDetectionService) {
		t.Error("expected ErrDetectionService")
	}
}

func TestGenerateMissingKey(t *testing.T) {
	if _, err := New("", "").Generate(context.Background(), providers.Config{}); err == nil {
		t.Error("expected error without API key")
	}
}
