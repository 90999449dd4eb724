package storage

import (
	"testing"
	"time"

	"github.com/lehigh-university-libraries/flattener/internal/models"
)

func TestSessionStore(t *testing.T) {
	s := New()
	now := time.Now()
	s.Set("b", &models.DocumentSession{ID: "b", CreatedAt: now})
	s.Set("a", &models.DocumentSession{ID: "a", CreatedAt: now.Add(-time.Minute)})
	s.Set("c", &models.DocumentSession{ID: "c", CreatedAt: now})

	if got, ok := s.Get("a"); !ok || got.ID != "a" {
		t.Fatalf("Get(a) = %v, %v", got, ok)
	}

	var ids []string
	for _, sess := range s.List() {
		ids = append(ids, sess.ID)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("List order = %v, want [a b c]", ids)
	}

	if !s.Delete("b") {
		t.Error("Delete(b) should report an existing session")
	}
	if s.Delete("b") {
		t.Error("second Delete(b) should report nothing removed")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}
