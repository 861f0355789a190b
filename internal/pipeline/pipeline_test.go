package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"linkhoard/internal/config"
	"linkhoard/internal/models"
)

type memSaver struct {
	saved []models.Bookmark
}

func (m *memSaver) SaveBookmark(_ context.Context, b models.Bookmark) (models.Bookmark, error) {
	m.saved = append(m.saved, b)
	return b, nil
}

type staticQA struct{}

func (staticQA) Generate(_ context.Context, _, _ string) ([]models.QAPair, error) {
	return []models.QAPair{{Question: "q", Answer: "a"}}, nil
}

type staticEmbedder struct{}

func (staticEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	return []float64{0.1, 0.2}, nil
}

func TestProcessSavesBookmark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Hello</title></head><body>Some body text.</body></html>`))
	}))
	defer srv.Close()

	saver := &memSaver{}
	p := New(config.Config{}, saver, staticQA{}, staticEmbedder{}, nil)

	item := models.JobItem{ID: "item-1", JobID: "job-1", TargetURL: srv.URL}
	if err := p.Process(context.Background(), item); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(saver.saved) != 1 {
		t.Fatalf("saved %d bookmarks, want 1", len(saver.saved))
	}
	b := saver.saved[0]
	if b.Title != "Hello" {
		t.Fatalf("title = %q", b.Title)
	}
	if b.URL != srv.URL {
		t.Fatalf("url = %q", b.URL)
	}
	if len(b.QA) != 1 || len(b.Embedding) != 2 {
		t.Fatalf("qa/embedding not populated: %+v", b)
	}
}

func TestProcessFailsOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	saver := &memSaver{}
	p := New(config.Config{}, saver, nil, nil, nil)

	err := p.Process(context.Background(), models.JobItem{ID: "i", TargetURL: srv.URL})
	if err == nil {
		t.Fatalf("expected error for 404 page")
	}
	if len(saver.saved) != 0 {
		t.Fatalf("bookmark saved despite fetch failure")
	}
}

func TestProcessRejectsOversizedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		big := make([]byte, 2048)
		for i := range big {
			big[i] = 'x'
		}
		_, _ = w.Write(big)
	}))
	defer srv.Close()

	p := New(config.Config{FetchMaxBytes: 1024}, &memSaver{}, nil, nil, nil)
	err := p.Process(context.Background(), models.JobItem{ID: "i", TargetURL: srv.URL})
	if err == nil {
		t.Fatalf("expected error for oversized page")
	}
}
