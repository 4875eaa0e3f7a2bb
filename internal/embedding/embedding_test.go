package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestAPIProviderEmbed(t *testing.T) {
	// go-openai posts to BaseURL+"/embeddings".
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test-model",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "test-model"})

	vectors, err := p.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vectors))
	}
	if len(vectors[0]) != 3 {
		t.Fatalf("got dimension %d, want 3", len(vectors[0]))
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestAPIProviderEmbed_Empty(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused", Model: "test-model", Dimension: 128})

	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
	if d := p.Dimension(); d != 128 {
		t.Errorf("got dimension %d, want configured default 128", d)
	}
}

func TestLocalProviderEmbed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req localRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(localResponse{Embedding: []float32{float32(len(req.Prompt)), 1}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "nomic"})
	vectors, err := p.Embed(context.Background(), []string{"a", "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 || vectors[1][0] != 3 {
		t.Errorf("got %v", vectors)
	}
}

type flakyProvider struct {
	fails int
	calls int
	dim   int
}

func (f *flakyProvider) Dimension() int { return f.dim }

func (f *flakyProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("timeout")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 1}
	}
	return out, nil
}

func TestEmbedder_EmptyTextIsZero(t *testing.T) {
	p := &flakyProvider{dim: 2}
	e := NewEmbedder(p, 3, 0, zap.NewNop())

	v := e.EmbedText(context.Background(), "  ")
	if len(v) != 2 || v[0] != 0 || v[1] != 0 {
		t.Errorf("got %v, want zero vector", v)
	}
	if p.calls != 0 {
		t.Errorf("provider should not be called for empty text, got %d calls", p.calls)
	}
}

func TestEmbedder_RetryThenZero(t *testing.T) {
	p := &flakyProvider{fails: 5, dim: 2}
	e := NewEmbedder(p, 3, 0, zap.NewNop())

	v := e.EmbedText(context.Background(), "hello")
	if len(v) != 2 || v[0] != 0 {
		t.Errorf("got %v, want zero vector", v)
	}
	if p.calls != 3 {
		t.Errorf("got %d calls, want 3", p.calls)
	}
}

func TestEmbedder_EmbedTextsKeepsPositions(t *testing.T) {
	p := &flakyProvider{fails: 1, dim: 2}
	e := NewEmbedder(p, 3, 0, zap.NewNop())

	vs := e.EmbedTexts(context.Background(), []string{"a", "", "b"})
	if len(vs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vs))
	}
	if vs[0][0] != 1 || vs[1][0] != 0 || vs[2][0] != 1 {
		t.Errorf("got %v", vs)
	}
}
