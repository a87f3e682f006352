package knowledge

import (
	"strings"
	"testing"
)

func TestChunkTextShortPassesThrough(t *testing.T) {
	chunks := ChunkText("hello world", DefaultChunkConfig())
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != "hello world" {
		t.Fatalf("unexpected content: %q", chunks[0].Content)
	}
	if chunks[0].TotalChunks != 1 {
		t.Fatalf("expected total_chunks 1, got %d", chunks[0].TotalChunks)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	if chunks := ChunkText("", DefaultChunkConfig()); chunks != nil {
		t.Fatalf("expected nil chunks for empty text, got %v", chunks)
	}
}

func TestChunkTextSplitsLongDocument(t *testing.T) {
	paragraph := strings.Repeat("word ", 40) + "\n\n"
	text := strings.Repeat(paragraph, 20)
	cfg := DefaultChunkConfig()

	chunks := ChunkText(text, cfg)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.TotalChunks != len(chunks) {
			t.Fatalf("chunk %d has total_chunks %d, want %d", i, c.TotalChunks, len(chunks))
		}
	}
}

func TestDetectContentType(t *testing.T) {
	cases := map[string]string{
		"notes.md":   "text/markdown",
		"readme.txt": "text/plain",
		"main.rs":    "text/x-rust",
		"script.py":  "text/x-python",
		"app.ts":     "text/javascript",
		"data.json":  "application/json",
		"config.toml": "application/toml",
		"doc.yaml":   "application/yaml",
		"page.html":  "text/html",
		"table.csv":  "text/csv",
		"unknown.xyz": "text/plain",
	}
	for path, want := range cases {
		if got := DetectContentType(path); got != want {
			t.Errorf("DetectContentType(%q) = %q, want %q", path, got, want)
		}
	}
}
