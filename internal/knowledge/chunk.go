package knowledge

import (
	"strings"
)

// ChunkConfig controls how chunk_text splits a document.
type ChunkConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// DefaultChunkConfig: 1000-char target chunks with 200-char overlap,
// splitting on paragraph breaks first and falling back to progressively
// finer punctuation.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Separators:   []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " "},
	}
}

// DocumentChunk is one piece of a split document, with its position in the
// original text.
type DocumentChunk struct {
	Content     string
	ChunkIndex  int
	StartOffset int
	EndOffset   int
	TotalChunks int
}

// DocumentMetadata describes an ingested document.
type DocumentMetadata struct {
	SourcePath  string
	Title       string
	ContentType string
	TotalChars  int
	ChunkCount  int
}

// ChunkText splits text into overlapping chunks using recursive
// separator-priority splitting: try the highest-priority separator that
// keeps pieces near chunk_size, then overlap consecutive pieces.
func ChunkText(text string, cfg ChunkConfig) []DocumentChunk {
	if text == "" {
		return nil
	}
	if len(text) <= cfg.ChunkSize {
		return []DocumentChunk{{
			Content:     text,
			ChunkIndex:  0,
			StartOffset: 0,
			EndOffset:   len(text),
			TotalChunks: 1,
		}}
	}

	raw := recursiveSplit(text, cfg.Separators, cfg.ChunkSize)
	merged := mergeWithOverlap(raw, cfg.ChunkSize, cfg.ChunkOverlap)

	total := len(merged)
	chunks := make([]DocumentChunk, 0, total)
	offset := 0
	for i, c := range merged {
		start := 0
		if i != 0 {
			head := c
			if len(head) > 50 {
				head = head[:50]
			}
			if pos := strings.Index(text[offset:], head); pos >= 0 {
				start = offset + pos
			} else {
				start = offset
			}
		}
		end := start + len(c)
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, DocumentChunk{
			Content:     c,
			ChunkIndex:  i,
			StartOffset: start,
			EndOffset:   end,
			TotalChunks: total,
		})
		overlap := cfg.ChunkOverlap
		if overlap > len(c) {
			overlap = len(c)
		}
		offset = start + (len(c) - overlap)
	}
	return chunks
}

// recursiveSplit splits text on the first separator, recursing into any
// resulting piece still over chunk_size with the remaining separators.
func recursiveSplit(text string, separators []string, chunkSize int) []string {
	if len(text) <= chunkSize || len(separators) == 0 {
		return []string{text}
	}

	sep := separators[0]
	rest := separators[1:]
	splits := strings.Split(text, sep)

	var result []string
	var current strings.Builder

	for i, s := range splits {
		withSep := s
		if i < len(splits)-1 {
			withSep = s + sep
		}
		if current.Len()+len(withSep) > chunkSize && current.Len() > 0 {
			piece := current.String()
			if len(piece) > chunkSize {
				result = append(result, recursiveSplit(piece, rest, chunkSize)...)
			} else {
				result = append(result, piece)
			}
			current.Reset()
		}
		current.WriteString(withSep)
	}
	if current.Len() > 0 {
		piece := current.String()
		if len(piece) > chunkSize {
			result = append(result, recursiveSplit(piece, rest, chunkSize)...)
		} else {
			result = append(result, piece)
		}
	}
	return result
}

// mergeWithOverlap prepends the tail of each preceding chunk to the next,
// so adjacent chunks share chunk_overlap characters of context.
func mergeWithOverlap(chunks []string, maxSize, overlap int) []string {
	if len(chunks) <= 1 {
		return chunks
	}

	result := make([]string, 0, len(chunks))
	for i, c := range chunks {
		if i == 0 {
			result = append(result, c)
			continue
		}
		prev := chunks[i-1]
		overlapText := prev
		if len(prev) > overlap {
			overlapText = prev[len(prev)-overlap:]
		}
		merged := overlapText + c
		if len(merged) <= maxSize+overlap {
			result = append(result, merged)
			continue
		}
		half := overlap / 2
		truncated := overlapText
		if len(overlapText) > half {
			truncated = overlapText[len(overlapText)-half:]
		}
		result = append(result, truncated+c)
	}
	return result
}

// DetectContentType maps a file extension to a MIME type, defaulting to
// text/plain for anything unrecognized.
func DetectContentType(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".md"), strings.HasSuffix(lower, ".markdown"):
		return "text/markdown"
	case strings.HasSuffix(lower, ".txt"):
		return "text/plain"
	case strings.HasSuffix(lower, ".rs"):
		return "text/x-rust"
	case strings.HasSuffix(lower, ".py"):
		return "text/x-python"
	case strings.HasSuffix(lower, ".js"), strings.HasSuffix(lower, ".ts"):
		return "text/javascript"
	case strings.HasSuffix(lower, ".json"):
		return "application/json"
	case strings.HasSuffix(lower, ".toml"):
		return "application/toml"
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return "application/yaml"
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		return "text/html"
	case strings.HasSuffix(lower, ".csv"):
		return "text/csv"
	default:
		return "text/plain"
	}
}
