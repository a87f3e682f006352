package agentloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/kavymi/meepo/internal/knowledge"
)

// buildKnowledgeContext runs the retrieval pipeline for query: keyword
// search via FTS5, vector search when an embedder is configured, fused by
// Reciprocal Rank Fusion, optionally expanded across the relationship
// graph, optionally passed through corrective assessment, and rendered
// under a "Relevant knowledge" heading. Returns "" when nothing relevant
// was found, so callers can skip appending an empty section.
func (l *Loop) buildKnowledgeContext(ctx context.Context, query string) string {
	limit := l.cfg.KnowledgeLimit
	if limit <= 0 {
		limit = 8
	}

	var keywordIDs []string
	if hits, err := l.store.FullTextSearch(ctx, query, limit); err != nil {
		l.logger.Debug("agentloop: full text search failed", "error", err)
	} else {
		for _, h := range hits {
			keywordIDs = append(keywordIDs, h.EntityID)
		}
	}

	var vectorHits []knowledge.VectorSearchResult
	if l.embedder != nil && l.vectors != nil {
		if vec, err := l.embedder.Embed(query); err != nil {
			l.logger.Debug("agentloop: query embedding failed", "error", err)
		} else {
			vectorHits = l.vectors.Search(vec, limit)
		}
	}

	rrfK := l.cfg.RRFK
	if rrfK <= 0 {
		rrfK = 60
	}
	fused := knowledge.HybridSearchRRF(keywordIDs, vectorHits, rrfK, limit)
	if len(fused) == 0 {
		return ""
	}

	body := ""
	if l.cfg.EnableGraphExpand {
		scored, err := knowledge.GraphExpand(ctx, l.store, fused, l.cfg.GraphRag)
		if err != nil {
			l.logger.Debug("agentloop: graph expand failed", "error", err)
		} else {
			body = knowledge.FormatGraphContext(scored, l.cfg.GraphRag)
		}
	}
	if body == "" {
		body = l.formatFusedEntities(ctx, fused)
	}
	if l.cfg.Corrective.Enabled {
		body = l.applyCorrective(ctx, query, body, fused)
	}
	if body == "" {
		return ""
	}
	return "## Relevant knowledge\n\n" + body
}

func (l *Loop) formatFusedEntities(ctx context.Context, fused []knowledge.HybridSearchResult) string {
	var b strings.Builder
	for _, f := range fused {
		e, err := l.store.GetEntity(ctx, f.EntityID)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- **%s** (%s)", e.Name, e.EntityType)
		if len(e.Metadata) > 0 {
			fmt.Fprintf(&b, ": %s", string(e.Metadata))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// applyCorrective runs the opt-in relevance-assessment pass over the
// fused entities and re-renders only the documents judged relevant or
// ambiguous. Falls back to the pre-correction rendering on any failure
// or if assessment leaves nothing behind, rather than returning no
// context at all.
func (l *Loop) applyCorrective(ctx context.Context, query, fallback string, fused []knowledge.HybridSearchResult) string {
	docs := make([]knowledge.RetrievedDocument, 0, len(fused))
	for _, f := range fused {
		e, err := l.store.GetEntity(ctx, f.EntityID)
		if err != nil {
			continue
		}
		content := fmt.Sprintf("%s (%s)", e.Name, e.EntityType)
		if len(e.Metadata) > 0 {
			content += ": " + string(e.Metadata)
		}
		docs = append(docs, knowledge.RetrievedDocument{Content: content, EntityID: f.EntityID})
	}
	if len(docs) == 0 {
		return fallback
	}

	result, err := knowledge.AssessAndCorrect(ctx, l.client, l.logger, query, docs, l.cfg.Corrective)
	if err != nil {
		l.logger.Warn("agentloop: corrective rag failed", "error", err)
		return fallback
	}

	var b strings.Builder
	for _, d := range result.Documents {
		if d.Relevance == knowledge.RelevanceIrrelevant {
			continue
		}
		b.WriteString("- ")
		b.WriteString(d.Content)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return fallback
	}
	return b.String()
}
