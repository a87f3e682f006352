package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kavymi/meepo/internal/modelclient"
)

// CorrectiveRagConfig controls the opt-in retrieval-validation loop: after
// retrieving context, assess whether it's actually relevant to the query
// and, if not, refine the query once. Disabled by default since it costs an
// extra model call per retrieval.
type CorrectiveRagConfig struct {
	Enabled             bool
	MaxRounds           int
	RelevanceThreshold  float32
}

// DefaultCorrectiveRagConfig: disabled, at most two rounds, refine when
// fewer than half the documents are relevant.
func DefaultCorrectiveRagConfig() CorrectiveRagConfig {
	return CorrectiveRagConfig{
		Enabled:            false,
		MaxRounds:          2,
		RelevanceThreshold: 0.5,
	}
}

// Relevance is the assessed relevance of one retrieved document to a query.
type Relevance int

const (
	RelevanceAmbiguous Relevance = iota
	RelevanceRelevant
	RelevanceIrrelevant
)

func (r Relevance) String() string {
	switch r {
	case RelevanceRelevant:
		return "RELEVANT"
	case RelevanceIrrelevant:
		return "IRRELEVANT"
	default:
		return "AMBIGUOUS"
	}
}

// RetrievedDocument is one piece of retrieved context before assessment.
type RetrievedDocument struct {
	Content  string
	EntityID string // empty if not entity-backed
}

// AssessedDocument is a retrieved document with its relevance assessment.
type AssessedDocument struct {
	Content   string
	EntityID  string
	Relevance Relevance
}

// CorrectionResult is the outcome of one corrective RAG cycle.
type CorrectionResult struct {
	Documents    []AssessedDocument
	RefinedQuery string // empty if the query wasn't rewritten
	Rounds       int
	Success      bool
}

// AssessAndCorrect evaluates whether documents are relevant to
// originalQuery, using client to judge relevance. When disabled or given no
// documents, it passes every document through marked Relevant. Otherwise it
// assesses each document, and if too few are relevant, refines the query
// once and drops documents judged Irrelevant.
func AssessAndCorrect(ctx context.Context, client modelclient.Client, logger *slog.Logger, originalQuery string, documents []RetrievedDocument, cfg CorrectiveRagConfig) (CorrectionResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled || len(documents) == 0 {
		out := make([]AssessedDocument, len(documents))
		for i, d := range documents {
			out[i] = AssessedDocument{Content: d.Content, EntityID: d.EntityID, Relevance: RelevanceRelevant}
		}
		return CorrectionResult{Documents: out, Rounds: 0, Success: true}, nil
	}

	assessed, err := assessRelevance(ctx, client, originalQuery, documents)
	if err != nil {
		return CorrectionResult{}, err
	}

	relevantCount := 0
	for _, d := range assessed {
		if d.Relevance == RelevanceRelevant {
			relevantCount++
		}
	}
	total := len(assessed)
	var relevantRatio float32
	if total > 0 {
		relevantRatio = float32(relevantCount) / float32(total)
	}
	logger.Debug("knowledge: corrective rag relevance", "relevant", relevantCount, "total", total)

	if relevantRatio >= cfg.RelevanceThreshold {
		return CorrectionResult{Documents: assessed, Rounds: 1, Success: true}, nil
	}

	logger.Info("knowledge: low relevance, refining query", "ratio_pct", int(relevantRatio*100))
	refined, err := refineQuery(ctx, client, originalQuery, assessed)
	if err != nil {
		return CorrectionResult{}, err
	}

	kept := make([]AssessedDocument, 0, len(assessed))
	for _, d := range assessed {
		if d.Relevance != RelevanceIrrelevant {
			kept = append(kept, d)
		}
	}

	return CorrectionResult{
		Documents:    kept,
		RefinedQuery: refined,
		Rounds:       1,
		Success:      relevantCount > 0,
	}, nil
}

func textContent(resp modelclient.Response) string {
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// assessRelevance asks the model to judge each document's relevance to
// query, parsing one "N: ASSESSMENT" line per document. Documents the model
// doesn't address default to Ambiguous.
func assessRelevance(ctx context.Context, client modelclient.Client, query string, documents []RetrievedDocument) ([]AssessedDocument, error) {
	var docList strings.Builder
	for i, d := range documents {
		fmt.Fprintf(&docList, "[DOC %d]: %s\n\n", i+1, truncateRunes(d.Content, 300))
	}

	prompt := fmt.Sprintf(
		"Assess the relevance of each document to the query.\n"+
			"For each document, respond with its number and one of: RELEVANT, AMBIGUOUS, IRRELEVANT\n"+
			"Format: one assessment per line, e.g. \"1: RELEVANT\"\n\n"+
			"Query: %s\n\nDocuments:\n%s", query, docList.String())

	resp, err := client.Complete(ctx, modelclient.Request{
		System: "You are a relevance assessor. Be strict — only mark documents as RELEVANT if they directly help answer the query.",
		Messages: []modelclient.Message{
			{Role: "user", Content: []modelclient.ContentBlock{{Type: "text", Text: prompt}}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: assess relevance: %w", err)
	}

	assessed := make([]AssessedDocument, len(documents))
	for i, d := range documents {
		assessed[i] = AssessedDocument{Content: d.Content, EntityID: d.EntityID, Relevance: RelevanceAmbiguous}
	}

	for _, line := range strings.Split(textContent(resp), "\n") {
		line = strings.TrimSpace(line)
		numStr, assessment, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		numStr = strings.TrimSpace(numStr)
		numStr = strings.TrimPrefix(numStr, "[")
		numStr = strings.TrimPrefix(numStr, "DOC ")
		idx, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		idx--
		if idx < 0 || idx >= len(assessed) {
			continue
		}
		upper := strings.ToUpper(strings.TrimSpace(assessment))
		switch {
		case strings.Contains(upper, "RELEVANT") && !strings.Contains(upper, "IRRELEVANT"):
			assessed[idx].Relevance = RelevanceRelevant
		case strings.Contains(upper, "IRRELEVANT"):
			assessed[idx].Relevance = RelevanceIrrelevant
		default:
			assessed[idx].Relevance = RelevanceAmbiguous
		}
	}

	return assessed, nil
}

// refineQuery rewrites originalQuery based on which documents were relevant
// versus irrelevant, asking the model for a single more-specific query.
func refineQuery(ctx context.Context, client modelclient.Client, originalQuery string, assessed []AssessedDocument) (string, error) {
	var relevantSnippets, irrelevantSnippets []string
	for _, d := range assessed {
		switch d.Relevance {
		case RelevanceRelevant, RelevanceAmbiguous:
			relevantSnippets = append(relevantSnippets, truncateRunes(d.Content, 200))
		case RelevanceIrrelevant:
			irrelevantSnippets = append(irrelevantSnippets, truncateRunes(d.Content, 100))
		}
	}

	prompt := fmt.Sprintf(
		"The original query didn't retrieve good results. Rewrite it to be more specific.\n\n"+
			"Original query: %s\n\n"+
			"Partially relevant results (keep these topics):\n%s\n\n"+
			"Irrelevant results (avoid these topics):\n%s\n\n"+
			"Rewrite the query to get better results. Output ONLY the refined query, nothing else.",
		originalQuery, strings.Join(relevantSnippets, "\n"), strings.Join(irrelevantSnippets, "\n"))

	resp, err := client.Complete(ctx, modelclient.Request{
		System: "You are a query refinement expert. Output only the refined query.",
		Messages: []modelclient.Message{
			{Role: "user", Content: []modelclient.ContentBlock{{Type: "text", Text: prompt}}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("knowledge: refine query: %w", err)
	}
	return strings.TrimSpace(textContent(resp)), nil
}
