package knowledge

import (
	"context"
	"testing"

	"github.com/kavymi/meepo/internal/modelclient"
)

type stubModelClient struct {
	response modelclient.Response
}

func (c *stubModelClient) Complete(context.Context, modelclient.Request) (modelclient.Response, error) {
	return c.response, nil
}

func TestDefaultCorrectiveRagConfig(t *testing.T) {
	cfg := DefaultCorrectiveRagConfig()
	if cfg.Enabled {
		t.Fatalf("expected corrective rag disabled by default")
	}
	if cfg.MaxRounds != 2 {
		t.Fatalf("expected max rounds 2, got %d", cfg.MaxRounds)
	}
}

func TestAssessAndCorrectDisabledPassthrough(t *testing.T) {
	cfg := DefaultCorrectiveRagConfig()
	docs := []RetrievedDocument{
		{Content: "Some content", EntityID: "id1"},
		{Content: "More content"},
	}

	result, err := AssessAndCorrect(context.Background(), &stubModelClient{}, nil, "test query", docs, cfg)
	if err != nil {
		t.Fatalf("AssessAndCorrect() error = %v", err)
	}
	if len(result.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(result.Documents))
	}
	if result.Rounds != 0 || !result.Success || result.RefinedQuery != "" {
		t.Fatalf("unexpected passthrough result: %+v", result)
	}
	for _, d := range result.Documents {
		if d.Relevance != RelevanceRelevant {
			t.Fatalf("expected passthrough documents marked relevant, got %v", d.Relevance)
		}
	}
}

func TestAssessAndCorrectEmptyDocuments(t *testing.T) {
	cfg := CorrectiveRagConfig{Enabled: true, MaxRounds: 2, RelevanceThreshold: 0.5}
	result, err := AssessAndCorrect(context.Background(), &stubModelClient{}, nil, "test query", nil, cfg)
	if err != nil {
		t.Fatalf("AssessAndCorrect() error = %v", err)
	}
	if len(result.Documents) != 0 || !result.Success {
		t.Fatalf("unexpected result for empty documents: %+v", result)
	}
}

func TestAssessAndCorrectAcceptsEnoughRelevantDocuments(t *testing.T) {
	cfg := CorrectiveRagConfig{Enabled: true, MaxRounds: 2, RelevanceThreshold: 0.5}
	client := &stubModelClient{response: modelclient.Response{
		Content: []modelclient.ContentBlock{{Type: "text", Text: "1: RELEVANT\n2: RELEVANT\n"}},
	}}
	docs := []RetrievedDocument{
		{Content: "doc one", EntityID: "e1"},
		{Content: "doc two", EntityID: "e2"},
	}

	result, err := AssessAndCorrect(context.Background(), client, nil, "query", docs, cfg)
	if err != nil {
		t.Fatalf("AssessAndCorrect() error = %v", err)
	}
	if !result.Success || result.RefinedQuery != "" {
		t.Fatalf("expected success without refinement, got %+v", result)
	}
	if len(result.Documents) != 2 {
		t.Fatalf("expected both documents kept, got %d", len(result.Documents))
	}
}

func TestAssessAndCorrectRefinesOnLowRelevance(t *testing.T) {
	cfg := CorrectiveRagConfig{Enabled: true, MaxRounds: 2, RelevanceThreshold: 0.9}
	calls := 0
	client := &fakeSequenceClient{
		responses: []modelclient.Response{
			{Content: []modelclient.ContentBlock{{Type: "text", Text: "1: IRRELEVANT\n2: RELEVANT\n"}}},
			{Content: []modelclient.ContentBlock{{Type: "text", Text: "refined query text"}}},
		},
		calls: &calls,
	}
	docs := []RetrievedDocument{
		{Content: "off topic", EntityID: "e1"},
		{Content: "on topic", EntityID: "e2"},
	}

	result, err := AssessAndCorrect(context.Background(), client, nil, "query", docs, cfg)
	if err != nil {
		t.Fatalf("AssessAndCorrect() error = %v", err)
	}
	if result.RefinedQuery != "refined query text" {
		t.Fatalf("expected refined query, got %q", result.RefinedQuery)
	}
	if len(result.Documents) != 1 || result.Documents[0].EntityID != "e2" {
		t.Fatalf("expected only the relevant document kept, got %+v", result.Documents)
	}
	if !result.Success {
		t.Fatalf("expected success since at least one document was relevant")
	}
}

type fakeSequenceClient struct {
	responses []modelclient.Response
	calls     *int
}

func (c *fakeSequenceClient) Complete(context.Context, modelclient.Request) (modelclient.Response, error) {
	i := *c.calls
	*c.calls++
	if i >= len(c.responses) {
		return modelclient.Response{}, nil
	}
	return c.responses[i], nil
}
