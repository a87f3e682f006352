package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// GraphRagConfig controls relationship-aware retrieval: how many hops to
// traverse from a seed match, how much to decay score per hop, and whether
// to render the connecting relationships into the formatted context.
type GraphRagConfig struct {
	MaxHops                   int
	MaxExpandedResults        int
	HopDecay                  float32
	IncludeRelationshipContext bool
}

// DefaultGraphRagConfig: two hops, hop n multiplying its parent's score by
// 0.5^n (x0.5 at hop 1, x0.25 at hop 2), capped at twenty expanded results.
func DefaultGraphRagConfig() GraphRagConfig {
	return GraphRagConfig{
		MaxHops:                    2,
		MaxExpandedResults:         20,
		HopDecay:                   0.5,
		IncludeRelationshipContext: true,
	}
}

// EntitySource records how an entity was discovered during GraphRAG
// expansion: either a direct search hit, or reached by traversing
// relationships out from one.
type EntitySource struct {
	Direct       bool
	SearchScore  float32
	Hops         int
	FromEntityID string
}

// ScoredEntity is one entity with its graph-derived relevance score and the
// relationships that connected it to the seed results.
type ScoredEntity struct {
	Entity                  Entity
	Score                   float32
	Source                  EntitySource
	ConnectingRelationships []Relationship
}

// GraphExpand starts from a set of seed entity IDs (with initial scores from
// keyword/vector search) and performs a breadth-first traversal of
// relationships up to MaxHops deep, scoring discovered entities by their
// proximity to the seeds. Results are sorted by score descending and capped
// at MaxExpandedResults.
func GraphExpand(ctx context.Context, s *Store, seeds []HybridSearchResult, cfg GraphRagConfig) ([]ScoredEntity, error) {
	allEntities := make(map[string]*ScoredEntity)
	visited := make(map[string]bool)

	type frontierItem struct {
		entityID string
		score    float32
	}
	frontier := make([]frontierItem, 0, len(seeds))

	for _, seed := range seeds {
		e, err := s.GetEntity(ctx, seed.EntityID)
		if err != nil {
			continue
		}
		visited[seed.EntityID] = true
		allEntities[seed.EntityID] = &ScoredEntity{
			Entity: e,
			Score:  seed.Score,
			Source: EntitySource{Direct: true, SearchScore: seed.Score},
		}
		frontier = append(frontier, frontierItem{entityID: seed.EntityID, score: seed.Score})
	}

	for hop := 0; hop < cfg.MaxHops; hop++ {
		if len(frontier) == 0 || len(allEntities) >= cfg.MaxExpandedResults {
			break
		}
		decay := float32(math.Pow(float64(cfg.HopDecay), float64(hop+1)))
		var nextFrontier []frontierItem

		for _, cur := range frontier {
			rels, err := s.GetRelationshipsFor(ctx, cur.entityID)
			if err != nil {
				continue
			}
			for _, rel := range rels {
				neighborID := rel.TargetID
				if rel.SourceID != cur.entityID {
					neighborID = rel.SourceID
				}

				if visited[neighborID] {
					if existing, ok := allEntities[neighborID]; ok {
						existing.ConnectingRelationships = append(existing.ConnectingRelationships, rel)
					}
					continue
				}

				if len(allEntities) >= cfg.MaxExpandedResults {
					break
				}

				visited[neighborID] = true
				neighbor, err := s.GetEntity(ctx, neighborID)
				if err != nil {
					continue
				}

				neighborScore := cur.score * decay
				allEntities[neighborID] = &ScoredEntity{
					Entity: neighbor,
					Score:  neighborScore,
					Source: EntitySource{
						Hops:         hop + 1,
						FromEntityID: cur.entityID,
					},
					ConnectingRelationships: []Relationship{rel},
				}
				nextFrontier = append(nextFrontier, frontierItem{entityID: neighborID, score: neighborScore})
			}
		}
		frontier = nextFrontier
	}

	results := make([]ScoredEntity, 0, len(allEntities))
	for _, se := range allEntities {
		results = append(results, *se)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > cfg.MaxExpandedResults {
		results = results[:cfg.MaxExpandedResults]
	}

	s.logger.Debug("knowledge: graphrag expanded", "seeds", len(seeds), "results", len(results), "max_hops", cfg.MaxHops)
	return results, nil
}

// FormatGraphContext renders GraphRAG results into a context string for the
// model: direct matches first, then related knowledge grouped by hop
// distance, with relationship context when configured to include it.
func FormatGraphContext(results []ScoredEntity, cfg GraphRagConfig) string {
	if len(results) == 0 {
		return ""
	}

	var direct, expanded []ScoredEntity
	for _, r := range results {
		if r.Source.Direct {
			direct = append(direct, r)
		} else {
			expanded = append(expanded, r)
		}
	}

	var b strings.Builder
	if len(direct) > 0 {
		b.WriteString("### Direct Matches\n\n")
		for _, scored := range direct {
			fmt.Fprintf(&b, "- **%s** (%s)", scored.Entity.Name, scored.Entity.EntityType)
			if len(scored.Entity.Metadata) > 0 {
				fmt.Fprintf(&b, ": %s", string(scored.Entity.Metadata))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(expanded) > 0 {
		b.WriteString("### Related Knowledge\n\n")
		for _, scored := range expanded {
			hopInfo := fmt.Sprintf("%d hop(s) away", scored.Source.Hops)
			fmt.Fprintf(&b, "- **%s** (%s) [%s]", scored.Entity.Name, scored.Entity.EntityType, hopInfo)
			if len(scored.Entity.Metadata) > 0 {
				fmt.Fprintf(&b, ": %s", string(scored.Entity.Metadata))
			}
			b.WriteString("\n")

			if cfg.IncludeRelationshipContext {
				for _, rel := range scored.ConnectingRelationships {
					direction := "incoming"
					if rel.SourceID == scored.Entity.ID {
						direction = "outgoing"
					}
					fmt.Fprintf(&b, "  → Relationship: %s (%s)\n", rel.RelationType, direction)
				}
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}
