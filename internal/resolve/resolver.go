package resolve

import (
	"context"
	"time"

	"github.com/tabletalk/tabletalk/internal/match"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/schema"
)

const (
	DefaultInclusionThreshold    = 70
	DefaultRelationshipThreshold = 85
	DefaultAdmissionThreshold    = 60
)

type Config struct {
	InclusionThreshold    float64
	RelationshipThreshold float64
	AdmissionThreshold    float64
}

func (c Config) withDefaults() Config {
	if c.InclusionThreshold == 0 {
		c.InclusionThreshold = DefaultInclusionThreshold
	}
	if c.RelationshipThreshold == 0 {
		c.RelationshipThreshold = DefaultRelationshipThreshold
	}
	if c.AdmissionThreshold == 0 {
		c.AdmissionThreshold = DefaultAdmissionThreshold
	}
	return c
}

// ColumnMatch records the best-scoring keyword for an included column.
type ColumnMatch struct {
	Keyword string  `json:"keyword"`
	Table   string  `json:"table"`
	Column  string  `json:"column"`
	Score   float64 `json:"score"`
}

// PrunedSchema is the subset of columns plausibly relevant to a question,
// grouped by table. A table appears only if at least one of its columns
// cleared the inclusion threshold. Sample and categorical values ride
// along on the columns for prompt grounding.
type PrunedSchema struct {
	Tables  []schema.Table `json:"tables"`
	Matches []ColumnMatch  `json:"matches"`
}

func (p PrunedSchema) IsEmpty() bool {
	return len(p.Tables) == 0
}

func (p PrunedSchema) ColumnCount() int {
	count := 0
	for _, table := range p.Tables {
		count += len(table.Columns)
	}
	return count
}

func (p PrunedSchema) TableNames() []string {
	names := make([]string, 0, len(p.Tables))
	for _, table := range p.Tables {
		names = append(names, table.Name)
	}
	return names
}

// Resolver combines the lexical and semantic matchers to prune a schema
// down to the columns a question plausibly refers to, infer join
// relationships, and gate off-topic questions.
type Resolver struct {
	lexical  match.Lexical
	semantic match.Semantic
	cfg      Config
}

func New(semantic match.Semantic, cfg Config) *Resolver {
	if semantic == nil {
		semantic = match.Disabled{}
	}
	return &Resolver{semantic: semantic, cfg: cfg.withDefaults()}
}

// Combined scores one keyword against one identifier. Either matcher
// being confident is sufficient evidence, so the sub-scores combine via
// max; an unavailable semantic matcher contributes nothing.
func (r *Resolver) Combined(ctx context.Context, keyword, identifier string) float64 {
	score := r.lexical.Score(keyword, identifier)
	if semanticScore, ok := r.semantic.Score(ctx, keyword, identifier); ok && semanticScore > score {
		score = semanticScore
	}
	return score
}

// Prune keeps every column whose best combined score across the keywords
// meets the inclusion threshold. Column order follows the input schema,
// so output is deterministic for a fixed schema and keyword set. An empty
// result is a valid outcome, not an error.
func (r *Resolver) Prune(ctx context.Context, s schema.Schema, keywords []string) PrunedSchema {
	start := time.Now()
	pruned := PrunedSchema{}

	for _, table := range s.Tables {
		var kept []schema.Column
		for _, column := range table.Columns {
			bestScore := 0.0
			bestKeyword := ""
			for _, keyword := range keywords {
				if score := r.Combined(ctx, keyword, column.Name); score > bestScore {
					bestScore = score
					bestKeyword = keyword
				}
			}
			if bestScore >= r.cfg.InclusionThreshold {
				kept = append(kept, column)
				pruned.Matches = append(pruned.Matches, ColumnMatch{
					Keyword: bestKeyword,
					Table:   table.Name,
					Column:  column.Name,
					Score:   bestScore,
				})
			}
		}
		if len(kept) > 0 {
			pruned.Tables = append(pruned.Tables, schema.Table{
				Name:     table.Name,
				Columns:  kept,
				RowCount: table.RowCount,
			})
		}
	}

	observability.ObservePrune(pruned.ColumnCount(), time.Since(start))
	return pruned
}

// InferRelationships links columns of different tables whose names are
// near-identical under whole-string similarity. O(n^2) in columns across
// the selected tables, which stays small. Advisory, not authoritative.
func (r *Resolver) InferRelationships(s schema.Schema) []schema.Relationship {
	var relationships []schema.Relationship
	for i, left := range s.Tables {
		for _, right := range s.Tables[i+1:] {
			for _, leftColumn := range left.Columns {
				for _, rightColumn := range right.Columns {
					similarity := r.lexical.Ratio(leftColumn.Name, rightColumn.Name)
					if similarity >= r.cfg.RelationshipThreshold {
						relationships = append(relationships, schema.Relationship{
							LeftTable:   left.Name,
							LeftColumn:  leftColumn.Name,
							RightTable:  right.Name,
							RightColumn: rightColumn.Name,
							Similarity:  similarity,
						})
					}
				}
			}
		}
	}
	return relationships
}

// IsRelevant is the admission gate: it accepts a question as soon as any
// keyword scores against any schema identifier at the admission bar,
// which sits deliberately below the pruning threshold. It only exists to
// reject completely off-topic questions before generation cost is paid.
func (r *Resolver) IsRelevant(ctx context.Context, question string, s schema.Schema) bool {
	keywords := Keywords(question)
	if len(keywords) == 0 {
		return false
	}
	identifiers := s.Identifiers()
	for _, keyword := range keywords {
		for _, identifier := range identifiers {
			if r.Combined(ctx, keyword, identifier) >= r.cfg.AdmissionThreshold {
				return true
			}
		}
	}
	return false
}
