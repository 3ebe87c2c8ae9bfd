package resolve

import (
	"context"
	"reflect"
	"testing"

	"github.com/tabletalk/tabletalk/internal/match"
	"github.com/tabletalk/tabletalk/internal/schema"
)

func salesSchema() schema.Schema {
	return schema.Schema{Tables: []schema.Table{
		{
			Name: "orders",
			Columns: []schema.Column{
				{Name: "orderID", Type: "BIGINT"},
				{Name: "customerID", Type: "VARCHAR"},
				{Name: "orderDate", Type: "DATE"},
				{Name: "freight", Type: "DOUBLE"},
			},
		},
		{
			Name: "customers",
			Columns: []schema.Column{
				{Name: "customerID", Type: "VARCHAR"},
				{Name: "companyName", Type: "VARCHAR"},
				{Name: "country", Type: "VARCHAR"},
			},
		},
		{
			Name: "products",
			Columns: []schema.Column{
				{Name: "productID", Type: "BIGINT"},
				{Name: "unitPrice", Type: "DOUBLE"},
			},
		},
	}}
}

// scriptedSemantic returns fixed scores for specific keyword/identifier
// pairs and reports unavailable for everything else.
type scriptedSemantic struct {
	scores map[[2]string]float64
}

func (s scriptedSemantic) Score(_ context.Context, a, b string) (float64, bool) {
	score, ok := s.scores[[2]string{a, b}]
	return score, ok
}

func (s scriptedSemantic) Available() bool { return true }

func TestKeywordsDropStopWordsAndDuplicates(t *testing.T) {
	got := Keywords("Show me the orders, the customers and the ORDERS per country")
	want := []string{"orders", "customers", "country"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keywords() = %v, want %v", got, want)
	}
}

func TestKeywordsEmptyQuestion(t *testing.T) {
	if got := Keywords("  "); len(got) != 0 {
		t.Fatalf("Keywords(blank) = %v", got)
	}
	if got := Keywords("show me the"); len(got) != 0 {
		t.Fatalf("Keywords(stop words only) = %v", got)
	}
}

func TestPruneKeepsMatchingColumnsOnly(t *testing.T) {
	resolver := New(match.Disabled{}, Config{})

	pruned := resolver.Prune(context.Background(), salesSchema(), []string{"customer", "country"})
	if pruned.IsEmpty() {
		t.Fatal("Prune() returned empty schema")
	}

	names := pruned.TableNames()
	want := []string{"orders", "customers"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("tables = %v, want %v", names, want)
	}
	for _, table := range pruned.Tables {
		if table.Name == "products" {
			t.Fatal("products should be pruned away")
		}
	}
	// The unrelated freight column in orders must not survive.
	for _, table := range pruned.Tables {
		for _, column := range table.Columns {
			if column.Name == "freight" {
				t.Fatal("freight should be pruned away")
			}
		}
	}
}

func TestPruneRecordsBestMatches(t *testing.T) {
	resolver := New(match.Disabled{}, Config{})

	pruned := resolver.Prune(context.Background(), salesSchema(), []string{"customer"})
	if len(pruned.Matches) == 0 {
		t.Fatal("no matches recorded")
	}
	for _, m := range pruned.Matches {
		if m.Keyword != "customer" {
			t.Fatalf("match keyword = %q", m.Keyword)
		}
		if m.Score < DefaultInclusionThreshold {
			t.Fatalf("recorded match below threshold: %+v", m)
		}
	}
}

func TestPruneEmptyKeywordsYieldsEmptySchema(t *testing.T) {
	resolver := New(match.Disabled{}, Config{})
	pruned := resolver.Prune(context.Background(), salesSchema(), nil)
	if !pruned.IsEmpty() {
		t.Fatalf("Prune() with no keywords = %v", pruned.TableNames())
	}
}

func TestPruneSemanticDisabledEqualsLexicalOnly(t *testing.T) {
	keywords := []string{"customer", "price"}

	disabled := New(match.Disabled{}, Config{})
	nilSemantic := New(nil, Config{})

	a := disabled.Prune(context.Background(), salesSchema(), keywords)
	b := nilSemantic.Prune(context.Background(), salesSchema(), keywords)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("disabled and nil semantic disagree: %v vs %v", a, b)
	}
}

func TestPruneSemanticRescuesColumn(t *testing.T) {
	// "revenue" has no lexical relation to unitPrice, but the semantic
	// matcher knows they belong together.
	semantic := scriptedSemantic{scores: map[[2]string]float64{
		{"revenue", "unitPrice"}: 88,
	}}
	resolver := New(semantic, Config{})

	pruned := resolver.Prune(context.Background(), salesSchema(), []string{"revenue"})
	if pruned.IsEmpty() {
		t.Fatal("semantic match should have kept unitPrice")
	}
	if got := pruned.TableNames(); !reflect.DeepEqual(got, []string{"products"}) {
		t.Fatalf("tables = %v", got)
	}
	if got := pruned.Matches[0].Score; got != 88 {
		t.Fatalf("match score = %v, want the semantic score", got)
	}
}

func TestPruneSemanticNeverLowersLexicalScore(t *testing.T) {
	// A weak semantic opinion must not override a perfect lexical hit.
	semantic := scriptedSemantic{scores: map[[2]string]float64{
		{"customerid", "customerID"}: 10,
	}}
	resolver := New(semantic, Config{})

	pruned := resolver.Prune(context.Background(), salesSchema(), []string{"customerid"})
	if pruned.IsEmpty() {
		t.Fatal("lexical exact match should survive a weak semantic score")
	}
}

func TestPruneMonotonicInKeywords(t *testing.T) {
	resolver := New(match.Disabled{}, Config{})
	ctx := context.Background()

	narrow := resolver.Prune(ctx, salesSchema(), []string{"customer"})
	wide := resolver.Prune(ctx, salesSchema(), []string{"customer", "order", "price"})

	if wide.ColumnCount() < narrow.ColumnCount() {
		t.Fatalf("adding keywords shrank the result: %d -> %d",
			narrow.ColumnCount(), wide.ColumnCount())
	}
	// Everything in the narrow result must appear in the wide one.
	for _, table := range narrow.Tables {
		for _, column := range table.Columns {
			if !prunedContains(wide, table.Name, column.Name) {
				t.Fatalf("column %s.%s lost after adding keywords", table.Name, column.Name)
			}
		}
	}
}

func prunedContains(p PrunedSchema, table, column string) bool {
	for _, t := range p.Tables {
		if t.Name != table {
			continue
		}
		for _, c := range t.Columns {
			if c.Name == column {
				return true
			}
		}
	}
	return false
}

func TestPruneDeterministicOrder(t *testing.T) {
	resolver := New(match.Disabled{}, Config{})
	ctx := context.Background()
	keywords := []string{"customer", "order"}

	first := resolver.Prune(ctx, salesSchema(), keywords)
	for range 5 {
		if got := resolver.Prune(ctx, salesSchema(), keywords); !reflect.DeepEqual(got, first) {
			t.Fatal("Prune() output order is not stable")
		}
	}
}

func TestInferRelationshipsLinksSharedKeys(t *testing.T) {
	resolver := New(match.Disabled{}, Config{})

	relationships := resolver.InferRelationships(salesSchema())
	if len(relationships) != 1 {
		t.Fatalf("relationships = %v, want exactly the customerID link", relationships)
	}
	r := relationships[0]
	if r.LeftTable != "orders" || r.RightTable != "customers" ||
		r.LeftColumn != "customerID" || r.RightColumn != "customerID" {
		t.Fatalf("relationship = %+v", r)
	}
	if r.Similarity != 100 {
		t.Fatalf("similarity = %v", r.Similarity)
	}
}

func TestInferRelationshipsIgnoresSubstringNames(t *testing.T) {
	resolver := New(match.Disabled{}, Config{})

	s := schema.Schema{Tables: []schema.Table{
		{Name: "orders", Columns: []schema.Column{{Name: "orderID"}}},
		{Name: "inventory", Columns: []schema.Column{{Name: "reorderLevel"}}},
	}}
	if got := resolver.InferRelationships(s); len(got) != 0 {
		t.Fatalf("substring names should not link: %v", got)
	}
}

func TestInferRelationshipsSkipsSameTable(t *testing.T) {
	resolver := New(match.Disabled{}, Config{})

	s := schema.Schema{Tables: []schema.Table{
		{Name: "orders", Columns: []schema.Column{
			{Name: "customerID"},
			{Name: "customer_id"},
		}},
	}}
	if got := resolver.InferRelationships(s); len(got) != 0 {
		t.Fatalf("same-table columns should not link: %v", got)
	}
}

func TestIsRelevantAcceptsOnTopicQuestion(t *testing.T) {
	resolver := New(match.Disabled{}, Config{})
	if !resolver.IsRelevant(context.Background(), "How many orders per country?", salesSchema()) {
		t.Fatal("on-topic question rejected")
	}
}

func TestIsRelevantRejectsOffTopicQuestion(t *testing.T) {
	resolver := New(match.Disabled{}, Config{})
	if resolver.IsRelevant(context.Background(), "What is the weather like in Vienna today?", salesSchema()) {
		t.Fatal("off-topic question accepted")
	}
}

func TestIsRelevantRejectsEmptyQuestion(t *testing.T) {
	resolver := New(match.Disabled{}, Config{})
	if resolver.IsRelevant(context.Background(), "", salesSchema()) {
		t.Fatal("empty question accepted")
	}
	if resolver.IsRelevant(context.Background(), "show me the", salesSchema()) {
		t.Fatal("stop-word-only question accepted")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.InclusionThreshold != DefaultInclusionThreshold ||
		cfg.RelationshipThreshold != DefaultRelationshipThreshold ||
		cfg.AdmissionThreshold != DefaultAdmissionThreshold {
		t.Fatalf("withDefaults() = %+v", cfg)
	}

	custom := Config{InclusionThreshold: 80, RelationshipThreshold: 90, AdmissionThreshold: 50}.withDefaults()
	if custom.InclusionThreshold != 80 || custom.RelationshipThreshold != 90 || custom.AdmissionThreshold != 50 {
		t.Fatalf("withDefaults() overwrote explicit values: %+v", custom)
	}
}
