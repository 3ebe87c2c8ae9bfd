package schema

import (
	"regexp"
	"strings"
)

// Column is one column of a loaded table. SampleValues carries distinct
// observed values in sorted order. Categorical marks low-cardinality text
// columns; for those SampleValues holds the complete value set rather than
// a sample.
type Column struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	SampleValues []string `json:"sample_values,omitempty"`
	Categorical  bool     `json:"categorical,omitempty"`
}

type Table struct {
	Name     string   `json:"name"`
	Columns  []Column `json:"columns"`
	RowCount int64    `json:"row_count"`
}

// Schema is an ordered set of tables. Table names are unique within a
// schema and column names are unique within a table.
type Schema struct {
	Tables []Table `json:"tables"`
}

func (s Schema) IsEmpty() bool {
	return len(s.Tables) == 0
}

func (s Schema) ColumnCount() int {
	count := 0
	for _, table := range s.Tables {
		count += len(table.Columns)
	}
	return count
}

func (s Schema) Table(name string) (Table, bool) {
	for _, table := range s.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

// Select returns the subset of the schema restricted to the named tables,
// preserving schema order. Unknown names are ignored. An empty selection
// returns the full schema.
func (s Schema) Select(names []string) Schema {
	if len(names) == 0 {
		return s
	}
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}
	selected := Schema{}
	for _, table := range s.Tables {
		if _, ok := wanted[table.Name]; ok {
			selected.Tables = append(selected.Tables, table)
		}
	}
	return selected
}

// Identifiers returns every table and column name in schema order,
// tables first. The relevance gate matches keywords against this set.
func (s Schema) Identifiers() []string {
	identifiers := make([]string, 0, len(s.Tables)+s.ColumnCount())
	for _, table := range s.Tables {
		identifiers = append(identifiers, table.Name)
	}
	for _, table := range s.Tables {
		for _, column := range table.Columns {
			identifiers = append(identifiers, column.Name)
		}
	}
	return identifiers
}

func (s Schema) clone() Schema {
	cloned := Schema{Tables: make([]Table, len(s.Tables))}
	for i, table := range s.Tables {
		columns := make([]Column, len(table.Columns))
		for j, column := range table.Columns {
			columns[j] = Column{
				Name:         column.Name,
				Type:         column.Type,
				SampleValues: append([]string(nil), column.SampleValues...),
				Categorical:  column.Categorical,
			}
		}
		cloned.Tables[i] = Table{Name: table.Name, Columns: columns, RowCount: table.RowCount}
	}
	return cloned
}

// Relationship is an inferred foreign-key-like link between columns of two
// different tables, derived from near-identical column names. Advisory only.
type Relationship struct {
	LeftTable   string  `json:"left_table"`
	LeftColumn  string  `json:"left_column"`
	RightTable  string  `json:"right_table"`
	RightColumn string  `json:"right_column"`
	Similarity  float64 `json:"similarity"`
}

func (r Relationship) String() string {
	return r.LeftTable + "." + r.LeftColumn + " <-> " + r.RightTable + "." + r.RightColumn
}

var nonIdentifierChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// SanitizeIdentifier reduces an arbitrary string (usually a file name) to a
// safe SQL identifier: alphanumerics and underscores, leading letter or
// underscore, at most 64 runes, lowercased.
func SanitizeIdentifier(raw string) string {
	clean := nonIdentifierChars.ReplaceAllString(raw, "")
	if clean == "" || (clean[0] >= '0' && clean[0] <= '9') {
		clean = "t_" + clean
	}
	if len(clean) > 64 {
		clean = clean[:64]
	}
	return strings.ToLower(clean)
}
