// Package duckdb runs the workspace database: one in-memory DuckDB
// instance holding every ingested dataset as a table.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/tabletalk/tabletalk/internal/schema"
	"github.com/tabletalk/tabletalk/internal/store"
)

type Options struct {
	// SampleValues is how many distinct example values to collect per column.
	SampleValues int
	// CategoricalLimit marks a text column categorical when its distinct
	// count is at or below this bound.
	CategoricalLimit int
}

func (o Options) withDefaults() Options {
	if o.SampleValues <= 0 {
		o.SampleValues = 5
	}
	if o.CategoricalLimit <= 0 {
		o.CategoricalLimit = 50
	}
	return o
}

type Engine struct {
	db   *sql.DB
	opts Options
}

func NewEngine(opts Options) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Engine{db: db, opts: opts.withDefaults()}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// IngestCSV loads one CSV file as a table, replacing any previous table of
// the same name, and returns the described table. Column types are
// inferred by DuckDB's CSV sniffer.
func (e *Engine) IngestCSV(ctx context.Context, tableName, csvPath string) (schema.Table, error) {
	tableName = schema.SanitizeIdentifier(tableName)
	if tableName == "" {
		return schema.Table{}, fmt.Errorf("table name is required")
	}

	createSQL := fmt.Sprintf(
		`CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s)`,
		quoteIdent(tableName), quoteString(csvPath),
	)
	if _, err := e.db.ExecContext(ctx, createSQL); err != nil {
		return schema.Table{}, fmt.Errorf("ingest csv %q: %w", csvPath, err)
	}
	return e.describeTable(ctx, tableName)
}

// IngestDir loads every *.csv file under dir, one table per file named
// after the file. Files are visited in sorted order so repeated startups
// produce the same schema.
func (e *Engine) IngestDir(ctx context.Context, dir string) (schema.Schema, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(path), ".csv") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return schema.Schema{}, fmt.Errorf("scan data dir %q: %w", dir, err)
	}
	sort.Strings(paths)

	var s schema.Schema
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		table, err := e.IngestCSV(ctx, name, path)
		if err != nil {
			return schema.Schema{}, err
		}
		s.Tables = append(s.Tables, table)
	}
	return s, nil
}

// ImportParquet restores a previously archived table from a parquet file.
func (e *Engine) ImportParquet(ctx context.Context, tableName, parquetPath string) (schema.Table, error) {
	tableName = schema.SanitizeIdentifier(tableName)
	if tableName == "" {
		return schema.Table{}, fmt.Errorf("table name is required")
	}

	createSQL := fmt.Sprintf(
		`CREATE OR REPLACE TABLE %s AS SELECT * FROM read_parquet(%s)`,
		quoteIdent(tableName), quoteString(parquetPath),
	)
	if _, err := e.db.ExecContext(ctx, createSQL); err != nil {
		return schema.Table{}, fmt.Errorf("import parquet %q: %w", parquetPath, err)
	}
	return e.describeTable(ctx, tableName)
}

// ExportParquet writes a table to a parquet file at destPath.
func (e *Engine) ExportParquet(ctx context.Context, tableName, destPath string) error {
	copySQL := fmt.Sprintf(
		`COPY %s TO %s (FORMAT PARQUET)`,
		quoteIdent(schema.SanitizeIdentifier(tableName)), quoteString(destPath),
	)
	if _, err := e.db.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("export table %q: %w", tableName, err)
	}
	return nil
}

func (e *Engine) DropTable(ctx context.Context, tableName string) error {
	dropSQL := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(schema.SanitizeIdentifier(tableName)))
	if _, err := e.db.ExecContext(ctx, dropSQL); err != nil {
		return fmt.Errorf("drop table %q: %w", tableName, err)
	}
	return nil
}

// Execute runs one query. Failures coming back from the database are
// wrapped as ExecutionError so callers can tell bad SQL from a broken
// engine and feed the database's message into a repair attempt.
func (e *Engine) Execute(ctx context.Context, request store.Request) (store.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return store.Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return store.Result{}, &store.ExecutionError{SQL: request.SQL, Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return store.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return store.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return store.Result{}, &store.ExecutionError{SQL: request.SQL, Err: err}
	}

	return store.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

// DescribeSchema describes every user table currently loaded.
func (e *Engine) DescribeSchema(ctx context.Context) (schema.Schema, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name`)
	if err != nil {
		return schema.Schema{}, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return schema.Schema{}, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return schema.Schema{}, fmt.Errorf("iterate tables: %w", err)
	}

	var s schema.Schema
	for _, name := range names {
		table, err := e.describeTable(ctx, name)
		if err != nil {
			return schema.Schema{}, err
		}
		s.Tables = append(s.Tables, table)
	}
	return s, nil
}

func (e *Engine) describeTable(ctx context.Context, tableName string) (schema.Table, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteString(tableName)))
	if err != nil {
		return schema.Table{}, fmt.Errorf("describe table %q: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	table := schema.Table{Name: tableName}
	for rows.Next() {
		var (
			cid          int
			name, ctype  string
			notNull      bool
			defaultValue sql.NullString
			primaryKey   bool
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &primaryKey); err != nil {
			return schema.Table{}, fmt.Errorf("scan column info: %w", err)
		}
		table.Columns = append(table.Columns, schema.Column{Name: name, Type: ctype})
	}
	if err := rows.Err(); err != nil {
		return schema.Table{}, fmt.Errorf("iterate columns: %w", err)
	}

	if err := e.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(tableName)),
	).Scan(&table.RowCount); err != nil {
		return schema.Table{}, fmt.Errorf("count rows of %q: %w", tableName, err)
	}

	for i := range table.Columns {
		if err := e.profileColumn(ctx, tableName, &table.Columns[i]); err != nil {
			return schema.Table{}, err
		}
	}
	return table, nil
}

// profileColumn collects example values and flags low-cardinality text
// columns as categorical, which lets prompts carry the exact filterable
// values.
func (e *Engine) profileColumn(ctx context.Context, tableName string, column *schema.Column) error {
	limit := e.opts.SampleValues
	if isTextType(column.Type) {
		var distinct int
		if err := e.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT COUNT(DISTINCT %s) FROM %s`, quoteIdent(column.Name), quoteIdent(tableName),
		)).Scan(&distinct); err != nil {
			return fmt.Errorf("count distinct %s.%s: %w", tableName, column.Name, err)
		}
		if distinct > 0 && distinct <= e.opts.CategoricalLimit {
			column.Categorical = true
			limit = distinct
		}
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY 1 LIMIT %d`,
		quoteIdent(column.Name), quoteIdent(tableName), quoteIdent(column.Name), limit,
	))
	if err != nil {
		return fmt.Errorf("sample %s.%s: %w", tableName, column.Name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var value any
		if err := rows.Scan(&value); err != nil {
			return fmt.Errorf("scan sample of %s.%s: %w", tableName, column.Name, err)
		}
		column.SampleValues = append(column.SampleValues, formatValue(value))
	}
	return rows.Err()
}

func isTextType(columnType string) bool {
	upper := strings.ToUpper(columnType)
	return strings.Contains(upper, "VARCHAR") || strings.Contains(upper, "TEXT") || strings.Contains(upper, "STRING")
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case string:
		return typed
	default:
		return fmt.Sprint(typed)
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// WriteTempCSV is a test and ingest helper that materializes CSV bytes on
// disk for read_csv_auto, which only reads files.
func WriteTempCSV(data []byte) (string, func(), error) {
	file, err := os.CreateTemp("", "tabletalk-*.csv")
	if err != nil {
		return "", nil, fmt.Errorf("create temp csv: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return "", nil, fmt.Errorf("write temp csv: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(file.Name())
		return "", nil, fmt.Errorf("close temp csv: %w", err)
	}
	cleanup := func() { _ = os.Remove(file.Name()) }
	return file.Name(), cleanup, nil
}
