// Package storage defines the object store contract used to archive
// ingested datasets as parquet snapshots.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

var tableComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildTablePath is the canonical archive location for one table
// snapshot. TableFromPath inverts it.
func BuildTablePath(tableName string) (string, error) {
	if !tableComponentPattern.MatchString(tableName) {
		return "", fmt.Errorf("invalid table name: %q", tableName)
	}
	return path.Join("tables", tableName+".parquet"), nil
}

// TableFromPath extracts the table name from an archive key, or "" when
// the key is not a table snapshot.
func TableFromPath(key string) string {
	dir, file := path.Split(key)
	if path.Clean(dir) != "tables" {
		return ""
	}
	name := strings.TrimSuffix(file, ".parquet")
	if name == file || !tableComponentPattern.MatchString(name) {
		return ""
	}
	return name
}
