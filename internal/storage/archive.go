package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tabletalk/tabletalk/internal/schema"
)

// TableExporter is the slice of the database engine the archiver needs.
type TableExporter interface {
	ExportParquet(ctx context.Context, tableName, destPath string) error
	ImportParquet(ctx context.Context, tableName, srcPath string) (schema.Table, error)
}

// Archiver mirrors ingested tables into an object store as parquet
// snapshots, so a restarted instance can restore its datasets without
// re-uploading the source CSVs.
type Archiver struct {
	store  ObjectStore
	engine TableExporter
	logger *slog.Logger
}

func NewArchiver(store ObjectStore, engine TableExporter, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, engine: engine, logger: logger}
}

// Archive snapshots one table into the object store, replacing any
// previous snapshot of the same table.
func (a *Archiver) Archive(ctx context.Context, tableName string) error {
	key, err := BuildTablePath(tableName)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "tabletalk-archive-")
	if err != nil {
		return fmt.Errorf("create archive temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPath := filepath.Join(workDir, tableName+".parquet")
	if err := a.engine.ExportParquet(ctx, tableName, localPath); err != nil {
		return err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open exported parquet: %w", err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat exported parquet: %w", err)
	}

	info, err := a.store.Put(ctx, key, file, stat.Size(), PutOptions{ContentType: "application/vnd.apache.parquet"})
	if err != nil {
		return err
	}
	a.logger.Info("table archived",
		slog.String("table", tableName),
		slog.String("key", info.Key),
		slog.Int64("bytes", info.Size))
	return nil
}

// Remove deletes the archived snapshot of a table, if any.
func (a *Archiver) Remove(ctx context.Context, tableName string) error {
	key, err := BuildTablePath(tableName)
	if err != nil {
		return err
	}
	return a.store.Delete(ctx, key)
}

// Restore loads every archived table back into the engine and returns
// the described tables. Missing archives restore nothing and no error.
func (a *Archiver) Restore(ctx context.Context) ([]schema.Table, error) {
	objects, err := a.store.List(ctx, "tables/")
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "tabletalk-restore-")
	if err != nil {
		return nil, fmt.Errorf("create restore temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	var tables []schema.Table
	for _, object := range objects {
		tableName := TableFromPath(object.Key)
		if tableName == "" {
			continue
		}

		reader, err := a.store.Get(ctx, object.Key)
		if err != nil {
			return nil, err
		}
		localPath := filepath.Join(workDir, tableName+".parquet")
		if err := writeFile(localPath, reader); err != nil {
			_ = reader.Close()
			return nil, fmt.Errorf("write restored parquet %q: %w", localPath, err)
		}
		if err := reader.Close(); err != nil {
			return nil, fmt.Errorf("close object %q: %w", object.Key, err)
		}

		table, err := a.engine.ImportParquet(ctx, tableName, localPath)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
		a.logger.Info("table restored",
			slog.String("table", tableName),
			slog.Int64("rows", table.RowCount))
	}
	return tables, nil
}

func writeFile(destPath string, reader io.Reader) error {
	file, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
