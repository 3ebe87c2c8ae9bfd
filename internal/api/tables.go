package api

import (
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/tabletalk/tabletalk/internal/schema"
)

// maxUploadBytes caps CSV uploads at 256 MiB.
const maxUploadBytes = 256 << 20

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	snapshot := deps.Registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"tables": snapshot.Tables})
}

func handleGetTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	name := schema.SanitizeIdentifier(r.PathValue("table"))
	table, ok := deps.Registry.Snapshot().Table(name)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", "table "+name+" is not loaded", false)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// handleUploadTable ingests one CSV file as a table. The upload is a
// multipart form with the data in the "file" field; the table name comes
// from the path.
func handleUploadTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	name := schema.SanitizeIdentifier(r.PathValue("table"))
	if name == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_TABLE_NAME", "table name is required", false)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", "multipart field \"file\" is required: "+err.Error(), false)
		return
	}
	defer func() { _ = file.Close() }()

	temp, err := os.CreateTemp("", "tabletalk-upload-*.csv")
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "UPLOAD_FAILED", err.Error(), true)
		return
	}
	defer func() {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
	}()
	if _, err := io.Copy(temp, file); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", err.Error(), false)
		return
	}
	if err := temp.Close(); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "UPLOAD_FAILED", err.Error(), true)
		return
	}

	table, err := deps.Engine.IngestCSV(r.Context(), name, temp.Name())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INGEST_FAILED", err.Error(), false)
		return
	}
	deps.Registry.Upsert(table)

	// The archive is best effort: a missing snapshot only affects restore
	// after a restart, not the live dataset.
	if deps.Archiver != nil {
		if err := deps.Archiver.Archive(r.Context(), name); err != nil && deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "archive failed",
				slog.String("table", name), slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusCreated, table)
}

func handleDeleteTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	name := schema.SanitizeIdentifier(r.PathValue("table"))
	if _, ok := deps.Registry.Snapshot().Table(name); !ok {
		writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", "table "+name+" is not loaded", false)
		return
	}

	if err := deps.Engine.DropTable(r.Context(), name); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "DROP_FAILED", err.Error(), true)
		return
	}
	deps.Registry.Remove(name)

	if deps.Archiver != nil {
		if err := deps.Archiver.Remove(r.Context(), name); err != nil && deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "archive removal failed",
				slog.String("table", name), slog.Any("error", err))
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
