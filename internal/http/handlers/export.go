package handlers

import (
	"fmt"
	"net/http"
	"strconv"
)

// Export streams a ZIP of every Completed record's active result.
func (a *App) Export(w http.ResponseWriter, r *http.Request) {
	archive, err := a.Exporter.ExportAll(r.Context(), a.Registry.Completed())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(len(archive.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.Filename))
	w.Header().Set("X-Archive-Entries", strconv.Itoa(len(archive.Entries)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive.Data)
}
