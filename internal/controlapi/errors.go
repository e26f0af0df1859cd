package controlapi

import (
	"errors"
	"net/http"

	"github.com/lightnvr/engine/internal/catalog"
)

// writeCatalogError maps a catalog error kind to the §7 HTTP status
// mapping and writes it.
func writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, catalog.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, catalog.ErrTransientIO):
		writeError(w, http.StatusServiceUnavailable, "TRANSIENT_IO", err.Error())
	case errors.Is(err, catalog.ErrFatalIO):
		writeError(w, http.StatusInternalServerError, "FATAL_IO", err.Error())
	case errors.Is(err, catalog.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
