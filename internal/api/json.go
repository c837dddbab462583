package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/download"
	"github.com/starford/studiopack/internal/packservice"
	"github.com/starford/studiopack/internal/upload"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// badRequest lists the errors caused by the request or the package it names.
var badRequest = []error{
	apperr.ErrNoChiliPackage, apperr.ErrInvalidChiliPackage, apperr.ErrMissingDocumentFile,
	apperr.ErrInvalidDocumentJSON, apperr.ErrMissingFontFile, apperr.ErrMissingSmartCropsFile,
	apperr.ErrInvalidSmartCropsJSON, apperr.ErrIncompleteReplacements,
	upload.ErrWrongStep, upload.ErrUnknownConnector, download.ErrEmptyFolderName,
}

// statusOf maps a service error onto an HTTP status.
func statusOf(err error) int {
	var nameErr *apperr.FolderNameError
	var replErr *apperr.ReplacementIncompleteError
	var httpErr *apperr.HTTPError
	switch {
	case errors.Is(err, apperr.ErrRunInProgress), errors.Is(err, upload.ErrTasksRunning):
		return http.StatusConflict
	case errors.As(err, &nameErr):
		return http.StatusBadRequest
	case errors.As(err, &replErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, packservice.ErrNoHistory):
		return http.StatusNotImplemented
	case errors.Is(err, apperr.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &httpErr), errors.Is(err, apperr.ErrFailedToFetchConnectors):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	}
	for _, e := range badRequest {
		if errors.Is(err, e) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// writeError answers with the mapped status. Internal errors are logged and
// their message is not exposed.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}
