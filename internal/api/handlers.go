package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/packservice"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *packservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *packservice.Service) *Handler {
	return &Handler{svc: svc}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// Tasks handles GET /api/tasks.
//
//	@Summary		Visible tasks of the current or last run
//	@Tags			tasks
//	@Produce		json
//	@Success		200	{object}	TasksResponse
//	@Security		BearerAuth
//	@Router			/tasks [get]
func (h *Handler) Tasks(w http.ResponseWriter, _ *http.Request) {
	ts := h.svc.Tasks()
	resp := TasksResponse{Tasks: ts}
	for _, t := range ts {
		resp.Total++
		if t.Status.IsTerminal() {
			resp.Done++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Download handles POST /api/downloads. The request blocks until every
// artifact is delivered or failed.
//
//	@Summary		Download the current document as a studio package
//	@Tags			downloads
//	@Accept			json
//	@Produce		json
//	@Param			body	body		DownloadRequest	true	"Target folder and setting overrides"
//	@Success		200		{object}	DownloadResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/downloads [post]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if !decode(w, r, &req) {
		return
	}
	files, err := h.svc.Download(r.Context(), req)
	if err != nil {
		writeError(w, "download", err)
		return
	}
	writeJSON(w, http.StatusOK, DownloadResponse{Folder: req.Folder, Files: files})
}

// BeginUpload handles POST /api/uploads.
//
//	@Summary		Open an upload session from a package directory
//	@Tags			uploads
//	@Accept			json
//	@Produce		json
//	@Param			body	body		BeginUploadRequest	true	"Package directory"
//	@Success		201		{object}	SessionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/uploads [post]
func (h *Handler) BeginUpload(w http.ResponseWriter, r *http.Request) {
	var req BeginUploadRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Dir == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("dir is required"))
		return
	}
	sess, err := h.svc.BeginUpload(r.Context(), req.Dir)
	if err != nil {
		writeError(w, "begin upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// GetUpload handles GET /api/uploads/{id}.
//
//	@Summary		Get an open upload session
//	@Tags			uploads
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	SessionResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/uploads/{id} [get]
func (h *Handler) GetUpload(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Session(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get upload", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// SelectSmartCropsConnector handles POST /api/uploads/{id}/smart-crops-connector.
//
//	@Summary		Choose the destination connector of the smart crops
//	@Tags			uploads
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Session id"
//	@Param			body	body		SelectConnectorRequest	true	"Media connector"
//	@Success		200		{object}	SessionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/uploads/{id}/smart-crops-connector [post]
func (h *Handler) SelectSmartCropsConnector(w http.ResponseWriter, r *http.Request) {
	var req SelectConnectorRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.SelectSmartCropsConnector(r.Context(), chi.URLParam(r, "id"), req.ConnectorID)
	if err != nil {
		writeError(w, "select connector", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ReplaceConnectors handles POST /api/uploads/{id}/replacements.
//
//	@Summary		Map every document connector to an environment connector
//	@Tags			uploads
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Session id"
//	@Param			body	body		ReplacementsRequest	true	"Old id to new id"
//	@Success		200		{object}	SessionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/uploads/{id}/replacements [post]
func (h *Handler) ReplaceConnectors(w http.ResponseWriter, r *http.Request) {
	var req ReplacementsRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.ReplaceConnectors(chi.URLParam(r, "id"), req.Replacements)
	if err != nil {
		writeError(w, "replace connectors", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// StartUpload handles POST /api/uploads/{id}/start.
//
//	@Summary		Execute a ready upload session
//	@Tags			uploads
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	TasksResponse
//	@Failure		400	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/uploads/{id}/start [post]
func (h *Handler) StartUpload(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StartUpload(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "start upload", err)
		return
	}
	h.Tasks(w, r)
}

// CancelUpload handles DELETE /api/uploads/{id}.
//
//	@Summary		Discard an open upload session
//	@Tags			uploads
//	@Param			id	path	string	true	"Session id"
//	@Success		204	"Session discarded"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/uploads/{id} [delete]
func (h *Handler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelUpload(chi.URLParam(r, "id")); err != nil {
		writeError(w, "cancel upload", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Connectors handles GET /api/connectors.
//
//	@Summary		List the enabled media connectors
//	@Tags			connectors
//	@Produce		json
//	@Success		200	{object}	ConnectorsResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/connectors [get]
func (h *Handler) Connectors(w http.ResponseWriter, r *http.Request) {
	cs, err := h.svc.ListMediaConnectors(r.Context())
	if err != nil {
		writeError(w, "list connectors", err)
		return
	}
	if cs == nil {
		cs = []models.Connector{}
	}
	writeJSON(w, http.StatusOK, ConnectorsResponse{Connectors: cs})
}

// Items handles GET /api/connectors/{id}/items.
//
//	@Summary		List one folder of a media connector
//	@Tags			connectors
//	@Produce		json
//	@Param			id		path		string	true	"Connector id"
//	@Param			path	query		string	false	"Folder path"
//	@Success		200		{object}	ItemsResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/connectors/{id}/items [get]
func (h *Handler) Items(w http.ResponseWriter, r *http.Request) {
	folder := models.NormalizeFolderPath(r.URL.Query().Get("path"))
	items, err := h.svc.Browse(r.Context(), chi.URLParam(r, "id"), folder)
	if err != nil {
		writeError(w, "browse", err)
		return
	}
	if items == nil {
		items = []models.MediaItem{}
	}
	writeJSON(w, http.StatusOK, ItemsResponse{Path: folder, Items: items})
}

// Runs handles GET /api/runs.
//
//	@Summary		List recorded runs, newest first
//	@Tags			history
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Param			offset	query		int	false	"Page offset"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	runs, total, err := h.svc.Runs(limit, offset)
	if err != nil {
		writeError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: total})
}

// Run handles GET /api/runs/{id}.
//
//	@Summary		Get a recorded run with its tasks
//	@Tags			history
//	@Produce		json
//	@Param			id	path		string	true	"Run id"
//	@Success		200	{object}	models.Run
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id} [get]
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Run(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
