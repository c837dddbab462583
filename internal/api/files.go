package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/packservice"
	"github.com/starford/studiopack/internal/storage"
)

const maxPackageBytes = 200 << 20

// FilesHandler accepts packages picked in a browser and serves downloaded
// package artifacts.
type FilesHandler struct {
	svc       *packservice.Service
	outputDir string
}

// NewFilesHandler creates a handler serving artifacts under outputDir.
func NewFilesHandler(svc *packservice.Service, outputDir string) *FilesHandler {
	return &FilesHandler{svc: svc, outputDir: outputDir}
}

// plainName rejects empty names, separators and traversal.
func plainName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || cleaned == ".." || cleaned == "." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid name: %s", name)
	}
	return nil
}

// ListFiles handles GET /api/packages/{folder}.
//
//	@Summary		List the files of a downloaded package with their checksums
//	@Tags			packages
//	@Produce		json
//	@Param			folder	path		string	true	"Package folder"
//	@Success		200		{object}	PackageFilesResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/packages/{folder} [get]
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	if err := plainName(folder); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	store, err := storage.NewFS(filepath.Join(h.outputDir, folder))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	files, err := store.List("")
	if err != nil {
		writeError(w, "list package", err)
		return
	}
	writeJSON(w, http.StatusOK, PackageFilesResponse{Folder: folder, Files: files})
}

// ServeFile handles GET /api/packages/{folder}/{name}.
func (h *FilesHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	folder, name := chi.URLParam(r, "folder"), chi.URLParam(r, "name")
	for _, n := range []string{folder, name} {
		if err := plainName(n); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
	}
	abs := filepath.Join(h.outputDir, folder, name)
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	http.ServeFile(w, r, abs)
}

// Upload handles POST /api/uploads/files (multipart/form-data, repeated
// field "file"). The files form one flat package directory.
//
//	@Summary		Open an upload session from files picked in the browser
//	@Tags			uploads
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Package file, repeated"
//	@Success		201		{object}	SessionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/uploads/files [post]
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPackageBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("package too large or invalid multipart"))
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}

	files := make([]models.NamedBlob, 0, len(headers))
	seen := make(map[string]bool, len(headers))
	for _, fh := range headers {
		if err := plainName(fh.Filename); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		if seen[fh.Filename] {
			writeJSON(w, http.StatusBadRequest, errorBody("duplicate file: "+fh.Filename))
			return
		}
		seen[fh.Filename] = true

		f, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("failed to read "+fh.Filename))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("failed to read "+fh.Filename))
			return
		}
		files = append(files, models.NamedBlob{Name: fh.Filename, Data: data})
	}

	sess, err := h.svc.BeginUploadFiles(r.Context(), files)
	if err != nil {
		writeError(w, "begin upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}
