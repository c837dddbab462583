// Package apperr defines the error taxonomy shared by the package workflows.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Package validation.
var (
	ErrNoChiliPackage         = errors.New("no chili-package.json found")
	ErrInvalidChiliPackage    = errors.New("invalid chili-package.json")
	ErrMissingDocumentFile    = errors.New("missing document file")
	ErrInvalidDocumentJSON    = errors.New("invalid document json")
	ErrMissingFontFile        = errors.New("missing font file")
	ErrMissingSmartCropsFile  = errors.New("missing smart crops file")
	ErrInvalidSmartCropsJSON  = errors.New("invalid smart crops json")
	ErrIncompleteReplacements = errors.New("every connector must have a replacement")
)

// Remote environment.
var (
	ErrFontAlreadyExists       = errors.New("font already exists")
	ErrFailedToFetchConnectors = errors.New("failed to fetch connectors")
	ErrVisionNotFound          = errors.New("vision data not found")
	ErrAuthorization           = errors.New("not authorized")
	ErrBadRequest              = errors.New("bad request")
	ErrNotFound                = errors.New("not found")
	ErrTimeout                 = errors.New("request timeout")
)

// Run lifecycle.
var (
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrConflict      = errors.New("conflict")
)

// HTTPError is a non-2xx response from the environment API.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: %s", e.URL, e.Status)
}

// Unwrap maps well-known status codes onto the sentinel errors.
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthorization
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// StatusText returns the reason phrase of the response, without the code.
func (e *HTTPError) StatusText() string {
	if t := http.StatusText(e.StatusCode); t != "" {
		return t
	}
	return e.Status
}

// NewHTTPError builds an HTTPError for the given status code.
func NewHTTPError(url string, code int, status string) *HTTPError {
	if status == "" {
		status = fmt.Sprintf("%d %s", code, http.StatusText(code))
	}
	return &HTTPError{StatusCode: code, Status: status, URL: url}
}

// ReplacementIncompleteError lists connector ids still referenced after a rewrite.
// Ambiguous holds pairs of involved ids where the first is a substring of
// the second; such hits may come from the longer id.
type ReplacementIncompleteError struct {
	IDs       []string
	Ambiguous [][2]string
}

func (e *ReplacementIncompleteError) Error() string {
	msg := "connector replacement incomplete, unresolved ids: " + strings.Join(e.IDs, ", ")
	if len(e.Ambiguous) == 0 {
		return msg
	}
	pairs := make([]string, len(e.Ambiguous))
	for i, p := range e.Ambiguous {
		pairs[i] = fmt.Sprintf("%q in %q", p[0], p[1])
	}
	return msg + " (ambiguous: " + strings.Join(pairs, ", ") + ")"
}

// FolderNameError reports the distinct illegal characters of a download folder name.
type FolderNameError struct {
	Chars []string
}

func (e *FolderNameError) Error() string {
	quoted := make([]string, len(e.Chars))
	for i, c := range e.Chars {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return "folder name contains illegal characters: " + strings.Join(quoted, ", ")
}

var taxonomy = []error{
	ErrNoChiliPackage, ErrInvalidChiliPackage, ErrMissingDocumentFile, ErrInvalidDocumentJSON,
	ErrMissingFontFile, ErrMissingSmartCropsFile, ErrInvalidSmartCropsJSON, ErrIncompleteReplacements,
	ErrFontAlreadyExists, ErrFailedToFetchConnectors, ErrVisionNotFound, ErrAuthorization,
	ErrBadRequest, ErrNotFound, ErrTimeout, ErrRunInProgress, ErrConflict,
}

// Known reports whether err belongs to the taxonomy above.
func Known(err error) bool {
	var httpErr *HTTPError
	var replErr *ReplacementIncompleteError
	var nameErr *FolderNameError
	if errors.As(err, &httpErr) || errors.As(err, &replErr) || errors.As(err, &nameErr) {
		return true
	}
	for _, k := range taxonomy {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// GenericError carries the message of an error that is not part of the taxonomy.
type GenericError struct {
	Message string
	cause   error
}

func (e *GenericError) Error() string { return e.Message }

func (e *GenericError) Unwrap() error { return e.cause }

// Wrap returns err unchanged when it is a known kind, otherwise a GenericError
// carrying the original message. nil stays nil.
func Wrap(err error) error {
	if err == nil || Known(err) {
		return err
	}
	var generic *GenericError
	if errors.As(err, &generic) {
		return err
	}
	return &GenericError{Message: err.Error(), cause: err}
}
