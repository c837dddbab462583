package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/starford/studiopack/internal/grafx"
	"github.com/starford/studiopack/internal/models"
)

// FakeToken is the bearer token the fake environment accepts.
const FakeToken = "test-token"

// FontUpload records one font upload seen by the fake environment.
type FontUpload struct {
	ID         string
	FileName   string
	Data       []byte
	FamilyName string
	StyleName  string
	Confirmed  bool
}

// FakeGraFx is an in-memory environment API served by httptest. Fields may
// be set before the first request; use Lock/Unlock for later changes.
type FakeGraFx struct {
	Server *httptest.Server

	sync.Mutex
	Connectors []models.Connector
	// Media maps "connectorID|collection" to the items of that folder.
	Media map[string][]models.MediaItem
	// Vision maps "connectorID|assetID" to vision metadata.
	Vision     map[string]json.RawMessage
	Families   []grafx.FontFamily
	Styles     map[string][]grafx.FontStyle
	FontStyles map[string]models.FontData
	FontFiles  map[string][]byte
	Uploads    []*FontUpload
	// FailStep makes a font upload step ("upload", "patch", "confirm") or
	// the connector listing ("connectors") answer with the given status.
	FailStep map[string]int
	// ListPageSize paginates every list endpoint except media.
	ListPageSize int
	Calls        []string
}

// NewFakeGraFx starts a fake environment closed at test cleanup.
func NewFakeGraFx(t *testing.T) *FakeGraFx {
	t.Helper()
	f := &FakeGraFx{
		Media:        make(map[string][]models.MediaItem),
		Vision:       make(map[string]json.RawMessage),
		Styles:       make(map[string][]grafx.FontStyle),
		FontStyles:   make(map[string]models.FontData),
		FontFiles:    make(map[string][]byte),
		FailStep:     make(map[string]int),
		ListPageSize: 2,
	}
	f.Server = httptest.NewServer(f.router())
	t.Cleanup(f.Server.Close)
	return f
}

// BaseURL is the environment API root.
func (f *FakeGraFx) BaseURL() string { return f.Server.URL + "/api" }

// Client returns a grafx client authorized with FakeToken.
func (f *FakeGraFx) Client() *grafx.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: FakeToken, TokenType: "Bearer"})
	return grafx.New(f.BaseURL(), ts, grafx.WithHTTPClient(f.Server.Client()))
}

// CallCount returns how many requests matched the method and path prefix.
func (f *FakeGraFx) CallCount(method, prefix string) int {
	f.Lock()
	defer f.Unlock()
	n := 0
	for _, c := range f.Calls {
		if strings.HasPrefix(c, method+" "+prefix) {
			n++
		}
	}
	return n
}

func (f *FakeGraFx) router() http.Handler {
	r := chi.NewRouter()
	r.Use(f.record, f.auth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/connectors", f.listConnectors)
		r.Get("/connectors/{id}/media", f.queryMedia)
		r.Get("/connectors/{id}/media/{asset}/vision", f.getVision)
		r.Post("/connectors/{id}/media/{asset}/vision", f.setVision)
		r.Get("/font-families", f.listFamilies)
		r.Get("/font-families/{id}/styles", f.listStyles)
		r.Get("/font-styles/{id}", f.getStyle)
		r.Get("/font-styles/{id}/download", f.downloadStyle)
		r.Post("/font-uploads", f.uploadFont)
		r.Patch("/font-uploads/{id}", f.patchFont)
		r.Post("/font-uploads/{id}/confirm", f.confirmFont)
	})
	return r
}

func (f *FakeGraFx) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.Lock()
		f.Calls = append(f.Calls, r.Method+" "+strings.TrimPrefix(r.URL.Path, "/api"))
		f.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *FakeGraFx) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+FakeToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeFakeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// page writes items[offset:offset+size] with an absolute next link.
func page[T any](w http.ResponseWriter, r *http.Request, server string, items []T, size int) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	if size <= 0 {
		size = len(items) + 1
	}
	end := min(offset+size, len(items))
	if offset > len(items) {
		offset = len(items)
	}
	next := ""
	if end < len(items) {
		q := r.URL.Query()
		q.Set("pageToken", strconv.Itoa(end))
		next = server + r.URL.Path + "?" + q.Encode()
	}
	data := items[offset:end]
	if data == nil {
		data = []T{}
	}
	writeFakeJSON(w, map[string]any{
		"data":     data,
		"pageSize": size,
		"links":    map[string]string{"nextPage": next},
	})
}

func (f *FakeGraFx) listConnectors(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	if f.failed(w, "connectors") {
		return
	}
	page(w, r, f.Server.URL, f.Connectors, f.ListPageSize)
}

func (f *FakeGraFx) queryMedia(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	key := chi.URLParam(r, "id") + "|" + r.URL.Query().Get("collection")
	size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	page(w, r, f.Server.URL, f.Media[key], size)
}

func (f *FakeGraFx) getVision(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	raw, ok := f.Vision[chi.URLParam(r, "id")+"|"+chi.URLParam(r, "asset")]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (f *FakeGraFx) setVision(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	f.Lock()
	defer f.Unlock()
	f.Vision[chi.URLParam(r, "id")+"|"+chi.URLParam(r, "asset")] = body
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeGraFx) listFamilies(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	search := strings.ToLower(r.URL.Query().Get("search"))
	var out []grafx.FontFamily
	for _, fam := range f.Families {
		if strings.Contains(strings.ToLower(fam.Name), search) {
			out = append(out, fam)
		}
	}
	page(w, r, f.Server.URL, out, f.ListPageSize)
}

func (f *FakeGraFx) listStyles(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	page(w, r, f.Server.URL, f.Styles[chi.URLParam(r, "id")], f.ListPageSize)
}

func (f *FakeGraFx) getStyle(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	fd, ok := f.FontStyles[chi.URLParam(r, "id")]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeFakeJSON(w, fd)
}

func (f *FakeGraFx) downloadStyle(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	data, ok := f.FontFiles[chi.URLParam(r, "id")]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "font/ttf")
	_, _ = w.Write(data)
}

func (f *FakeGraFx) failed(w http.ResponseWriter, step string) bool {
	code, ok := f.FailStep[step]
	if !ok {
		return false
	}
	http.Error(w, step+" failed", code)
	return true
}

func (f *FakeGraFx) uploadFont(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	if f.failed(w, "upload") {
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)
	up := &FontUpload{ID: fmt.Sprintf("upload-%d", len(f.Uploads)+1), FileName: hdr.Filename, Data: data}
	f.Uploads = append(f.Uploads, up)
	w.WriteHeader(http.StatusCreated)
	writeFakeJSON(w, map[string]string{"id": up.ID})
}

func (f *FakeGraFx) findUpload(id string) *FontUpload {
	for _, up := range f.Uploads {
		if up.ID == id {
			return up
		}
	}
	return nil
}

func (f *FakeGraFx) patchFont(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	if f.failed(w, "patch") {
		return
	}
	up := f.findUpload(chi.URLParam(r, "id"))
	if up == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var names struct {
		FamilyName string `json:"familyName"`
		Name       string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&names); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	up.FamilyName, up.StyleName = names.FamilyName, names.Name
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeGraFx) confirmFont(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	if f.failed(w, "confirm") {
		return
	}
	up := f.findUpload(chi.URLParam(r, "id"))
	if up == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	up.Confirmed = true
	w.WriteHeader(http.StatusNoContent)
}

// AddFont registers a family with one style whose file can be downloaded.
func (f *FakeGraFx) AddFont(fd models.FontData, data []byte) {
	f.Lock()
	defer f.Unlock()
	known := false
	for _, fam := range f.Families {
		if fam.ID == fd.FamilyID {
			known = true
		}
	}
	if !known {
		f.Families = append(f.Families, grafx.FontFamily{ID: fd.FamilyID, Name: fd.FamilyName})
	}
	f.Styles[fd.FamilyID] = append(f.Styles[fd.FamilyID], grafx.FontStyle{
		ID: fd.ID, Name: fd.Name, FamilyID: fd.FamilyID, FamilyName: fd.FamilyName,
	})
	f.FontStyles[fd.ID] = fd
	f.FontFiles[fd.ID] = data
}

// MediaKey builds the key of FakeGraFx.Media and FakeGraFx.Vision.
func MediaKey(connectorID, rest string) string {
	return connectorID + "|" + rest
}
