package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/packservice"
	"github.com/starford/studiopack/internal/relay"
	"github.com/starford/studiopack/internal/studio"
	"github.com/starford/studiopack/internal/testutil"
	"github.com/starford/studiopack/internal/upload"
)

const connectedDoc = `{"id":"doc-1","connectors":[{"id":"A","name":"Media","source":{"source":"grafx","id":"A"}}]}`

type apiEnv struct {
	fake   *testutil.FakeGraFx
	outDir string
	router http.Handler
}

// newAPIEnv sets up a fake environment, a file-backed session, a relay and
// the router. An empty token means auth is disabled.
func newAPIEnv(t *testing.T, token string, sseHandler http.Handler) *apiEnv {
	t.Helper()
	fake := testutil.NewFakeGraFx(t)
	fake.Connectors = []models.Connector{
		{ID: "B", Name: "Media", Type: models.ConnectorTypeMedia, Enabled: true},
	}
	client := fake.Client()
	_, docs := testutil.TestDir(t, map[string]string{"template.json": connectedDoc})
	session := studio.NewLocal(docs, client, studio.Options{
		DocumentPath: "template.json", OutputPath: "loaded.json", EngineVersion: "1.0.0",
	})

	outDir, out := testutil.TestDir(t, nil)
	rl, err := relay.NewLocal(out, fake.Server.Client(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc := packservice.New(packservice.Deps{
		SDK:     session,
		Env:     client,
		Relay:   relay.NewClient(rl, 5*time.Second, nil),
		History: testutil.TestDB(t),
	})
	router := NewRouter(svc, token != "", token, sseHandler, outDir)
	return &apiEnv{fake: fake, outDir: outDir, router: router}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func (e *apiEnv) download(t *testing.T, folder string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/downloads", map[string]any{"folder": folder})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestDownloadAndServeFiles(t *testing.T) {
	env := newAPIEnv(t, "", nil)

	w := env.do(t, http.MethodPost, "/downloads", map[string]any{"folder": "Flyer"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp DownloadResponse
	decodeBody(t, w, &resp)
	require.Len(t, resp.Files, 2)
	for _, f := range resp.Files {
		assert.Equal(t, models.DownloadStatusComplete, f.Status, f.ID)
	}

	w = env.do(t, http.MethodGet, "/packages/Flyer/"+models.PackageFileName, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pkg models.StudioPackage
	decodeBody(t, w, &pkg)
	require.Len(t, pkg.Documents, 1)
	assert.Equal(t, "doc-1", pkg.Documents[0].ID)

	w = env.do(t, http.MethodGet, "/packages/Flyer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing PackageFilesResponse
	decodeBody(t, w, &listing)
	require.Len(t, listing.Files, 2)
	for _, f := range listing.Files {
		assert.Len(t, f.Checksum, 64)
		assert.NotZero(t, f.Size)
	}
	w = env.do(t, http.MethodGet, "/packages/Missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/packages/Flyer/missing.json", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodGet, "/packages/..%2F..%2Fetc/passwd", nil)
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusNotFound}, w.Code)
}

func TestDownload_InvalidFolder(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	w := env.do(t, http.MethodPost, "/downloads", map[string]any{"folder": "bad!"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownload_InvalidJSON(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/downloads", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadSessionFlow(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	env.download(t, "pkg")

	w := env.do(t, http.MethodPost, "/uploads", BeginUploadRequest{Dir: filepath.Join(env.outDir, "pkg")})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sess upload.Session
	decodeBody(t, w, &sess)
	require.Equal(t, upload.StepReplaceConnectors, sess.Step)
	assert.Equal(t, "B", sess.Suggested["A"])

	// A second download is refused while the session is open.
	w = env.do(t, http.MethodPost, "/downloads", map[string]any{"folder": "other"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/uploads/"+sess.ID+"/start", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "start before replacements")

	w = env.do(t, http.MethodPost, "/uploads/"+sess.ID+"/replacements", ReplacementsRequest{Replacements: map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "partial replacements")

	w = env.do(t, http.MethodPost, "/uploads/"+sess.ID+"/replacements", ReplacementsRequest{Replacements: sess.Suggested})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/uploads/"+sess.ID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tasks TasksResponse
	decodeBody(t, w, &tasks)
	assert.NotZero(t, tasks.Total)
	assert.Equal(t, tasks.Total, tasks.Done)

	w = env.do(t, http.MethodGet, "/uploads/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "closed session")

	w = env.do(t, http.MethodGet, "/runs", nil)
	var runs RunListResponse
	decodeBody(t, w, &runs)
	assert.Equal(t, 2, runs.Total)
	require.NotEmpty(t, runs.Runs)
	assert.Equal(t, models.RunKindUpload, runs.Runs[0].Kind)

	w = env.do(t, http.MethodGet, "/runs/"+runs.Runs[0].ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUploadFiles_Multipart(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	env.download(t, "pkg")

	entries, err := os.ReadDir(filepath.Join(env.outDir, "pkg"))
	require.NoError(t, err)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(env.outDir, "pkg", e.Name()))
		require.NoError(t, err)
		part, err := mw.CreateFormFile("file", e.Name())
		require.NoError(t, err)
		_, _ = part.Write(data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/uploads/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sess upload.Session
	decodeBody(t, w, &sess)

	w = env.do(t, http.MethodDelete, "/uploads/"+sess.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodDelete, "/uploads/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "cancel twice")
}

func TestUploadFiles_MissingField(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "x")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/uploads/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBeginUpload_InvalidPackage(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	w := env.do(t, http.MethodPost, "/uploads", BeginUploadRequest{Dir: t.TempDir()})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body errResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	assert.NotEmpty(t, body.Error)
}

func TestConnectorsAndItems(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	env.fake.Lock()
	env.fake.Media[testutil.MediaKey("B", "/photos")] = []models.MediaItem{
		{ID: "a1", Name: "one.jpg", Type: models.MediaItemFile},
	}
	env.fake.Unlock()

	w := env.do(t, http.MethodGet, "/connectors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cs ConnectorsResponse
	decodeBody(t, w, &cs)
	require.Len(t, cs.Connectors, 1)
	assert.Equal(t, "B", cs.Connectors[0].ID)

	w = env.do(t, http.MethodGet, "/connectors/B/items?path=photos", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var items ItemsResponse
	decodeBody(t, w, &items)
	assert.Equal(t, "/photos", items.Path)
	assert.Len(t, items.Items, 1)
}

func TestTasks_Empty(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	w := env.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp TasksResponse
	decodeBody(t, w, &resp)
	assert.Zero(t, resp.Total)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	env := newAPIEnv(t, "secret123", nil)
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	env := newAPIEnv(t, "secret123", nil)
	w := env.do(t, http.MethodGet, "/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	env := newAPIEnv(t, "secret123", nil)
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// blockingSSE writes headers and blocks until the request is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	env := newAPIEnv(t, "secret", blockingSSE)
	w := env.do(t, http.MethodGet, "/events", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSSEEvents_ValidToken(t *testing.T) {
	env := newAPIEnv(t, "tok", blockingSSE)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.NotEqual(t, http.StatusUnauthorized, w.Code)
}
