package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/packservice"
	"github.com/starford/studiopack/internal/relay"
	"github.com/starford/studiopack/internal/storage"
	"github.com/starford/studiopack/internal/studio"
	"github.com/starford/studiopack/internal/testutil"
)

const connectedDoc = `{"id":"doc-1","connectors":[{"id":"A","name":"Media","source":{"source":"grafx","id":"A"}}]}`

type mcpEnv struct {
	srv    *Server
	fake   *testutil.FakeGraFx
	docs   storage.Provider
	outDir string
}

func testServer(t *testing.T) *mcpEnv {
	t.Helper()
	fake := testutil.NewFakeGraFx(t)
	fake.Connectors = []models.Connector{
		{ID: "B", Name: "Media", Type: models.ConnectorTypeMedia, Enabled: true},
		{ID: "Z", Name: "Off", Type: models.ConnectorTypeMedia, Enabled: false},
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
		SDK:   session,
		Env:   client,
		Relay: relay.NewClient(rl, 5*time.Second, nil),
	})
	return &mcpEnv{srv: New(svc, "test"), fake: fake, docs: docs, outDir: outDir}
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "validate_package":
		result, err = srv.validatePackage(ctx, req)
	case "list_media_connectors":
		result, err = srv.listMediaConnectors(ctx, req)
	case "browse_folder":
		result, err = srv.browseFolder(ctx, req)
	case "download_package":
		result, err = srv.downloadPackage(ctx, req)
	case "upload_package":
		result, err = srv.uploadPackage(ctx, req)
	case "get_tasks":
		result, err = srv.getTasks(ctx, req)
	case "get_package_contract":
		result, err = srv.getPackageContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	require.NoError(t, err, name)
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestDownloadValidateUpload(t *testing.T) {
	env := testServer(t)

	r := callTool(t, env.srv, "download_package", map[string]any{"folder": "Flyer", "include_fonts": true})
	require.False(t, r.IsError, resultText(r))
	var dl struct {
		Files []models.DownloadFile `json:"files"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(r)), &dl))
	assert.Len(t, dl.Files, 2)

	dir := filepath.Join(env.outDir, "Flyer")
	r = callTool(t, env.srv, "validate_package", map[string]any{"dir": dir})
	require.False(t, r.IsError, resultText(r))
	assert.Contains(t, resultText(r), `"filePath": "doc-1.json"`)

	r = callTool(t, env.srv, "upload_package", map[string]any{"dir": dir})
	require.False(t, r.IsError, resultText(r))
	loaded, err := env.docs.Read("loaded.json")
	require.NoError(t, err)
	assert.Contains(t, string(loaded), `"B"`)

	r = callTool(t, env.srv, "get_tasks", nil)
	assert.Contains(t, resultText(r), "document-load")
}

func TestUploadPackage_ExplicitReplacements(t *testing.T) {
	env := testServer(t)
	r := callTool(t, env.srv, "download_package", map[string]any{"folder": "Flyer"})
	require.False(t, r.IsError, resultText(r))

	env.fake.Lock()
	env.fake.Connectors = append(env.fake.Connectors, models.Connector{ID: "C", Name: "Media", Type: models.ConnectorTypeMedia, Enabled: true})
	env.fake.Unlock()

	dir := filepath.Join(env.outDir, "Flyer")
	// Two connectors named Media: nothing is suggested.
	r = callTool(t, env.srv, "upload_package", map[string]any{"dir": dir})
	require.True(t, r.IsError, "ambiguous connector names")

	r = callTool(t, env.srv, "upload_package", map[string]any{"dir": dir, "replacements": map[string]any{"A": "C"}})
	require.False(t, r.IsError, resultText(r))

	r = callTool(t, env.srv, "upload_package", map[string]any{"dir": dir, "replacements": map[string]any{"A": 1}})
	assert.True(t, r.IsError, "non-string replacement")
}

func TestValidatePackage_Missing(t *testing.T) {
	env := testServer(t)
	r := callTool(t, env.srv, "validate_package", map[string]any{"dir": t.TempDir()})
	assert.True(t, r.IsError, "empty directory")
	r = callTool(t, env.srv, "validate_package", map[string]any{})
	assert.True(t, r.IsError, "missing dir")
}

func TestDownloadPackage_BadFolder(t *testing.T) {
	env := testServer(t)
	r := callTool(t, env.srv, "download_package", map[string]any{"folder": "a#b"})
	require.True(t, r.IsError)
	assert.Contains(t, resultText(r), `"#"`)
}

func TestListAndBrowse(t *testing.T) {
	env := testServer(t)
	env.fake.Lock()
	env.fake.Media[testutil.MediaKey("B", "/")] = []models.MediaItem{
		{ID: "f1", Name: "photos", Type: models.MediaItemFolder},
	}
	env.fake.Unlock()

	text := resultText(callTool(t, env.srv, "list_media_connectors", nil))
	assert.Contains(t, text, `"B"`)
	assert.NotContains(t, text, `"Z"`)

	r := callTool(t, env.srv, "browse_folder", map[string]any{"connector_id": "B"})
	require.False(t, r.IsError, resultText(r))
	assert.Contains(t, resultText(r), "photos")
}

func TestGetTasks_Empty(t *testing.T) {
	env := testServer(t)
	assert.Equal(t, "no tasks", resultText(callTool(t, env.srv, "get_tasks", nil)))
}

func TestPackageContract(t *testing.T) {
	env := testServer(t)
	r := callTool(t, env.srv, "get_package_contract", nil)
	assert.Contains(t, resultText(r), models.PackageFileName)
}
