package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/document"
	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/smartcrop"
	"github.com/starford/studiopack/internal/storage"
	"github.com/starford/studiopack/internal/studio"
	"github.com/starford/studiopack/internal/tasks"
	"github.com/starford/studiopack/internal/testutil"
)

const pkgDoc = `{
  "id": "doc-1",
  "connectors": [
    {"id": "src-7f3a", "name": "Media", "source": {"source": "grafx", "id": "src-7f3a"}}
  ],
  "layouts": [
    {"id": "L1", "frameProperties": [{"frameId": "f1", "perAssetCrop": {"src-7f3a": {"x": 2}}}]}
  ]
}`

const pkgCrops = `{"connectorId":"src-7f3a","connectorName":"Media","crops":[
  {"assetId":"a1","metadata":{"subjectArea":{"x":-0.2,"y":0.5,"width":0.5,"height":0.8}}}
]}`

func fontDetails(id, family, style, file string) models.FontData {
	return models.FontData{
		ID: id, Name: style, FamilyID: "fam-" + id, FamilyName: family,
		DateCreated: "2024-01-01", Extension: "ttf", FileName: file, FileSize: 4,
	}
}

func packageFiles(t *testing.T, doc, crops string, fonts ...models.FontData) []models.NamedBlob {
	t.Helper()
	entry := models.DocumentEntry{ID: "doc-1", FilePath: "doc-1.json", Fonts: []models.FontEntry{}}
	files := []models.NamedBlob{{Name: "pkg/doc-1.json", Data: []byte(doc)}}
	if crops != "" {
		entry.SmartCrops = &models.FileRef{FilePath: models.SmartCropsFileName}
		files = append(files, models.NamedBlob{Name: "pkg/" + models.SmartCropsFileName, Data: []byte(crops)})
	}
	for _, fd := range fonts {
		entry.Fonts = append(entry.Fonts, models.FontEntry{FilePath: fd.FileName, Details: fd})
		files = append(files, models.NamedBlob{Name: "pkg/" + fd.FileName, Data: []byte("font")})
	}
	manifest, err := json.Marshal(models.StudioPackage{EngineVersion: "1.0.0", Source: "https://src", Documents: []models.DocumentEntry{entry}})
	require.NoError(t, err)
	return append(files, models.NamedBlob{Name: "pkg/" + models.PackageFileName, Data: manifest})
}

type testEnv struct {
	fake    *testutil.FakeGraFx
	out     storage.Provider
	tracker *tasks.Tracker
	orch    *Orchestrator
	logs    *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake := testutil.NewFakeGraFx(t)
	fake.Connectors = []models.Connector{
		{ID: "B", Name: "Media", Type: models.ConnectorTypeMedia, Enabled: true},
		{ID: "C", Name: "Other", Type: models.ConnectorTypeMedia, Enabled: true},
		{ID: "D", Name: "Data", Type: "data", Enabled: true},
	}
	client := fake.Client()
	_, out := testutil.TestDir(t, nil)
	session := studio.NewLocal(out, client, studio.Options{DocumentPath: "current.json", OutputPath: "loaded.json", EngineVersion: "2.1.0"})
	tracker := tasks.New()
	logs := &bytes.Buffer{}
	orch := New(Deps{
		SDK: session, Env: client, Catalog: client, Tracker: tracker,
		Logger: slog.New(slog.NewTextHandler(logs, nil)),
	})
	return &testEnv{fake: fake, out: out, tracker: tracker, orch: orch, logs: logs}
}

func taskIDs(ts []models.Task) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func TestUpload_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.fake.AddFont(fontDetails("s-arial", "Arial", "Bold", "Arial-Bold.ttf"), []byte("ttf"))
	files := packageFiles(t, pkgDoc, pkgCrops,
		fontDetails("s-arial", "Arial", "Bold", "Arial-Bold.ttf"),
		fontDetails("s-rob", "Roboto", "Regular", "Roboto-Regular.ttf"),
	)
	ctx := context.Background()

	s, err := env.orch.Begin(ctx, files)
	require.NoError(t, err)
	assert.Equal(t, StepConnectorSelection, s.Step)
	assert.Equal(t, "B", s.SuggestedSmartCropsConnector)
	assert.Equal(t, StateConnectorSelection, env.orch.State())
	assert.Contains(t, env.logs.String(), "engine version differs")

	_, err = env.orch.SelectSmartCropsConnector(ctx, s, "D")
	assert.ErrorIs(t, err, ErrUnknownConnector)

	s, err = env.orch.SelectSmartCropsConnector(ctx, s, "B")
	require.NoError(t, err)
	assert.Equal(t, StepReplaceConnectors, s.Step)
	assert.Equal(t, StateReplaceConnectors, env.orch.State())
	assert.Equal(t, map[string]string{"src-7f3a": "B"}, s.Suggested)

	paused, err := env.orch.ReplaceConnectors(s, map[string]string{})
	assert.ErrorIs(t, err, apperr.ErrIncompleteReplacements)
	assert.Equal(t, StepReplaceConnectors, paused.Step)
	assert.ErrorIs(t, env.orch.Execute(ctx, paused), ErrWrongStep)
	assert.Empty(t, env.tracker.List())

	ready, err := env.orch.ReplaceConnectors(s, s.Suggested)
	require.NoError(t, err)
	assert.Equal(t, StepReady, ready.Step)
	assert.Equal(t, StepReplaceConnectors, s.Step)

	require.NoError(t, env.orch.Execute(ctx, ready))
	assert.Equal(t, StateTasks, env.orch.State())
	assert.True(t, env.tracker.AllTerminal())
	assert.Equal(t,
		[]string{TaskPackageProcessing, "font-0", "font-1", TaskSmartCrops, TaskDocumentLoad},
		taskIDs(env.tracker.Visible()))

	arial, _ := env.tracker.Get("font-0")
	assert.Equal(t, models.TaskStatusInfo, arial.Status)
	roboto, _ := env.tracker.Get("font-1")
	assert.Equal(t, models.TaskStatusComplete, roboto.Status)
	require.Len(t, env.fake.Uploads, 1)
	assert.Equal(t, 1, env.fake.CallCount(http.MethodPatch, "/font-uploads/"))
	assert.Equal(t, "Roboto", env.fake.Uploads[0].FamilyName)
	assert.True(t, env.fake.Uploads[0].Confirmed)

	summary, _ := env.tracker.Get(TaskSmartCrops)
	assert.Equal(t, "1/1 smart crops processed", summary.Name)
	assert.Equal(t, models.TaskStatusComplete, summary.Status)
	var vision struct {
		SubjectArea smartcrop.SubjectArea `json:"subjectArea"`
	}
	require.NoError(t, json.Unmarshal(env.fake.Vision[testutil.MediaKey("B", "a1")], &vision))
	assert.Equal(t, smartcrop.SubjectArea{X: 0, Y: 0.5, Width: 0.5, Height: 0.5}, vision.SubjectArea)

	load, _ := env.tracker.Get(TaskDocumentLoad)
	assert.Equal(t, models.TaskStatusComplete, load.Status)
	loaded, err := env.out.Read("loaded.json")
	require.NoError(t, err)
	assert.Empty(t, document.FindIDs(loaded, []string{"src-7f3a"}))
	assert.Contains(t, string(loaded), `"B"`)

	require.NoError(t, env.orch.Cancel())
	assert.Equal(t, StateDone, env.orch.State())
}

func TestUpload_NoReplacementsGoesStraightToReady(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.orch.Begin(context.Background(), packageFiles(t, `{"id":"doc-1","connectors":[]}`, ""))
	require.NoError(t, err)
	assert.Equal(t, StepReady, s.Step)
	require.NoError(t, env.orch.Execute(context.Background(), s))
	assert.Equal(t, []string{TaskPackageProcessing, TaskDocumentLoad}, taskIDs(env.tracker.List()))
	assert.Zero(t, env.fake.CallCount(http.MethodGet, "/connectors"))
}

func TestUpload_ValidationAbortsBeforeNetwork(t *testing.T) {
	env := newTestEnv(t)
	files := packageFiles(t, pkgDoc, `{broken`)
	_, err := env.orch.Begin(context.Background(), files)
	assert.ErrorIs(t, err, apperr.ErrInvalidSmartCropsJSON)

	_, err = env.orch.Begin(context.Background(), []models.NamedBlob{{Name: "x.json", Data: []byte(`{}`)}})
	assert.ErrorIs(t, err, apperr.ErrNoChiliPackage)

	assert.Empty(t, env.fake.Calls)
	assert.Empty(t, env.tracker.List())
	assert.Equal(t, StateInitial, env.orch.State())
}

func TestUpload_DocumentFailureResetsState(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.orch.Begin(context.Background(), packageFiles(t, `[1,2]`, ""))
	assert.ErrorIs(t, err, apperr.ErrInvalidDocumentJSON)
	assert.Equal(t, StateInitial, env.orch.State())

	env.fake.FailStep["connectors"] = http.StatusBadRequest
	_, err = env.orch.Begin(context.Background(), packageFiles(t, pkgDoc, ""))
	assert.ErrorIs(t, err, apperr.ErrFailedToFetchConnectors)
	assert.Equal(t, StateInitial, env.orch.State())
	assert.Empty(t, env.tracker.List())
}

func TestUpload_FontStepFailureIsolated(t *testing.T) {
	env := newTestEnv(t)
	env.fake.FailStep["patch"] = http.StatusConflict
	files := packageFiles(t, `{"id":"doc-1"}`, "",
		fontDetails("s1", "Roboto", "Regular", "Roboto-Regular.ttf"),
		fontDetails("s2", "Roboto", "Bold", "Roboto-Bold.ttf"),
	)
	s, err := env.orch.Begin(context.Background(), files)
	require.NoError(t, err)
	require.NoError(t, env.orch.Execute(context.Background(), s))

	for _, id := range []string{"font-0", "font-1"} {
		task, _ := env.tracker.Get(id)
		assert.Equal(t, models.TaskStatusError, task.Status)
		assert.Equal(t, "Conflict", task.Error)
	}
	load, _ := env.tracker.Get(TaskDocumentLoad)
	assert.Equal(t, models.TaskStatusComplete, load.Status)
}

type failingVision struct{ calls int }

func (f *failingVision) FontExists(context.Context, string, string) (bool, error) { return false, nil }

func (f *failingVision) UploadFont(context.Context, string, []byte, string, string) error {
	return nil
}

func (f *failingVision) SetVision(_ context.Context, _, _ string, _ smartcrop.Metadata) error {
	defer func() { f.calls++ }()
	return fmt.Errorf("err %d", f.calls)
}

func TestUpload_SmartCropSummaryAggregatesErrors(t *testing.T) {
	env := newTestEnv(t)
	env.orch.env = &failingVision{}

	crops := smartcrop.File{ConnectorID: "A", ConnectorName: "Media"}
	for i := 0; i < 5; i++ {
		crops.Crops = append(crops.Crops, smartcrop.Crop{AssetID: fmt.Sprintf("a%d", i), Metadata: smartcrop.Metadata{}})
	}
	raw, err := json.Marshal(crops)
	require.NoError(t, err)

	ctx := context.Background()
	s, err := env.orch.Begin(ctx, packageFiles(t, `{"id":"doc-1"}`, string(raw)))
	require.NoError(t, err)
	s, err = env.orch.SelectSmartCropsConnector(ctx, s, s.SuggestedSmartCropsConnector)
	require.NoError(t, err)
	require.NoError(t, env.orch.Execute(ctx, s))

	summary, _ := env.tracker.Get(TaskSmartCrops)
	assert.Equal(t, "5/5 smart crops processed", summary.Name)
	assert.Equal(t, models.TaskStatusError, summary.Status)
	assert.Equal(t, "5 failed", summary.Error)
	assert.Equal(t, "err 0\nerr 1\nerr 2\n+2 more", summary.Tooltip)
}

func TestUpload_StaleIDIsFatal(t *testing.T) {
	env := newTestEnv(t)
	doc := `{"id":"doc-1","connectors":[{"id":"src-7f3a","name":"Media","source":{"source":"grafx","id":"src-7f3a"}}],"note":"src-7f3a"}`
	s, err := env.orch.Begin(context.Background(), packageFiles(t, doc, ""))
	require.NoError(t, err)

	_, err = env.orch.ReplaceConnectors(s, map[string]string{"src-7f3a": "B"})
	var incomplete *apperr.ReplacementIncompleteError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []string{"src-7f3a"}, incomplete.IDs)
	assert.Empty(t, env.tracker.List())
}

func TestUpload_CancelRefusedWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	env.orch.setState(StateTasks)
	env.tracker.Add(models.Task{ID: "x", Type: models.TaskTypeFontUpload, Status: models.TaskStatusProcessing})
	assert.ErrorIs(t, env.orch.Cancel(), ErrTasksRunning)
}
