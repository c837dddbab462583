// Package download assembles a studio package from the live session and
// delivers every artifact through the relay.
package download

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/connector"
	"github.com/starford/studiopack/internal/document"
	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/smartcrop"
	"github.com/starford/studiopack/internal/studio"
	"github.com/starford/studiopack/internal/tasks"
)

// State is the step a download is at.
type State string

const (
	StateInitial          State = "initial"
	StateDownloadSettings State = "downloadSettings"
	StateDownloading      State = "downloading"
	StateTasks            State = "tasks"
	StateDone             State = "done"
)

// ErrNotClosable is returned by Close while tasks are still running.
var ErrNotClosable = errors.New("download: tasks are still running")

// Environment is the part of the environment API a download needs.
type Environment interface {
	Authorization() (string, error)
	FontStyle(ctx context.Context, styleID string) (models.FontData, error)
	FontStyleDownloadURL(styleID string) string
	GetVision(ctx context.Context, connectorID, assetID string) (smartcrop.Metadata, error)
}

// Relay saves a URL under folder/filename.
type Relay interface {
	Download(ctx context.Context, url, authorization, folder, filename string) error
}

// Orchestrator runs one package download at a time.
type Orchestrator struct {
	sdk      studio.SDK
	env      Environment
	dir      *connector.Directory
	relay    Relay
	tracker  *tasks.Tracker
	defaults models.DownloadSettings
	log      *slog.Logger

	mu    sync.Mutex
	state State
	files []models.DownloadFile
}

// Deps bundles the collaborators of an Orchestrator.
type Deps struct {
	SDK       studio.SDK
	Env       Environment
	Directory *connector.Directory
	Relay     Relay
	Tracker   *tasks.Tracker
	// Defaults apply when the document carries no toolbar settings.
	Defaults models.DownloadSettings
	Logger   *slog.Logger
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		sdk: d.SDK, env: d.Env, dir: d.Directory, relay: d.Relay, tracker: d.Tracker,
		defaults: d.Defaults, log: log, state: StateInitial,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Files returns a snapshot of the artifacts of the current run.
func (o *Orchestrator) Files() []models.DownloadFile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.DownloadFile(nil), o.files...)
}

func (o *Orchestrator) updateFile(id string, fn func(*models.DownloadFile)) models.DownloadFile {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.files {
		if o.files[i].ID == id {
			fn(&o.files[i])
			return o.files[i]
		}
	}
	return models.DownloadFile{}
}

// Settings reads the settings stored in the document toolbar data, falling
// back to the configured defaults, and applies the overrides.
func (o *Orchestrator) Settings(ctx context.Context, overrides models.DownloadOverrides) (models.DownloadSettings, error) {
	data, err := o.sdk.DocumentState(ctx)
	if err != nil {
		return models.DownloadSettings{}, fmt.Errorf("download: document state: %w", err)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return models.DownloadSettings{}, fmt.Errorf("%w: %v", apperr.ErrInvalidDocumentJSON, err)
	}
	settings := o.defaults
	td, err := doc.ToolbarData()
	if err != nil {
		o.log.Warn("download: unreadable toolbar data", slog.String("error", err.Error()))
	} else if td.DefaultDownloadSettings != nil {
		settings = *td.DefaultDownloadSettings
	}
	o.setState(StateDownloadSettings)
	return settings.Merge(overrides), nil
}

// Prepare lists the artifacts a run with these settings produces, in
// delivery order: document, fonts, smart crops, package manifest.
func (o *Orchestrator) Prepare(ctx context.Context, settings models.DownloadSettings) ([]models.DownloadFile, error) {
	data, err := o.sdk.DocumentState(ctx)
	if err != nil {
		return nil, fmt.Errorf("download: document state: %w", err)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidDocumentJSON, err)
	}
	docID := doc.ID()
	if docID == "" {
		docID = "document"
	}

	files := []models.DownloadFile{{
		ID: "document-json", Kind: models.DownloadKindDocument, Name: "Document JSON",
		FileName: docID + ".json", Status: models.DownloadStatusPending,
	}}

	if settings.IncludeFonts {
		families, err := o.sdk.FontFamilies(ctx)
		if err != nil {
			return nil, fmt.Errorf("download: font families: %w", err)
		}
		seen := make(map[string]bool)
		for _, fam := range families {
			for _, style := range fam.FontStyles {
				if style.FontStyleID == "" || seen[style.FontStyleID] {
					continue
				}
				seen[style.FontStyleID] = true
				files = append(files, models.DownloadFile{
					ID: "font-" + style.FontStyleID, Kind: models.DownloadKindFont,
					Name: fam.Name + " " + style.Name, FontStyleID: style.FontStyleID,
					Status: models.DownloadStatusPending,
				})
			}
		}
	}

	if settings.IncludeSmartCrops && settings.HasSmartCropsSelection() {
		files = append(files, models.DownloadFile{
			ID: "smart-crops", Kind: models.DownloadKindSmartCrops, Name: "Smart crops",
			FileName: models.SmartCropsFileName, Status: models.DownloadStatusPending,
		})
	}

	files = append(files, models.DownloadFile{
		ID: "studio-package", Kind: models.DownloadKindPackage, Name: "Studio package",
		FileName: models.PackageFileName, Status: models.DownloadStatusPending,
	})
	return files, nil
}

// Run downloads files into folder. Only a bad folder name or an unreadable
// document fail the run; every artifact error is recorded on its file and
// task and the remaining artifacts proceed.
func (o *Orchestrator) Run(ctx context.Context, files []models.DownloadFile, settings models.DownloadSettings, folder string) ([]models.DownloadFile, error) {
	if err := ValidateFolderName(folder); err != nil {
		return nil, err
	}
	data, err := o.sdk.DocumentState(ctx)
	if err != nil {
		return nil, fmt.Errorf("download: document state: %w", err)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidDocumentJSON, err)
	}
	if err := o.transform(doc, settings); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.files = append([]models.DownloadFile(nil), files...)
	o.state = StateDownloading
	o.mu.Unlock()
	o.log.Info("download: started", slog.String("folder", folder), slog.Int("files", len(files)))

	var docFile *models.DownloadFile
	var fonts []models.DownloadFile
	var crops, pkg *models.DownloadFile
	for i := range files {
		f := files[i]
		switch f.Kind {
		case models.DownloadKindDocument:
			docFile = &f
		case models.DownloadKindFont:
			fonts = append(fonts, f)
		case models.DownloadKindSmartCrops:
			crops = &f
		case models.DownloadKindPackage:
			pkg = &f
		}
	}

	if docFile != nil {
		body, err := doc.Bytes()
		if err == nil {
			o.deliver(ctx, *docFile, dataURI("application/json", body), "", folder, docFile.FileName)
		} else {
			o.fail(*docFile, err)
		}
	}

	var delivered []models.FontEntry
	for _, f := range fonts {
		if entry, ok := o.downloadFont(ctx, f, settings, folder); ok {
			delivered = append(delivered, entry)
		}
	}

	cropsDone := false
	if crops != nil {
		cropsDone = o.downloadSmartCrops(ctx, *crops, settings, folder)
	}

	if pkg != nil {
		manifest, err := o.manifest(ctx, doc, docFile, delivered, cropsDone)
		if err != nil {
			o.fail(*pkg, err)
		} else {
			o.deliver(ctx, *pkg, dataURI("application/json", manifest), "", folder, pkg.FileName)
		}
	}

	o.setState(StateTasks)
	out := o.Files()
	o.log.Info("download: finished", slog.String("folder", folder),
		slog.Int("failed", lo.CountBy(out, func(f models.DownloadFile) bool { return f.Status == models.DownloadStatusError })))
	return out, nil
}

// Close ends the run. It is refused while any task is running.
func (o *Orchestrator) Close() error {
	if !o.tracker.AllTerminal() {
		return ErrNotClosable
	}
	o.setState(StateDone)
	return nil
}

func (o *Orchestrator) transform(doc *document.Document, settings models.DownloadSettings) error {
	if settings.RemoveToolbarData {
		if _, err := doc.RemoveToolbarData(); err != nil {
			return err
		}
	}
	if settings.RemoveUnusedConnectors {
		report, err := doc.RemoveUnusedConnectors()
		if err != nil {
			return err
		}
		for _, c := range report.Removed {
			o.log.Info("download: removed unused connector", slog.String("id", c.ID), slog.String("name", c.Name))
		}
		if len(report.Disputed) > 0 {
			o.log.Warn("download: connector usage uncertain", slog.Any("ids", report.Disputed))
		}
		if len(report.Ambiguous) > 0 {
			o.log.Warn("download: connector ids overlap", slog.Any("pairs", report.Ambiguous))
		}
	}
	return nil
}

// deliver sends one artifact through the relay, tracking file and task.
func (o *Orchestrator) deliver(ctx context.Context, f models.DownloadFile, url, auth, folder, filename string) bool {
	o.begin(f)
	if err := o.relay.Download(ctx, url, auth, folder, filename); err != nil {
		o.fail(f, err)
		return false
	}
	o.updateFile(f.ID, func(df *models.DownloadFile) {
		df.Status = models.DownloadStatusComplete
		df.FileName = filename
		df.Error = ""
	})
	o.tracker.UpdateStatus(f.ID, models.TaskStatusComplete)
	return true
}

func (o *Orchestrator) begin(f models.DownloadFile) {
	updated := o.updateFile(f.ID, func(df *models.DownloadFile) { df.Status = models.DownloadStatusDownloading })
	if _, ok := o.tracker.Get(f.ID); !ok {
		o.tracker.Add(models.Task{ID: f.ID, Name: updated.Name, Type: models.TaskTypeDownload, Status: models.TaskStatusProcessing})
	}
}

func (o *Orchestrator) fail(f models.DownloadFile, err error) {
	err = apperr.Wrap(err)
	if _, ok := o.tracker.Get(f.ID); !ok {
		o.tracker.Add(models.Task{ID: f.ID, Name: f.Name, Type: models.TaskTypeDownload, Status: models.TaskStatusProcessing})
	}
	o.updateFile(f.ID, func(df *models.DownloadFile) {
		df.Status = models.DownloadStatusError
		df.Error = err.Error()
	})
	o.tracker.UpdateStatus(f.ID, models.TaskStatusError, tasks.WithError(err.Error()))
	o.log.Warn("download: artifact failed", slog.String("file", f.Name), slog.String("error", err.Error()))
}

// FontFileName names a downloaded font: the original file name when asked
// for, otherwise the style id with the font extension.
func FontFileName(fd models.FontData, useOriginal bool) string {
	if useOriginal && fd.FileName != "" {
		return fd.FileName
	}
	if fd.Extension == "" {
		return fd.ID
	}
	return fd.ID + "." + fd.Extension
}

func (o *Orchestrator) downloadFont(ctx context.Context, f models.DownloadFile, settings models.DownloadSettings, folder string) (models.FontEntry, bool) {
	o.begin(f)
	fd, err := o.env.FontStyle(ctx, f.FontStyleID)
	if err != nil {
		o.fail(f, fmt.Errorf("font lookup %s: %w", f.FontStyleID, err))
		return models.FontEntry{}, false
	}
	auth, err := o.env.Authorization()
	if err != nil {
		o.fail(f, err)
		return models.FontEntry{}, false
	}
	name := FontFileName(fd, settings.UseOriginalFontFileNames)
	o.updateFile(f.ID, func(df *models.DownloadFile) { df.Font = &fd })
	if !o.deliver(ctx, f, o.env.FontStyleDownloadURL(f.FontStyleID), auth, folder, name) {
		return models.FontEntry{}, false
	}
	return models.FontEntry{FilePath: name, Details: fd}, true
}

func (o *Orchestrator) downloadSmartCrops(ctx context.Context, f models.DownloadFile, settings models.DownloadSettings, folder string) bool {
	o.begin(f)
	sel := settings.SmartCropsConnectorSelection.Normalized()
	file, err := o.collectSmartCrops(ctx, sel)
	if err != nil {
		o.fail(f, err)
		return false
	}
	body, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		o.fail(f, err)
		return false
	}
	return o.deliver(ctx, f, dataURI("application/json", body), "", folder, f.FileName)
}

func (o *Orchestrator) manifest(ctx context.Context, doc *document.Document, docFile *models.DownloadFile, fonts []models.FontEntry, withCrops bool) ([]byte, error) {
	engine, err := o.sdk.ConfigValue(ctx, studio.KeyEngineVersion)
	if err != nil {
		return nil, fmt.Errorf("engine version: %w", err)
	}
	source, err := o.sdk.ConfigValue(ctx, studio.KeyEnvironmentAPI)
	if err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	entry := models.DocumentEntry{ID: doc.ID(), Fonts: fonts}
	if entry.Fonts == nil {
		entry.Fonts = []models.FontEntry{}
	}
	if docFile != nil {
		entry.FilePath = docFile.FileName
	}
	if name, err := o.sdk.ConfigValue(ctx, studio.KeyTemplateName); err == nil && name != "" {
		entry.Name = &name
	}
	if withCrops {
		entry.SmartCrops = &models.FileRef{FilePath: models.SmartCropsFileName}
	}
	pkg := models.StudioPackage{EngineVersion: engine, Source: source, Documents: []models.DocumentEntry{entry}}
	return json.MarshalIndent(pkg, "", "  ")
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
