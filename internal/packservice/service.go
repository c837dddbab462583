// Package packservice coordinates package downloads and uploads for the CLI,
// the HTTP API and the MCP server. Only one run is active at a time.
package packservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/connector"
	"github.com/starford/studiopack/internal/download"
	"github.com/starford/studiopack/internal/history"
	"github.com/starford/studiopack/internal/manifest"
	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/smartcrop"
	"github.com/starford/studiopack/internal/sse"
	"github.com/starford/studiopack/internal/storage"
	"github.com/starford/studiopack/internal/studio"
	"github.com/starford/studiopack/internal/tasks"
	"github.com/starford/studiopack/internal/upload"
)

// Environment is everything the workflows need from the environment API.
type Environment interface {
	download.Environment
	upload.Environment
	upload.Catalog
	connector.Lister
	smartcrop.VisionStore
}

// Deps bundles the collaborators of a Service. History and Broker are optional.
type Deps struct {
	SDK      studio.SDK
	Env      Environment
	Relay    download.Relay
	History  history.Store
	Broker   *sse.Broker
	Defaults models.DownloadSettings
	Logger   *slog.Logger
}

// Service is the single-flight entry point to the package workflows.
type Service struct {
	dir       *connector.Directory
	env       Environment
	tracker   *tasks.Tracker
	downloads *download.Orchestrator
	uploads   *upload.Orchestrator
	history   history.Store
	recorder  *history.Recorder
	broker    *sse.Broker
	log       *slog.Logger

	mu       sync.Mutex
	running  bool
	sessions map[string]upload.Session
}

// New wires a Service.
func New(d Deps) *Service {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	tracker := tasks.New()
	dir := connector.NewDirectory(d.SDK, d.Env, log)
	s := &Service{
		dir:     dir,
		env:     d.Env,
		tracker: tracker,
		downloads: download.New(download.Deps{
			SDK: d.SDK, Env: d.Env, Directory: dir, Relay: d.Relay, Tracker: tracker,
			Defaults: d.Defaults, Logger: log,
		}),
		uploads: upload.New(upload.Deps{
			SDK: d.SDK, Env: d.Env, Catalog: d.Env, Tracker: tracker, Logger: log,
		}),
		history:  d.History,
		broker:   d.Broker,
		log:      log,
		sessions: make(map[string]upload.Session),
	}
	if d.History != nil {
		s.recorder = history.NewRecorder(d.History, log)
	}
	tracker.Observe(s.onTask)
	return s
}

func (s *Service) onTask(t models.Task) {
	if s.recorder != nil {
		s.recorder.Observe(t)
	}
	if s.broker != nil {
		done, total := s.tracker.Progress()
		s.broker.PublishTask(t, done, total)
	}
}

// Tasks returns the visible tasks of the current or last run.
func (s *Service) Tasks() []models.Task {
	return s.tracker.Visible()
}

// busy reports whether a run is executing, tasks are unfinished or an
// upload session other than except is open. Callers hold s.mu.
func (s *Service) busy(except string) bool {
	if s.running || !s.tracker.AllTerminal() {
		return true
	}
	for id := range s.sessions {
		if id != except {
			return true
		}
	}
	return false
}

// start claims the single run slot. A non-empty session is the upload
// session being executed; it is closed only once the slot is claimed.
func (s *Service) start(kind models.RunKind, target, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session != "" {
		if _, ok := s.sessions[session]; !ok {
			return fmt.Errorf("upload session %s: %w", session, apperr.ErrNotFound)
		}
	}
	if s.busy(session) {
		return apperr.ErrRunInProgress
	}
	s.running = true
	delete(s.sessions, session)
	s.tracker.Reset()
	if s.recorder != nil {
		if _, err := s.recorder.Start(kind, target); err != nil {
			s.log.Warn("history: start run failed", slog.String("error", err.Error()))
		}
	}
	if s.broker != nil {
		s.broker.Publish(sse.Event{Type: sse.EventRunStarted, Data: map[string]string{"kind": string(kind), "target": target}})
	}
	return nil
}

func (s *Service) finish(err error) {
	if s.recorder != nil {
		s.recorder.Finish(err)
	}
	if s.broker != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		s.broker.Publish(sse.Event{Type: sse.EventRunFinished, Data: map[string]string{"error": msg}})
	}
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// DownloadRequest describes one package download.
type DownloadRequest struct {
	Folder    string                   `json:"folder"`
	Overrides models.DownloadOverrides `json:"overrides"`
}

// Download assembles the package into req.Folder. Artifact failures are
// reported in the returned files; the error is set only when the run could
// not start or the document could not be read.
func (s *Service) Download(ctx context.Context, req DownloadRequest) (files []models.DownloadFile, err error) {
	if err := download.ValidateFolderName(req.Folder); err != nil {
		return nil, err
	}
	if err := s.start(models.RunKindDownload, req.Folder, ""); err != nil {
		return nil, err
	}
	defer func() { s.finish(err) }()

	settings, err := s.downloads.Settings(ctx, req.Overrides)
	if err != nil {
		return nil, err
	}
	planned, err := s.downloads.Prepare(ctx, settings)
	if err != nil {
		return nil, err
	}
	return s.downloads.Run(ctx, planned, settings, req.Folder)
}

// ValidatePackage validates the package directory without side effects.
func (s *Service) ValidatePackage(dir string) (*manifest.Package, error) {
	files, err := readPackageDir(dir)
	if err != nil {
		return nil, err
	}
	return manifest.Validate(files)
}

func readPackageDir(dir string) ([]models.NamedBlob, error) {
	fsys, err := storage.NewFS(dir)
	if err != nil {
		return nil, fmt.Errorf("packservice: open %s: %w", dir, err)
	}
	files, err := fsys.ReadAll("")
	if err != nil {
		return nil, fmt.Errorf("packservice: read %s: %w", dir, err)
	}
	return files, nil
}

// BeginUpload validates the package directory and opens an upload session.
// The session stays open until it is started or cancelled.
func (s *Service) BeginUpload(ctx context.Context, dir string) (upload.Session, error) {
	files, err := readPackageDir(dir)
	if err != nil {
		return upload.Session{}, err
	}
	return s.BeginUploadFiles(ctx, files)
}

// BeginUploadFiles is BeginUpload for an in-memory file set.
func (s *Service) BeginUploadFiles(ctx context.Context, files []models.NamedBlob) (upload.Session, error) {
	s.mu.Lock()
	if s.busy("") {
		s.mu.Unlock()
		return upload.Session{}, apperr.ErrRunInProgress
	}
	// Reserve the slot while validating.
	s.running = true
	s.mu.Unlock()

	sess, err := s.uploads.Begin(ctx, files)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if err != nil {
		return upload.Session{}, err
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

// Session returns an open upload session.
func (s *Service) Session(id string) (upload.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return upload.Session{}, fmt.Errorf("upload session %s: %w", id, apperr.ErrNotFound)
	}
	return sess, nil
}

func (s *Service) advance(id string, fn func(upload.Session) (upload.Session, error)) (upload.Session, error) {
	sess, err := s.Session(id)
	if err != nil {
		return upload.Session{}, err
	}
	next, err := fn(sess)
	if err != nil {
		return sess, err
	}
	s.mu.Lock()
	s.sessions[id] = next
	s.mu.Unlock()
	return next, nil
}

// SelectSmartCropsConnector resumes a session paused at connector selection.
func (s *Service) SelectSmartCropsConnector(ctx context.Context, id, connectorID string) (upload.Session, error) {
	return s.advance(id, func(sess upload.Session) (upload.Session, error) {
		return s.uploads.SelectSmartCropsConnector(ctx, sess, connectorID)
	})
}

// ReplaceConnectors resumes a session paused at connector replacement.
func (s *Service) ReplaceConnectors(id string, replacements map[string]string) (upload.Session, error) {
	return s.advance(id, func(sess upload.Session) (upload.Session, error) {
		return s.uploads.ReplaceConnectors(sess, replacements)
	})
}

// StartUpload executes a ready session and closes it. A refused start leaves
// the session open.
func (s *Service) StartUpload(ctx context.Context, id string) (err error) {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	if sess.Step != upload.StepReady {
		return fmt.Errorf("%w: session is at %s", upload.ErrWrongStep, sess.Step)
	}
	if err := s.start(models.RunKindUpload, sess.Entry.DisplayName(), id); err != nil {
		return err
	}
	defer func() { s.finish(err) }()
	return s.uploads.Execute(ctx, sess)
}

// CancelUpload discards an open session.
func (s *Service) CancelUpload(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("upload session %s: %w", id, apperr.ErrNotFound)
	}
	return s.uploads.Cancel()
}

// UploadRequest is a non-interactive upload: the pauses are answered up
// front, falling back to the name-matched suggestions.
type UploadRequest struct {
	Dir                   string            `json:"dir"`
	SmartCropsConnectorID string            `json:"smartCropsConnectorId,omitempty"`
	Replacements          map[string]string `json:"replacements,omitempty"`
}

// Upload runs a whole upload without pausing. Unanswered pauses fail and
// the session is discarded.
func (s *Service) Upload(ctx context.Context, req UploadRequest) error {
	sess, err := s.BeginUpload(ctx, req.Dir)
	if err != nil {
		return err
	}
	abandon := func(err error) error {
		_ = s.CancelUpload(sess.ID)
		return err
	}

	if sess.Step == upload.StepConnectorSelection {
		target := req.SmartCropsConnectorID
		if target == "" {
			target = sess.SuggestedSmartCropsConnector
		}
		if target == "" {
			return abandon(fmt.Errorf("%w: no connector matches %q", upload.ErrUnknownConnector, sess.SmartCrops.ConnectorName))
		}
		if sess, err = s.SelectSmartCropsConnector(ctx, sess.ID, target); err != nil {
			return abandon(err)
		}
	}
	if sess.Step == upload.StepReplaceConnectors {
		m := maps.Clone(sess.Suggested)
		if m == nil {
			m = make(map[string]string)
		}
		maps.Copy(m, req.Replacements)
		if sess, err = s.ReplaceConnectors(sess.ID, m); err != nil {
			return abandon(err)
		}
	}
	return s.StartUpload(ctx, sess.ID)
}

// ListMediaConnectors returns the enabled media connectors.
func (s *Service) ListMediaConnectors(ctx context.Context) ([]models.Connector, error) {
	return s.dir.ListMediaConnectors(ctx)
}

// Browse lists one folder of a media connector.
func (s *Service) Browse(ctx context.Context, connectorID, folder string) ([]models.MediaItem, error) {
	return s.dir.Browse(ctx, connectorID, folder)
}

// CopyVision copies vision metadata from one asset to another.
func (s *Service) CopyVision(ctx context.Context, src, dst smartcrop.Asset) (smartcrop.Metadata, error) {
	return smartcrop.CopyVision(ctx, s.env, src, dst)
}

// ErrNoHistory is returned when the service runs without a history store.
var ErrNoHistory = errors.New("packservice: history is disabled")

// Runs lists recorded runs, newest first.
func (s *Service) Runs(limit, offset int) ([]models.Run, int, error) {
	if s.history == nil {
		return nil, 0, ErrNoHistory
	}
	return s.history.ListRuns(limit, offset)
}

// Run returns a recorded run with its tasks.
func (s *Service) Run(id string) (*models.Run, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	return s.history.GetRun(id)
}
