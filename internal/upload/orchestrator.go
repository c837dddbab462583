package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/document"
	"github.com/starford/studiopack/internal/manifest"
	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/smartcrop"
	"github.com/starford/studiopack/internal/studio"
	"github.com/starford/studiopack/internal/tasks"
)

// State is the screen an upload is at.
type State string

const (
	StateInitial            State = "initial"
	StateUploadInstructions State = "uploadInstructions"
	StateUploading          State = "uploading"
	StateConnectorSelection State = "connectorSelection"
	StateReplaceConnectors  State = "replaceConnectors"
	StateTasks              State = "tasks"
	StateDone               State = "done"
)

// Task ids that are fixed per run.
const (
	TaskPackageProcessing = "package-processing"
	TaskSmartCrops        = "smart-crops"
	TaskDocumentLoad      = "document-load"
)

var (
	// ErrWrongStep is returned when a transition does not match the step the
	// session is paused at.
	ErrWrongStep = errors.New("upload: session is not at this step")
	// ErrUnknownConnector is returned for a connector id that is not available.
	ErrUnknownConnector = errors.New("upload: unknown connector")
	// ErrTasksRunning is returned by Cancel while tasks are still running.
	ErrTasksRunning = errors.New("upload: tasks are still running")
)

// Environment is the part of the environment API an upload needs.
type Environment interface {
	FontExists(ctx context.Context, familyName, styleName string) (bool, error)
	UploadFont(ctx context.Context, fileName string, data []byte, familyName, styleName string) error
	SetVision(ctx context.Context, connectorID, assetID string, meta smartcrop.Metadata) error
}

// Catalog lists the connectors of the environment.
type Catalog interface {
	Connectors(ctx context.Context) ([]models.Connector, error)
}

// Deps bundles the collaborators of an Orchestrator.
type Deps struct {
	SDK     studio.SDK
	Env     Environment
	Catalog Catalog
	Tracker *tasks.Tracker
	Logger  *slog.Logger
}

// Orchestrator drives upload sessions.
type Orchestrator struct {
	sdk     studio.SDK
	env     Environment
	catalog Catalog
	tracker *tasks.Tracker
	log     *slog.Logger

	mu    sync.Mutex
	state State
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{sdk: d.SDK, env: d.Env, catalog: d.Catalog, tracker: d.Tracker, log: log, state: StateInitial}
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

// Instructions moves to the instructions screen shown before the directory
// is picked.
func (o *Orchestrator) Instructions() {
	o.setState(StateUploadInstructions)
}

// Cancel abandons a paused session. No connector is registered while a
// session is paused, so nothing needs releasing.
func (o *Orchestrator) Cancel() error {
	if o.State() == StateTasks && !o.tracker.AllTerminal() {
		return ErrTasksRunning
	}
	o.setState(StateDone)
	return nil
}

// Begin validates the picked files and advances as far as possible without
// user input. Validation failures abort before any network call.
func (o *Orchestrator) Begin(ctx context.Context, files []models.NamedBlob) (Session, error) {
	o.setState(StateUploading)
	pkg, err := manifest.Validate(files)
	if err != nil {
		o.setState(StateInitial)
		return Session{}, err
	}
	if len(pkg.Manifest.Documents) == 0 {
		o.setState(StateInitial)
		return Session{}, fmt.Errorf("%w: no documents", apperr.ErrInvalidChiliPackage)
	}
	if len(pkg.Manifest.Documents) > 1 {
		o.log.Warn("upload: only the first document is uploaded", slog.Int("documents", len(pkg.Manifest.Documents)))
	}
	s := Session{ID: uuid.NewString(), Manifest: pkg.Manifest, Entry: pkg.Manifest.Documents[0], pkg: pkg}
	o.checkEngineVersion(ctx, pkg.Manifest.EngineVersion)

	if ref := s.Entry.SmartCrops; ref != nil {
		data, _ := pkg.File(ref.FilePath)
		crops, err := smartcrop.Parse(data)
		if err != nil {
			o.setState(StateInitial)
			return Session{}, err
		}
		s.SmartCrops = &crops
	}

	if s.SmartCropCount() > 0 {
		available, err := o.connectors(ctx)
		if err != nil {
			o.setState(StateInitial)
			return Session{}, err
		}
		s.Connectors = available
		if c, ok := lo.Find(mediaConnectors(available), func(c models.Connector) bool { return c.Name == s.SmartCrops.ConnectorName }); ok {
			s.SuggestedSmartCropsConnector = c.ID
		}
		s.Step = StepConnectorSelection
		o.setState(StateConnectorSelection)
		return s, nil
	}
	return o.prepareDocument(ctx, s)
}

// SelectSmartCropsConnector resumes a session paused at connector selection.
func (o *Orchestrator) SelectSmartCropsConnector(ctx context.Context, s Session, connectorID string) (Session, error) {
	if s.Step != StepConnectorSelection {
		return s, ErrWrongStep
	}
	c, ok := lo.Find(mediaConnectors(s.Connectors), func(c models.Connector) bool { return c.ID == connectorID })
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownConnector, connectorID)
	}
	next := s.clone()
	next.SmartCropsConnector = &c
	return o.prepareDocument(ctx, next)
}

// prepareDocument parses the document and pauses for replacements when it
// carries environment-specific connector ids.
func (o *Orchestrator) prepareDocument(ctx context.Context, s Session) (Session, error) {
	data, _ := s.pkg.File(s.Entry.FilePath)
	doc, err := document.Parse(data)
	if err != nil {
		o.setState(StateInitial)
		return Session{}, fmt.Errorf("%w: %v", apperr.ErrInvalidDocumentJSON, err)
	}
	needing, err := doc.ConnectorsNeedingReplacement()
	if err != nil {
		o.setState(StateInitial)
		return Session{}, fmt.Errorf("%w: %v", apperr.ErrInvalidDocumentJSON, err)
	}
	next := s.clone()
	next.doc = doc
	next.Needing = needing

	if len(needing) == 0 {
		next.rewritten = doc
		next.Step = StepReady
		return next, nil
	}
	if next.Connectors == nil {
		available, err := o.connectors(ctx)
		if err != nil {
			o.setState(StateInitial)
			return Session{}, err
		}
		next.Connectors = available
	}
	for _, ambiguous := range document.AmbiguousIDs(lo.Map(needing, func(c models.DocumentConnector, _ int) string { return c.SourceID() })) {
		o.log.Warn("upload: connector id is a substring of another", slog.String("id", ambiguous[0]), slog.String("other", ambiguous[1]))
	}
	next.Suggested = suggestByName(needing, next.Connectors)
	next.Step = StepReplaceConnectors
	o.setState(StateReplaceConnectors)
	return next, nil
}

// ReplaceConnectors resumes a session paused at connector replacement. A map
// that leaves any connector unmapped returns ErrIncompleteReplacements and
// the session is unchanged. A rewrite that leaves a stale id behind is fatal.
func (o *Orchestrator) ReplaceConnectors(s Session, replacements map[string]string) (Session, error) {
	if s.Step != StepReplaceConnectors {
		return s, ErrWrongStep
	}
	if missing := s.Missing(replacements); len(missing) > 0 {
		return s, fmt.Errorf("%w: %v", apperr.ErrIncompleteReplacements, missing)
	}
	needed := make(map[string]string, len(s.Needing))
	for _, c := range s.Needing {
		target := replacements[c.SourceID()]
		if !lo.ContainsBy(s.Connectors, func(a models.Connector) bool { return a.ID == target }) {
			return s, fmt.Errorf("%w: %s", ErrUnknownConnector, target)
		}
		needed[c.SourceID()] = target
	}
	rewritten, err := document.Rewrite(s.doc, needed)
	if err != nil {
		o.log.Error("upload: connector rewrite failed", slog.String("error", err.Error()))
		return s, err
	}
	next := s.clone()
	next.Replaced = needed
	next.rewritten = rewritten
	next.Step = StepReady
	return next, nil
}

// Execute uploads fonts and smart crops and loads the rewritten document.
// Per-item failures are recorded on their tasks; the returned error is only
// set when the run could not start.
func (o *Orchestrator) Execute(ctx context.Context, s Session) error {
	if s.Step != StepReady || s.rewritten == nil {
		return ErrWrongStep
	}
	o.setState(StateTasks)
	o.log.Info("upload: started", slog.String("session", s.ID), slog.Int("fonts", len(s.Entry.Fonts)), slog.Int("smart_crops", s.SmartCropCount()))

	o.tracker.Add(models.Task{ID: TaskPackageProcessing, Name: "Processing package", Type: models.TaskTypePackageProcessing, Status: models.TaskStatusComplete})

	for i, font := range s.Entry.Fonts {
		o.uploadFont(ctx, s, i, font)
	}
	if s.SmartCropCount() > 0 && s.SmartCropsConnector != nil {
		o.uploadSmartCrops(ctx, s)
	}
	o.loadDocument(ctx, s)

	o.log.Info("upload: finished", slog.String("session", s.ID))
	return nil
}

func fontTaskName(fd models.FontData) string {
	return fd.FamilyName + " " + fd.Name
}

func (o *Orchestrator) uploadFont(ctx context.Context, s Session, i int, font models.FontEntry) {
	id := fmt.Sprintf("font-%d", i)
	fd := font.Details
	o.tracker.Add(models.Task{ID: id, Name: fontTaskName(fd), Type: models.TaskTypeFontUpload, Status: models.TaskStatusProcessing})

	exists, err := o.env.FontExists(ctx, fd.FamilyName, fd.Name)
	if err != nil {
		o.failTask(id, err)
		return
	}
	if exists {
		o.tracker.UpdateStatus(id, models.TaskStatusInfo, tasks.WithError(apperr.ErrFontAlreadyExists.Error()+", skipping"))
		return
	}
	data, _ := s.pkg.File(font.FilePath)
	name := fd.FileName
	if name == "" {
		name = font.FilePath
	}
	if err := o.env.UploadFont(ctx, name, data, fd.FamilyName, fd.Name); err != nil {
		o.failTask(id, err)
		return
	}
	o.tracker.UpdateStatus(id, models.TaskStatusComplete)
}

func (o *Orchestrator) uploadSmartCrops(ctx context.Context, s Session) {
	dest := s.SmartCropsConnector.ID
	o.tracker.AddSummary(
		models.Task{ID: TaskSmartCrops, Type: models.TaskTypeSmartCrops, Status: models.TaskStatusProcessing},
		func(t models.Task) bool { return t.Type == models.TaskTypeSmartCropUpload },
		tasks.CountProjection("smart crops processed", 3),
	)
	for i, crop := range s.SmartCrops.Crops {
		id := fmt.Sprintf("smart-crop-%d", i)
		o.tracker.Add(models.Task{ID: id, Name: crop.AssetID, Type: models.TaskTypeSmartCropUpload, Status: models.TaskStatusProcessing, Hidden: true})
		meta, err := crop.Metadata.Clamped()
		if err == nil {
			err = o.env.SetVision(ctx, dest, crop.AssetID, meta)
		}
		if err != nil {
			o.failTask(id, err)
			continue
		}
		o.tracker.UpdateStatus(id, models.TaskStatusComplete)
	}
}

func (o *Orchestrator) loadDocument(ctx context.Context, s Session) {
	o.tracker.Add(models.Task{ID: TaskDocumentLoad, Name: "Load " + s.Entry.DisplayName(), Type: models.TaskTypeDocumentLoad, Status: models.TaskStatusProcessing})
	data, err := s.rewritten.Bytes()
	if err == nil {
		err = o.sdk.LoadDocument(ctx, data)
	}
	if err != nil {
		o.failTask(TaskDocumentLoad, err)
		return
	}
	o.tracker.UpdateStatus(TaskDocumentLoad, models.TaskStatusComplete)
}

// failTask records err on the task. Environment errors carry their HTTP
// status text.
func (o *Orchestrator) failTask(id string, err error) {
	msg := apperr.Wrap(err).Error()
	var httpErr *apperr.HTTPError
	if errors.As(err, &httpErr) {
		msg = httpErr.StatusText()
	}
	o.tracker.UpdateStatus(id, models.TaskStatusError, tasks.WithError(msg))
	o.log.Warn("upload: task failed", slog.String("task", id), slog.String("error", err.Error()))
}

func (o *Orchestrator) connectors(ctx context.Context) ([]models.Connector, error) {
	available, err := o.catalog.Connectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrFailedToFetchConnectors, err)
	}
	return lo.Filter(available, func(c models.Connector, _ int) bool { return c.Enabled }), nil
}

func mediaConnectors(all []models.Connector) []models.Connector {
	return lo.Filter(all, func(c models.Connector, _ int) bool { return c.Type == models.ConnectorTypeMedia })
}

// checkEngineVersion warns when the package was made for another major
// engine version. Unparsable versions are ignored.
func (o *Orchestrator) checkEngineVersion(ctx context.Context, pkgVersion string) {
	current, err := o.sdk.ConfigValue(ctx, studio.KeyEngineVersion)
	if err != nil || current == "" {
		return
	}
	want, err1 := semver.NewVersion(pkgVersion)
	have, err2 := semver.NewVersion(current)
	if err1 != nil || err2 != nil {
		return
	}
	if want.Major() != have.Major() {
		o.log.Warn("upload: package engine version differs",
			slog.String("package", want.String()), slog.String("session", have.String()))
	}
}
