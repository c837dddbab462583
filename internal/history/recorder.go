package history

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/studiopack/internal/models"
)

// Recorder persists the task updates of the current run. Its Observe method
// is meant to be registered as a tasks.Tracker observer.
type Recorder struct {
	store Store
	log   *slog.Logger

	mu    sync.Mutex
	runID string
	seq   map[string]int
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store Store, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: store, log: log}
}

// Start opens a new run and returns its id. Updates seen before Start are dropped.
func (r *Recorder) Start(kind models.RunKind, target string) (string, error) {
	id := uuid.NewString()
	if err := r.store.CreateRun(models.Run{ID: id, Kind: kind, Target: target, StartedAt: time.Now().UTC()}); err != nil {
		return "", err
	}
	r.mu.Lock()
	r.runID = id
	r.seq = make(map[string]int)
	r.mu.Unlock()
	return id, nil
}

// Observe saves the latest state of a task.
func (r *Recorder) Observe(t models.Task) {
	r.mu.Lock()
	runID := r.runID
	if runID == "" {
		r.mu.Unlock()
		return
	}
	seq, ok := r.seq[t.ID]
	if !ok {
		seq = len(r.seq)
		r.seq[t.ID] = seq
	}
	r.mu.Unlock()

	if err := r.store.SaveTask(runID, seq, t); err != nil {
		r.log.Warn("history: save task failed", slog.String("task", t.ID), slog.String("error", err.Error()))
	}
}

// Finish closes the current run with the top-level error, if any.
func (r *Recorder) Finish(runErr error) {
	r.mu.Lock()
	runID := r.runID
	r.runID = ""
	r.mu.Unlock()
	if runID == "" {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := r.store.FinishRun(runID, msg); err != nil {
		r.log.Warn("history: finish run failed", slog.String("run", runID), slog.String("error", err.Error()))
	}
}
