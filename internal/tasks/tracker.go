// Package tasks tracks the units of work of one download or upload run.
package tasks

import (
	"fmt"
	"strings"
	"sync"

	"github.com/starford/studiopack/internal/models"
)

// UpdateOption sets an optional field on a status update.
type UpdateOption func(*models.Task)

// WithError sets the task error message.
func WithError(msg string) UpdateOption {
	return func(t *models.Task) { t.Error = msg }
}

// WithName renames the task.
func WithName(name string) UpdateOption {
	return func(t *models.Task) { t.Name = name }
}

// WithTooltip sets the task tooltip.
func WithTooltip(tip string) UpdateOption {
	return func(t *models.Task) { t.Tooltip = tip }
}

// Projection computes a summary task from its member tasks. It must be pure.
type Projection func(summary models.Task, members []models.Task) models.Task

// Observer receives a copy of every task that changed.
type Observer func(models.Task)

type summary struct {
	member  func(models.Task) bool
	project Projection
}

// Tracker is an ordered, id-keyed task list. It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	order     []string
	byID      map[string]*models.Task
	summaries map[string]summary
	observers []Observer
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		byID:      make(map[string]*models.Task),
		summaries: make(map[string]summary),
	}
}

// Observe registers fn to be called after every mutation.
func (t *Tracker) Observe(fn Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// Add appends a task. Adding an id twice overwrites the task in place.
func (t *Tracker) Add(task models.Task) {
	t.mu.Lock()
	changed := t.put(task)
	changed = append(changed, t.recompute()...)
	obs := t.observers
	t.mu.Unlock()
	notify(obs, changed)
}

// AddSummary appends a derived task whose fields are recomputed by project
// over every task accepted by member, after each mutation.
func (t *Tracker) AddSummary(task models.Task, member func(models.Task) bool, project Projection) {
	task.Derived = true
	t.mu.Lock()
	t.summaries[task.ID] = summary{member: member, project: project}
	changed := t.put(task)
	changed = append(changed, t.recompute()...)
	obs := t.observers
	t.mu.Unlock()
	notify(obs, changed)
}

// UpdateStatus sets the status of the task with the given id. Unknown ids
// and derived tasks are ignored.
func (t *Tracker) UpdateStatus(id string, status models.TaskStatus, opts ...UpdateOption) {
	t.mu.Lock()
	task, ok := t.byID[id]
	if !ok || task.Derived {
		t.mu.Unlock()
		return
	}
	task.Status = status
	for _, opt := range opts {
		opt(task)
	}
	changed := append([]models.Task{*task}, t.recompute()...)
	obs := t.observers
	t.mu.Unlock()
	notify(obs, changed)
}

// Get returns the task with the given id.
func (t *Tracker) Get(id string) (models.Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.byID[id]
	if !ok {
		return models.Task{}, false
	}
	return *task, true
}

// List returns all tasks in insertion order, hidden ones included.
func (t *Tracker) List() []models.Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Task, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.byID[id])
	}
	return out
}

// Visible returns the tasks meant for display, in insertion order.
func (t *Tracker) Visible() []models.Task {
	all := t.List()
	out := all[:0]
	for _, task := range all {
		if !task.Hidden {
			out = append(out, task)
		}
	}
	return out
}

// AllTerminal reports whether every task is complete, error or info. An
// empty tracker is terminal.
func (t *Tracker) AllTerminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, task := range t.byID {
		if !task.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Progress returns the number of terminal tasks and the total, hidden tasks excluded.
func (t *Tracker) Progress() (done, total int) {
	for _, task := range t.Visible() {
		total++
		if task.Status.IsTerminal() {
			done++
		}
	}
	return done, total
}

// Reset removes every task. Observers stay registered.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.byID = make(map[string]*models.Task)
	t.summaries = make(map[string]summary)
}

func (t *Tracker) put(task models.Task) []models.Task {
	if existing, ok := t.byID[task.ID]; ok {
		*existing = task
	} else {
		cp := task
		t.byID[task.ID] = &cp
		t.order = append(t.order, task.ID)
	}
	return []models.Task{task}
}

// recompute refreshes every summary and returns those that changed.
func (t *Tracker) recompute() []models.Task {
	var changed []models.Task
	for _, id := range t.order {
		s, ok := t.summaries[id]
		if !ok {
			continue
		}
		var members []models.Task
		for _, mid := range t.order {
			m := t.byID[mid]
			if mid != id && !m.Derived && s.member(*m) {
				members = append(members, *m)
			}
		}
		cur := t.byID[id]
		next := s.project(*cur, members)
		next.ID, next.Derived = cur.ID, true
		if next != *cur {
			*cur = next
			changed = append(changed, next)
		}
	}
	return changed
}

func notify(obs []Observer, changed []models.Task) {
	for _, task := range changed {
		for _, fn := range obs {
			fn(task)
		}
	}
}

// CountProjection summarizes members as "done/total <label>", keeping the
// summary processing until every member is terminal. Failures set the error
// status and a tooltip with up to maxErrors messages plus a "+K more" suffix.
func CountProjection(label string, maxErrors int) Projection {
	return func(s models.Task, members []models.Task) models.Task {
		done := 0
		var errs []string
		for _, m := range members {
			if m.Status.IsTerminal() {
				done++
			}
			if m.Status == models.TaskStatusError {
				msg := m.Error
				if msg == "" {
					msg = m.Name
				}
				errs = append(errs, msg)
			}
		}
		s.Name = fmt.Sprintf("%d/%d %s", done, len(members), label)
		s.Error, s.Tooltip = "", ""
		switch {
		case done < len(members):
			s.Status = models.TaskStatusProcessing
		case len(errs) > 0:
			s.Status = models.TaskStatusError
			s.Error = fmt.Sprintf("%d failed", len(errs))
			s.Tooltip = joinErrors(errs, maxErrors)
		default:
			s.Status = models.TaskStatusComplete
		}
		return s
	}
}

func joinErrors(errs []string, limit int) string {
	if len(errs) <= limit {
		return strings.Join(errs, "\n")
	}
	return strings.Join(errs[:limit], "\n") + fmt.Sprintf("\n+%d more", len(errs)-limit)
}
