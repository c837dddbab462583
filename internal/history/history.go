package history

import "github.com/starford/studiopack/internal/models"

// Store defines the run history operations. Consumers depend on this
// interface rather than on *DB.
type Store interface {
	CreateRun(run models.Run) error
	FinishRun(id string, errMsg string) error
	SaveTask(runID string, seq int, task models.Task) error
	ListRuns(limit, offset int) ([]models.Run, int, error)
	GetRun(id string) (*models.Run, error)
	Close() error
}

var _ Store = (*DB)(nil)
