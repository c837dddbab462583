package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/smartcrop"
	"github.com/starford/studiopack/internal/tasks"
)

const visionSummaryID = "vision-summary"

// collectSmartCrops registers the selected connector, walks the direct files
// of every selected folder and fetches their vision data. A folder that
// cannot be listed fails only its own task; assets without vision data are
// skipped with an info task; any other vision error fails the collection.
func (o *Orchestrator) collectSmartCrops(ctx context.Context, sel models.ConnectorSelection) (smartcrop.File, error) {
	out := smartcrop.File{ConnectorID: sel.ConnectorID, ConnectorName: sel.ConnectorName, Crops: []smartcrop.Crop{}}

	o.tracker.AddSummary(
		models.Task{ID: visionSummaryID, Type: models.TaskTypeSmartCrops, Status: models.TaskStatusProcessing},
		func(t models.Task) bool { return t.Type == models.TaskTypeGetVision },
		tasks.CountProjection("vision data fetched", 3),
	)

	err := o.dir.WithConnector(ctx, sel.ConnectorID, func(ctx context.Context, localID string) error {
		var current string
		startFolder := func(folder string) {
			current = "query-" + folder
			o.tracker.Add(models.Task{
				ID: current, Name: "Query folder " + folder,
				Type: models.TaskTypeQueryFolder, Status: models.TaskStatusProcessing,
			})
		}

		folders := sel.SelectedFolders
		visited := make(map[string]bool)
		visit := func(folder string, item models.MediaItem) error {
			if !visited[folder] {
				visited[folder] = true
				startFolder(folder)
			}
			taskID := "vision-" + item.ID
			o.tracker.Add(models.Task{
				ID: taskID, Name: item.Name, Type: models.TaskTypeGetVision,
				Status: models.TaskStatusProcessing, Hidden: true,
			})
			meta, err := o.env.GetVision(ctx, sel.ConnectorID, item.ID)
			switch {
			case errors.Is(err, apperr.ErrVisionNotFound):
				o.tracker.UpdateStatus(taskID, models.TaskStatusInfo, tasks.WithError("no vision data"))
				return nil
			case err != nil:
				o.tracker.UpdateStatus(taskID, models.TaskStatusError, tasks.WithError(err.Error()))
				return fmt.Errorf("vision data for %s: %w", item.Name, err)
			}
			o.tracker.UpdateStatus(taskID, models.TaskStatusComplete)
			out.Crops = append(out.Crops, smartcrop.Crop{AssetID: item.ID, Metadata: meta})
			return nil
		}
		onFolderErr := func(folder string, err error) {
			folder = models.NormalizeFolderPath(folder)
			visited[folder] = true
			startFolder(folder)
			o.tracker.UpdateStatus(current, models.TaskStatusError, tasks.WithError(err.Error()))
			o.log.Warn("download: folder query failed", slog.String("folder", folder), slog.String("error", err.Error()))
		}

		werr := o.dir.WalkFiles(ctx, localID, folders, visit, onFolderErr)
		for _, folder := range folders {
			id := "query-" + folder
			if !visited[folder] {
				// Empty folders never reach visit.
				if werr != nil {
					continue
				}
				o.tracker.Add(models.Task{ID: id, Name: "Query folder " + folder, Type: models.TaskTypeQueryFolder, Status: models.TaskStatusComplete})
				continue
			}
			if t, ok := o.tracker.Get(id); ok && t.Status == models.TaskStatusProcessing {
				if werr != nil {
					o.tracker.UpdateStatus(id, models.TaskStatusError, tasks.WithError(werr.Error()))
				} else {
					o.tracker.UpdateStatus(id, models.TaskStatusComplete)
				}
			}
		}
		return werr
	})
	if err != nil {
		return smartcrop.File{}, err
	}
	return out, nil
}
