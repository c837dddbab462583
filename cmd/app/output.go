package main

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/starford/studiopack/internal/models"
)

func printSuccess(format string, args ...any) {
	pterm.Success.Printf(format+"\n", args...)
}

func printInfo(format string, args ...any) {
	pterm.Info.Printf(format+"\n", args...)
}

func printTasks(tasks []models.Task) {
	if len(tasks) == 0 {
		return
	}
	rows := pterm.TableData{{"Task", "Status", "Detail"}}
	for _, t := range tasks {
		detail := t.Error
		if detail == "" {
			detail = t.Tooltip
		}
		rows = append(rows, []string{t.Name, string(t.Status), detail})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		pterm.Warning.Println(err.Error())
	}
}

func printFiles(files []models.DownloadFile) error {
	rows := pterm.TableData{{"Kind", "Name", "File", "Status", "Error"}}
	for _, f := range files {
		rows = append(rows, []string{string(f.Kind), f.Name, f.FileName, string(f.Status), f.Error})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printConnectors(list []models.Connector) error {
	if len(list) == 0 {
		pterm.Info.Println("No media connectors found")
		return nil
	}
	rows := pterm.TableData{{"ID", "Name", "Type"}}
	for _, c := range list {
		rows = append(rows, []string{c.ID, c.Name, c.Type})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printItems(folder string, items []models.MediaItem) error {
	pterm.Info.Printf("%s: %d items\n", folder, len(items))
	if len(items) == 0 {
		return nil
	}
	rows := pterm.TableData{{"Type", "Name", "ID"}}
	for _, it := range items {
		rows = append(rows, []string{string(it.Type), it.Name, it.ID})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func runStatus(r models.Run) string {
	switch {
	case r.FinishedAt == nil:
		return "running"
	case r.Error != "":
		return "failed"
	default:
		return "ok"
	}
}

func printRuns(runs []models.Run, total int) error {
	if len(runs) == 0 {
		pterm.Info.Println("No runs recorded")
		return nil
	}
	rows := pterm.TableData{{"ID", "Kind", "Target", "Started", "Finished", "Status"}}
	for _, r := range runs {
		started := r.StartedAt
		rows = append(rows, []string{r.ID, string(r.Kind), r.Target, formatTime(&started), formatTime(r.FinishedAt), runStatus(r)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}
	pterm.Printf("%d of %d runs\n", len(runs), total)
	return nil
}

func printRun(r models.Run) {
	started := r.StartedAt
	pterm.Info.Printf("%s %s %q started %s, %s\n", r.ID, r.Kind, r.Target, formatTime(&started), runStatus(r))
	if r.Error != "" {
		pterm.Error.Println(r.Error)
	}
	fmt.Println()
}
