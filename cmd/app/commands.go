package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/studiopack/internal"
	"github.com/starford/studiopack/internal/grafx"
	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/packservice"
	"github.com/starford/studiopack/internal/smartcrop"
)

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download the open document as a package",
		ArgsUsage: "<folder>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "fonts", Usage: "Include the document fonts"},
			&cli.BoolFlag{Name: "smart-crops", Usage: "Include smart crops from the selected folders"},
			&cli.BoolFlag{Name: "original-font-names", Usage: "Keep the original font file names"},
			&cli.BoolFlag{Name: "remove-toolbar-data", Usage: "Strip the toolbar settings from the document"},
			&cli.BoolFlag{Name: "remove-unused-connectors", Usage: "Drop connectors the document does not reference (experimental)"},
			&cli.StringFlag{Name: "crops-connector", Usage: "Media connector id to collect smart crops from"},
			&cli.StringSliceFlag{Name: "crops-folder", Usage: "Folder of the crops connector, repeatable"},
		},
		Action: withApp(runDownload),
	}
}

func boolOverride(cmd *cli.Command, name string) *bool {
	if !cmd.IsSet(name) {
		return nil
	}
	v := cmd.Bool(name)
	return &v
}

func runDownload(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	folder := cmd.Args().First()
	if folder == "" {
		return fmt.Errorf("folder is required")
	}

	overrides := models.DownloadOverrides{
		IncludeFonts:             boolOverride(cmd, "fonts"),
		IncludeSmartCrops:        boolOverride(cmd, "smart-crops"),
		UseOriginalFontFileNames: boolOverride(cmd, "original-font-names"),
		RemoveToolbarData:        boolOverride(cmd, "remove-toolbar-data"),
		RemoveUnusedConnectors:   boolOverride(cmd, "remove-unused-connectors"),
	}
	if id := cmd.String("crops-connector"); id != "" {
		overrides.SmartCropsConnectorSelection = &models.ConnectorSelection{
			ConnectorID:     id,
			SelectedFolders: cmd.StringSlice("crops-folder"),
		}
	}

	files, err := app.Service.Download(ctx, packservice.DownloadRequest{Folder: folder, Overrides: overrides})
	printTasks(app.Service.Tasks())
	if err != nil {
		return err
	}
	if err := printFiles(files); err != nil {
		return err
	}

	failed := 0
	for _, f := range files {
		if f.Status == models.DownloadStatusError {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	printSuccess("Package written to %s", app.OutputDir()+"/"+folder)
	return nil
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a package directory into the open document",
		ArgsUsage: "<dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "smart-crops-connector", Usage: "Destination media connector id for smart crops"},
			&cli.StringSliceFlag{Name: "replace", Usage: "Connector replacement OLD=NEW, repeatable"},
		},
		Action: withApp(runUpload),
	}
}

func parseReplacements(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		from, to, ok := strings.Cut(p, "=")
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("invalid replacement %q, want OLD=NEW", p)
		}
		out[from] = to
	}
	return out, nil
}

func runUpload(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	dir := cmd.Args().First()
	if dir == "" {
		return fmt.Errorf("package directory is required")
	}
	replacements, err := parseReplacements(cmd.StringSlice("replace"))
	if err != nil {
		return err
	}

	err = app.Service.Upload(ctx, packservice.UploadRequest{
		Dir:                   dir,
		SmartCropsConnectorID: cmd.String("smart-crops-connector"),
		Replacements:          replacements,
	})
	printTasks(app.Service.Tasks())
	if err != nil {
		return err
	}
	printSuccess("Uploaded %s", dir)
	return nil
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a package directory",
		ArgsUsage: "<dir>",
		Action: withApp(func(_ context.Context, cmd *cli.Command, app *internal.App) error {
			dir := cmd.Args().First()
			if dir == "" {
				return fmt.Errorf("package directory is required")
			}
			pkg, err := app.Service.ValidatePackage(dir)
			if err != nil {
				return err
			}
			entry := pkg.Manifest.Documents[0]
			printSuccess("%s is a valid package", dir)
			printInfo("document %s, %d fonts, smart crops: %t", entry.DisplayName(), len(entry.Fonts), entry.SmartCrops != nil)
			return nil
		}),
	}
}

func connectorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "connectors",
		Usage: "List the enabled media connectors",
		Action: withApp(func(ctx context.Context, _ *cli.Command, app *internal.App) error {
			list, err := app.Service.ListMediaConnectors(ctx)
			if err != nil {
				return err
			}
			return printConnectors(list)
		}),
	}
}

func browseCommand() *cli.Command {
	return &cli.Command{
		Name:      "browse",
		Usage:     "List one folder of a media connector",
		ArgsUsage: "<connector-id> [path]",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
			id := cmd.Args().Get(0)
			if id == "" {
				return fmt.Errorf("connector id is required")
			}
			folder := models.NormalizeFolderPath(cmd.Args().Get(1))
			items, err := app.Service.Browse(ctx, id, folder)
			if err != nil {
				return err
			}
			return printItems(folder, items)
		}),
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show recorded runs, or the tasks of one run",
		ArgsUsage: "[run-id]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "Number of runs to list"},
			&cli.IntFlag{Name: "offset", Usage: "Number of runs to skip"},
		},
		Action: withApp(func(_ context.Context, cmd *cli.Command, app *internal.App) error {
			if id := cmd.Args().First(); id != "" {
				run, err := app.Service.Run(id)
				if err != nil {
					return err
				}
				printRun(*run)
				printTasks(run.Tasks)
				return nil
			}
			runs, total, err := app.Service.Runs(int(cmd.Int("limit")), int(cmd.Int("offset")))
			if err != nil {
				return err
			}
			return printRuns(runs, total)
		}),
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the environment token stored in the OS keyring",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Store a token for the configured environment",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "token",
						Usage:    "Environment access token",
						Required: true,
						Sources:  cli.EnvVars("STUDIOPACK_TOKEN"),
					},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					token := cmd.String("token")
					if err := grafx.CheckExpiry(token, time.Now()); err != nil {
						return err
					}
					if err := grafx.SaveToken(cfg.GraFx.BaseURL, token); err != nil {
						return err
					}
					printSuccess("Token stored for %s", cfg.GraFx.BaseURL)
					return nil
				},
			},
			{
				Name:  "logout",
				Usage: "Remove the stored token of the configured environment",
				Action: func(_ context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					if err := grafx.DeleteToken(cfg.GraFx.BaseURL); err != nil {
						return err
					}
					printSuccess("Token removed for %s", cfg.GraFx.BaseURL)
					return nil
				},
			},
		},
	}
}

func visionCommand() *cli.Command {
	return &cli.Command{
		Name:  "vision",
		Usage: "Work with asset vision metadata",
		Commands: []*cli.Command{
			{
				Name:  "copy",
				Usage: "Copy the vision metadata of one asset onto another",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from-connector", Required: true},
					&cli.StringFlag{Name: "from-asset", Required: true},
					&cli.StringFlag{Name: "to-connector", Required: true},
					&cli.StringFlag{Name: "to-asset", Required: true},
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					src := smartcrop.Asset{ConnectorID: cmd.String("from-connector"), AssetID: cmd.String("from-asset")}
					dst := smartcrop.Asset{ConnectorID: cmd.String("to-connector"), AssetID: cmd.String("to-asset")}
					meta, err := app.Service.CopyVision(ctx, src, dst)
					if err != nil {
						return err
					}
					area, ok, err := meta.SubjectArea()
					if err != nil {
						return err
					}
					if ok {
						printInfo("subject area x=%.3f y=%.3f w=%.3f h=%.3f", area.X, area.Y, area.Width, area.Height)
					}
					printSuccess("Copied vision from %s to %s", src.AssetID, dst.AssetID)
					return nil
				}),
			},
		},
	}
}
