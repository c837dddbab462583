// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the package workflows for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/packservice"
)

const contractURI = "studiopack://package-format"

// Server wraps the MCP server with the package tools.
type Server struct {
	mcp *server.MCPServer
	svc *packservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *packservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"studiopack",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("validate_package",
		mcp.WithDescription("Validate a studio package directory without uploading anything."),
		mcp.WithString("dir", mcp.Required(), mcp.Description("Path of the package directory")),
	), s.validatePackage)

	s.mcp.AddTool(mcp.NewTool("list_media_connectors",
		mcp.WithDescription("List the enabled media connectors of the environment."),
	), s.listMediaConnectors)

	s.mcp.AddTool(mcp.NewTool("browse_folder",
		mcp.WithDescription("List the folders and files of one media connector folder."),
		mcp.WithString("connector_id", mcp.Required(), mcp.Description("Media connector id")),
		mcp.WithString("path", mcp.Description("Folder path, defaults to the root")),
	), s.browseFolder)

	s.mcp.AddTool(mcp.NewTool("download_package",
		mcp.WithDescription("Download the current document as a studio package. "+
			"Read the package contract via get_package_contract or the "+contractURI+" resource."),
		mcp.WithString("folder", mcp.Required(), mcp.Description("Folder name: letters, digits, spaces, - and _")),
		mcp.WithBoolean("include_fonts", mcp.Description("Download the fonts the document uses")),
		mcp.WithBoolean("include_smart_crops", mcp.Description("Collect vision data of the selected folders")),
		mcp.WithBoolean("use_original_font_file_names", mcp.Description("Keep the uploaded font file names")),
		mcp.WithBoolean("remove_toolbar_data", mcp.Description("Strip the toolbar settings from the document")),
		mcp.WithBoolean("remove_unused_connectors", mcp.Description("Drop connectors the document never references (experimental)")),
		mcp.WithString("smart_crops_connector_id", mcp.Description("Media connector to collect smart crops from")),
		mcp.WithArray("smart_crops_folders", mcp.Description("Folders of that connector"), mcp.WithStringItems()),
	), s.downloadPackage)

	s.mcp.AddTool(mcp.NewTool("upload_package",
		mcp.WithDescription("Upload a studio package into the environment and load its document. "+
			"Connector pauses are answered from the arguments, then by name match."),
		mcp.WithString("dir", mcp.Required(), mcp.Description("Path of the package directory")),
		mcp.WithString("smart_crops_connector_id", mcp.Description("Destination media connector of the smart crops")),
		mcp.WithObject("replacements", mcp.Description("Document connector id to environment connector id")),
	), s.uploadPackage)

	s.mcp.AddTool(mcp.NewTool("get_tasks",
		mcp.WithDescription("Return the tasks of the current or last run."),
	), s.getTasks)

	s.mcp.AddTool(mcp.NewTool("get_package_contract",
		mcp.WithDescription("Returns the studio package format."),
	), s.getPackageContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Studio Package Format",
			mcp.WithResourceDescription("Layout of chili-package.json and its artifacts."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) validatePackage(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, err := req.RequireString("dir")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pkg, err := s.svc.ValidatePackage(dir)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(pkg.Manifest)
}

func (s *Server) listMediaConnectors(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cs, err := s.svc.ListMediaConnectors(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(cs) == 0 {
		return mcp.NewToolResultText("no media connectors found"), nil
	}
	return jsonResult(cs)
}

func (s *Server) browseFolder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("connector_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	folder := models.NormalizeFolderPath(req.GetString("path", "/"))
	items, err := s.svc.Browse(ctx, id, folder)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if items == nil {
		items = []models.MediaItem{}
	}
	return jsonResult(map[string]any{"path": folder, "items": items})
}

// boolArg returns a pointer to the argument, or nil when it was not given.
func boolArg(req mcp.CallToolRequest, key string) *bool {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	v := req.GetBool(key, false)
	return &v
}

func (s *Server) downloadPackage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder, err := req.RequireString("folder")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	overrides := models.DownloadOverrides{
		IncludeFonts:             boolArg(req, "include_fonts"),
		IncludeSmartCrops:        boolArg(req, "include_smart_crops"),
		UseOriginalFontFileNames: boolArg(req, "use_original_font_file_names"),
		RemoveToolbarData:        boolArg(req, "remove_toolbar_data"),
		RemoveUnusedConnectors:   boolArg(req, "remove_unused_connectors"),
	}
	if id := req.GetString("smart_crops_connector_id", ""); id != "" {
		overrides.SmartCropsConnectorSelection = &models.ConnectorSelection{
			ConnectorID:     id,
			SelectedFolders: req.GetStringSlice("smart_crops_folders", nil),
		}
	}

	files, err := s.svc.Download(ctx, packservice.DownloadRequest{Folder: folder, Overrides: overrides})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"folder": folder, "files": files})
}

func (s *Server) uploadPackage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, err := req.RequireString("dir")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	replacements := make(map[string]string)
	if raw, ok := req.GetArguments()["replacements"].(map[string]any); ok {
		for k, v := range raw {
			id, ok := v.(string)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("replacement for %q must be a string", k)), nil
			}
			replacements[k] = id
		}
	}

	err = s.svc.Upload(ctx, packservice.UploadRequest{
		Dir:                   dir,
		SmartCropsConnectorID: req.GetString("smart_crops_connector_id", ""),
		Replacements:          replacements,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Tasks())
}

func (s *Server) getTasks(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks := s.svc.Tasks()
	if len(tasks) == 0 {
		return mcp.NewToolResultText("no tasks"), nil
	}
	return jsonResult(tasks)
}

func (s *Server) getPackageContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PackageFormatContract), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     PackageFormatContract,
		},
	}, nil
}
