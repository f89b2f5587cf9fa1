// ctorhelp/lsp_handlers_lifecycle.go
// Contains LSP handlers related to the server lifecycle (initialize).
package ctorhelp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/jsonrpc2"
)

// handleInitialize loads the workspace at the client root and advertises the
// signature help capability.
func (s *Server) handleInitialize(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params InitializeParams, logger *slog.Logger) (any, error) {
	if params.ClientInfo != nil {
		logger = logger.With("client_name", params.ClientInfo.Name, "client_version", params.ClientInfo.Version)
	}
	logger.Info("Handling initialize request")

	if w := params.Capabilities.Window; w != nil && w.ShowDocument != nil {
		s.navigator.SetShowDocumentSupport(w.ShowDocument.Support)
	}

	root, err := initializeRoot(params, logger)
	switch {
	case err != nil:
		logger.Warn("Ignoring unusable workspace root", "error", err)
	case root == "":
		logger.Info("Client sent no workspace root, documents are analyzed individually")
	default:
		ws, loadErr := LoadDirectoryWorkspace(root, s.engine.Config().WorkspaceManifest, s.wsOpts)
		if loadErr != nil {
			logger.Error("Failed to load workspace", "root", root, "error", loadErr)
			s.sendShowMessage(conn, MessageTypeWarning, fmt.Sprintf("ctorhelp could not load the workspace at %s: %v", root, loadErr))
		} else {
			s.setWorkspace(ws)
			logger.Info("Workspace loaded", "root", root, "projects", len(ws.Projects()))
		}
	}

	result := InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync: &TextDocumentSyncOptions{
				OpenClose: true,
				Change:    TextDocumentSyncKindFull,
			},
			SignatureHelpProvider: &SignatureHelpOptions{
				TriggerCharacters:   runeStrings(TriggerCharacters()),
				RetriggerCharacters: runeStrings(RetriggerCharacters()),
			},
			ExecuteCommandProvider: &ExecuteCommandOptions{
				Commands: []string{CommandSwitchContext, CommandListContexts},
			},
		},
		ServerInfo: s.serverInfo,
	}
	logger.Info("Initialization successful", "server_capabilities", result.Capabilities)
	return result, nil
}

// initializeRoot picks the workspace root: rootUri, then the first workspace
// folder, then the deprecated rootPath.
func initializeRoot(params InitializeParams, logger *slog.Logger) (string, error) {
	switch {
	case params.RootURI != "":
		return ValidateAndGetFilePath(string(params.RootURI), logger)
	case len(params.WorkspaceFolders) > 0:
		return ValidateAndGetFilePath(string(params.WorkspaceFolders[0].URI), logger)
	default:
		return params.RootPath, nil
	}
}
