// ctorhelp/lsp_handlers_workspace.go
// Contains LSP handlers related to workspace operations (configuration, commands).
package ctorhelp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/jsonrpc2"
)

func (s *Server) handleDidChangeConfiguration(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeConfigurationParams, logger *slog.Logger) (any, error) {
	logger.Info("Handling workspace/didChangeConfiguration")

	var changedSettings struct {
		CtorHelp *FileConfig `json:"ctorhelp"`
	}
	if err := json.Unmarshal(params.Settings, &changedSettings); err != nil {
		logger.Error("Failed to unmarshal workspace/didChangeConfiguration settings", "error", err, "raw_settings", string(params.Settings))
		return nil, nil
	}
	fileCfg := changedSettings.CtorHelp
	if fileCfg == nil {
		// Some clients send the section contents without the section key.
		var direct FileConfig
		if err := json.Unmarshal(params.Settings, &direct); err != nil {
			logger.Error("Also failed to unmarshal settings directly into FileConfig", "error", err)
			return nil, nil
		}
		fileCfg = &direct
	}

	newConfig := s.engine.Config()
	mergeFileConfig(&newConfig, *fileCfg)
	if newConfig == s.engine.Config() {
		logger.Debug("No relevant configuration changes found in workspace/didChangeConfiguration notification")
		return nil, nil
	}
	if err := s.engine.UpdateConfig(newConfig); err != nil {
		logger.Error("Failed to apply updated configuration", "error", err)
		s.sendShowMessage(conn, MessageTypeError, fmt.Sprintf("Failed to apply configuration update: %v", err))
		return nil, nil
	}
	applied := s.engine.Config()
	if s.wsOpts.Units != nil && s.wsOpts.Units.TTL() != applied.MemoryCacheTTL {
		s.wsOpts.Units.SetTTL(applied.MemoryCacheTTL)
	}
	logger.Info("Server configuration updated via workspace/didChangeConfiguration",
		"hide_advanced_members", applied.HideAdvancedMembers, "memory_cache_ttl", applied.MemoryCacheTTL)
	return nil, nil
}

// handleExecuteCommand runs the context navigation commands.
//
//	ctorhelp.switchContext [uri, project, position?]
//	ctorhelp.listContexts  [uri]
func (s *Server) handleExecuteCommand(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params ExecuteCommandParams, logger *slog.Logger) (any, error) {
	logger = logger.With("command", params.Command)
	logger.Info("Handling workspace/executeCommand")

	var uri DocumentURI
	if len(params.Arguments) < 1 || json.Unmarshal(params.Arguments[0], &uri) != nil || uri == "" {
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("%s: first argument must be a document URI", params.Command)}
	}
	ws := s.currentWorkspace()

	switch params.Command {
	case CommandSwitchContext:
		var project string
		if len(params.Arguments) < 2 || json.Unmarshal(params.Arguments[1], &project) != nil || project == "" {
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: "ctorhelp.switchContext: second argument must be a project name"}
		}
		var pos *LSPPosition
		if len(params.Arguments) > 2 {
			var p LSPPosition
			if err := json.Unmarshal(params.Arguments[2], &p); err != nil {
				return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("ctorhelp.switchContext: invalid position: %v", err)}
			}
			pos = &p
		}
		if err := s.navigator.SwitchContext(ctx, s.client(conn), ws, uri, project, pos); err != nil {
			logger.Warn("Context switch failed", "error", err)
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestFailed), Message: err.Error()}
		}
		return nil, nil

	case CommandListContexts:
		contexts, err := s.navigator.ListContexts(ws, uri)
		if err != nil {
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestFailed), Message: err.Error()}
		}
		return contexts, nil

	default:
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("unknown command %q", params.Command)}
	}
}
