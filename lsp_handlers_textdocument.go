// ctorhelp/lsp_handlers_textdocument.go
// Contains LSP handlers related to text document synchronization and signature help.
package ctorhelp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
)

func (s *Server) handleDidOpen(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidOpenTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	content := []byte(params.TextDocument.Text)
	logger = logger.With("uri", uri, "version", params.TextDocument.Version)
	logger.Info("Handling textDocument/didOpen", "size", len(content))

	path, err := ValidateAndGetFilePath(string(uri), logger)
	if err != nil {
		logger.Warn("Ignoring document with unsupported URI", "error", err)
		return nil, nil
	}
	s.filesMu.Lock()
	s.files[uri] = &OpenFile{URI: uri, Path: path, Content: content, Version: params.TextDocument.Version}
	s.filesMu.Unlock()
	s.currentWorkspace().SetOverlay(path, content)
	return nil, nil
}

func (s *Server) handleDidChange(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	logger = logger.With("uri", uri, "new_version", version)
	if len(params.ContentChanges) == 0 {
		logger.Warn("Received didChange notification with no content changes")
		return nil, nil
	}
	content := []byte(params.ContentChanges[len(params.ContentChanges)-1].Text)

	s.filesMu.Lock()
	file, ok := s.files[uri]
	if ok {
		if version <= file.Version {
			s.filesMu.Unlock()
			logger.Warn("Ignoring stale didChange", "current_version", file.Version)
			return nil, nil
		}
		file.Content = content
		file.Version = version
	}
	s.filesMu.Unlock()
	if !ok {
		logger.Warn("Received didChange for a document that is not open")
		return nil, nil
	}
	logger.Debug("Handling textDocument/didChange", "size", len(content))
	s.currentWorkspace().SetOverlay(file.Path, content)
	return nil, nil
}

func (s *Server) handleDidClose(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidCloseTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	logger.Info("Handling textDocument/didClose", "uri", uri)

	s.filesMu.Lock()
	file, ok := s.files[uri]
	delete(s.files, uri)
	s.filesMu.Unlock()
	if ok {
		s.currentWorkspace().ClearOverlay(file.Path)
	}
	return nil, nil
}

// handleSignatureHelp answers textDocument/signatureHelp. A newer request for
// the same document cancels this one.
func (s *Server) handleSignatureHelp(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params SignatureHelpParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	logger = logger.With("request_id", uuid.NewString(), "uri", uri, "line", params.Position.Line, "character", params.Position.Character)
	logger.Debug("Handling textDocument/signatureHelp")
	lspMetrics.Add(metricSignatureHelpRequests, 1)

	path, err := ValidateAndGetFilePath(string(uri), logger)
	if err != nil {
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: err.Error()}
	}
	doc, err := s.currentWorkspace().Document(path)
	if err != nil {
		logger.Warn("Document unavailable for signature help", "error", err)
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: err.Error()}
	}
	caret, err := LspPositionToBytePosition(doc.Text(), params.Position)
	if err != nil {
		logger.Warn("Invalid signature help position", "error", err)
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: err.Error()}
	}

	ctx, release := s.requestTracker.Supersede(string(uri), ctx)
	defer release()

	trigger := triggerEventFromLSP(params.Context)
	result, err := s.engine.GetSignatureHelp(ctx, doc, caret, trigger)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		lspMetrics.Add(metricSignatureHelpCancelled, 1)
		logger.Debug("Signature help cancelled", "error", err)
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Request cancelled"}
	case errors.Is(err, ErrPositionOutOfRange):
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: err.Error()}
	default:
		logger.Error("Signature help failed", "error", err)
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcInternalError), Message: fmt.Sprintf("signature help failed: %v", err)}
	}

	help := toLSPSignatureHelp(result)
	if help == nil {
		logger.Debug("No signature help at position", "trigger", trigger.Kind)
		return nil, nil
	}
	lspMetrics.Add(metricSignatureHelpResults, 1)
	logger.Debug("Signature help returned", "signatures", len(help.Signatures), "active_signature", help.ActiveSignature, "active_parameter", help.ActiveParameter)
	return help, nil
}
