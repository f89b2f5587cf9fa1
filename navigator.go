// ctorhelp/navigator.go
// Switches the primary project context of a document and reveals it in the client.
package ctorhelp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
)

// Commands accepted by workspace/executeCommand.
const (
	CommandSwitchContext = "ctorhelp.switchContext"
	CommandListContexts  = "ctorhelp.listContexts"
)

// clientCaller is the part of a JSON-RPC connection the server uses to talk
// back to the client.
type clientCaller interface {
	Call(ctx context.Context, method string, params, result any, opts ...jsonrpc2.CallOption) error
	Notify(ctx context.Context, method string, params any, opts ...jsonrpc2.CallOption) error
}

// Navigator moves the editor to a document after its primary context changes.
// The connection is passed on every call; the navigator keeps no connection.
type Navigator struct {
	mu           sync.RWMutex
	showDocument bool
	logger       *slog.Logger
}

// NewNavigator creates a navigator. Until SetShowDocumentSupport is called it
// reports context switches with window/showMessage.
func NewNavigator(logger *slog.Logger) *Navigator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Navigator{logger: logger.With("component", "Navigator")}
}

// SetShowDocumentSupport records whether the client implements window/showDocument.
func (n *Navigator) SetShowDocumentSupport(supported bool) {
	n.mu.Lock()
	n.showDocument = supported
	n.mu.Unlock()
}

func (n *Navigator) supportsShowDocument() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.showDocument
}

// SwitchContext makes project the primary context of the document at uri and
// brings the document to the front, placing the caret at pos when given.
func (n *Navigator) SwitchContext(ctx context.Context, client clientCaller, ws *Workspace, uri DocumentURI, project string, pos *LSPPosition) error {
	logger := n.logger.With("op", "SwitchContext", "uri", uri, "project", project)
	path, err := ValidateAndGetFilePath(string(uri), logger)
	if err != nil {
		return err
	}
	if err := ws.SetPrimaryContext(path, project); err != nil {
		return err
	}
	if client == nil {
		logger.Debug("No client connection, context switched without navigation")
		return nil
	}

	if !n.supportsShowDocument() {
		msg := ShowMessageParams{Type: MessageTypeInfo, Message: fmt.Sprintf("Signature help now uses project %s for %s", project, ws.RelPath(path))}
		return client.Notify(ctx, "window/showMessage", msg)
	}
	params := ShowDocumentParams{URI: uri, TakeFocus: true}
	if pos != nil {
		params.Selection = &LSPRange{Start: *pos, End: *pos}
	}
	var result ShowDocumentResult
	if err := client.Call(ctx, "window/showDocument", params, &result); err != nil {
		return fmt.Errorf("window/showDocument: %w", err)
	}
	if !result.Success {
		logger.Warn("Client declined to show document")
	}
	return nil
}

// ContextInfo describes one project context of a document.
type ContextInfo struct {
	Project string `json:"project"`
	Primary bool   `json:"primary"`
}

// ListContexts returns the contexts of the document at uri, primary first.
func (n *Navigator) ListContexts(ws *Workspace, uri DocumentURI) ([]ContextInfo, error) {
	path, err := ValidateAndGetFilePath(string(uri), n.logger)
	if err != nil {
		return nil, err
	}
	doc, err := ws.Document(path)
	if err != nil {
		return nil, err
	}
	views := doc.Contexts()
	out := make([]ContextInfo, len(views))
	for i, v := range views {
		out[i] = ContextInfo{Project: string(v.ID()), Primary: i == 0}
	}
	return out, nil
}
