// ctorhelp/lsp_protocol.go
// Contains LSP specific data structures and the mapping between engine
// results and LSP signature help.
package ctorhelp

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// ============================================================================
// LSP Specific Structures
// ============================================================================

// DocumentURI represents the URI for a text document.
type DocumentURI string

// LSPRange represents a range in a text document using LSP Positions (UTF-16).
type LSPRange struct {
	Start LSPPosition `json:"start"`
	End   LSPPosition `json:"end"`
}

// TextDocumentIdentifier identifies a specific text document.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// TextDocumentItem represents a text document.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

// InitializeParams parameters for the initialize request.
type InitializeParams struct {
	ProcessID             int                `json:"processId,omitempty"`
	ClientInfo            *ClientInfo        `json:"clientInfo,omitempty"`
	RootURI               DocumentURI        `json:"rootUri,omitempty"`
	RootPath              string             `json:"rootPath,omitempty"` // Deprecated by the protocol, still sent by some clients.
	InitializationOptions json.RawMessage    `json:"initializationOptions,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders,omitempty"`
}

// ClientInfo information about the client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// WorkspaceFolder is one root folder opened by the client.
type WorkspaceFolder struct {
	URI  DocumentURI `json:"uri"`
	Name string      `json:"name"`
}

// ClientCapabilities capabilities provided by the client. Only the parts the
// server reads are decoded.
type ClientCapabilities struct {
	TextDocument *TextDocumentClientCapabilities `json:"textDocument,omitempty"`
	Window       *WindowClientCapabilities       `json:"window,omitempty"`
}

// TextDocumentClientCapabilities text document specific client capabilities.
type TextDocumentClientCapabilities struct {
	SignatureHelp *SignatureHelpClientCapabilities `json:"signatureHelp,omitempty"`
}

// SignatureHelpClientCapabilities describes what the client renders.
type SignatureHelpClientCapabilities struct {
	ContextSupport       bool                        `json:"contextSupport,omitempty"`
	SignatureInformation *SignatureInformationClient `json:"signatureInformation,omitempty"`
}

// SignatureInformationClient client support for signature information.
type SignatureInformationClient struct {
	DocumentationFormat    []MarkupKind `json:"documentationFormat,omitempty"`
	ActiveParameterSupport bool         `json:"activeParameterSupport,omitempty"`
}

// WindowClientCapabilities window specific client capabilities.
type WindowClientCapabilities struct {
	ShowDocument *ShowDocumentClientCapabilities `json:"showDocument,omitempty"`
}

// ShowDocumentClientCapabilities says whether window/showDocument is supported.
type ShowDocumentClientCapabilities struct {
	Support bool `json:"support"`
}

// InitializeResult result of the initialize request.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerCapabilities capabilities provided by the server.
type ServerCapabilities struct {
	TextDocumentSync       *TextDocumentSyncOptions `json:"textDocumentSync,omitempty"`
	SignatureHelpProvider  *SignatureHelpOptions    `json:"signatureHelpProvider,omitempty"`
	ExecuteCommandProvider *ExecuteCommandOptions   `json:"executeCommandProvider,omitempty"`
}

// TextDocumentSyncOptions options for text document synchronization.
type TextDocumentSyncOptions struct {
	OpenClose bool                 `json:"openClose,omitempty"`
	Change    TextDocumentSyncKind `json:"change,omitempty"`
}

// TextDocumentSyncKind defines how text document changes are synced.
type TextDocumentSyncKind int

const (
	TextDocumentSyncKindNone TextDocumentSyncKind = 0
	TextDocumentSyncKindFull TextDocumentSyncKind = 1 // We only support Full sync
)

// SignatureHelpOptions server signature help capabilities.
type SignatureHelpOptions struct {
	TriggerCharacters   []string `json:"triggerCharacters,omitempty"`
	RetriggerCharacters []string `json:"retriggerCharacters,omitempty"`
}

// ExecuteCommandOptions lists the commands workspace/executeCommand accepts.
type ExecuteCommandOptions struct {
	Commands []string `json:"commands"`
}

// ServerInfo information about the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// DidOpenTextDocumentParams parameters for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidCloseTextDocumentParams parameters for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DidChangeTextDocumentParams parameters for textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"` // Full sync: the last entry wins.
}

// VersionedTextDocumentIdentifier identifies a text document with a version number.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier
	Version int `json:"version"`
}

// TextDocumentContentChangeEvent an event describing a change to a text document.
type TextDocumentContentChangeEvent struct {
	Text string `json:"text"` // The new full content of the document
}

// DidChangeConfigurationParams parameters for workspace/didChangeConfiguration.
type DidChangeConfigurationParams struct {
	Settings json.RawMessage `json:"settings"`
}

// SignatureHelpTriggerKind how signature help was triggered.
type SignatureHelpTriggerKind int

const (
	SignatureHelpTriggerInvoked       SignatureHelpTriggerKind = 1
	SignatureHelpTriggerCharacter     SignatureHelpTriggerKind = 2
	SignatureHelpTriggerContentChange SignatureHelpTriggerKind = 3
)

// SignatureHelpParams parameters for textDocument/signatureHelp.
type SignatureHelpParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     LSPPosition            `json:"position"` // LSP Position (UTF-16)
	Context      *SignatureHelpContext  `json:"context,omitempty"`
}

// SignatureHelpContext additional information about the trigger.
type SignatureHelpContext struct {
	TriggerKind         SignatureHelpTriggerKind `json:"triggerKind"`
	TriggerCharacter    string                   `json:"triggerCharacter,omitempty"`
	IsRetrigger         bool                     `json:"isRetrigger"`
	ActiveSignatureHelp *SignatureHelp           `json:"activeSignatureHelp,omitempty"`
}

// SignatureHelp result for textDocument/signatureHelp.
type SignatureHelp struct {
	Signatures      []SignatureInformation `json:"signatures"`
	ActiveSignature uint32                 `json:"activeSignature"`
	ActiveParameter uint32                 `json:"activeParameter"`
}

// SignatureInformation is one signature of a signature help result.
type SignatureInformation struct {
	Label           string                 `json:"label"`
	Documentation   *MarkupContent         `json:"documentation,omitempty"`
	Parameters      []ParameterInformation `json:"parameters,omitempty"`
	ActiveParameter *uint32                `json:"activeParameter,omitempty"`
}

// ParameterInformation labels one parameter. The label is a substring of the
// signature label.
type ParameterInformation struct {
	Label         string         `json:"label"`
	Documentation *MarkupContent `json:"documentation,omitempty"`
}

// ExecuteCommandParams parameters for workspace/executeCommand.
type ExecuteCommandParams struct {
	Command   string            `json:"command"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// ShowDocumentParams parameters for the window/showDocument request.
type ShowDocumentParams struct {
	URI       DocumentURI `json:"uri"`
	External  bool        `json:"external,omitempty"`
	TakeFocus bool        `json:"takeFocus,omitempty"`
	Selection *LSPRange   `json:"selection,omitempty"`
}

// ShowDocumentResult result of window/showDocument.
type ShowDocumentResult struct {
	Success bool `json:"success"`
}

// CancelParams parameters for $/cancelRequest.
type CancelParams struct {
	ID any `json:"id"` // ID of the request to cancel (number or string)
}

// MarkupContent represents structured content for documentation.
type MarkupContent struct {
	Kind  MarkupKind `json:"kind"` // e.g., "markdown" or "plaintext"
	Value string     `json:"value"`
}

// MarkupKind defines the kind of markup content.
type MarkupKind string

const (
	MarkupKindPlainText MarkupKind = "plaintext"
	MarkupKindMarkdown  MarkupKind = "markdown"
)

// MessageType is the severity of a window/showMessage notification.
type MessageType int

const (
	MessageTypeError   MessageType = 1
	MessageTypeWarning MessageType = 2
	MessageTypeInfo    MessageType = 3
	MessageTypeLog     MessageType = 4
)

// ShowMessageParams parameters for window/showMessage notification.
type ShowMessageParams struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ============================================================================
// JSON-RPC Error Codes
// ============================================================================

const (
	JsonRpcParseError           int = -32700
	JsonRpcInvalidRequest       int = -32600
	JsonRpcMethodNotFound       int = -32601
	JsonRpcInvalidParams        int = -32602
	JsonRpcInternalError        int = -32603
	JsonRpcRequestCancelled     int = -32800
	JsonRpcServerNotInitialized int = -32002
	JsonRpcRequestFailed        int = -32803
)

// ============================================================================
// LSP Utility Functions
// ============================================================================

// triggerEventFromLSP maps the LSP trigger context to a TriggerEvent.
// A content change inside an open session is a bare retrigger. Outside one
// it carries no character, so the rune before the caret decides.
func triggerEventFromLSP(sc *SignatureHelpContext) TriggerEvent {
	if sc == nil {
		return InvokeTrigger
	}
	switch sc.TriggerKind {
	case SignatureHelpTriggerCharacter:
		ch, _ := utf8.DecodeRuneInString(sc.TriggerCharacter)
		if sc.IsRetrigger {
			return TriggerEvent{Kind: TriggerRetrigger, Character: ch}
		}
		return TypedTrigger(ch)
	case SignatureHelpTriggerContentChange:
		if sc.IsRetrigger {
			return TriggerEvent{Kind: TriggerRetrigger}
		}
		return TriggerEvent{Kind: TriggerTyped, UsePreviousCharacter: true}
	default:
		return InvokeTrigger
	}
}

// runeStrings renders runes as one-character strings.
func runeStrings(rs []rune) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

// toLSPSignatureHelp converts an engine result. Availability lines are only
// added to the documentation of partially available signatures.
func toLSPSignatureHelp(r *SignatureHelpResult) *SignatureHelp {
	if r == nil || len(r.Items) == 0 {
		return nil
	}
	out := &SignatureHelp{
		Signatures:      make([]SignatureInformation, 0, len(r.Items)),
		ActiveSignature: uint32(r.SelectedItem),
		ActiveParameter: uint32(max(r.CurrentParameterIndex, 0)),
	}
	for _, it := range r.Items {
		info := SignatureInformation{Label: it.Signature.DisplayText}
		doc := it.Signature.Documentation
		if it.Annotation.Partial() {
			if doc != "" {
				doc += "\n\n"
			}
			doc += strings.ReplaceAll(it.AvailabilityText(), descriptionNewline, "\n")
		}
		if doc != "" {
			info.Documentation = &MarkupContent{Kind: MarkupKindPlainText, Value: doc}
		}
		for _, p := range it.Signature.Parameters {
			pi := ParameterInformation{Label: p.DisplayText()}
			if p.Documentation != "" {
				pi.Documentation = &MarkupContent{Kind: MarkupKindPlainText, Value: p.Documentation}
			}
			info.Parameters = append(info.Parameters, pi)
		}
		if it.CurrentParameter >= 0 && it.CurrentParameter < len(it.Signature.Parameters) {
			active := uint32(it.CurrentParameter)
			info.ActiveParameter = &active
		}
		out.Signatures = append(out.Signatures, info)
	}
	return out
}
