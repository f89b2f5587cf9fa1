// ctorhelp/lsp_server_test.go
package ctorhelp

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const lspProgram = `class C
{
    public C(int a) { }
    public C(int a, string b) { }
}

class Program
{
    void M()
    {
        var x = new C(1, $$
    }
}
`

// openProgram writes lspProgram without its marker into a fresh workspace
// directory and returns the root, the document URI, its text and the caret position.
func openProgram(t *testing.T) (string, DocumentURI, string, LSPPosition) {
	t.Helper()
	caret := strings.Index(lspProgram, caretMarker)
	text := strings.Replace(lspProgram, caretMarker, "", 1)
	root := t.TempDir()
	file := filepath.Join(root, "Program.cs")
	require.NoError(t, os.WriteFile(file, []byte(text), 0o644))
	pos, err := BytePositionToLSPPosition([]byte(text), caret)
	require.NoError(t, err)
	return root, DocumentURI(PathToURI(file)), text, pos
}

func newTestServer() *Server {
	logger := discardLogger()
	return NewServer(NewEngine(DefaultConfig(), logger), WorkspaceOptions{Logger: logger}, logger, "test")
}

var nextTestID uint64

// call invokes the handler directly, without a connection.
func call(t *testing.T, s *Server, method string, params any) (any, error) {
	t.Helper()
	nextTestID++
	req := &jsonrpc2.Request{Method: method, ID: jsonrpc2.ID{Num: nextTestID}}
	if params != nil {
		require.NoError(t, req.SetParams(params))
	}
	return s.handle(context.Background(), nil, req)
}

// notify invokes the handler with a notification.
func notify(t *testing.T, s *Server, method string, params any) {
	t.Helper()
	req := &jsonrpc2.Request{Method: method, Notif: true}
	if params != nil {
		require.NoError(t, req.SetParams(params))
	}
	result, err := s.handle(context.Background(), nil, req)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func rpcCode(t *testing.T, err error) int {
	t.Helper()
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	return int(rpcErr.Code)
}

func signatureParams(uri DocumentURI, pos LSPPosition, sc *SignatureHelpContext) SignatureHelpParams {
	return SignatureHelpParams{TextDocument: TextDocumentIdentifier{URI: uri}, Position: pos, Context: sc}
}

func TestServer_SignatureHelpFlow(t *testing.T) {
	root, uri, text, pos := openProgram(t)
	s := newTestServer()

	res, err := call(t, s, "initialize", InitializeParams{RootURI: DocumentURI(PathToURI(root))})
	require.NoError(t, err)
	init, ok := res.(InitializeResult)
	require.True(t, ok)
	require.NotNil(t, init.Capabilities.SignatureHelpProvider)
	assert.Equal(t, []string{"(", ","}, init.Capabilities.SignatureHelpProvider.TriggerCharacters)
	assert.Equal(t, []string{",", ")"}, init.Capabilities.SignatureHelpProvider.RetriggerCharacters)
	assert.Equal(t, []string{CommandSwitchContext, CommandListContexts}, init.Capabilities.ExecuteCommandProvider.Commands)
	require.NotNil(t, s.Workspace())
	assert.Len(t, s.Workspace().Projects(), 1)

	notify(t, s, "initialized", map[string]any{})
	notify(t, s, "textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: uri, LanguageID: "csharp", Version: 1, Text: text},
	})

	res, err = call(t, s, "textDocument/signatureHelp", signatureParams(uri, pos, nil))
	require.NoError(t, err)
	help, ok := res.(*SignatureHelp)
	require.True(t, ok)
	require.Len(t, help.Signatures, 2)
	assert.Equal(t, "C(int a)", help.Signatures[0].Label)
	assert.Equal(t, "C(int a, string b)", help.Signatures[1].Label)
	assert.Equal(t, uint32(1), help.ActiveSignature)
	assert.Equal(t, uint32(1), help.ActiveParameter)
	assert.Nil(t, help.Signatures[1].Documentation, "available everywhere, no availability block")

	t.Run("typed space does not trigger", func(t *testing.T) {
		res, err := call(t, s, "textDocument/signatureHelp", signatureParams(uri, pos, &SignatureHelpContext{
			TriggerKind: SignatureHelpTriggerCharacter, TriggerCharacter: " ",
		}))
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("edits are served from the open buffer", func(t *testing.T) {
		edited := strings.Replace(text, "new C(1, ", "new C(", 1)
		notify(t, s, "textDocument/didChange", DidChangeTextDocumentParams{
			TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: uri}, Version: 2},
			ContentChanges: []TextDocumentContentChangeEvent{{Text: edited}},
		})
		editPos := LSPPosition{Line: pos.Line, Character: pos.Character - uint32(len("1, "))}
		res, err := call(t, s, "textDocument/signatureHelp", signatureParams(uri, editPos, nil))
		require.NoError(t, err)
		help := res.(*SignatureHelp)
		assert.Equal(t, uint32(0), help.ActiveSignature)
		assert.Equal(t, uint32(0), help.ActiveParameter)

		// A stale version is ignored.
		notify(t, s, "textDocument/didChange", DidChangeTextDocumentParams{
			TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: uri}, Version: 1},
			ContentChanges: []TextDocumentContentChangeEvent{{Text: "garbage"}},
		})
		doc, err := s.Workspace().Document(filepath.Join(root, "Program.cs"))
		require.NoError(t, err)
		assert.Equal(t, edited, string(doc.Text()))
	})

	t.Run("list contexts", func(t *testing.T) {
		args, _ := json.Marshal(uri)
		res, err := call(t, s, "workspace/executeCommand", ExecuteCommandParams{Command: CommandListContexts, Arguments: []json.RawMessage{args}})
		require.NoError(t, err)
		assert.Equal(t, []ContextInfo{{Project: filepath.Base(root), Primary: true}}, res)
	})

	t.Run("switch to unknown project", func(t *testing.T) {
		uriArg, _ := json.Marshal(uri)
		projArg, _ := json.Marshal("Nope")
		_, err := call(t, s, "workspace/executeCommand", ExecuteCommandParams{Command: CommandSwitchContext, Arguments: []json.RawMessage{uriArg, projArg}})
		assert.Equal(t, JsonRpcRequestFailed, rpcCode(t, err))
	})

	t.Run("close drops the buffer", func(t *testing.T) {
		notify(t, s, "textDocument/didClose", DidCloseTextDocumentParams{TextDocument: TextDocumentIdentifier{URI: uri}})
		doc, err := s.Workspace().Document(filepath.Join(root, "Program.cs"))
		require.NoError(t, err)
		assert.Equal(t, text, string(doc.Text()))
	})

	res, err = call(t, s, "shutdown", nil)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestServer_LooseDocument(t *testing.T) {
	_, uri, text, pos := openProgram(t)
	s := newTestServer()

	_, err := call(t, s, "initialize", InitializeParams{})
	require.NoError(t, err)
	assert.Nil(t, s.Workspace(), "no root, no workspace yet")

	notify(t, s, "textDocument/didOpen", DidOpenTextDocumentParams{TextDocument: TextDocumentItem{URI: uri, Version: 1, Text: text}})
	res, err := call(t, s, "textDocument/signatureHelp", signatureParams(uri, pos, &SignatureHelpContext{
		TriggerKind: SignatureHelpTriggerCharacter, TriggerCharacter: ",",
	}))
	require.NoError(t, err)
	help := res.(*SignatureHelp)
	assert.Len(t, help.Signatures, 2)
}

func TestServer_Errors(t *testing.T) {
	s := newTestServer()

	_, err := call(t, s, "textDocument/hover", map[string]any{})
	assert.Equal(t, JsonRpcMethodNotFound, rpcCode(t, err))

	notify(t, s, "$/unknownNotification", nil)

	_, err = call(t, s, "textDocument/signatureHelp", nil)
	assert.Equal(t, JsonRpcInvalidParams, rpcCode(t, err))

	_, err = call(t, s, "textDocument/signatureHelp", signatureParams("untitled:Untitled-1", LSPPosition{}, nil))
	assert.Equal(t, JsonRpcInvalidParams, rpcCode(t, err))

	missing := DocumentURI(PathToURI(filepath.Join(t.TempDir(), "Missing.cs")))
	_, err = call(t, s, "textDocument/signatureHelp", signatureParams(missing, LSPPosition{}, nil))
	assert.Equal(t, JsonRpcInvalidParams, rpcCode(t, err))

	_, err = call(t, s, "workspace/executeCommand", ExecuteCommandParams{Command: CommandListContexts})
	assert.Equal(t, JsonRpcInvalidParams, rpcCode(t, err))

	args, _ := json.Marshal(missing)
	_, err = call(t, s, "workspace/executeCommand", ExecuteCommandParams{Command: "ctorhelp.bogus", Arguments: []json.RawMessage{args}})
	assert.Equal(t, JsonRpcInvalidParams, rpcCode(t, err))

	_, err = call(t, s, "initialize", nil)
	assert.Equal(t, JsonRpcInvalidParams, rpcCode(t, err))
}

func TestServer_DidChangeConfiguration(t *testing.T) {
	s := newTestServer()

	notify(t, s, "workspace/didChangeConfiguration", DidChangeConfigurationParams{
		Settings: json.RawMessage(`{"ctorhelp": {"hide_advanced_members": true}}`),
	})
	assert.True(t, s.engine.Config().HideAdvancedMembers)

	notify(t, s, "workspace/didChangeConfiguration", DidChangeConfigurationParams{
		Settings: json.RawMessage(`{"memory_cache_ttl_seconds": 60}`),
	})
	assert.Equal(t, time.Minute, s.engine.Config().MemoryCacheTTL)

	before := s.engine.Config()
	notify(t, s, "workspace/didChangeConfiguration", DidChangeConfigurationParams{
		Settings: json.RawMessage(`{"ctorhelp": {"log_level": "verbose"}}`),
	})
	assert.Equal(t, before, s.engine.Config(), "invalid settings are rejected")

	notify(t, s, "workspace/didChangeConfiguration", DidChangeConfigurationParams{Settings: json.RawMessage(`[1]`)})
	assert.Equal(t, before, s.engine.Config())
}

func TestServer_CancelRequest(t *testing.T) {
	s := newTestServer()
	ctx := s.requestTracker.Add(jsonrpc2.ID{Num: 7}, context.Background())
	strCtx := s.requestTracker.Add(jsonrpc2.ID{Str: "a", IsString: true}, context.Background())

	notify(t, s, "$/cancelRequest", CancelParams{ID: 7})
	notify(t, s, "$/cancelRequest", CancelParams{ID: "a"})
	notify(t, s, "$/cancelRequest", CancelParams{ID: true})

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.ErrorIs(t, strCtx.Err(), context.Canceled)
	assert.Equal(t, 0, s.requestTracker.Count())
}

func TestRequestTracker(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	rt := NewRequestTracker()

	id := jsonrpc2.ID{Num: 1}
	ctx := rt.Add(id, context.Background())
	assert.Equal(t, 1, rt.Count())
	rt.Remove(id)
	assert.Equal(t, 0, rt.Count())
	assert.ErrorIs(t, ctx.Err(), context.Canceled, "removing releases the context")

	rt.Cancel(jsonrpc2.ID{Num: 99})

	first, releaseFirst := rt.Supersede("file:///a.cs", context.Background())
	second, releaseSecond := rt.Supersede("file:///a.cs", context.Background())
	other, releaseOther := rt.Supersede("file:///b.cs", context.Background())
	assert.ErrorIs(t, first.Err(), context.Canceled, "newer request for the same document cancels the older")
	assert.NoError(t, second.Err())
	assert.NoError(t, other.Err())

	// Releasing the superseded request must not evict the newer holder.
	releaseFirst()
	third, releaseThird := rt.Supersede("file:///a.cs", context.Background())
	assert.ErrorIs(t, second.Err(), context.Canceled)
	releaseSecond()
	releaseThird()
	assert.ErrorIs(t, third.Err(), context.Canceled)

	pending := rt.Add(jsonrpc2.ID{Num: 2}, context.Background())
	rt.CancelAll()
	assert.ErrorIs(t, pending.Err(), context.Canceled)
	assert.ErrorIs(t, other.Err(), context.Canceled)
	assert.Equal(t, 0, rt.Count())
	releaseOther()
}

func TestServer_RunOverConnection(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	root, uri, text, pos := openProgram(t)

	serverSide, clientSide := net.Pipe()
	s := newTestServer()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(serverSide, serverSide)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client := jsonrpc2.NewConn(ctx, jsonrpc2.NewPlainObjectStream(clientSide), jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
		return nil, nil
	}))

	var init InitializeResult
	require.NoError(t, client.Call(ctx, "initialize", InitializeParams{RootURI: DocumentURI(PathToURI(root))}, &init))
	assert.Equal(t, "ctorhelp LSP", init.ServerInfo.Name)
	require.NoError(t, client.Notify(ctx, "initialized", map[string]any{}))
	require.NoError(t, client.Notify(ctx, "textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: uri, Version: 1, Text: text},
	}))

	var help SignatureHelp
	require.NoError(t, client.Call(ctx, "textDocument/signatureHelp", signatureParams(uri, pos, nil), &help))
	require.Len(t, help.Signatures, 2)
	assert.Equal(t, uint32(1), help.ActiveSignature)
	require.NotNil(t, help.Signatures[1].ActiveParameter)
	assert.Equal(t, uint32(1), *help.Signatures[1].ActiveParameter)

	var shutdown any
	require.NoError(t, client.Call(ctx, "shutdown", nil, &shutdown))
	assert.Nil(t, shutdown)
	require.NoError(t, client.Close())
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop after the client disconnected")
	}
	serverSide.Close()
}

func TestTriggerEventFromLSP(t *testing.T) {
	tests := []struct {
		name string
		sc   *SignatureHelpContext
		want TriggerEvent
	}{
		{"no context", nil, InvokeTrigger},
		{"invoked", &SignatureHelpContext{TriggerKind: SignatureHelpTriggerInvoked}, InvokeTrigger},
		{"typed", &SignatureHelpContext{TriggerKind: SignatureHelpTriggerCharacter, TriggerCharacter: "("}, TypedTrigger('(')},
		{"retrigger", &SignatureHelpContext{TriggerKind: SignatureHelpTriggerCharacter, TriggerCharacter: ")", IsRetrigger: true}, TriggerEvent{Kind: TriggerRetrigger, Character: ')'}},
		{"content change in open session", &SignatureHelpContext{TriggerKind: SignatureHelpTriggerContentChange, IsRetrigger: true}, TriggerEvent{Kind: TriggerRetrigger}},
		{"content change", &SignatureHelpContext{TriggerKind: SignatureHelpTriggerContentChange}, TriggerEvent{Kind: TriggerTyped, UsePreviousCharacter: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, triggerEventFromLSP(tt.sc))
		})
	}
}

func TestToLSPSignatureHelp(t *testing.T) {
	assert.Nil(t, toLSPSignatureHelp(nil))
	assert.Nil(t, toLSPSignatureHelp(&SignatureHelpResult{}))

	result := &SignatureHelpResult{
		Items: []SignatureHelpItem{
			{
				Signature: Signature{
					DisplayText:   "C(int a)",
					Documentation: "Makes a C.",
					Parameters:    []ParameterInfo{{Name: "a", DisplayType: "int", Documentation: "The a."}},
				},
				Annotation: AvailabilityAnnotation{Available: []ContextID{"Proj1"}, Unavailable: []ContextID{"Proj2"}},
			},
			{
				Signature:        Signature{DisplayText: "C()"},
				Annotation:       AvailabilityAnnotation{Available: []ContextID{"Proj1", "Proj2"}},
				CurrentParameter: 2,
			},
		},
		SelectedItem:          0,
		CurrentParameterIndex: 0,
	}
	help := toLSPSignatureHelp(result)
	require.Len(t, help.Signatures, 2)

	first := help.Signatures[0]
	require.NotNil(t, first.Documentation)
	assert.Equal(t, MarkupKindPlainText, first.Documentation.Kind)
	assert.Equal(t, "Makes a C.\n\n    Proj1 - Available\n    Proj2 - Not Available\n\nYou can use the navigation bar to switch context.", first.Documentation.Value)
	require.Len(t, first.Parameters, 1)
	assert.Equal(t, "int a", first.Parameters[0].Label)
	assert.True(t, strings.Contains(first.Label, first.Parameters[0].Label), "parameter label is a substring of the signature label")
	assert.Equal(t, "The a.", first.Parameters[0].Documentation.Value)
	require.NotNil(t, first.ActiveParameter)
	assert.Equal(t, uint32(0), *first.ActiveParameter)

	second := help.Signatures[1]
	assert.Nil(t, second.Documentation)
	assert.Nil(t, second.ActiveParameter, "no active parameter past the end")
}
