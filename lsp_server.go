// ctorhelp/lsp_server.go
// Implements the Language Server Protocol (LSP) server logic.
package ctorhelp

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Server Implementation
// ============================================================================

// Server represents the LSP server instance.
type Server struct {
	conn      *jsonrpc2.Conn
	logger    *slog.Logger
	engine    *Engine
	wsOpts    WorkspaceOptions
	navigator *Navigator

	wsMu      sync.RWMutex
	workspace *Workspace

	files   map[DocumentURI]*OpenFile
	filesMu sync.RWMutex

	clientCaps     ClientCapabilities
	serverInfo     *ServerInfo
	initParams     *InitializeParams
	requestTracker *RequestTracker
}

// OpenFile represents a file currently open in the client editor.
type OpenFile struct {
	URI     DocumentURI
	Path    string
	Content []byte
	Version int
}

// NewServer creates a new LSP server instance. opts supplies the caches
// shared by every workspace the server loads.
func NewServer(engine *Engine, opts WorkspaceOptions, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	s := &Server{
		logger:    logger,
		engine:    engine,
		wsOpts:    opts,
		navigator: NewNavigator(logger),
		files:     make(map[DocumentURI]*OpenFile),
		serverInfo: &ServerInfo{
			Name:    "ctorhelp LSP",
			Version: version,
		},
		requestTracker: NewRequestTracker(),
	}
	publishExpvarMetrics(s)
	return s
}

// Run starts the LSP server on r and w and blocks until the connection closes.
func (s *Server) Run(r io.Reader, w io.Writer) {
	s.logger.Info("Starting LSP server run loop")

	stream := &stdrwc{r: r, w: w}
	objectStream := jsonrpc2.NewPlainObjectStream(stream)
	handler := notificationOrderedHandler{jsonrpc2.HandlerWithError(s.handle)}

	s.conn = jsonrpc2.NewConn(context.Background(), objectStream, handler)
	s.logger.Info("JSON-RPC connection established")

	<-s.conn.DisconnectNotify()
	s.requestTracker.CancelAll()
	s.logger.Info("JSON-RPC connection closed")
}

// notificationOrderedHandler runs notifications in arrival order on the read
// loop and requests on their own goroutines, so document edits are applied
// before later requests while long requests stay cancellable.
type notificationOrderedHandler struct {
	h jsonrpc2.Handler
}

func (o notificationOrderedHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		o.h.Handle(ctx, conn, req)
		return
	}
	go o.h.Handle(ctx, conn, req)
}

// stdrwc is a simple ReadWriteCloser that wraps stdin/stdout without closing them.
type stdrwc struct {
	r io.Reader
	w io.Writer
}

func (s *stdrwc) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdrwc) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdrwc) Close() error                { return nil }

// Workspace returns the loaded workspace, or nil before initialize.
func (s *Server) Workspace() *Workspace {
	s.wsMu.RLock()
	defer s.wsMu.RUnlock()
	return s.workspace
}

func (s *Server) setWorkspace(ws *Workspace) {
	s.wsMu.Lock()
	s.workspace = ws
	s.wsMu.Unlock()
}

// currentWorkspace returns the loaded workspace, creating a workspace with no
// projects when the client never sent a root.
func (s *Server) currentWorkspace() *Workspace {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.workspace == nil {
		s.workspace = newLooseWorkspace(s.wsOpts)
	}
	return s.workspace
}

// handle routes incoming LSP requests/notifications to appropriate methods.
func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result any, err error) {
	methodLogger := s.logger.With("method", req.Method, "is_notification", req.Notif)
	if !req.Notif {
		methodLogger = methodLogger.With("req_id", req.ID)
	}
	methodLogger.Debug("Received request/notification")

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			methodLogger.Error("Panic recovered in handler", "panic_value", r, "stack", stack)

			panicData, marshalErr := json.Marshal(fmt.Sprintf("Panic: %v", r))
			if marshalErr != nil {
				panicData = []byte(`"failed to marshal panic data"`)
			}
			rawPanicData := json.RawMessage(panicData)
			err = &jsonrpc2.Error{
				Code:    int64(JsonRpcInternalError),
				Message: fmt.Sprintf("Internal server error in method %s", req.Method),
				Data:    &rawPanicData,
			}
			result = nil
		}
	}()

	if !req.Notif {
		ctx = s.requestTracker.Add(req.ID, ctx)
		defer s.requestTracker.Remove(req.ID)
	}
	if ctx.Err() != nil {
		methodLogger.Warn("Request context cancelled before processing started", "error", ctx.Err())
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Request cancelled"}
	}

	unmarshalParams := func(target any) error {
		if req.Params == nil {
			return errors.New("params field is null")
		}
		return json.Unmarshal(*req.Params, target)
	}
	invalidParams := func(err error) error {
		methodLogger.Error("Failed to unmarshal params", "error", err)
		return &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid %s params: %v", req.Method, err)}
	}

	switch req.Method {
	case "initialize":
		var params InitializeParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		s.clientCaps = params.Capabilities
		s.initParams = &params
		return s.handleInitialize(ctx, conn, req, params, methodLogger)

	case "initialized":
		methodLogger.Info("Client initialized notification received")
		return nil, nil

	case "shutdown":
		methodLogger.Info("Shutdown request received")
		s.requestTracker.CancelAll()
		return nil, nil

	case "exit":
		methodLogger.Info("Exit notification received")
		if conn != nil {
			conn.Close()
		}
		return nil, nil

	case "textDocument/didOpen":
		var params DidOpenTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didOpen params", "error", err)
			return nil, nil
		}
		return s.handleDidOpen(ctx, conn, req, params, methodLogger)

	case "textDocument/didChange":
		var params DidChangeTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didChange params", "error", err)
			return nil, nil
		}
		return s.handleDidChange(ctx, conn, req, params, methodLogger)

	case "textDocument/didClose":
		var params DidCloseTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didClose params", "error", err)
			return nil, nil
		}
		return s.handleDidClose(ctx, conn, req, params, methodLogger)

	case "textDocument/signatureHelp":
		var params SignatureHelpParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleSignatureHelp(ctx, conn, req, params, methodLogger)

	case "workspace/didChangeConfiguration":
		var params DidChangeConfigurationParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didChangeConfiguration params", "error", err)
			return nil, nil
		}
		return s.handleDidChangeConfiguration(ctx, conn, req, params, methodLogger)

	case "workspace/executeCommand":
		var params ExecuteCommandParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleExecuteCommand(ctx, conn, req, params, methodLogger)

	case "$/cancelRequest":
		var params CancelParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal cancelRequest params", "error", err)
			return nil, nil
		}
		var cancelID jsonrpc2.ID
		switch idVal := params.ID.(type) {
		case float64:
			cancelID = jsonrpc2.ID{Num: uint64(idVal)}
		case string:
			cancelID = jsonrpc2.ID{Str: idVal, IsString: true}
		default:
			methodLogger.Warn("Could not determine type of cancel request ID", "id_value", params.ID, "id_type", fmt.Sprintf("%T", params.ID))
			return nil, nil
		}
		s.requestTracker.Cancel(cancelID)
		methodLogger.Debug("Cancellation request processed", "cancelled_id", cancelID)
		return nil, nil

	default:
		if req.Notif {
			methodLogger.Debug("Ignoring unhandled notification")
			return nil, nil
		}
		methodLogger.Warn("Unhandled LSP method")
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcMethodNotFound), Message: fmt.Sprintf("Method not supported: %s", req.Method)}
	}
}

// ============================================================================
// LSP Notification Sending Helpers
// ============================================================================

// client returns conn as a clientCaller, falling back to the run loop's
// connection. It is nil when no connection exists.
func (s *Server) client(conn *jsonrpc2.Conn) clientCaller {
	if conn == nil {
		conn = s.conn
	}
	if conn == nil {
		return nil
	}
	return conn
}

func (s *Server) sendShowMessage(conn *jsonrpc2.Conn, msgType MessageType, message string) {
	c := s.client(conn)
	if c == nil {
		s.logger.Warn("Cannot send showMessage: connection is nil", "message", message)
		return
	}
	params := ShowMessageParams{Type: msgType, Message: message}
	if err := c.Notify(context.Background(), "window/showMessage", params); err != nil {
		s.logger.Error("Failed to send window/showMessage notification", "error", err, "message_type", msgType)
	} else {
		s.logger.Debug("Sent window/showMessage notification", "message_type", msgType)
	}
}

// ============================================================================
// Metrics Publishing
// ============================================================================

// lspMetrics is published once per process; servers replace its entries.
var lspMetrics = expvar.NewMap("ctorhelp")

const (
	metricSignatureHelpRequests  = "signatureHelp.requests"
	metricSignatureHelpResults   = "signatureHelp.results"
	metricSignatureHelpCancelled = "signatureHelp.cancelled"
)

func publishExpvarMetrics(s *Server) {
	lspMetrics.Set("serverInfo.name", stringVar(s.serverInfo.Name))
	lspMetrics.Set("serverInfo.version", stringVar(s.serverInfo.Version))
	lspMetrics.Set("serverStartTime", stringVar(time.Now().Format(time.RFC3339)))
	lspMetrics.Set("goroutines", expvar.Func(func() any { return runtime.NumGoroutine() }))
	lspMetrics.Set("lsp.openFiles", expvar.Func(func() any {
		s.filesMu.RLock()
		defer s.filesMu.RUnlock()
		return len(s.files)
	}))
	lspMetrics.Set("lsp.pendingRequests", expvar.Func(func() any { return s.requestTracker.Count() }))
	lspMetrics.Set("cache.memory.hits", expvar.Func(func() any {
		if m := s.wsOpts.Units.Metrics(); m != nil {
			return m.Hits()
		}
		return 0
	}))
	lspMetrics.Set("cache.memory.misses", expvar.Func(func() any {
		if m := s.wsOpts.Units.Metrics(); m != nil {
			return m.Misses()
		}
		return 0
	}))
	lspMetrics.Set("cache.memory.costAdded", expvar.Func(func() any {
		if m := s.wsOpts.Units.Metrics(); m != nil {
			return m.CostAdded()
		}
		return 0
	}))
	for _, name := range []string{metricSignatureHelpRequests, metricSignatureHelpResults, metricSignatureHelpCancelled} {
		if lspMetrics.Get(name) == nil {
			lspMetrics.Add(name, 0)
		}
	}
	s.logger.Info("Expvar metrics published")
}

func stringVar(v string) *expvar.String {
	s := new(expvar.String)
	s.Set(v)
	return s
}

// ============================================================================
// Request Cancellation Tracker
// ============================================================================

// RequestTracker manages cancellation contexts for ongoing LSP requests. It
// also keeps one superseding slot per key so a newer request for the same
// document cancels the older one.
type RequestTracker struct {
	mu       sync.Mutex
	requests map[jsonrpc2.ID]context.CancelFunc
	latest   map[string]*supersedeEntry
}

type supersedeEntry struct {
	cancel context.CancelFunc
}

// NewRequestTracker creates a new tracker.
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{
		requests: make(map[jsonrpc2.ID]context.CancelFunc),
		latest:   make(map[string]*supersedeEntry),
	}
}

// Add registers a request ID and returns the context the handler must use;
// cancelling the ID cancels that context.
func (rt *RequestTracker) Add(id jsonrpc2.ID, ctx context.Context) context.Context {
	reqCtx, cancel := context.WithCancel(ctx)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.requests[id] = cancel
	return reqCtx
}

// Remove deregisters a request ID and releases its context.
func (rt *RequestTracker) Remove(id jsonrpc2.ID) {
	rt.mu.Lock()
	cancel, found := rt.requests[id]
	delete(rt.requests, id)
	rt.mu.Unlock()
	if found {
		cancel()
	}
}

// Cancel finds the cancel function for a request ID and calls it.
func (rt *RequestTracker) Cancel(id jsonrpc2.ID) {
	rt.mu.Lock()
	cancel, found := rt.requests[id]
	if found {
		delete(rt.requests, id)
	}
	rt.mu.Unlock()

	if found {
		slog.Debug("Calling cancel function for request", "id", id)
		cancel()
	} else {
		slog.Debug("Cancel function not found for request ID", "id", id)
	}
}

// Supersede cancels the request currently holding key and makes the returned
// context the new holder. release must be called when the request finishes.
func (rt *RequestTracker) Supersede(key string, ctx context.Context) (context.Context, func()) {
	reqCtx, cancel := context.WithCancel(ctx)
	entry := &supersedeEntry{cancel: cancel}
	rt.mu.Lock()
	prev := rt.latest[key]
	rt.latest[key] = entry
	rt.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}
	release := func() {
		rt.mu.Lock()
		if rt.latest[key] == entry {
			delete(rt.latest, key)
		}
		rt.mu.Unlock()
		cancel()
	}
	return reqCtx, release
}

// CancelAll cancels every tracked request.
func (rt *RequestTracker) CancelAll() {
	rt.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(rt.requests)+len(rt.latest))
	for id, cancel := range rt.requests {
		cancels = append(cancels, cancel)
		delete(rt.requests, id)
	}
	for key, entry := range rt.latest {
		cancels = append(cancels, entry.cancel)
		delete(rt.latest, key)
	}
	rt.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Count returns the number of currently tracked requests.
func (rt *RequestTracker) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.requests)
}
