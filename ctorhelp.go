// ctorhelp/ctorhelp.go
// Package ctorhelp computes signature help for object-creation expressions
// (`new T(...)`) across every project context a document belongs to.
package ctorhelp

import (
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Interfaces for Components
// =============================================================================

// SyntaxTree exposes the real leaf tokens of one parsed document snapshot.
type SyntaxTree interface {
	// Tokens returns the leaves in source order. Tokens synthesized by error
	// recovery are not included.
	Tokens() []Token
	// Len returns the length of the snapshot in bytes.
	Len() int
}

// SemanticModel answers the symbol questions the engine needs for one context.
type SemanticModel interface {
	// ResolveType looks a type up by simple name and generic arity as seen
	// from offset at. It returns nil, nil when nothing matches.
	ResolveType(ctx context.Context, name string, arity int, at int) (*TypeSymbol, error)
	// IsAccessible reports whether m may be called from offset at.
	IsAccessible(m *MethodSymbol, at int) bool
}

// DocumentationProvider supplies plain-text documentation for members.
type DocumentationProvider interface {
	Documentation(m *MethodSymbol) MemberDocumentation
}

// ContextView is one project context of a document.
type ContextView interface {
	ID() ContextID
	// IsActive reports whether offset is in code the context compiles.
	IsActive(offset int) bool
	Syntax(ctx context.Context) (SyntaxTree, error)
	Semantics(ctx context.Context) (SemanticModel, error)
	Documentation() DocumentationProvider
}

// Document is an immutable snapshot of a source file.
type Document interface {
	URI() string
	Text() []byte
	// Contexts returns the contexts the document is compiled in, primary first.
	Contexts() []ContextView
}

// =============================================================================
// Configuration Loading
// =============================================================================

// LoadConfig loads configuration from standard locations, merges with defaults,
// validates, and attempts to write a default config if needed.
func LoadConfig(logger *stdslog.Logger) (Config, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	cfg := getDefaultConfig()
	var loadedFromFile bool
	var loadErrors []error
	var configParseError error

	primaryPath, secondaryPath, pathErr := GetConfigPaths(logger)
	if pathErr != nil {
		loadErrors = append(loadErrors, pathErr)
		logger.Warn("Could not determine config paths, using defaults", "error", pathErr)
	}

	for _, path := range []string{primaryPath, secondaryPath} {
		if path == "" || (loadedFromFile && configParseError == nil) {
			continue
		}
		logger.Debug("Attempting to load config", "path", path)
		loaded, loadErr := LoadAndMergeConfig(path, &cfg, logger)
		if loadErr != nil {
			if errors.Is(loadErr, errConfigParse) && configParseError == nil {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", path, loadErr))
			logger.Warn("Failed to load or merge config", "path", path, "error", loadErr)
		} else if loaded {
			loadedFromFile = true
			configParseError = nil
			logger.Info("Loaded config", "path", path)
		}
		if primaryPath == secondaryPath {
			break
		}
	}

	if !loadedFromFile {
		writePath := primaryPath
		if writePath == "" {
			writePath = secondaryPath
		}
		if writePath != "" && configParseError == nil {
			logger.Info("No config file found. Attempting to write default.", "path", writePath)
			if err := WriteDefaultConfig(writePath, getDefaultConfig(), logger); err != nil {
				logger.Warn("Failed to write default config", "path", writePath, "error", err)
				loadErrors = append(loadErrors, fmt.Errorf("writing default config failed: %w", err))
			}
		} else if writePath == "" {
			logger.Warn("Cannot determine path to write default config.")
			loadErrors = append(loadErrors, errors.New("cannot determine default config path"))
		}
		cfg = getDefaultConfig()
		logger.Info("Using default configuration values.")
	}

	finalCfg := cfg
	if err := finalCfg.Validate(logger); err != nil {
		logger.Error("Final configuration is invalid, falling back to pure defaults.", "error", err)
		loadErrors = append(loadErrors, fmt.Errorf("post-load config validation failed: %w", err))
		pureDefault := getDefaultConfig()
		if valErr := pureDefault.Validate(logger); valErr != nil {
			return pureDefault, fmt.Errorf("default config definition is invalid: %w", valErr)
		}
		finalCfg = pureDefault
	}

	if len(loadErrors) > 0 {
		return finalCfg, fmt.Errorf("%w: %w", ErrConfig, errors.Join(loadErrors...))
	}
	return finalCfg, nil
}

// =============================================================================
// Engine
// =============================================================================

// Engine computes signature help. It is safe for concurrent use; every call
// works on its own snapshot.
type Engine struct {
	mu     sync.RWMutex
	config Config
	logger *stdslog.Logger
}

// NewEngine creates an engine with cfg. cfg is validated, and invalid fields
// fall back to defaults.
func NewEngine(cfg Config, logger *stdslog.Logger) *Engine {
	if logger == nil {
		logger = stdslog.Default()
	}
	engineLogger := logger.With("component", "Engine")
	if err := cfg.Validate(engineLogger); err != nil {
		engineLogger.Warn("Engine created with invalid config, defaults applied", "error", err)
	}
	return &Engine{config: cfg, logger: engineLogger}
}

// UpdateConfig replaces the engine configuration.
func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(e.logger); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg
	e.logger.Info("Engine configuration updated", "hide_advanced_members", cfg.HideAdvancedMembers)
	return nil
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// contextOutcome is what one context contributes to a request.
type contextOutcome struct {
	id         ContextID
	list       *ArgumentListContext
	candidates []Candidate
	err        error
}

// GetSignatureHelp computes signature help for the caret in doc. It returns
// nil, nil whenever signature help does not apply: the trigger is rejected,
// the caret is not in an object-creation argument list, or no constructor
// is available in any context.
func (e *Engine) GetSignatureHelp(ctx context.Context, doc Document, caret int, trigger TriggerEvent) (*SignatureHelpResult, error) {
	logger := e.logger.With("op", "GetSignatureHelp", "uri", doc.URI(), "caret", caret)
	text := doc.Text()
	if caret < 0 || caret > len(text) {
		return nil, fmt.Errorf("%w: caret %d outside document of length %d", ErrPositionOutOfRange, caret, len(text))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !shouldTrigger(trigger, text, caret) {
		logger.Debug("Trigger rejected", "kind", trigger.Kind, "char", string(trigger.Character))
		return nil, nil
	}

	var active []ContextView
	for _, view := range doc.Contexts() {
		if view.IsActive(caret) {
			active = append(active, view)
		} else {
			logger.Debug("Context skipped, caret is in an inactive region", "context", view.ID())
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	hideAdvanced := e.Config().HideAdvancedMembers
	outcomes := make([]contextOutcome, len(active))
	g, gctx := errgroup.WithContext(ctx)
	for i, view := range active {
		g.Go(func() error {
			outcomes[i] = e.analyzeContext(gctx, view, caret, hideAdvanced, logger)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		logger.Debug("Signature help cancelled", "error", err)
		return nil, err
	}

	order := make([]ContextID, len(outcomes))
	set := make(CandidateSet, len(outcomes))
	var list *ArgumentListContext
	for i, out := range outcomes {
		order[i] = out.id
		if out.err != nil {
			logger.Warn("Context degraded to unavailable", "context", out.id, "error", out.err)
			set[out.id] = nil
			continue
		}
		if list == nil && out.list != nil {
			list = out.list
		}
		set[out.id] = out.candidates
	}
	if list == nil {
		return nil, nil
	}

	items := reconcile(order, set)
	if len(items) == 0 {
		logger.Debug("No constructors available in any context", "type", list.TypeName)
		return nil, nil
	}
	for i := range items {
		items[i].CurrentParameter = currentParameterIndex(list, caret, items[i].Signature)
	}

	result := &SignatureHelpResult{
		Items:          items,
		ArgumentIndex:  argumentIndex(list, caret),
		ArgumentCount:  argumentCount(list, caret),
		ArgumentName:   argumentNameAt(list, caret),
		ApplicableSpan: list.ApplicableSpan,
	}
	result.SelectedItem = selectItem(items, result.ArgumentIndex, result.ArgumentName)
	result.CurrentParameterIndex = items[result.SelectedItem].CurrentParameter
	logger.Debug("Signature help computed", "items", len(items), "selected", result.SelectedItem, "argument_index", result.ArgumentIndex)
	return result, nil
}

// analyzeContext runs locate, resolve, enumerate and filter for one context.
// A located list with an error still reports the list so other contexts can use it.
func (e *Engine) analyzeContext(ctx context.Context, view ContextView, caret int, hideAdvanced bool, logger *stdslog.Logger) (out contextOutcome) {
	out.id = view.ID()
	ctxLogger := logger.With("context", out.id)
	defer func() {
		if r := recover(); r != nil {
			ctxLogger.Error("Panic during context analysis", "panic", r)
			out.err = fmt.Errorf("%w: panic: %v", ErrContextFailed, r)
		}
	}()

	tree, err := view.Syntax(ctx)
	if err != nil {
		out.err = fmt.Errorf("%w: %w", ErrContextFailed, err)
		return out
	}
	list, ok := locateArgumentList(tree, caret)
	if !ok {
		ctxLogger.Debug("Caret is not inside an object creation argument list")
		return out
	}
	out.list = list

	model, err := view.Semantics(ctx)
	if err != nil {
		out.err = fmt.Errorf("%w: %w", ErrContextFailed, err)
		return out
	}
	cands, err := enumerateCandidates(ctx, model, view.Documentation(), list, caret)
	if err != nil {
		out.err = fmt.Errorf("%w: %w", ErrContextFailed, err)
		return out
	}
	out.candidates = filterVisible(cands, candidateOrigin(cands), hideAdvanced)
	ctxLogger.Debug("Context analyzed", "type", list.TypeName, "enumerated", len(cands), "visible", len(out.candidates))
	return out
}

// candidateOrigin is the origin of the type the candidates were enumerated
// from. Every candidate of one enumeration shares it.
func candidateOrigin(cands []Candidate) SymbolOrigin {
	for _, c := range cands {
		if c.Member != nil {
			return c.Member.Origin
		}
	}
	return OriginSource
}

// selectItem prefers a signature declaring the named argument, then the first
// signature with room for the current argument.
func selectItem(items []SignatureHelpItem, argIndex int, argName string) int {
	if argName != "" {
		for i, it := range items {
			for _, p := range it.Signature.Parameters {
				if p.Name == argName {
					return i
				}
			}
		}
	}
	for i, it := range items {
		if len(it.Signature.Parameters) > argIndex {
			return i
		}
	}
	return 0
}

// FormatResult renders r as plain text for terminals and logs.
func FormatResult(r *SignatureHelpResult) string {
	if r == nil {
		return "no signature help\n"
	}
	var b strings.Builder
	for i, it := range r.Items {
		marker := "  "
		if i == r.SelectedItem {
			marker = "> "
		}
		b.WriteString(marker)
		b.WriteString(strings.ReplaceAll(it.Description(), descriptionNewline, "\n  "))
		b.WriteByte('\n')
		if it.Signature.Documentation != "" {
			b.WriteString("    ")
			b.WriteString(it.Signature.Documentation)
			b.WriteByte('\n')
		}
		if doc, ok := it.CurrentParameterDocumentation(); ok {
			p := it.Signature.Parameters[it.CurrentParameter]
			fmt.Fprintf(&b, "    %s: %s\n", p.Name, doc)
		}
	}
	fmt.Fprintf(&b, "argument %d of %d", r.ArgumentIndex+1, max(r.ArgumentCount, 1))
	if r.ArgumentName != "" {
		fmt.Fprintf(&b, " (%s:)", r.ArgumentName)
	}
	fmt.Fprintf(&b, ", applicable span %s\n", r.ApplicableSpan)
	return b.String()
}
