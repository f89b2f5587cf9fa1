// ctorhelp/ctorhelp_types.go
// Contains core type definitions used throughout the ctorhelp package.
package ctorhelp

import (
	"errors"
	"fmt"
	stdslog "log/slog"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Configuration Types & Constants
// =============================================================================

const (
	defaultLogLevel           = "info"          // Default log level.
	defaultMemoryCacheTTLSecs = 300             // Default TTL for memory cache items (5 minutes).
	defaultConfigFileName     = "config.json"   // Default config file name.
	defaultManifestName       = "ctorhelp.toml" // Workspace manifest looked up at the root.
	defaultDebugListenAddr    = "localhost:6061"
	configDirName             = "ctorhelp" // Subdirectory name for config/data.
	cacheSchemaVersion        = 2          // Used to invalidate cache if internal formats change.
)

// Config holds the active configuration for the signature help service.
type Config struct {
	LogLevel              string        `json:"log_level"`                // Log level (debug, info, warn, error).
	HideAdvancedMembers   bool          `json:"hide_advanced_members"`    // Hide EditorBrowsable(Advanced) metadata members.
	MemoryCacheTTLSeconds int           `json:"memory_cache_ttl_seconds"` // TTL for memory cache items.
	DisableDiskCache      bool          `json:"disable_disk_cache"`       // Skip the bbolt metadata cache.
	CacheDir              string        `json:"cache_dir"`                // Empty means os.UserCacheDir()/ctorhelp.
	WorkspaceManifest     string        `json:"workspace_manifest"`       // Manifest file name relative to the workspace root.
	DebugListenAddr       string        `json:"debug_listen_addr"`        // expvar/pprof listener for the LSP binary.
	MemoryCacheTTL        time.Duration `json:"-"`                        // Derived duration, not from file.
}

// FileConfig represents the structure of the JSON config file for unmarshalling.
// Uses pointers to distinguish between unset fields and zero-value fields.
type FileConfig struct {
	LogLevel              *string `json:"log_level"`
	HideAdvancedMembers   *bool   `json:"hide_advanced_members"`
	MemoryCacheTTLSeconds *int    `json:"memory_cache_ttl_seconds"`
	DisableDiskCache      *bool   `json:"disable_disk_cache"`
	CacheDir              *string `json:"cache_dir"`
	WorkspaceManifest     *string `json:"workspace_manifest"`
	DebugListenAddr       *string `json:"debug_listen_addr"`
}

// getDefaultConfig returns a new instance of the default configuration.
func getDefaultConfig() Config {
	return Config{
		LogLevel:              defaultLogLevel,
		HideAdvancedMembers:   false,
		MemoryCacheTTLSeconds: defaultMemoryCacheTTLSecs,
		WorkspaceManifest:     defaultManifestName,
		DebugListenAddr:       defaultDebugListenAddr,
		MemoryCacheTTL:        time.Duration(defaultMemoryCacheTTLSecs) * time.Second,
	}
}

// DefaultConfig returns the built-in configuration, already validated.
func DefaultConfig() Config {
	return getDefaultConfig()
}

// mergeFileConfig copies every field set in fc over cfg.
func mergeFileConfig(cfg *Config, fc FileConfig) {
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if fc.HideAdvancedMembers != nil {
		cfg.HideAdvancedMembers = *fc.HideAdvancedMembers
	}
	if fc.MemoryCacheTTLSeconds != nil {
		cfg.MemoryCacheTTLSeconds = *fc.MemoryCacheTTLSeconds
	}
	if fc.DisableDiskCache != nil {
		cfg.DisableDiskCache = *fc.DisableDiskCache
	}
	if fc.CacheDir != nil {
		cfg.CacheDir = *fc.CacheDir
	}
	if fc.WorkspaceManifest != nil {
		cfg.WorkspaceManifest = *fc.WorkspaceManifest
	}
	if fc.DebugListenAddr != nil {
		cfg.DebugListenAddr = *fc.DebugListenAddr
	}
}

// Validate checks if configuration values are valid, applying defaults for some fields.
func (c *Config) Validate(logger *stdslog.Logger) error {
	var validationErrors []error
	if logger == nil {
		logger = stdslog.Default()
	}
	tempDefault := getDefaultConfig()

	if c.MemoryCacheTTLSeconds <= 0 {
		logger.Warn("Config validation: memory_cache_ttl_seconds is not positive, applying default.", "configured_value", c.MemoryCacheTTLSeconds, "default", tempDefault.MemoryCacheTTLSeconds)
		c.MemoryCacheTTLSeconds = tempDefault.MemoryCacheTTLSeconds
	}
	c.MemoryCacheTTL = time.Duration(c.MemoryCacheTTLSeconds) * time.Second

	if c.LogLevel == "" {
		logger.Warn("Config validation: log_level is empty, applying default.", "default", defaultLogLevel)
		c.LogLevel = defaultLogLevel
	} else if _, err := ParseLogLevel(c.LogLevel); err != nil {
		logger.Warn("Config validation: Invalid log_level found, applying default.", "configured_value", c.LogLevel, "default", defaultLogLevel, "error", err)
		validationErrors = append(validationErrors, fmt.Errorf("invalid log_level '%s': %w", c.LogLevel, err))
		c.LogLevel = defaultLogLevel
	}

	c.WorkspaceManifest = strings.TrimSpace(c.WorkspaceManifest)
	if c.WorkspaceManifest == "" {
		logger.Warn("Config validation: workspace_manifest is empty, applying default.", "default", defaultManifestName)
		c.WorkspaceManifest = defaultManifestName
	} else if strings.ContainsAny(c.WorkspaceManifest, `/\`) {
		validationErrors = append(validationErrors, fmt.Errorf("workspace_manifest %q must be a file name, not a path", c.WorkspaceManifest))
		c.WorkspaceManifest = defaultManifestName
	}

	if strings.TrimSpace(c.DebugListenAddr) == "" {
		c.DebugListenAddr = defaultDebugListenAddr
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(validationErrors...))
	}
	return nil
}

// =============================================================================
// Positions, Spans & Tokens
// =============================================================================

// Span is a half-open byte range [Start, End) into one document snapshot.
type Span struct {
	Start int
	End   int
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Contains reports whether offset lies within [Start, End].
// The end is inclusive so a caret placed right after the last byte still counts.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start && offset <= s.End
}

// Valid reports whether the span fits in a buffer of length n.
func (s Span) Valid(n int) bool {
	return s.Start >= 0 && s.Start <= s.End && s.End <= n
}

func (s Span) String() string { return fmt.Sprintf("[%d..%d)", s.Start, s.End) }

// TokenKind classifies a leaf token of a syntax tree.
type TokenKind int

const (
	TokenPunct TokenKind = iota
	TokenIdentifier
	TokenKeyword
	TokenNumber
	TokenString // string, character and interpolated literals
	TokenComment
)

func (k TokenKind) String() string {
	switch k {
	case TokenPunct:
		return "punct"
	case TokenIdentifier:
		return "identifier"
	case TokenKeyword:
		return "keyword"
	case TokenNumber:
		return "number"
	case TokenString:
		return "string"
	case TokenComment:
		return "comment"
	default:
		return fmt.Sprintf("TokenKind(%d)", int(k))
	}
}

// Token is one real (non-synthesized) leaf of a syntax tree.
type Token struct {
	Kind TokenKind
	Text string
	Span Span
}

// =============================================================================
// Argument Lists
// =============================================================================

// Argument is one top-level argument of an argument list.
type Argument struct {
	Span Span
	Name string // Explicit name label ("b" for `b: 2`), empty when positional.
}

// ArgumentListContext describes the argument list of the object-creation
// expression that encloses the caret.
type ArgumentListContext struct {
	Expression          Span // From `new` to the end of the applicable region (closing paren included).
	OpenParen           int
	Arguments           []Argument
	Separators          []int // Offsets of top-level commas.
	HasClosingDelimiter bool
	TypeName            string   // Simple name of the created type, without qualifiers.
	TypeArguments       []string // Rendered type arguments from the call site.
	ApplicableSpan      Span     // From `new` to the start of the `)` or the recovery boundary.
}

// =============================================================================
// Triggers
// =============================================================================

// TriggerKind says how a signature help request was initiated.
type TriggerKind int

const (
	TriggerInvoked TriggerKind = iota
	TriggerTyped
	TriggerRetrigger
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerInvoked:
		return "invoked"
	case TriggerTyped:
		return "typed"
	case TriggerRetrigger:
		return "retrigger"
	default:
		return fmt.Sprintf("TriggerKind(%d)", int(k))
	}
}

// TriggerEvent is the event that asked for signature help.
type TriggerEvent struct {
	Kind      TriggerKind
	Character rune
	// UsePreviousCharacter tests the rune right before the caret instead of Character.
	UsePreviousCharacter bool
}

// InvokeTrigger is an explicit user request for signature help.
var InvokeTrigger = TriggerEvent{Kind: TriggerInvoked}

// TypedTrigger returns the event for a typed character.
func TypedTrigger(ch rune) TriggerEvent {
	return TriggerEvent{Kind: TriggerTyped, Character: ch}
}

// =============================================================================
// Symbols
// =============================================================================

// ContextID names one project context a document is analyzed in.
type ContextID string

// SymbolOrigin says where a symbol comes from, relative to the querying context.
type SymbolOrigin int

const (
	OriginSource          SymbolOrigin = iota // Declared in the querying project.
	OriginSourceReference                     // Declared in a referenced project in the same workspace.
	OriginMetadata                            // Declared in a compiled (metadata) reference.
)

func (o SymbolOrigin) String() string {
	switch o {
	case OriginSource:
		return "source"
	case OriginSourceReference:
		return "source-reference"
	case OriginMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("SymbolOrigin(%d)", int(o))
	}
}

// Accessibility is the declared accessibility of a type or member.
type Accessibility int

const (
	AccessPrivate Accessibility = iota
	AccessPrivateProtected
	AccessProtected
	AccessInternal
	AccessProtectedInternal
	AccessPublic
)

func (a Accessibility) String() string {
	switch a {
	case AccessPrivate:
		return "private"
	case AccessPrivateProtected:
		return "private protected"
	case AccessProtected:
		return "protected"
	case AccessInternal:
		return "internal"
	case AccessProtectedInternal:
		return "protected internal"
	case AccessPublic:
		return "public"
	default:
		return fmt.Sprintf("Accessibility(%d)", int(a))
	}
}

// Browsability mirrors System.ComponentModel.EditorBrowsableState.
type Browsability int

const (
	BrowsableAlways Browsability = iota
	BrowsableNever
	BrowsableAdvanced
)

func (b Browsability) String() string {
	switch b {
	case BrowsableAlways:
		return "Always"
	case BrowsableNever:
		return "Never"
	case BrowsableAdvanced:
		return "Advanced"
	default:
		return fmt.Sprintf("Browsability(%d)", int(b))
	}
}

// TypeKind is the declaration kind of a TypeSymbol.
type TypeKind int

const (
	TypeKindClass TypeKind = iota
	TypeKindStruct
	TypeKindRecord
	TypeKindRecordStruct
	TypeKindInterface
	TypeKindDelegate
)

// IsValueType reports whether instances of the kind get an implicit parameterless constructor.
func (k TypeKind) IsValueType() bool {
	return k == TypeKindStruct || k == TypeKindRecordStruct
}

// ParameterSymbol is one declared parameter.
type ParameterSymbol struct {
	Name         string
	Type         string // Declared type text, whitespace collapsed.
	Modifier     string // ref, out, in, params, this; empty when none.
	DefaultValue string // Text after `=`, empty when the parameter is required.
	HasDefault   bool
}

// MethodSymbol is a constructor or a delegate's Invoke method.
type MethodSymbol struct {
	Name          string
	DeclaringType string
	Parameters    []ParameterSymbol
	ReturnType    string // Delegates only.
	Accessibility Accessibility
	Browsable     Browsability
	IsStatic      bool
	IsImplicit    bool
	DocComment    string // Raw `///` text without the slashes.
	Origin        SymbolOrigin
	DeclaringSpan Span   // Span of the declaring type in DocumentPath.
	DocumentPath  string // Workspace-relative path, or the metadata reference path.
	Project       string // Declaring project name, or the metadata reference path.
}

// TypeSymbol is a creatable (or at least nameable) type declaration.
type TypeSymbol struct {
	Name           string
	TypeParameters []string
	Kind           TypeKind
	Accessibility  Accessibility
	Constructors   []*MethodSymbol // Declaration order, implicit constructors included.
	Invoke         *MethodSymbol   // Delegates only.
	Origin         SymbolOrigin
	Span           Span
	DocumentPath   string
	Project        string
	Containers     []TypeContainer // Enclosing types of a nested type, outermost first.
}

// TypeContainer is a type that encloses a nested type declaration.
type TypeContainer struct {
	Name string // With type parameters, e.g. Outer<T>.
	Span Span
}

// Arity returns the number of generic type parameters.
func (t *TypeSymbol) Arity() int { return len(t.TypeParameters) }

// withOrigin returns a copy of t whose members carry origin and project.
// Parsed units are shared between contexts, so resolution never mutates them.
func (t *TypeSymbol) withOrigin(origin SymbolOrigin, project string) *TypeSymbol {
	cp := *t
	cp.Origin = origin
	cp.Project = project
	cp.Constructors = make([]*MethodSymbol, len(t.Constructors))
	for i, m := range t.Constructors {
		mc := *m
		mc.Origin = origin
		mc.Project = project
		cp.Constructors[i] = &mc
	}
	if t.Invoke != nil {
		inv := *t.Invoke
		inv.Origin = origin
		inv.Project = project
		cp.Invoke = &inv
	}
	return &cp
}

// visibleFrom returns t without the containers that enclose offset at in
// t's own document. Code inside Outer names Outer.Inner as plain Inner.
func (t *TypeSymbol) visibleFrom(at int) *TypeSymbol {
	n := 0
	for n < len(t.Containers) && t.Containers[n].Span.Contains(at) {
		n++
	}
	if n == 0 {
		return t
	}
	cp := *t
	cp.Containers = t.Containers[n:]
	return &cp
}

// MemberDocumentation is the plain-text documentation of a member.
type MemberDocumentation struct {
	Summary    string
	Parameters map[string]string
}

// =============================================================================
// Signatures & Results
// =============================================================================

// ParameterInfo is one rendered parameter of a Signature.
type ParameterInfo struct {
	Name          string
	DisplayType   string // Type text with any ref/out/params modifier.
	Documentation string
	IsOptional    bool
	DefaultText   string
}

// DisplayText renders the parameter as it appears inside the signature.
func (p ParameterInfo) DisplayText() string {
	text := p.Name
	if p.DisplayType != "" {
		text = p.DisplayType + " " + p.Name
	}
	if p.IsOptional {
		return "[" + text + " = " + p.DefaultText + "]"
	}
	return text
}

// Signature is one rendered constructor. Two signatures are the same
// candidate when their DisplayText is equal.
type Signature struct {
	DisplayText   string
	Documentation string
	Parameters    []ParameterInfo
}

// Candidate is a signature enumerated in one context.
type Candidate struct {
	Signature Signature
	Visible   bool
	Member    *MethodSymbol
}

// CandidateSet maps each context to the candidates enumerated in it.
type CandidateSet map[ContextID][]Candidate

// AvailabilityAnnotation lists the contexts a signature exists in.
// Both lists are sorted by context name.
type AvailabilityAnnotation struct {
	Available   []ContextID
	Unavailable []ContextID
}

// Partial reports whether the signature is missing from at least one context.
func (a AvailabilityAnnotation) Partial() bool { return len(a.Unavailable) > 0 }

const (
	descriptionNewline   = "\r\n"
	descriptionIndent    = "    "
	availableSuffix      = " - Available"
	notAvailableSuffix   = " - Not Available"
	switchContextMessage = "You can use the navigation bar to switch context."
)

// SignatureHelpItem is one reconciled signature.
type SignatureHelpItem struct {
	Signature        Signature
	Annotation       AvailabilityAnnotation
	CurrentParameter int
}

// Description renders the display text, followed by per-context availability
// when the signature is not available in every context.
func (it SignatureHelpItem) Description() string {
	if !it.Annotation.Partial() {
		return it.Signature.DisplayText
	}
	return it.Signature.DisplayText + descriptionNewline + descriptionNewline + it.AvailabilityText()
}

// AvailabilityText renders only the per-context availability block, or "" when
// the signature is available everywhere.
func (it SignatureHelpItem) AvailabilityText() string {
	if !it.Annotation.Partial() {
		return ""
	}
	type line struct {
		id        ContextID
		available bool
	}
	lines := make([]line, 0, len(it.Annotation.Available)+len(it.Annotation.Unavailable))
	for _, id := range it.Annotation.Available {
		lines = append(lines, line{id, true})
	}
	for _, id := range it.Annotation.Unavailable {
		lines = append(lines, line{id, false})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].id < lines[j].id })

	var b strings.Builder
	for _, l := range lines {
		b.WriteString(descriptionIndent)
		b.WriteString(string(l.id))
		if l.available {
			b.WriteString(availableSuffix)
		} else {
			b.WriteString(notAvailableSuffix)
		}
		b.WriteString(descriptionNewline)
	}
	b.WriteString(descriptionNewline)
	b.WriteString(switchContextMessage)
	return b.String()
}

// CurrentParameterDocumentation returns the documentation of the current
// parameter. The boolean is false when the signature has no such parameter.
func (it SignatureHelpItem) CurrentParameterDocumentation() (string, bool) {
	if it.CurrentParameter < 0 || it.CurrentParameter >= len(it.Signature.Parameters) {
		return "", false
	}
	return it.Signature.Parameters[it.CurrentParameter].Documentation, true
}

// SignatureHelpResult is the outcome of one signature help query.
type SignatureHelpResult struct {
	Items                 []SignatureHelpItem
	ArgumentIndex         int
	ArgumentCount         int
	ArgumentName          string
	CurrentParameterIndex int // Of the selected item.
	SelectedItem          int
	ApplicableSpan        Span
}

// Selected returns the selected item.
func (r *SignatureHelpResult) Selected() SignatureHelpItem {
	return r.Items[r.SelectedItem]
}
