// ctorhelp/workspace.go
// Projects, linked documents and the per-context views the engine consumes.
package ctorhelp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/tools/txtar"
)

// miscProjectName holds documents that belong to no declared project.
const miscProjectName = "Miscellaneous Files"

// WorkspaceOptions carries the shared services a workspace uses.
type WorkspaceOptions struct {
	Logger   *slog.Logger
	Units    *UnitCache       // nil parses on every request
	Metadata *MetadataService // nil creates an in-memory service
}

// Project is one compilation: a set of documents compiled with one set of
// preprocessor symbols.
type Project struct {
	Name               string
	Symbols            []string
	Documents          []string // Workspace-relative slash paths, declared order.
	ProjectReferences  []string
	MetadataReferences []string
}

// workspaceSource abstracts where workspace files come from.
type workspaceSource interface {
	glob(pattern string) ([]string, error)
	read(name string) ([]byte, error)
	resolve(name string) string
}

type dirSource struct {
	root string
	fsys fs.FS
}

func (d dirSource) glob(pattern string) ([]string, error) {
	return doublestar.Glob(d.fsys, pattern, doublestar.WithFilesOnly())
}

func (d dirSource) read(name string) ([]byte, error) { return fs.ReadFile(d.fsys, name) }

func (d dirSource) resolve(name string) string { return filepath.Join(d.root, filepath.FromSlash(name)) }

type archiveSource struct {
	files map[string][]byte
	names []string
}

func (a archiveSource) glob(pattern string) ([]string, error) {
	var out []string
	for _, name := range a.names {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, name)
		}
	}
	return out, nil
}

func (a archiveSource) read(name string) ([]byte, error) {
	data, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}
	return data, nil
}

func (a archiveSource) resolve(name string) string { return name }

// Workspace is a set of projects over one directory tree or archive.
type Workspace struct {
	root     string // Absolute directory; empty for archives.
	source   workspaceSource
	projects []*Project
	byName   map[string]*Project

	mu       sync.RWMutex
	files    map[string][]byte // Loaded document contents.
	overlays map[string][]byte // Open editor buffers.
	primary  map[string]string // Document path -> preferred primary project.

	units    *UnitCache
	metadata *MetadataService
	docs     DocumentationProvider
	logger   *slog.Logger
}

// LoadWorkspaceManifest loads the workspace rooted at root from manifestName
// (ctorhelp.toml when empty).
func LoadWorkspaceManifest(root, manifestName string, opts WorkspaceOptions) (*Workspace, error) {
	if manifestName == "" {
		manifestName = defaultManifestName
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkspace, err)
	}
	data, err := os.ReadFile(filepath.Join(absRoot, manifestName))
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest: %w", ErrWorkspace, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrWorkspace, manifestName, err)
	}
	return newWorkspace(absRoot, dirSource{root: absRoot, fsys: os.DirFS(absRoot)}, m, opts)
}

// LoadDirectoryWorkspace loads root with its manifest when one exists, and
// otherwise as a single project holding every C# file.
func LoadDirectoryWorkspace(root, manifestName string, opts WorkspaceOptions) (*Workspace, error) {
	ws, err := LoadWorkspaceManifest(root, manifestName, opts)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return ws, err
	}
	absRoot, absErr := filepath.Abs(root)
	if absErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkspace, absErr)
	}
	return newWorkspace(absRoot, dirSource{root: absRoot, fsys: os.DirFS(absRoot)}, defaultManifest(filepath.Base(absRoot)), opts)
}

// LoadWorkspaceArchive loads a txtar archive holding ctorhelp.toml and the
// files it names.
func LoadWorkspaceArchive(data []byte, opts WorkspaceOptions) (*Workspace, error) {
	ar := txtar.Parse(data)
	src := archiveSource{files: make(map[string][]byte, len(ar.Files))}
	var manifest []byte
	for _, f := range ar.Files {
		name := path.Clean(strings.TrimSpace(f.Name))
		if name == defaultManifestName {
			manifest = f.Data
			continue
		}
		src.files[name] = f.Data
		src.names = append(src.names, name)
	}
	if manifest == nil {
		return nil, fmt.Errorf("%w: archive has no %s", ErrWorkspace, defaultManifestName)
	}
	m, err := ParseManifest(manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkspace, err)
	}
	return newWorkspace("", src, m, opts)
}

// newLooseWorkspace holds no projects: every document is analyzed on its own
// in the miscellaneous context and read from disk unless overlaid.
func newLooseWorkspace(opts WorkspaceOptions) *Workspace {
	ws, _ := newWorkspace("", looseSource{}, &Manifest{}, opts)
	return ws
}

// looseSource reads absolute paths straight from disk.
type looseSource struct{}

func (looseSource) glob(string) ([]string, error)    { return nil, nil }
func (looseSource) read(name string) ([]byte, error) { return os.ReadFile(filepath.FromSlash(name)) }
func (looseSource) resolve(name string) string       { return filepath.FromSlash(name) }

func newWorkspace(root string, src workspaceSource, m *Manifest, opts WorkspaceOptions) (*Workspace, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ws := &Workspace{
		root:     root,
		source:   src,
		byName:   make(map[string]*Project, len(m.Projects)),
		files:    make(map[string][]byte),
		overlays: make(map[string][]byte),
		primary:  make(map[string]string),
		units:    opts.Units,
		metadata: opts.Metadata,
		logger:   logger.With("component", "Workspace"),
	}
	if ws.metadata == nil {
		ws.metadata = NewMetadataService(nil, nil, logger)
	}
	ws.docs = workspaceDocumentation{ws: ws}

	var errs []error
	for _, mp := range m.Projects {
		p := &Project{
			Name:               mp.Name,
			Symbols:            slices.Clone(mp.Symbols),
			ProjectReferences:  slices.Clone(mp.ProjectReferences),
			MetadataReferences: slices.Clone(mp.MetadataReferences),
		}
		seen := make(map[string]bool)
		for _, pattern := range mp.Documents {
			matches, err := src.glob(pattern)
			if err != nil {
				errs = append(errs, fmt.Errorf("project %q: pattern %q: %w", p.Name, pattern, err))
				continue
			}
			if len(matches) == 0 {
				ws.logger.Warn("Document pattern matched nothing", "project", p.Name, "pattern", pattern)
			}
			sort.Strings(matches)
			for _, name := range matches {
				name = path.Clean(filepath.ToSlash(name))
				if seen[name] {
					continue
				}
				seen[name] = true
				p.Documents = append(p.Documents, name)
				if _, loaded := ws.files[name]; !loaded {
					data, err := src.read(name)
					if err != nil {
						errs = append(errs, fmt.Errorf("project %q: %w", p.Name, err))
						continue
					}
					ws.files[name] = data
				}
			}
		}
		ws.projects = append(ws.projects, p)
		ws.byName[p.Name] = p
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrWorkspace, errors.Join(errs...))
	}
	ws.logger.Info("Workspace loaded", "root", root, "projects", len(ws.projects), "documents", len(ws.files))
	return ws, nil
}

// Root returns the absolute root directory, or "" for archive workspaces.
func (w *Workspace) Root() string { return w.root }

// Projects returns the projects in declared order.
func (w *Workspace) Projects() []*Project { return slices.Clone(w.projects) }

// RelPath converts an absolute or relative path to a workspace-relative slash path.
// Paths outside the root keep their absolute form.
func (w *Workspace) RelPath(p string) string {
	if w.root != "" && filepath.IsAbs(p) {
		if rel, err := filepath.Rel(w.root, p); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return path.Clean(filepath.ToSlash(rel))
		}
		return filepath.ToSlash(filepath.Clean(p))
	}
	return path.Clean(filepath.ToSlash(p))
}

// SetOverlay replaces the contents of p with an editor buffer.
func (w *Workspace) SetOverlay(p string, text []byte) {
	rel := w.RelPath(p)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.overlays[rel] = slices.Clone(text)
}

// ClearOverlay drops the editor buffer for p.
func (w *Workspace) ClearOverlay(p string) {
	rel := w.RelPath(p)
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.overlays, rel)
}

// SetPrimaryContext makes project the first context of the document at p.
func (w *Workspace) SetPrimaryContext(p, project string) error {
	rel := w.RelPath(p)
	proj, ok := w.byName[project]
	if !ok || !slices.Contains(proj.Documents, rel) {
		return fmt.Errorf("%w: %s is not in project %q", ErrDocumentNotFound, rel, project)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.primary[rel] = project
	w.logger.Info("Primary context changed", "path", rel, "project", project)
	return nil
}

// ProjectsOf returns the names of the projects that compile the document at p.
func (w *Workspace) ProjectsOf(p string) []string {
	rel := w.RelPath(p)
	var out []string
	for _, proj := range w.projects {
		if slices.Contains(proj.Documents, rel) {
			out = append(out, proj.Name)
		}
	}
	return out
}

// text returns the current contents of a workspace-relative path.
func (w *Workspace) text(rel string) ([]byte, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if data, ok := w.overlays[rel]; ok {
		return data, true
	}
	data, ok := w.files[rel]
	return data, ok
}

// Document snapshots the document at p with one context per project that
// compiles it. Documents outside every project get a single context with no
// symbols.
func (w *Workspace) Document(p string) (Document, error) {
	rel := w.RelPath(p)
	text, ok := w.text(rel)
	if !ok {
		data, err := w.source.read(rel)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, rel)
		}
		text = data
	}

	var projects []*Project
	for _, proj := range w.projects {
		if slices.Contains(proj.Documents, rel) {
			projects = append(projects, proj)
		}
	}
	if len(projects) == 0 {
		projects = []*Project{{Name: miscProjectName, Documents: []string{rel}}}
	}

	w.mu.RLock()
	preferred := w.primary[rel]
	w.mu.RUnlock()
	if preferred != "" {
		sort.SliceStable(projects, func(i, j int) bool {
			return projects[i].Name == preferred && projects[j].Name != preferred
		})
	}

	doc := &workspaceDocument{uri: w.uriFor(rel), path: rel, text: text}
	for _, proj := range projects {
		doc.contexts = append(doc.contexts, &projectContext{
			ws:      w,
			project: proj,
			path:    rel,
			text:    text,
			pre:     preprocess(text, proj.Symbols),
		})
	}
	return doc, nil
}

func (w *Workspace) uriFor(rel string) string {
	if filepath.IsAbs(filepath.FromSlash(rel)) {
		return PathToURI(filepath.FromSlash(rel))
	}
	if w.root == "" {
		return "archive:///" + rel
	}
	return PathToURI(filepath.Join(w.root, filepath.FromSlash(rel)))
}

// unit parses rel as compiled with symbols, through the memory cache.
func (w *Workspace) unit(ctx context.Context, rel string, text []byte, symbols []string) (*csharpUnit, error) {
	key := generateCacheKey("unit", rel, text, symbols)
	unit, _, err := withMemoryCache(w.units, key, 0, w.units.TTL(), func() (*csharpUnit, error) {
		return parseCSharp(ctx, rel, text, symbols, w.logger)
	}, w.logger)
	return unit, err
}

// metadataReference loads a metadata reference declared by a project.
func (w *Workspace) metadataReference(ctx context.Context, rel string) (*MetadataReference, error) {
	resolved := w.source.resolve(rel)
	if ref := w.metadata.Lookup(resolved); ref != nil {
		return ref, nil
	}
	data, err := w.source.read(rel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMetadataReference, rel, err)
	}
	return w.metadata.GetReference(ctx, resolved, data)
}

// ============================================================================
// Documents & Contexts
// ============================================================================

type workspaceDocument struct {
	uri      string
	path     string
	text     []byte
	contexts []ContextView
}

func (d *workspaceDocument) URI() string             { return d.uri }
func (d *workspaceDocument) Text() []byte            { return d.text }
func (d *workspaceDocument) Contexts() []ContextView { return d.contexts }

// projectContext is a document as one project compiles it.
type projectContext struct {
	ws      *Workspace
	project *Project
	path    string
	text    []byte
	pre     preprocessResult
}

func (c *projectContext) ID() ContextID { return ContextID(c.project.Name) }

func (c *projectContext) IsActive(offset int) bool { return c.pre.IsActive(offset) }

func (c *projectContext) Syntax(ctx context.Context) (SyntaxTree, error) {
	return c.ws.unit(ctx, c.path, c.text, c.project.Symbols)
}

func (c *projectContext) Semantics(ctx context.Context) (SemanticModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &projectModel{ws: c.ws, project: c.project, path: c.path, text: c.text}, nil
}

func (c *projectContext) Documentation() DocumentationProvider { return c.ws.docs }

// projectModel resolves names the way one project sees them: its own
// documents, then referenced projects, then metadata references.
type projectModel struct {
	ws      *Workspace
	project *Project
	path    string
	text    []byte
}

func (m *projectModel) ResolveType(ctx context.Context, name string, arity int, at int) (*TypeSymbol, error) {
	// The querying document comes first and uses the snapshot text.
	docs := append([]string{m.path}, slices.DeleteFunc(slices.Clone(m.project.Documents), func(d string) bool { return d == m.path })...)
	for _, doc := range docs {
		text := m.text
		if doc != m.path {
			var ok bool
			if text, ok = m.ws.text(doc); !ok {
				continue
			}
		}
		unit, err := m.ws.unit(ctx, doc, text, m.project.Symbols)
		if err != nil {
			return nil, err
		}
		if t := findType(unit.Types(), name, arity, false); t != nil {
			if doc == m.path {
				t = t.visibleFrom(at)
			}
			return t.withOrigin(OriginSource, m.project.Name), nil
		}
	}

	for _, refName := range m.project.ProjectReferences {
		ref, ok := m.ws.byName[refName]
		if !ok {
			continue
		}
		for _, doc := range ref.Documents {
			text, ok := m.ws.text(doc)
			if !ok {
				continue
			}
			unit, err := m.ws.unit(ctx, doc, text, ref.Symbols)
			if err != nil {
				return nil, err
			}
			if t := findType(unit.Types(), name, arity, true); t != nil {
				return t.withOrigin(OriginSourceReference, ref.Name), nil
			}
		}
	}

	for _, rel := range m.project.MetadataReferences {
		ref, err := m.ws.metadataReference(ctx, rel)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			m.ws.logger.Warn("Skipping unavailable metadata reference", "project", m.project.Name, "reference", rel, "error", err)
			continue
		}
		if t := findType(ref.Types, name, arity, true); t != nil {
			return t.withOrigin(OriginMetadata, ref.Path), nil
		}
	}
	return nil, nil
}

// IsAccessible applies declared accessibility. Referenced projects and
// metadata only expose public members; private and protected members need
// the caret inside the declaring type.
func (m *projectModel) IsAccessible(member *MethodSymbol, at int) bool {
	if member.Origin != OriginSource {
		return member.Accessibility == AccessPublic
	}
	switch member.Accessibility {
	case AccessPublic, AccessInternal, AccessProtectedInternal:
		return true
	default:
		return member.DocumentPath == m.path && member.DeclaringSpan.Contains(at)
	}
}

func findType(types []*TypeSymbol, name string, arity int, publicOnly bool) *TypeSymbol {
	for _, t := range types {
		if t.Name != name || t.Arity() != arity {
			continue
		}
		if publicOnly && t.Accessibility != AccessPublic {
			continue
		}
		return t
	}
	return nil
}

// workspaceDocumentation routes metadata members to their reference's
// provider and everything else to the source XML doc reader.
type workspaceDocumentation struct {
	ws *Workspace
}

func (d workspaceDocumentation) Documentation(m *MethodSymbol) MemberDocumentation {
	if m == nil {
		return MemberDocumentation{}
	}
	if m.Origin == OriginMetadata {
		if ref := d.ws.metadata.Lookup(m.Project); ref != nil && ref.Documentation != nil {
			return ref.Documentation.Documentation(m)
		}
		return MemberDocumentation{}
	}
	return xmlDocumentationProvider{}.Documentation(m)
}
