// ctorhelp/workspace_manifest.go
// Reads the TOML workspace manifest that declares projects and their documents.
package ctorhelp

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
)

// Manifest is the decoded form of ctorhelp.toml:
//
//	[[project]]
//	name = "Proj1"
//	symbols = ["FOO"]
//	documents = ["src/**/*.cs"]
//	project_references = ["Shared"]
//	metadata_references = ["refs/System.cs"]
type Manifest struct {
	Projects []ManifestProject `toml:"project"`
}

// ManifestProject declares one project. Documents listed by more than one
// project are linked documents.
type ManifestProject struct {
	Name               string   `toml:"name"`
	Symbols            []string `toml:"symbols"`
	Documents          []string `toml:"documents"`
	ProjectReferences  []string `toml:"project_references"`
	MetadataReferences []string `toml:"metadata_references"`
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		var decErr *toml.DecodeError
		if errors.As(err, &decErr) {
			row, col := decErr.Position()
			return nil, fmt.Errorf("%w: line %d column %d: %w", ErrManifest, row, col, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks names, references and globs.
func (m *Manifest) Validate() error {
	var errs []error
	if len(m.Projects) == 0 {
		errs = append(errs, errors.New("no [[project]] declared"))
	}
	names := make(map[string]bool, len(m.Projects))
	for i, p := range m.Projects {
		switch {
		case strings.TrimSpace(p.Name) == "":
			errs = append(errs, fmt.Errorf("project #%d has no name", i+1))
		case names[p.Name]:
			errs = append(errs, fmt.Errorf("duplicate project name %q", p.Name))
		}
		names[p.Name] = true
		for _, doc := range p.Documents {
			if !doublestar.ValidatePattern(doc) {
				errs = append(errs, fmt.Errorf("project %q: invalid document pattern %q", p.Name, doc))
			}
			if path.IsAbs(doc) || strings.HasPrefix(path.Clean(doc), "../") {
				errs = append(errs, fmt.Errorf("project %q: document %q must be relative to the workspace root", p.Name, doc))
			}
		}
	}
	for _, p := range m.Projects {
		for _, ref := range p.ProjectReferences {
			if ref == p.Name {
				errs = append(errs, fmt.Errorf("project %q references itself", p.Name))
			} else if !names[ref] {
				errs = append(errs, fmt.Errorf("project %q references unknown project %q", p.Name, ref))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrManifest, errors.Join(errs...))
	}
	return nil
}

// defaultManifest treats every C# file under the root as one project.
func defaultManifest(name string) *Manifest {
	if name == "" || name == "." || name == "/" {
		name = "Default"
	}
	return &Manifest{Projects: []ManifestProject{{Name: name, Documents: []string{"**/*.cs"}}}}
}
