package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
)

//go:embed builtin
var builtinFS embed.FS

// ErrUnknownTemplate is returned for names not in the registry.
var ErrUnknownTemplate = errors.New("unknown video template")

// Registry holds templates indexed by name.
type Registry struct {
	templates map[string]*Template
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Register adds a template. Names must be unique.
func (r *Registry) Register(t *Template) error {
	if _, exists := r.templates[t.Name]; exists {
		return fmt.Errorf("template already registered: %s", t.Name)
	}
	r.templates[t.Name] = t
	return nil
}

// Get retrieves a template by name.
func (r *Registry) Get(name string) (*Template, error) {
	t, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	return t, nil
}

// List returns all templates sorted by name.
func (r *Registry) List() []*Template {
	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered templates.
func (r *Registry) Count() int {
	return len(r.templates)
}

// Discover loads every subdirectory of fsys that contains a manifest.
// Invalid templates are logged and skipped.
func Discover(fsys fs.FS) ([]*Template, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var found []*Template
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := fs.Stat(fsys, entry.Name()+"/"+ManifestFile); err != nil {
			continue
		}

		t, err := LoadManifest(fsys, entry.Name())
		if err != nil {
			slog.Warn("Failed to load video template", "dir", entry.Name(), "error", err)
			continue
		}
		found = append(found, t)
	}
	return found, nil
}

// LoadRegistry loads the built-in templates, then templates from dir when
// set. A template in dir replaces the built-in of the same name.
func LoadRegistry(dir string) (*Registry, error) {
	builtin, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return nil, err
	}
	templates, err := Discover(builtin)
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in templates: %w", err)
	}

	byName := make(map[string]*Template, len(templates))
	for _, t := range templates {
		byName[t.Name] = t
	}

	if dir != "" {
		custom, err := Discover(os.DirFS(dir))
		if err != nil {
			return nil, fmt.Errorf("failed to load templates from %s: %w", dir, err)
		}
		for _, t := range custom {
			if _, ok := byName[t.Name]; ok {
				slog.Info("Overriding built-in video template", "name", t.Name, "dir", dir)
			}
			byName[t.Name] = t
		}
	}

	registry := NewRegistry()
	for _, t := range byName {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	slog.Info("Video templates loaded", "count", registry.Count())
	return registry, nil
}
