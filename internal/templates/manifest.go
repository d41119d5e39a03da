// Package templates loads the video templates doctors and the assistant
// generate placeholder videos from.
package templates

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"text/template"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest each template directory must contain.
const ManifestFile = "template.yaml"

// Manifest represents a parsed template.yaml.
type Manifest struct {
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	Version          string `yaml:"version"`
	PlaceholderURL   string `yaml:"placeholder_url"`
	FilePrefix       string `yaml:"file_prefix"`
	SinglePerPatient bool   `yaml:"single_per_patient"`
	Prompt           string `yaml:"prompt"`
	ParametersSchema string `yaml:"parameters_schema"`
}

// Template is a loaded manifest with its compiled parameter schema.
type Template struct {
	Manifest
	schema *jsonschema.Schema
	prompt *template.Template
}

// LoadManifest reads dir/template.yaml from fsys. Unknown keys are rejected
// and the parameter schema, when named, is compiled.
func LoadManifest(fsys fs.FS, dir string) (*Template, error) {
	data, err := fs.ReadFile(fsys, path.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read template manifest: %w", err)
	}

	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // reject typos in manifest keys

	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse template manifest: %w", err)
	}

	if m.Name == "" {
		return nil, fmt.Errorf("template manifest missing required field: name")
	}
	if m.Version == "" {
		return nil, fmt.Errorf("template manifest missing required field: version")
	}
	if m.PlaceholderURL == "" {
		return nil, fmt.Errorf("template manifest missing required field: placeholder_url")
	}
	if m.FilePrefix == "" {
		m.FilePrefix = strings.ReplaceAll(m.Name, "-", "_") + "_video"
	}

	t := &Template{Manifest: m}

	if m.ParametersSchema != "" {
		schemaData, err := fs.ReadFile(fsys, path.Join(dir, m.ParametersSchema))
		if err != nil {
			return nil, fmt.Errorf("failed to read parameters schema: %w", err)
		}
		t.schema, err = jsonschema.NewCompiler().Compile(schemaData)
		if err != nil {
			return nil, fmt.Errorf("failed to compile parameters schema: %w", err)
		}
	}

	if m.Prompt != "" {
		t.prompt, err = template.New(m.Name).Option("missingkey=zero").Parse(m.Prompt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse prompt: %w", err)
		}
	}

	return t, nil
}
