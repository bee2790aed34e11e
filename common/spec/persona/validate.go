package persona

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// catalogSchemaJSON is the JSON schema that third-party catalog entries must
// satisfy before they are upserted. Unknown vendor fields are tolerated; only
// the fields this system consumes are typed.
const catalogSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "avatar_url": {"type": "string"},
    "personality": {"type": "string"},
    "voice_id": {"type": "string"},
    "presenter_id": {"type": "string"},
    "specialties": {"type": "array", "items": {"type": "string"}},
    "is_active": {"type": "boolean"}
  }
}`

var catalogSchema = jsonschema.MustCompileString("persona-catalog.json", catalogSchemaJSON)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Parse decodes a YAML seed document into a Persona and validates it.
// It is the canonical entry point for loading operator-provided seeds.
func Parse(data []byte) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("persona parse: %w", err)
	}
	if p.APIVersion != SpecVersion {
		return nil, fmt.Errorf("apiVersion must be %q, got %q", SpecVersion, p.APIVersion)
	}
	Normalize(&p)
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseCatalogEntry validates one JSON catalog entry against the schema and
// decodes it into a Persona. Entries that fail schema validation are rejected
// before any of their content is trusted.
func ParseCatalogEntry(data []byte) (*Persona, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog entry: %w", err)
	}
	if err := catalogSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("catalog entry: %w", err)
	}
	var p Persona
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("catalog entry: %w", err)
	}
	Normalize(&p)
	if err := Validate(&p); err != nil {
		return nil, fmt.Errorf("catalog entry: %w", err)
	}
	return &p, nil
}

// Normalize fills derivable fields: a missing ID is derived from the name by
// lowercasing and replacing spaces with underscores.
func Normalize(p *Persona) {
	if p.ID == "" {
		p.ID = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(p.Name)), " ", "_")
	}
}

// Validate checks a Persona for structural correctness. It returns the first
// validation error encountered, or nil if the document is valid.
func Validate(p *Persona) error {
	if p == nil {
		return fmt.Errorf("persona must not be nil")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if !idPattern.MatchString(p.ID) {
		return fmt.Errorf("id %q must match %s", p.ID, idPattern)
	}
	for i, s := range p.Specialties {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("specialties[%d] must not be empty", i)
		}
	}
	return nil
}

// LoadDir parses every *.yaml / *.yml file at the root of fsys as a seed
// document. The first invalid document aborts the load; a seed directory is
// operator content and must be fixed, not skipped.
func LoadDir(fsys fs.FS) ([]*Persona, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("listing personas: %w", err)
	}

	var personas []*Persona
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("persona %q: %w", name, err)
		}
		p, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("persona %q: %w", name, err)
		}
		personas = append(personas, p)
	}
	return personas, nil
}
