// Package persona loads counselor profiles from YAML. A catalog file can
// replace the built-in defaults.
package persona

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/holdhq/counsel/model"
	"github.com/holdhq/counsel/store"
)

//go:embed defaults.yaml
var defaultCatalog []byte

type catalogFile struct {
	Personas []model.Persona `yaml:"personas"`
}

// Catalog is a read-only, in-memory persona store.
type Catalog struct {
	byID map[string]*model.Persona
}

// Defaults returns the built-in catalog.
func Defaults() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded defaults are invalid: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file. An empty path yields the defaults.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading persona catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog document. IDs are lower-cased, must be unique and
// default to the lower-cased name.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing persona catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]*model.Persona, len(f.Personas))}
	for i := range f.Personas {
		p := f.Personas[i]
		if p.ID == "" {
			p.ID = p.Name
		}
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if p.ID == "" {
			return nil, fmt.Errorf("persona %d has neither id nor name", i)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate persona id %q", p.ID)
		}
		c.byID[p.ID] = &p
	}
	return c, nil
}

// GetPersona implements store.PersonaStore. Lookup is case-insensitive.
func (c *Catalog) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	p, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ListPersonas implements store.PersonaStore.
func (c *Catalog) ListPersonas(ctx context.Context) ([]*model.Persona, error) {
	out := make([]*model.Persona, 0, len(c.byID))
	for _, p := range c.byID {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Marshal renders personas back to the catalog format.
func Marshal(personas []*model.Persona) ([]byte, error) {
	f := catalogFile{}
	for _, p := range personas {
		f.Personas = append(f.Personas, *p)
	}
	return yaml.Marshal(f)
}

var _ store.PersonaStore = (*Catalog)(nil)
