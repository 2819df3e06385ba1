package character

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sahilm/fuzzy"
	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk YAML layout for templates and characters.
type Catalog struct {
	Templates  []*Template  `yaml:"templates"`
	Characters []*Character `yaml:"characters"`
}

// LoadYAML reads a catalog file.
func LoadYAML(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes and checks a catalog.
func ParseYAML(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, t := range cat.Templates {
		if t == nil || t.ID == "" {
			return nil, fmt.Errorf("template %d has no id: %w", i, ErrInvalid)
		}
	}
	for i, c := range cat.Characters {
		if c == nil || c.ID == "" {
			return nil, fmt.Errorf("character %d has no id: %w", i, ErrInvalid)
		}
	}
	return &cat, nil
}

// Library holds every known template and character. It is safe for
// concurrent use.
type Library struct {
	mu         sync.RWMutex
	templates  map[string]*Template
	characters map[string]*Character
	log        zerolog.Logger
}

// NewLibrary creates an empty library.
func NewLibrary(log zerolog.Logger) *Library {
	return &Library{
		templates:  make(map[string]*Template),
		characters: make(map[string]*Character),
		log:        log.With().Str("component", "library").Logger(),
	}
}

// AddTemplate registers or replaces a template.
func (l *Library) AddTemplate(t *Template) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[t.ID] = t
}

// AddCharacter registers or replaces a character.
func (l *Library) AddCharacter(c *Character) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.characters[c.ID] = c
}

// AddCatalog registers everything in cat.
func (l *Library) AddCatalog(cat *Catalog) {
	for _, t := range cat.Templates {
		l.AddTemplate(t)
	}
	for _, c := range cat.Characters {
		l.AddCharacter(c)
	}
}

// LoadDir loads every YAML catalog and glTF rig found directly in dir.
// Files that fail to load are logged and skipped; the count of loaded files
// is returned.
func (l *Library) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read library dir: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())

		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			cat, err := LoadYAML(path)
			if err != nil {
				l.log.Warn().Err(err).Str("path", path).Msg("skipping catalog")
				continue
			}
			l.AddCatalog(cat)

		case ".gltf", ".glb":
			tmpl, char, err := LoadGLTF(path)
			if err != nil {
				l.log.Warn().Err(err).Str("path", path).Msg("skipping rig")
				continue
			}
			l.AddTemplate(tmpl)
			l.AddCharacter(char)

		default:
			continue
		}

		loaded++
		l.log.Debug().Str("path", path).Msg("loaded")
	}

	return loaded, nil
}

// Template returns a template by id.
func (l *Library) Template(id string) (*Template, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[id]
	if !ok {
		return nil, notFound("template", id, mapKeys(l.templates))
	}
	return t, nil
}

// Character returns a copy of a character by id.
func (l *Library) Character(id string) (*Character, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.characters[id]
	if !ok {
		return nil, notFound("character", id, mapKeys(l.characters))
	}
	return c.Clone(), nil
}

// Resolve looks up a character and its template. An empty templateID uses
// the character's own TemplateID; a character without a template resolves to
// a nil template.
func (l *Library) Resolve(characterID, templateID string) (*Character, *Template, error) {
	c, err := l.Character(characterID)
	if err != nil {
		return nil, nil, err
	}
	if templateID == "" {
		templateID = c.TemplateID
	}
	if templateID == "" {
		return c, nil, nil
	}
	t, err := l.Template(templateID)
	if err != nil {
		return nil, nil, err
	}
	return c, t, nil
}

// Templates lists templates sorted by id.
func (l *Library) Templates() []*Template {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Template, 0, len(l.templates))
	for _, t := range l.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Characters lists characters sorted by id.
func (l *Library) Characters() []*Character {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Character, 0, len(l.characters))
	for _, c := range l.characters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Suggest returns character ids that fuzzily match query, best first.
func (l *Library) Suggest(query string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return suggest(query, mapKeys(l.characters))
}

func suggest(query string, ids []string) []string {
	if query == "" || len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	lowered := make([]string, len(ids))
	for i, id := range ids {
		lowered[i] = strings.ToLower(id)
	}
	matches := fuzzy.Find(strings.ToLower(query), lowered)
	out := make([]string, 0, min(len(matches), maxSuggestions))
	for _, m := range matches {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, ids[m.Index])
	}
	return out
}

const maxSuggestions = 3

func notFound(kind, id string, known []string) error {
	if s := suggest(id, known); len(s) > 0 {
		return fmt.Errorf("%s %q: %w (did you mean %s?)", kind, id, ErrNotFound, strings.Join(s, ", "))
	}
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func mapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
