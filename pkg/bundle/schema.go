package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tiersync/tiersync/pkg/placeholder"
	"gopkg.in/yaml.v3"
)

const (
	SchemaFile = "schema.yaml"
	SkillsDir  = "skills"
	MemoryDir  = "memory"
	SkillFile  = "SKILL.md"
)

// Conventional file names used when a type carries no schema.yaml.
const (
	SoulFile         = "SOUL.md"
	IdentityFile     = "IDENTITY.md"
	AgentsFile       = "AGENTS.md"
	ToolsFile        = "TOOLS.md"
	BootstrapFile    = "BOOTSTRAP.md"
	UserTemplateFile = "USER-template.md"
	UserLiveFile     = "USER.md"
)

// Schema fixes each file name's category and declares the placeholders
// the type's templates use. Categories come from the schema, never from
// content inspection.
type Schema struct {
	Files        map[string]Category `yaml:"files"`
	Placeholders []placeholder.Decl  `yaml:"placeholders"`
}

type rawSchema struct {
	Files        map[string]string  `yaml:"files"`
	Placeholders []placeholder.Decl `yaml:"placeholders"`
}

// DefaultSchema covers the conventional agent file layout.
func DefaultSchema() *Schema {
	return &Schema{
		Files: map[string]Category{
			SoulFile:         Personality,
			IdentityFile:     Personality,
			AgentsFile:       Boundary,
			ToolsFile:        Skill,
			BootstrapFile:    Onboarding,
			UserTemplateFile: UserTemplate,
			UserLiveFile:     UserLive,
		},
	}
}

// LoadSchema reads schema.yaml from a type directory, falling back to
// the default schema when the file is absent.
func LoadSchema(dir string) (*Schema, error) {
	data, err := os.ReadFile(filepath.Join(dir, SchemaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultSchema(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}

	var raw rawSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if len(raw.Files) == 0 {
		return nil, fmt.Errorf("schema declares no files")
	}

	s := &Schema{
		Files:        make(map[string]Category, len(raw.Files)),
		Placeholders: raw.Placeholders,
	}
	for name, cat := range raw.Files {
		parsed, err := ParseCategory(cat)
		if err != nil {
			return nil, fmt.Errorf("schema file %s: %w", name, err)
		}
		s.Files[name] = parsed
	}
	for _, d := range s.Placeholders {
		if d.Scope != placeholder.ScopeStable && d.Scope != placeholder.ScopeVolatile {
			return nil, fmt.Errorf("placeholder %s: unknown scope %q", d.Name, d.Scope)
		}
	}
	return s, nil
}

// CategoryOf returns the category the schema fixes for a file name.
// Skills and memory entries carry their category by location.
func (s *Schema) CategoryOf(name string) (Category, bool) {
	if strings.HasPrefix(name, SkillsDir+string(filepath.Separator)) {
		return Skill, true
	}
	if strings.HasPrefix(name, MemoryDir+string(filepath.Separator)) {
		return Memory, true
	}
	cat, ok := s.Files[name]
	return cat, ok
}

// FilesOf returns the schema's file names carrying the given category,
// sorted.
func (s *Schema) FilesOf(c Category) []string {
	var out []string
	for name, cat := range s.Files {
		if cat == c {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// StableDecls returns the declared stable-scope placeholders.
func (s *Schema) StableDecls() []placeholder.Decl {
	var out []placeholder.Decl
	for _, d := range s.Placeholders {
		if d.Scope == placeholder.ScopeStable {
			out = append(out, d)
		}
	}
	return out
}
