package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// StagedSuffix marks half-finished files awaiting an atomic rename.
// Loading skips them so a crashed run cannot surface partial content.
const StagedSuffix = ".tiersync-tmp"

// Category classifies a bundle file's propagation and access policy.
type Category string

const (
	Personality  Category = "personality"
	Boundary     Category = "boundary"
	Onboarding   Category = "onboarding"
	UserTemplate Category = "user-template"
	UserLive     Category = "user-live"
	Memory       Category = "memory"
	Skill        Category = "skill"
)

// ParseCategory validates a category name from a schema file.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case Personality, Boundary, Onboarding, UserTemplate, UserLive, Memory, Skill:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// AgentOwned reports whether the category's content belongs to the
// agent runtime once it exists. Propagation never touches these.
func (c Category) AgentOwned() bool {
	return c == UserLive || c == Memory
}

// File is one named entry in a bundle. Name is relative to the tier
// directory and may be nested (skills/deploy/SKILL.md, memory/notes.md).
type File struct {
	Name     string
	Content  string
	Category Category
}

// Bundle is the full named file set of one tier instance.
type Bundle map[string]File

// Diff returns the sorted names whose content differs between a and b,
// including names present on only one side.
func Diff(a, b Bundle) []string {
	seen := map[string]bool{}
	var out []string
	for name, fa := range a {
		fb, ok := b[name]
		if !ok || fa.Content != fb.Content {
			out = append(out, name)
		}
		seen[name] = true
	}
	for name := range b {
		if !seen[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Names returns the bundle's file names in sorted order.
func (b Bundle) Names() []string {
	out := make([]string, 0, len(b))
	for name := range b {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Load reads a tier directory into a Bundle. Files the schema does not
// name are ignored, except skills/<name>/SKILL.md and memory/ entries,
// which carry their category by location.
func Load(dir string, schema *Schema) (Bundle, error) {
	b := Bundle{}
	for name, cat := range schema.Files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		b[name] = File{Name: name, Content: string(content), Category: cat}
	}

	if err := loadSkills(dir, b); err != nil {
		return nil, err
	}
	if err := loadMemory(dir, b); err != nil {
		return nil, err
	}
	return b, nil
}

func loadSkills(dir string, b Bundle) error {
	entries, err := os.ReadDir(filepath.Join(dir, SkillsDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := filepath.Join(SkillsDir, entry.Name(), SkillFile)
		content, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		b[name] = File{Name: name, Content: string(content), Category: Skill}
	}
	return nil
}

func loadMemory(dir string, b Bundle) error {
	entries, err := os.ReadDir(filepath.Join(dir, MemoryDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), StagedSuffix) {
			continue
		}
		name := filepath.Join(MemoryDir, entry.Name())
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		b[name] = File{Name: name, Content: string(content), Category: Memory}
	}
	return nil
}
