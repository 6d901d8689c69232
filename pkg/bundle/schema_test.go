package bundle

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadSchemaDefault(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadSchema(dir)
	if err != nil {
		t.Fatalf("LoadSchema: %v", err)
	}
	if cat, ok := s.CategoryOf("BOOTSTRAP.md"); !ok || cat != Onboarding {
		t.Fatalf("expected BOOTSTRAP.md to be onboarding, got %v %v", cat, ok)
	}
}

func TestLoadSchemaFile(t *testing.T) {
	dir := t.TempDir()
	content := `files:
  SOUL.md: personality
  AGENTS.md: boundary
  BOOTSTRAP.md: onboarding
  USER-template.md: user-template
  USER.md: user-live
placeholders:
  - name: id
    scope: stable
    required: true
  - name: genre
    scope: volatile
`
	if err := os.WriteFile(filepath.Join(dir, SchemaFile), []byte(content), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	s, err := LoadSchema(dir)
	if err != nil {
		t.Fatalf("LoadSchema: %v", err)
	}
	if cat, ok := s.CategoryOf("AGENTS.md"); !ok || cat != Boundary {
		t.Fatalf("expected AGENTS.md boundary, got %v %v", cat, ok)
	}
	if _, ok := s.CategoryOf("TOOLS.md"); ok {
		t.Fatalf("expected undeclared file to have no category")
	}
	decls := s.StableDecls()
	if len(decls) != 1 || decls[0].Name != "id" || !decls[0].Required {
		t.Fatalf("unexpected stable decls: %+v", decls)
	}
}

func TestLoadSchemaRejectsUnknownCategory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SchemaFile), []byte("files:\n  X.md: mystery\n"), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	if _, err := LoadSchema(dir); err == nil {
		t.Fatalf("expected error for unknown category")
	}
}

func TestLoadSchemaRejectsUnknownScope(t *testing.T) {
	dir := t.TempDir()
	content := "files:\n  X.md: personality\nplaceholders:\n  - name: id\n    scope: sometimes\n"
	if err := os.WriteFile(filepath.Join(dir, SchemaFile), []byte(content), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	if _, err := LoadSchema(dir); err == nil {
		t.Fatalf("expected error for unknown scope")
	}
}

func TestCategoryOfByLocation(t *testing.T) {
	t.Parallel()

	s := DefaultSchema()
	if cat, ok := s.CategoryOf(filepath.Join(SkillsDir, "deploy", SkillFile)); !ok || cat != Skill {
		t.Fatalf("expected skill by location, got %v %v", cat, ok)
	}
	if cat, ok := s.CategoryOf(filepath.Join(MemoryDir, "notes.md")); !ok || cat != Memory {
		t.Fatalf("expected memory by location, got %v %v", cat, ok)
	}
}

func TestFilesOf(t *testing.T) {
	t.Parallel()

	s := DefaultSchema()
	if got := s.FilesOf(Onboarding); !reflect.DeepEqual(got, []string{BootstrapFile}) {
		t.Fatalf("FilesOf(Onboarding) = %v", got)
	}
	if got := s.FilesOf(Personality); !reflect.DeepEqual(got, []string{IdentityFile, SoulFile}) {
		t.Fatalf("FilesOf(Personality) = %v", got)
	}
}
