package propagate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tiersync/tiersync/internal/bootstrap"
	"github.com/tiersync/tiersync/internal/tier"
	"github.com/tiersync/tiersync/pkg/bundle"
)

const movieSchema = `files:
  SOUL.md: personality
  IDENTITY.md: personality
  AGENTS.md: boundary
  TOOLS.md: skill
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

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func rewriteFile(t *testing.T, path, content string) {
	t.Helper()
	// Admin edit: replace content regardless of current mode.
	_ = os.Chmod(path, 0o644)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("rewrite %s: %v", path, err)
	}
}

func setupMovieFleet(t *testing.T) *tier.Store {
	t.Helper()
	s := tier.NewStore(t.TempDir())
	typeDir := s.TypeDir("movie")
	writeFile(t, filepath.Join(typeDir, bundle.SchemaFile), movieSchema)
	writeFile(t, filepath.Join(typeDir, "SOUL.md"), "you love film")
	writeFile(t, filepath.Join(typeDir, "IDENTITY.md"), "critic")
	writeFile(t, filepath.Join(typeDir, "AGENTS.md"), "house rules")
	writeFile(t, filepath.Join(typeDir, "TOOLS.md"), "tools v1")
	writeFile(t, filepath.Join(typeDir, "BOOTSTRAP.md"), "ask about taste")
	writeFile(t, filepath.Join(typeDir, "USER-template.md"), "id: {{id}}\ngenre: {{genre}}\n")
	return s
}

func TestPropagateScenario(t *testing.T) {
	s := setupMovieFleet(t)
	ctx := context.Background()

	if _, err := s.CreateWorkspace(ctx, "movie", "alice", map[string]string{"id": "42"}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(s.WorkspaceDir("alice"), "USER-template.md"))
	if !strings.Contains(string(data), "id: 42") || !strings.Contains(string(data), "{{genre}}") {
		t.Fatalf("workspace template wrong: %q", data)
	}

	if _, err := s.CreateSandbox(ctx, "alice", "alice-1"); err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	schema, err := bundle.LoadSchema(s.TypeDir("movie"))
	if err != nil {
		t.Fatalf("LoadSchema: %v", err)
	}
	sbDir := s.SandboxDir("alice-1")
	if err := bootstrap.Complete(sbDir, schema, "genre: scifi\n"); err != nil {
		t.Fatalf("bootstrap.Complete: %v", err)
	}

	rewriteFile(t, filepath.Join(s.TypeDir("movie"), "TOOLS.md"), "tools v2")

	report, err := New(s, 4).Propagate(ctx, "movie")
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if failures := report.Failures(); len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}

	data, _ = os.ReadFile(filepath.Join(sbDir, "TOOLS.md"))
	if string(data) != "tools v2" {
		t.Fatalf("sandbox TOOLS.md not updated: %q", data)
	}
	data, _ = os.ReadFile(filepath.Join(sbDir, "USER.md"))
	if string(data) != "genre: scifi\n" {
		t.Fatalf("user-live content was touched: %q", data)
	}
	if _, err := os.Stat(filepath.Join(sbDir, "BOOTSTRAP.md")); !os.IsNotExist(err) {
		t.Fatalf("onboarding file must stay absent after completion")
	}
	if _, err := os.Stat(filepath.Join(s.WorkspaceDir("alice"), "BOOTSTRAP.md")); err != nil {
		t.Fatalf("workspace keeps its onboarding template: %v", err)
	}
}

func TestPropagateIsIdempotent(t *testing.T) {
	s := setupMovieFleet(t)
	ctx := context.Background()
	if _, err := s.CreateWorkspace(ctx, "movie", "alice", map[string]string{"id": "42"}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if _, err := s.CreateSandbox(ctx, "alice", "alice-1"); err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	rewriteFile(t, filepath.Join(s.TypeDir("movie"), "SOUL.md"), "you really love film")

	prop := New(s, 2)
	first, err := prop.Propagate(ctx, "movie")
	if err != nil {
		t.Fatalf("first Propagate: %v", err)
	}
	if first.Updated() == 0 {
		t.Fatalf("expected the first run to update files")
	}
	second, err := prop.Propagate(ctx, "movie")
	if err != nil {
		t.Fatalf("second Propagate: %v", err)
	}
	if second.Updated() != 0 {
		t.Fatalf("expected zero updates on second run, got %d", second.Updated())
	}
}

func TestPropagateFansOutToAllWorkspaces(t *testing.T) {
	s := setupMovieFleet(t)
	ctx := context.Background()
	for _, ws := range []string{"alice", "bob", "carol"} {
		if _, err := s.CreateWorkspace(ctx, "movie", ws, map[string]string{"id": "1"}); err != nil {
			t.Fatalf("CreateWorkspace %s: %v", ws, err)
		}
	}
	if _, err := s.CreateSandbox(ctx, "bob", "bob-1"); err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	rewriteFile(t, filepath.Join(s.TypeDir("movie"), "AGENTS.md"), "house rules v2")

	report, err := New(s, 2).Propagate(ctx, "movie")
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if len(report.Workspaces) != 3 {
		t.Fatalf("expected 3 workspace reports, got %d", len(report.Workspaces))
	}
	for _, ws := range []string{"alice", "bob", "carol"} {
		data, _ := os.ReadFile(filepath.Join(s.WorkspaceDir(ws), "AGENTS.md"))
		if string(data) != "house rules v2" {
			t.Fatalf("workspace %s not updated: %q", ws, data)
		}
	}
	data, _ := os.ReadFile(filepath.Join(s.SandboxDir("bob-1"), "AGENTS.md"))
	if string(data) != "house rules v2" {
		t.Fatalf("sandbox not updated: %q", data)
	}
}

func TestPropagateIsolatesWorkspaceFailures(t *testing.T) {
	s := setupMovieFleet(t)
	ctx := context.Background()
	for _, ws := range []string{"alice", "bob"} {
		if _, err := s.CreateWorkspace(ctx, "movie", ws, map[string]string{"id": "1"}); err != nil {
			t.Fatalf("CreateWorkspace %s: %v", ws, err)
		}
	}
	// Corrupt one workspace's stable record; its sibling must still
	// receive the update.
	rewriteFile(t, filepath.Join(s.WorkspaceDir("alice"), tier.PlaceholdersFile), "\tnot yaml")
	rewriteFile(t, filepath.Join(s.TypeDir("movie"), "SOUL.md"), "updated soul")

	report, err := New(s, 2).Propagate(ctx, "movie")
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	failures := report.Failures()
	if len(failures) != 1 || failures[0].Workspace != "alice" {
		t.Fatalf("expected one failure for alice, got %+v", failures)
	}
	data, _ := os.ReadFile(filepath.Join(s.WorkspaceDir("bob"), "SOUL.md"))
	if string(data) != "updated soul" {
		t.Fatalf("sibling workspace not updated: %q", data)
	}
}

func TestPropagateReportsStableConflict(t *testing.T) {
	s := setupMovieFleet(t)
	ctx := context.Background()
	if _, err := s.CreateWorkspace(ctx, "movie", "alice", map[string]string{"id": "42"}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	// The type later declares a default for the same token that
	// disagrees with the workspace's record.
	conflicted := strings.Replace(movieSchema,
		"  - name: id\n    scope: stable\n    required: true\n",
		"  - name: id\n    scope: stable\n    required: true\n    default: \"99\"\n", 1)
	rewriteFile(t, filepath.Join(s.TypeDir("movie"), bundle.SchemaFile), conflicted)

	report, err := New(s, 2).Propagate(ctx, "movie")
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	failures := report.Failures()
	if len(failures) != 1 {
		t.Fatalf("expected one failure, got %+v", failures)
	}
	if !strings.Contains(failures[0].Err, "configuration error") {
		t.Fatalf("expected configuration error, got %q", failures[0].Err)
	}
}

func TestPropagateUnknownType(t *testing.T) {
	s := tier.NewStore(t.TempDir())
	if _, err := New(s, 1).Propagate(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestReportFailureTriples(t *testing.T) {
	t.Parallel()

	r := &Report{
		Workspaces: []WorkspaceReport{
			{
				Workspace: "alice",
				Sandboxes: []SandboxReport{
					{Sandbox: "alice-1", Err: "boom"},
				},
			},
			{Workspace: "bob", Err: "bad record"},
		},
	}
	failures := r.Failures()
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %+v", failures)
	}
	if failures[0].Workspace != "alice" || failures[0].Sandbox != "alice-1" {
		t.Fatalf("unexpected triple: %+v", failures[0])
	}
}
