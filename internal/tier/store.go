package tier

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Directory and marker names of the on-disk tier tree.
const (
	TypesDir      = "types"
	WorkspacesDir = "workspaces"
	SandboxesDir  = "sandboxes"

	// TypeRefFile records which type a workspace was derived from.
	TypeRefFile = "type-ref"
	// WorkspaceRefFile records which workspace a sandbox was created from.
	WorkspaceRefFile = "workspace-ref"
	// OnboardedMarker is written when a sandbox finishes first-session
	// onboarding. Its presence is terminal.
	OnboardedMarker = "onboarded"
	// PlaceholdersFile records the stable values a workspace was
	// created with.
	PlaceholdersFile = "placeholders.yaml"
)

// ConfigError is a configuration problem that needs manual resolution:
// a missing required stable placeholder, or a value conflict between a
// type's declaration and a workspace's record.
type ConfigError struct {
	Subject string
	Token   string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %s: placeholder %q: %s", e.Subject, e.Token, e.Reason)
}

// Store addresses the three tier directories under one root.
type Store struct {
	Root string
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) TypeDir(id string) string      { return filepath.Join(s.Root, TypesDir, id) }
func (s *Store) WorkspaceDir(id string) string { return filepath.Join(s.Root, WorkspacesDir, id) }
func (s *Store) SandboxDir(id string) string   { return filepath.Join(s.Root, SandboxesDir, id) }

// TypesRoot is the directory the change watcher observes.
func (s *Store) TypesRoot() string { return filepath.Join(s.Root, TypesDir) }

// Types lists the type identifiers present under the root.
func (s *Store) Types() ([]string, error) {
	return listDirs(s.TypesRoot())
}

// WorkspacesOf lists the workspaces whose type-ref names typeID.
func (s *Store) WorkspacesOf(typeID string) ([]string, error) {
	return listByRef(filepath.Join(s.Root, WorkspacesDir), TypeRefFile, typeID)
}

// SandboxesOf lists the sandboxes whose workspace-ref names workspaceID.
func (s *Store) SandboxesOf(workspaceID string) ([]string, error) {
	return listByRef(filepath.Join(s.Root, SandboxesDir), WorkspaceRefFile, workspaceID)
}

// TypeOf resolves a workspace's reverse pointer to its type.
func (s *Store) TypeOf(workspaceID string) (string, error) {
	return readRef(filepath.Join(s.WorkspaceDir(workspaceID), TypeRefFile))
}

// WorkspaceOf resolves a sandbox's reverse pointer to its workspace.
func (s *Store) WorkspaceOf(sandboxID string) (string, error) {
	return readRef(filepath.Join(s.SandboxDir(sandboxID), WorkspaceRefFile))
}

// Onboarded reports whether a sandbox directory carries the terminal
// onboarding marker.
func Onboarded(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, OnboardedMarker))
	return err == nil
}

type placeholderRecord struct {
	Stable map[string]string `yaml:"stable"`
}

// StableValues reads the stable placeholder values recorded at
// workspace creation.
func (s *Store) StableValues(workspaceID string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(s.WorkspaceDir(workspaceID), PlaceholdersFile))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var rec placeholderRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", PlaceholdersFile, err)
	}
	if rec.Stable == nil {
		rec.Stable = map[string]string{}
	}
	return rec.Stable, nil
}

func (s *Store) writeStableValues(workspaceID string, values map[string]string) error {
	data, err := yaml.Marshal(placeholderRecord{Stable: values})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.WorkspaceDir(workspaceID), PlaceholdersFile), data, 0o644)
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("invalid identifier %q", id)
	}
	return nil
}

func readRef(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func writeRef(path, id string) error {
	return os.WriteFile(path, []byte(id+"\n"), 0o644)
}

func listDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			out = append(out, entry.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func listByRef(root, refFile, want string) ([]string, error) {
	dirs, err := listDirs(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, dir := range dirs {
		ref, err := readRef(filepath.Join(root, dir, refFile))
		if err != nil {
			continue
		}
		if ref == want {
			out = append(out, dir)
		}
	}
	return out, nil
}
