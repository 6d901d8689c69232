package tier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tiersync/tiersync/internal/materialize"
	"github.com/tiersync/tiersync/pkg/bundle"
	"github.com/tiersync/tiersync/pkg/placeholder"
)

// CreateWorkspace materializes a new workspace from a type, resolving
// stable placeholders once. A missing required stable value is a
// ConfigError and leaves no partial workspace behind.
func (s *Store) CreateWorkspace(ctx context.Context, typeID, workspaceID string, values map[string]string) (*materialize.Result, error) {
	if err := validateID(typeID); err != nil {
		return nil, err
	}
	if err := validateID(workspaceID); err != nil {
		return nil, err
	}

	typeDir := s.TypeDir(typeID)
	if _, err := os.Stat(typeDir); err != nil {
		return nil, fmt.Errorf("type %s: %w", typeID, err)
	}
	wsDir := s.WorkspaceDir(workspaceID)
	if _, err := os.Stat(wsDir); err == nil {
		return nil, fmt.Errorf("workspace %s already exists", workspaceID)
	}

	schema, err := bundle.LoadSchema(typeDir)
	if err != nil {
		return nil, err
	}

	if values == nil {
		values = map[string]string{}
	}
	for _, d := range schema.StableDecls() {
		if _, ok := values[d.Name]; !ok && d.Default != "" {
			values[d.Name] = d.Default
		}
	}
	missing := placeholder.Missing(schema.Placeholders, placeholder.Map{Stable: values}, placeholder.ScopeStable)
	if len(missing) > 0 {
		return nil, &ConfigError{Subject: "workspace " + workspaceID, Token: missing[0], Reason: "required stable placeholder has no value"}
	}

	src, err := bundle.Load(typeDir, schema)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		return nil, err
	}
	result, err := s.finishWorkspace(ctx, src, schema, typeID, workspaceID, values)
	if err != nil {
		_ = os.RemoveAll(wsDir)
		return nil, err
	}
	return result, nil
}

func (s *Store) finishWorkspace(ctx context.Context, src bundle.Bundle, schema *bundle.Schema, typeID, workspaceID string, values map[string]string) (*materialize.Result, error) {
	wsDir := s.WorkspaceDir(workspaceID)
	if err := writeRef(filepath.Join(wsDir, TypeRefFile), typeID); err != nil {
		return nil, err
	}
	if err := s.writeStableValues(workspaceID, values); err != nil {
		return nil, err
	}
	result, err := materialize.Materialize(ctx, src, wsDir, materialize.Options{Schema: schema, Stable: values})
	if err != nil {
		return nil, err
	}
	if failed := result.Failed(); len(failed) > 0 {
		return nil, fmt.Errorf("materialize workspace %s: %s: %s", workspaceID, failed[0].Name, failed[0].Err)
	}
	return result, nil
}

// CreateSandbox materializes a new sandbox from a workspace. This is
// the collaborator operation the agent runtime performs on first use;
// every category is materialized exactly once.
func (s *Store) CreateSandbox(ctx context.Context, workspaceID, sandboxID string) (*materialize.Result, error) {
	if err := validateID(workspaceID); err != nil {
		return nil, err
	}
	if err := validateID(sandboxID); err != nil {
		return nil, err
	}

	wsDir := s.WorkspaceDir(workspaceID)
	if _, err := os.Stat(wsDir); err != nil {
		return nil, fmt.Errorf("workspace %s: %w", workspaceID, err)
	}
	sbDir := s.SandboxDir(sandboxID)
	if _, err := os.Stat(sbDir); err == nil {
		return nil, fmt.Errorf("sandbox %s already exists", sandboxID)
	}

	typeID, err := s.TypeOf(workspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolve type of workspace %s: %w", workspaceID, err)
	}
	schema, err := bundle.LoadSchema(s.TypeDir(typeID))
	if err != nil {
		return nil, err
	}
	stable, err := s.StableValues(workspaceID)
	if err != nil {
		return nil, err
	}
	src, err := bundle.Load(wsDir, schema)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(sbDir, bundle.MemoryDir), 0o755); err != nil {
		return nil, err
	}
	result, err := s.finishSandbox(ctx, src, schema, workspaceID, sandboxID, stable)
	if err != nil {
		_ = os.RemoveAll(sbDir)
		return nil, err
	}
	return result, nil
}

func (s *Store) finishSandbox(ctx context.Context, src bundle.Bundle, schema *bundle.Schema, workspaceID, sandboxID string, stable map[string]string) (*materialize.Result, error) {
	sbDir := s.SandboxDir(sandboxID)
	if err := writeRef(filepath.Join(sbDir, WorkspaceRefFile), workspaceID); err != nil {
		return nil, err
	}
	result, err := materialize.Materialize(ctx, src, sbDir, materialize.Options{Schema: schema, Stable: stable})
	if err != nil {
		return nil, err
	}
	if failed := result.Failed(); len(failed) > 0 {
		return nil, fmt.Errorf("materialize sandbox %s: %s: %s", sandboxID, failed[0].Name, failed[0].Err)
	}
	return result, nil
}
