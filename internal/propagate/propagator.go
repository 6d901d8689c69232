package propagate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tiersync/tiersync/internal/materialize"
	"github.com/tiersync/tiersync/internal/tier"
	"github.com/tiersync/tiersync/pkg/bundle"
)

// Propagator fans a changed type out to every dependent workspace and
// sandbox. Workspaces are processed independently and in parallel, and
// so are sandboxes within a workspace; a bounded worker pool caps
// concurrent filesystem operations, and a per-destination lock keeps
// two overlapping runs from interleaving writes on the same directory.
type Propagator struct {
	store   *tier.Store
	workers int
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store *tier.Store, workers int) *Propagator {
	if workers < 1 {
		workers = 1
	}
	return &Propagator{
		store:   store,
		workers: workers,
		locks:   map[string]*sync.Mutex{},
	}
}

func (p *Propagator) SetLogger(logger *slog.Logger) {
	p.logger = logger
}

func (p *Propagator) lockFor(dir string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.locks[dir]; ok {
		return l
	}
	l := &sync.Mutex{}
	p.locks[dir] = l
	return l
}

// Propagate re-materializes every workspace referencing typeID and
// every sandbox below those workspaces. Failures in one destination do
// not abort siblings; all are collected in the report. Running twice
// with no intervening type change produces no further file changes.
func (p *Propagator) Propagate(ctx context.Context, typeID string) (*Report, error) {
	typeDir := p.store.TypeDir(typeID)
	if _, err := os.Stat(typeDir); err != nil {
		return nil, fmt.Errorf("type %s: %w", typeID, err)
	}
	schema, err := bundle.LoadSchema(typeDir)
	if err != nil {
		return nil, err
	}
	src, err := bundle.Load(typeDir, schema)
	if err != nil {
		return nil, err
	}
	workspaces, err := p.store.WorkspacesOf(typeID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.New().String(),
		Type:      typeID,
		StartedAt: time.Now(),
	}
	p.logInfo("propagation_started", "run", report.RunID, "type", typeID, "workspaces", len(workspaces))

	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup
	var reportMu sync.Mutex

	for _, ws := range workspaces {
		ws := ws
		wg.Add(1)
		go func() {
			defer wg.Done()
			wr := p.propagateWorkspace(ctx, src, schema, ws, sem)
			reportMu.Lock()
			report.Workspaces = append(report.Workspaces, wr)
			reportMu.Unlock()
		}()
	}
	wg.Wait()

	report.sortWorkspaces()
	report.FinishedAt = time.Now()
	p.logInfo("propagation_finished", "run", report.RunID, "type", typeID,
		"updated", report.Updated(), "failures", len(report.Failures()))
	return report, nil
}

func (p *Propagator) propagateWorkspace(ctx context.Context, src bundle.Bundle, schema *bundle.Schema, workspaceID string, sem chan struct{}) WorkspaceReport {
	wr := WorkspaceReport{Workspace: workspaceID}

	stable, err := p.store.StableValues(workspaceID)
	if err != nil {
		wr.Err = err.Error()
		return wr
	}
	if err := checkStableConflicts(schema, stable, workspaceID); err != nil {
		wr.Err = err.Error()
		p.logError("stable_placeholder_conflict", "workspace", workspaceID, "error", err)
		return wr
	}
	// A stable placeholder added to the type after this workspace was
	// created resolves from its declared default.
	for _, d := range schema.StableDecls() {
		if _, ok := stable[d.Name]; !ok && d.Default != "" {
			stable[d.Name] = d.Default
		}
	}

	wsDir := p.store.WorkspaceDir(workspaceID)
	wr.Result, err = p.materializeLocked(ctx, src, wsDir, materialize.Options{
		Schema: schema,
		Stable: stable,
		Logger: p.logger,
	}, sem)
	if err != nil {
		wr.Err = err.Error()
		return wr
	}

	wsBundle, err := bundle.Load(wsDir, schema)
	if err != nil {
		wr.Err = fmt.Sprintf("reload workspace bundle: %v", err)
		return wr
	}
	sandboxes, err := p.store.SandboxesOf(workspaceID)
	if err != nil {
		wr.Err = err.Error()
		return wr
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, sb := range sandboxes {
		sb := sb
		wg.Add(1)
		go func() {
			defer wg.Done()
			sr := SandboxReport{Sandbox: sb}
			sbDir := p.store.SandboxDir(sb)
			result, err := p.materializeLocked(ctx, wsBundle, sbDir, materialize.Options{
				Schema:             schema,
				Stable:             stable,
				OnboardingComplete: tier.Onboarded(sbDir),
				Logger:             p.logger,
			}, sem)
			sr.Result = result
			if err != nil {
				sr.Err = err.Error()
			}
			mu.Lock()
			wr.Sandboxes = append(wr.Sandboxes, sr)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return wr
}

// materializeLocked runs one materialization under the worker pool and
// the destination's lock. Cancellation is honored before the operation
// starts and, inside Materialize, at file boundaries only.
func (p *Propagator) materializeLocked(ctx context.Context, src bundle.Bundle, destDir string, opts materialize.Options, sem chan struct{}) (*materialize.Result, error) {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-sem }()

	lock := p.lockFor(destDir)
	lock.Lock()
	defer lock.Unlock()

	return materialize.Materialize(ctx, src, destDir, opts)
}

// checkStableConflicts implements the documented resolution of the
// stable-value conflict case: when a type declares a default for a
// token and the workspace's record disagrees, manual resolution is
// required rather than guessing a merge.
func checkStableConflicts(schema *bundle.Schema, recorded map[string]string, workspaceID string) error {
	for _, d := range schema.StableDecls() {
		if d.Default == "" {
			continue
		}
		if v, ok := recorded[d.Name]; ok && v != d.Default {
			return &tier.ConfigError{
				Subject: "workspace " + workspaceID,
				Token:   d.Name,
				Reason:  fmt.Sprintf("recorded value %q disagrees with type default %q", v, d.Default),
			}
		}
	}
	return nil
}

func (p *Propagator) logInfo(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Propagator) logError(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Error(msg, args...)
	}
}
