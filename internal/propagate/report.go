package propagate

import (
	"sort"
	"time"

	"github.com/tiersync/tiersync/internal/materialize"
)

// Failure locates one failed file by its (workspace, sandbox, file)
// triple. Sandbox is empty for tier-1→tier-2 failures.
type Failure struct {
	Workspace string `json:"workspace"`
	Sandbox   string `json:"sandbox,omitempty"`
	File      string `json:"file,omitempty"`
	Err       string `json:"error"`
}

// SandboxReport is the outcome of materializing one sandbox.
type SandboxReport struct {
	Sandbox string              `json:"sandbox"`
	Err     string              `json:"error,omitempty"`
	Result  *materialize.Result `json:"result,omitempty"`
}

// WorkspaceReport is the outcome of materializing one workspace and
// its dependent sandboxes.
type WorkspaceReport struct {
	Workspace string              `json:"workspace"`
	Err       string              `json:"error,omitempty"`
	Result    *materialize.Result `json:"result,omitempty"`
	Sandboxes []SandboxReport     `json:"sandboxes,omitempty"`
}

// Report aggregates one propagation run. Nothing is retried
// automatically; the next natural trigger re-runs the whole fan-out.
type Report struct {
	RunID      string            `json:"runId"`
	Type       string            `json:"type"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Workspaces []WorkspaceReport `json:"workspaces,omitempty"`
}

// Updated counts files changed on disk across the whole run.
func (r *Report) Updated() int {
	n := 0
	for _, ws := range r.Workspaces {
		if ws.Result != nil {
			n += ws.Result.Updated()
		}
		for _, sb := range ws.Sandboxes {
			if sb.Result != nil {
				n += sb.Result.Updated()
			}
		}
	}
	return n
}

// Failures collects every failure of the run.
func (r *Report) Failures() []Failure {
	var out []Failure
	for _, ws := range r.Workspaces {
		if ws.Err != "" {
			out = append(out, Failure{Workspace: ws.Workspace, Err: ws.Err})
		}
		if ws.Result != nil {
			for _, f := range ws.Result.Failed() {
				out = append(out, Failure{Workspace: ws.Workspace, File: f.Name, Err: f.Err})
			}
		}
		for _, sb := range ws.Sandboxes {
			if sb.Err != "" {
				out = append(out, Failure{Workspace: ws.Workspace, Sandbox: sb.Sandbox, Err: sb.Err})
			}
			if sb.Result != nil {
				for _, f := range sb.Result.Failed() {
					out = append(out, Failure{Workspace: ws.Workspace, Sandbox: sb.Sandbox, File: f.Name, Err: f.Err})
				}
			}
		}
	}
	return out
}

func (r *Report) sortWorkspaces() {
	for i := range r.Workspaces {
		sort.Slice(r.Workspaces[i].Sandboxes, func(a, b int) bool {
			return r.Workspaces[i].Sandboxes[a].Sandbox < r.Workspaces[i].Sandboxes[b].Sandbox
		})
	}
	sort.Slice(r.Workspaces, func(a, b int) bool {
		return r.Workspaces[a].Workspace < r.Workspaces[b].Workspace
	})
}
