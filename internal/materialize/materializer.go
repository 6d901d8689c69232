package materialize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tiersync/tiersync/pkg/bundle"
	"github.com/tiersync/tiersync/pkg/permission"
	"github.com/tiersync/tiersync/pkg/placeholder"
)

// TmpSuffix marks staged files awaiting their atomic rename. Leftover
// staged files from a crashed run are ignored by bundle loading and by
// the change watcher.
const TmpSuffix = bundle.StagedSuffix

// Outcome is the per-file result of one materialization.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Skip reasons reported in FileResult.
const (
	ReasonUnchanged          = "unchanged"
	ReasonAgentOwned         = "agent-owned"
	ReasonOnboardingComplete = "onboarding complete"
	ReasonAborted            = "bundle staging aborted"
	ReasonCanceled           = "canceled"
)

// FileResult is the outcome for one bundle file.
type FileResult struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	Err     string  `json:"error,omitempty"`
}

// Result reports the per-file outcomes of materializing one bundle into
// one destination directory.
type Result struct {
	Dir   string       `json:"dir"`
	Files []FileResult `json:"files,omitempty"`
}

// Updated counts files whose content changed on disk.
func (r *Result) Updated() int {
	n := 0
	for _, f := range r.Files {
		if f.Outcome == OutcomeUpdated {
			n++
		}
	}
	return n
}

// Failed returns the file results that did not complete.
func (r *Result) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Outcome == OutcomeFailed {
			out = append(out, f)
		}
	}
	return out
}

// FileError wraps an I/O failure on a single bundle file.
type FileError struct {
	Name string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("materialize %s: %v", e.Name, e.Err) }
func (e *FileError) Unwrap() error { return e.Err }

// Options control one materialization.
type Options struct {
	// Schema fixes file categories for both source and destination.
	Schema *bundle.Schema
	// Stable placeholder values for user-template resolution.
	Stable map[string]string
	// OnboardingComplete suppresses onboarding files for a sandbox
	// whose bootstrap already finished.
	OnboardingComplete bool
	Logger             *slog.Logger
}

type stagedFile struct {
	name  string
	tmp   string
	final string
	perm  os.FileMode
}

// Materialize copies src into destDir under the per-category overwrite
// policy. Changed files are staged to temporary siblings first and then
// renamed into place one by one, so a crash mid-bundle can leave a mix
// of old and new files but never a half-written one. A staging failure
// aborts before any rename, leaving the destination in its prior state.
// Cancellation takes effect at file boundaries only.
func Materialize(ctx context.Context, src bundle.Bundle, destDir string, opts Options) (*Result, error) {
	if opts.Schema == nil {
		opts.Schema = bundle.DefaultSchema()
	}
	result := &Result{Dir: destDir}

	dest, err := bundle.Load(destDir, opts.Schema)
	if err != nil {
		return result, fmt.Errorf("load destination bundle: %w", err)
	}

	var staged []stagedFile
	stable := placeholder.Map{Stable: opts.Stable}

	for _, name := range src.Names() {
		f := src[name]
		destFile, destExists := dest[name]
		destPath := filepath.Join(destDir, name)

		if f.Category.AgentOwned() && destExists {
			result.Files = append(result.Files, FileResult{Name: name, Outcome: OutcomeSkipped, Reason: ReasonAgentOwned})
			continue
		}
		if f.Category == bundle.Onboarding && opts.OnboardingComplete {
			result.Files = append(result.Files, FileResult{Name: name, Outcome: OutcomeSkipped, Reason: ReasonOnboardingComplete})
			continue
		}

		content := f.Content
		if f.Category == bundle.UserTemplate {
			if destExists {
				// Merge: resolve newly valued stable tokens into the
				// existing content. Already resolved values are plain
				// text and never regress to tokens.
				content = placeholder.Resolve(destFile.Content, stable, placeholder.ScopeStable)
			} else {
				content = placeholder.Resolve(f.Content, stable, placeholder.ScopeStable)
			}
		}

		if destExists && content == destFile.Content {
			result.Files = append(result.Files, FileResult{Name: name, Outcome: OutcomeSkipped, Reason: ReasonUnchanged})
			continue
		}

		if err := permission.Check(f.Category, permission.WriterEngine, destPath, destExists); err != nil {
			logError(opts.Logger, "write_rejected", "file", name, "error", err)
			result.Files = append(result.Files, FileResult{Name: name, Outcome: OutcomeFailed, Err: err.Error()})
			continue
		}

		s := stagedFile{
			name:  name,
			tmp:   destPath + TmpSuffix,
			final: destPath,
			perm:  permission.Perm(f.Category),
		}
		if err := stageWrite(s, content); err != nil {
			cleanup(staged)
			result.Files = append(result.Files, FileResult{Name: name, Outcome: OutcomeFailed, Err: err.Error()})
			for _, prior := range staged {
				result.Files = append(result.Files, FileResult{Name: prior.name, Outcome: OutcomeSkipped, Reason: ReasonAborted})
			}
			return result, &FileError{Name: name, Err: err}
		}
		staged = append(staged, s)
	}

	for i, s := range staged {
		if ctx.Err() != nil {
			cleanup(staged[i:])
			for _, rest := range staged[i:] {
				result.Files = append(result.Files, FileResult{Name: rest.name, Outcome: OutcomeSkipped, Reason: ReasonCanceled})
			}
			return result, ctx.Err()
		}
		if err := commit(s); err != nil {
			logError(opts.Logger, "commit_failed", "file", s.name, "error", err)
			result.Files = append(result.Files, FileResult{Name: s.name, Outcome: OutcomeFailed, Err: err.Error()})
			continue
		}
		result.Files = append(result.Files, FileResult{Name: s.name, Outcome: OutcomeUpdated})
		logDebug(opts.Logger, "file_updated", "file", s.name, "dir", destDir)
	}
	return result, nil
}

func stageWrite(s stagedFile, content string) error {
	if err := os.MkdirAll(filepath.Dir(s.final), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.tmp, []byte(content), 0o600)
}

func commit(s stagedFile) error {
	if err := os.Chmod(s.tmp, s.perm); err != nil {
		_ = os.Remove(s.tmp)
		return err
	}
	return os.Rename(s.tmp, s.final)
}

func cleanup(staged []stagedFile) {
	for _, s := range staged {
		_ = os.Remove(s.tmp)
	}
}

func logDebug(logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.Debug(msg, args...)
	}
}

func logError(logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.Error(msg, args...)
	}
}
