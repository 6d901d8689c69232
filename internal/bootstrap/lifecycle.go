package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tiersync/tiersync/internal/tier"
	"github.com/tiersync/tiersync/pkg/bundle"
)

// State of a sandbox's first-session onboarding.
type State string

const (
	// StatePending: the onboarding file is still present.
	StatePending State = "pending"
	// StateCompleted: onboarding finished; terminal per sandbox.
	StateCompleted State = "completed"
)

// Status reports a sandbox's onboarding state. The marker is
// authoritative once written; before that, presence of any
// onboarding-category file means pending.
func Status(sandboxDir string, schema *bundle.Schema) (State, error) {
	if tier.Onboarded(sandboxDir) {
		return StateCompleted, nil
	}
	for _, name := range schema.FilesOf(bundle.Onboarding) {
		if _, err := os.Stat(filepath.Join(sandboxDir, name)); err == nil {
			return StatePending, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return StateCompleted, nil
}

// Complete records the agent runtime's signal that first-session
// onboarding finished: the onboarding file is deleted from this sandbox
// only (the type and workspace keep theirs as the template for future
// sandboxes), the initial user-live file is written if it does not
// exist yet, and the terminal marker is set. Calling Complete on an
// already completed sandbox is a no-op.
func Complete(sandboxDir string, schema *bundle.Schema, userLive string) error {
	if tier.Onboarded(sandboxDir) {
		return nil
	}
	if _, err := os.Stat(sandboxDir); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}

	for _, name := range schema.FilesOf(bundle.Onboarding) {
		err := os.Remove(filepath.Join(sandboxDir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove onboarding file %s: %w", name, err)
		}
	}

	if userLive != "" {
		if err := writeUserLive(sandboxDir, schema, userLive); err != nil {
			return err
		}
	}

	marker := filepath.Join(sandboxDir, tier.OnboardedMarker)
	return os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644)
}

func writeUserLive(sandboxDir string, schema *bundle.Schema, content string) error {
	names := schema.FilesOf(bundle.UserLive)
	if len(names) == 0 {
		return fmt.Errorf("schema declares no user-live file")
	}
	path := filepath.Join(sandboxDir, names[0])
	if _, err := os.Stat(path); err == nil {
		// Already created by the agent runtime; its content is owned
		// there and stays untouched.
		return nil
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
