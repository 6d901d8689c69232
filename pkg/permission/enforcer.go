package permission

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tiersync/tiersync/pkg/bundle"
)

// Writer identifies which side of the immutability boundary is asking
// to write: the propagation engine or the agent runtime.
type Writer string

const (
	WriterEngine Writer = "engine"
	WriterAgent  Writer = "agent"
)

// Mode is the access capability a category requires. Filesystem
// permission bits back the capability, they are not the contract.
type Mode string

const (
	ModeAdminOnly     Mode = "admin-only"
	ModeAgentWritable Mode = "agent-writable"
)

// File permission bits backing each mode.
const (
	AdminOnlyPerm     os.FileMode = 0o444
	AgentWritablePerm os.FileMode = 0o644
)

// For maps a category to its required access mode.
func For(c bundle.Category) Mode {
	switch c {
	case bundle.UserTemplate, bundle.UserLive, bundle.Memory:
		return ModeAgentWritable
	default:
		return ModeAdminOnly
	}
}

// Perm returns the filesystem bits backing the category's mode.
func Perm(c bundle.Category) os.FileMode {
	if For(c) == ModeAgentWritable {
		return AgentWritablePerm
	}
	return AdminOnlyPerm
}

// Violation is an attempted write across the capability boundary.
type Violation struct {
	Path     string
	Category bundle.Category
	Writer   Writer
}

func (v *Violation) Error() string {
	return fmt.Sprintf("policy violation: %s may not write %s (%s)", v.Writer, v.Path, v.Category)
}

// Check guards a write before it happens. The engine may create
// agent-owned files but never overwrite them once they exist; the agent
// runtime may never write admin-owned files.
func Check(c bundle.Category, w Writer, path string, destExists bool) error {
	switch w {
	case WriterEngine:
		if c.AgentOwned() && destExists {
			return &Violation{Path: path, Category: c, Writer: w}
		}
	case WriterAgent:
		if For(c) != ModeAgentWritable {
			return &Violation{Path: path, Category: c, Writer: w}
		}
	}
	return nil
}

// ModeMismatch is a file whose on-disk permission bits disagree with
// its category's required mode. Reported by Verify as a health check.
type ModeMismatch struct {
	Name     string
	Category bundle.Category
	Got      os.FileMode
	Want     Mode
}

func (m ModeMismatch) String() string {
	return fmt.Sprintf("%s (%s): mode %v, want %s", m.Name, m.Category, m.Got, m.Want)
}

// Verify scans a materialized bundle's directory and reports every file
// whose actual access bits disagree with its category. Enforcement
// happens at materialization time; this is the health check.
func Verify(dir string, b bundle.Bundle) ([]ModeMismatch, error) {
	var out []ModeMismatch
	for _, name := range b.Names() {
		f := b[name]
		info, err := os.Stat(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		mode := info.Mode().Perm()
		switch For(f.Category) {
		case ModeAdminOnly:
			if mode&0o222 != 0 {
				out = append(out, ModeMismatch{Name: name, Category: f.Category, Got: mode, Want: ModeAdminOnly})
			}
		case ModeAgentWritable:
			if mode&0o200 == 0 {
				out = append(out, ModeMismatch{Name: name, Category: f.Category, Got: mode, Want: ModeAgentWritable})
			}
		}
	}
	return out, nil
}
