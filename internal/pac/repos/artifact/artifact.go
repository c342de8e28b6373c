// Package artifact stores rendered PAC scripts in a directory and replaces
// them atomically, so a concurrent reader sees either the previous or the new
// script in full.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// ErrInvalidName is returned for names that are not a plain file name.
var ErrInvalidName = errors.New("invalid artifact name")

// Dir is a directory of served artifacts.
type Dir struct {
	root string
	perm os.FileMode
}

// NewDir returns a Dir rooted at root, creating it if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir %q: %w", root, err)
	}
	return &Dir{root: root, perm: 0o644}, nil
}

// Root returns the directory path.
func (d *Dir) Root() string { return d.root }

// Path returns the file path for name after validating it.
func (d *Dir) Path(name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(d.root, name), nil
}

// Write replaces the artifact name with data. The content goes to a temporary
// file in the same directory which is then renamed over the target.
func (d *Dir) Write(name string, data []byte) error {
	p, err := d.Path(name)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(p, data, d.perm); err != nil {
		return fmt.Errorf("writing artifact %q: %w", name, err)
	}
	return nil
}

// Open opens the artifact name for reading. A missing artifact yields an
// error matching fs.ErrNotExist.
func (d *Dir) Open(name string) (*os.File, error) {
	p, err := d.Path(name)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- name is validated to be a plain file name inside root.
	return os.Open(p)
}
