package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

const dirPerm = 0o750

// EnsureDir expands a leading ~ in root, joins the parts and creates the
// directory if it is missing.
func EnsureDir(root string, parts ...string) (string, error) {
	expanded, err := homedir.Expand(root)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", root, err)
	}
	dir := filepath.Join(append([]string{expanded}, parts...)...)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// DataFile resolves name inside dir unless it is already absolute.
func DataFile(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
