package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ReplaceDir removes target and renames source into its place. The window
// between the two steps is covered by the availability gate.
func ReplaceDir(source, target string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", source)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove %s: %w", target, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.Rename(source, target)
}

// RemovePayload deletes the named non-kernel entries under dir. Missing
// entries are not an error.
func RemovePayload(dir string, names []string) error {
	var errs []error
	for _, n := range names {
		if n == "" || filepath.IsAbs(n) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, n)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
