// Package dataset keeps the local kernel dataset in step with a remote
// archive: it checks a version marker, downloads and unpacks a new archive
// into a staging tree, patches its meta-kernels and swaps it into place.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Layout locates the active and staging trees under a project root:
//
//	<root>/data/<name>/kernels      active kernels
//	<root>/data/<name>/version      version marker
//	<root>/data/tmp/<archiveRoot>   staged tree while syncing
type Layout struct {
	Root        string
	Name        string
	ArchiveRoot string
}

// DataDir is <root>/data.
func (l Layout) DataDir() string { return filepath.Join(l.Root, "data") }

// DatasetDir is the active dataset directory.
func (l Layout) DatasetDir() string { return filepath.Join(l.DataDir(), l.Name) }

// KernelsDir is the active kernel directory referenced by patched
// meta-kernels.
func (l Layout) KernelsDir() string { return filepath.Join(l.DatasetDir(), "kernels") }

// MetaKernelDir holds the meta-kernels of the active dataset.
func (l Layout) MetaKernelDir() string { return filepath.Join(l.KernelsDir(), "mk") }

// VersionFile is the active version marker.
func (l Layout) VersionFile() string { return filepath.Join(l.DatasetDir(), "version") }

// StagingDir is the scratch directory removed after every cycle.
func (l Layout) StagingDir() string { return filepath.Join(l.DataDir(), "tmp") }

// StagedDatasetDir is where the archive's top-level directory lands.
func (l Layout) StagedDatasetDir() string { return filepath.Join(l.StagingDir(), l.ArchiveRoot) }

// StagedMetaKernelDir holds the staged meta-kernels awaiting patching.
func (l Layout) StagedMetaKernelDir() string {
	return filepath.Join(l.StagedDatasetDir(), "kernels", "mk")
}

// MetaKernels returns the absolute paths of names inside the active
// meta-kernel directory.
func (l Layout) MetaKernels(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(l.MetaKernelDir(), n)
	}
	return out
}

// Validate reports missing layout fields.
func (l Layout) Validate() error {
	var errs []error
	if l.Root == "" {
		errs = append(errs, errors.New("dataset: root is empty"))
	}
	if l.Name == "" || strings.ContainsAny(l.Name, `/\`) || l.Name == "tmp" {
		errs = append(errs, fmt.Errorf("dataset: invalid dataset name %q", l.Name))
	}
	if l.ArchiveRoot == "" || strings.ContainsAny(l.ArchiveRoot, `/\`) {
		errs = append(errs, fmt.Errorf("dataset: invalid archive root %q", l.ArchiveRoot))
	}
	return errors.Join(errs...)
}

// LocalVersion reads the first line of the active version marker. ok is
// false when no marker exists.
func (l Layout) LocalVersion() (version string, ok bool, err error) {
	return readVersion(l.VersionFile())
}

func readVersion(path string) (string, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("dataset: read version: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), true, nil
	}
	if err := sc.Err(); err != nil {
		return "", false, fmt.Errorf("dataset: read version: %w", err)
	}
	return "", true, nil
}

// DefaultRoot is the parent of the directory holding the running executable,
// so that <install>/bin/ephemeris-server uses <install>/data.
func DefaultRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(filepath.Dir(exe)), nil
}
