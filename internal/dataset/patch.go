package dataset

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PatchMetaKernels replaces every occurrence of token in the regular files
// under dir with replacement. It returns the number of files rewritten.
// Meta-kernels ship with PATH_VALUES relative to their own directory; the
// toolkit resolves them against the process working directory, so they are
// pointed at the absolute active kernel directory before the swap.
func PatchMetaKernels(dir, token, replacement string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", dir)
	}
	if token == "" {
		return 0, fmt.Errorf("empty path token")
	}
	patched := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ok, err := replaceInFile(path, []byte(token), []byte(replacement))
		if ok {
			patched++
		}
		return err
	})
	return patched, err
}

func replaceInFile(path string, old, repl []byte) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	if !bytes.Contains(data, old) {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, bytes.ReplaceAll(data, old, repl), info.Mode().Perm()); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, err
	}
	return true, nil
}

// WriteVersion overwrites the version marker at path. The marker shipped in
// the archive can be stale, so the staged tree always carries the version
// fetched during the check.
func WriteVersion(path, version string) error {
	return os.WriteFile(path, []byte(version+"\n"), 0o644)
}
