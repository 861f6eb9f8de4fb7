package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLayout(t *testing.T) {
	l := Layout{Root: "/opt/eph", Name: "hera", ArchiveRoot: "HERA"}
	checks := map[string]string{
		l.KernelsDir():          "/opt/eph/data/hera/kernels",
		l.VersionFile():         "/opt/eph/data/hera/version",
		l.StagingDir():          "/opt/eph/data/tmp",
		l.StagedDatasetDir():    "/opt/eph/data/tmp/HERA",
		l.StagedMetaKernelDir(): "/opt/eph/data/tmp/HERA/kernels/mk",
	}
	for got, want := range checks {
		if got != filepath.FromSlash(want) {
			t.Fatalf("path %q, want %q", got, want)
		}
	}
	mk := l.MetaKernels([]string{"hera_ops.tm"})
	if mk[0] != filepath.FromSlash("/opt/eph/data/hera/kernels/mk/hera_ops.tm") {
		t.Fatalf("MetaKernels = %v", mk)
	}
	if err := l.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := (Layout{Name: "tmp", ArchiveRoot: "a/b"}).Validate(); err == nil {
		t.Fatalf("expected validation errors")
	}
}

func TestLocalVersion(t *testing.T) {
	l := Layout{Root: t.TempDir(), Name: "hera", ArchiveRoot: "HERA"}
	if _, ok, err := l.LocalVersion(); ok || err != nil {
		t.Fatalf("missing marker: ok=%v err=%v", ok, err)
	}
	writeFile(t, l.VersionFile(), "v3\r\nsecond line\n")
	v, ok, err := l.LocalVersion()
	if err != nil || !ok || v != "v3" {
		t.Fatalf("LocalVersion = %q, %v, %v", v, ok, err)
	}
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	if err := os.WriteFile(archive, buildArchive(t, map[string]string{"../../evil.txt": "x"}), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "out")
	if _, err := Extract(archive, dest); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("Extract error = %v, want ErrUnsafePath", err)
	}
	if exists(filepath.Join(dir, "evil.txt")) {
		t.Fatalf("entry written outside destination")
	}
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "a.zip")
	if err := os.WriteFile(archive, buildArchive(t, map[string]string{
		"HERA/":                "",
		"HERA/kernels/fk/a.tf": "fk",
		"HERA/kernels/mk/x.tm": "mk",
	}), 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := Extract(archive, dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if n != 2 {
		t.Fatalf("extracted %d files, want 2", n)
	}
	if readFile(t, filepath.Join(dir, "HERA", "kernels", "fk", "a.tf")) != "fk" {
		t.Fatalf("wrong content")
	}
}

func TestPatchMetaKernels(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.tm"), "PATH_VALUES = ( '..' )\nX = '../x'\n")
	writeFile(t, filepath.Join(dir, "b.tm"), "nothing to patch\n")
	writeFile(t, filepath.Join(dir, "sub", "c.tm"), "'..'")

	n, err := PatchMetaKernels(dir, "..", "/data/hera/kernels")
	if err != nil {
		t.Fatalf("PatchMetaKernels: %v", err)
	}
	if n != 2 {
		t.Fatalf("patched %d files, want 2", n)
	}
	got := readFile(t, filepath.Join(dir, "a.tm"))
	if got != "PATH_VALUES = ( '/data/hera/kernels' )\nX = '/data/hera/kernels/x'\n" {
		t.Fatalf("patched content = %q", got)
	}
	if strings.Contains(readFile(t, filepath.Join(dir, "sub", "c.tm")), "..") {
		t.Fatalf("nested meta-kernel not patched")
	}
	if exists(filepath.Join(dir, "a.tm.tmp")) {
		t.Fatalf("temporary file left behind")
	}

	if _, err := PatchMetaKernels(filepath.Join(dir, "missing"), "..", "/x"); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

func TestReplaceDirAndPayload(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "tmp", "HERA")
	dst := filepath.Join(root, "hera")
	writeFile(t, filepath.Join(src, "kernels", "new.bsp"), "new")
	writeFile(t, filepath.Join(src, "README.md"), "r")
	writeFile(t, filepath.Join(src, "misc", "m"), "m")
	writeFile(t, filepath.Join(dst, "kernels", "old.bsp"), "old")

	if err := ReplaceDir(src, dst); err != nil {
		t.Fatalf("ReplaceDir: %v", err)
	}
	if exists(filepath.Join(dst, "kernels", "old.bsp")) || !exists(filepath.Join(dst, "kernels", "new.bsp")) || exists(src) {
		t.Fatalf("directory not replaced")
	}
	if err := RemovePayload(dst, DefaultCleanup); err != nil {
		t.Fatalf("RemovePayload: %v", err)
	}
	if exists(filepath.Join(dst, "README.md")) || exists(filepath.Join(dst, "misc")) {
		t.Fatalf("payload not removed")
	}
	if err := ReplaceDir(filepath.Join(root, "nope"), dst); err == nil {
		t.Fatalf("expected error for missing source")
	}
	if !exists(filepath.Join(dst, "kernels", "new.bsp")) {
		t.Fatalf("failed replace must not remove the target")
	}
}

func TestNewSchedule(t *testing.T) {
	start := time.Date(2024, 10, 4, 10, 30, 0, 0, time.UTC)
	s, err := NewSchedule(6*time.Hour, "")
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	if next := s.Next(start); !next.Equal(start.Add(6 * time.Hour)) {
		t.Fatalf("interval next = %v", next)
	}

	s, err = NewSchedule(time.Hour, "0 3 * * *")
	if err != nil {
		t.Fatalf("NewSchedule cron: %v", err)
	}
	want := time.Date(2024, 10, 5, 3, 0, 0, 0, time.UTC)
	if next := s.Next(start); !next.Equal(want) {
		t.Fatalf("cron next = %v, want %v", next, want)
	}

	if _, err := NewSchedule(0, ""); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	if _, err := NewSchedule(time.Hour, "not cron"); err == nil {
		t.Fatalf("expected error for bad expression")
	}
}
