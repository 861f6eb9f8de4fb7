package kernel

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotFound reports a missing kernel variable, body, or frame.
	ErrNotFound = errors.New("kernel: not found")
	// ErrNoCoverage reports that no loaded data covers the requested epoch.
	ErrNoCoverage = errors.New("kernel: insufficient ephemeris data")
	// ErrUnsupported reports kernel content this toolkit cannot evaluate.
	ErrUnsupported = errors.New("kernel: unsupported")
)

// FileKind classifies a furnished kernel file.
type FileKind string

const (
	KindMeta    FileKind = "MK"
	KindText    FileKind = "TEXT"
	KindSPK     FileKind = "SPK"
	KindCK      FileKind = "CK"
	KindPCK     FileKind = "PCK"
	KindTLE     FileKind = "TLE"
	KindOpaque  FileKind = "OPAQUE"
	maxMetaNest          = 8
)

// LoadedFile describes one entry of the loaded-kernel list.
type LoadedFile struct {
	Path string
	Kind FileKind
	// Segments counts ephemeris sources contributed by the file.
	Segments int
}

// Pool is the process-wide kernel pool: text kernel variables plus the
// ephemeris sources of loaded binary and TLE kernels. Readers may run
// concurrently; Furnish and Clear are exclusive.
type Pool struct {
	mu      sync.RWMutex
	vars    map[string][]Value
	sources []source
	cks     []ckSource
	pcks    []*chebyshevSegment
	files   []LoadedFile
	// open DAF files, closed on Clear.
	dafs []*dafFile
}

// NewPool returns an empty kernel pool.
func NewPool() *Pool {
	return &Pool{vars: make(map[string][]Value)}
}

// Furnish loads the kernel at path. Meta-kernels load every file named in
// KERNELS_TO_LOAD; failures of individual entries are joined into the
// returned error while the remaining entries still load.
func (p *Pool) Furnish(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.furnishLocked(path, 0)
}

// Clear unloads every kernel and empties the variable pool.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.dafs {
		_ = d.Close()
	}
	p.vars = make(map[string][]Value)
	p.sources = nil
	p.cks = nil
	p.pcks = nil
	p.files = nil
	p.dafs = nil
}

// Loaded returns a copy of the loaded-kernel list in load order.
func (p *Pool) Loaded() []LoadedFile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]LoadedFile, len(p.files))
	copy(out, p.files)
	return out
}

// Strings returns the string values of a pool variable.
func (p *Pool) Strings(name string) ([]string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stringsLocked(name)
}

// Numbers returns the numeric values of a pool variable.
func (p *Pool) Numbers(name string) ([]float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.numbersLocked(name)
}

func (p *Pool) stringsLocked(name string) ([]string, bool) {
	vals, ok := p.vars[name]
	if !ok || len(vals) == 0 || !vals[0].IsString {
		return nil, false
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.Str)
	}
	return out, true
}

func (p *Pool) numbersLocked(name string) ([]float64, bool) {
	vals, ok := p.vars[name]
	if !ok || len(vals) == 0 || vals[0].IsString {
		return nil, false
	}
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.Num)
	}
	return out, true
}

func (p *Pool) numberLocked(name string) (float64, bool) {
	vals, ok := p.numbersLocked(name)
	if !ok {
		return 0, false
	}
	return vals[0], true
}

func (p *Pool) furnishLocked(path string, depth int) error {
	kind, err := detectKind(path)
	if err != nil {
		return err
	}
	switch kind {
	case KindMeta:
		if depth >= maxMetaNest {
			return fmt.Errorf("%s: meta-kernels nested too deeply", path)
		}
		return p.furnishMeta(path, depth)
	case KindText:
		return p.furnishText(path)
	case KindSPK:
		return p.furnishSPK(path)
	case KindCK:
		return p.furnishCK(path)
	case KindPCK:
		return p.furnishBinaryPCK(path)
	case KindTLE:
		return p.furnishTLE(path)
	default:
		p.files = append(p.files, LoadedFile{Path: path, Kind: KindOpaque})
		return nil
	}
}

func (p *Pool) furnishText(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open text kernel: %w", err)
	}
	defer f.Close()
	assigns, err := parseTextKernel(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, a := range assigns {
		if a.append {
			p.vars[a.name] = append(p.vars[a.name], a.values...)
			continue
		}
		p.vars[a.name] = a.values
	}
	p.files = append(p.files, LoadedFile{Path: path, Kind: KindText})
	return nil
}

func (p *Pool) furnishMeta(path string, depth int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open meta-kernel: %w", err)
	}
	assigns, err := parseTextKernel(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	// Meta-kernel variables stay local so that one manifest never
	// leaks KERNELS_TO_LOAD into the next.
	local := make(map[string][]Value)
	for _, a := range assigns {
		if a.append {
			local[a.name] = append(local[a.name], a.values...)
			continue
		}
		local[a.name] = a.values
	}
	symbols := valueStrings(local["PATH_SYMBOLS"])
	values := valueStrings(local["PATH_VALUES"])
	if len(symbols) != len(values) {
		return fmt.Errorf("%s: PATH_SYMBOLS and PATH_VALUES differ in length", path)
	}
	p.files = append(p.files, LoadedFile{Path: path, Kind: KindMeta})

	var errs []error
	for _, name := range valueStrings(local["KERNELS_TO_LOAD"]) {
		resolved := substituteSymbols(name, symbols, values)
		if err := p.furnishLocked(resolved, depth+1); err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", resolved, err))
		}
	}
	return errors.Join(errs...)
}

func valueStrings(vals []Value) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v.IsString {
			out = append(out, v.Str)
		}
	}
	return out
}

// substituteSymbols replaces $SYMBOL occurrences. Longer symbols are tried
// first so that $KERNELS is not shadowed by $KERNEL.
func substituteSymbols(name string, symbols, values []string) string {
	if !strings.Contains(name, "$") {
		return filepath.Clean(name)
	}
	order := make([]int, len(symbols))
	for i := range order {
		order[i] = i
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && len(symbols[order[j]]) > len(symbols[order[j-1]]); j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	for _, i := range order {
		name = strings.ReplaceAll(name, "$"+symbols[i], values[i])
	}
	return filepath.Clean(name)
}

// detectKind reads the ID word at the start of the file.
func detectKind(path string) (FileKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open kernel: %w", err)
	}
	defer f.Close()

	head := make([]byte, 8)
	n, _ := f.Read(head)
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, []byte("DAF/SPK")), bytes.HasPrefix(head, []byte("NAIF/DAF")):
		return KindSPK, nil
	case bytes.HasPrefix(head, []byte("DAF/CK")):
		return KindCK, nil
	case bytes.HasPrefix(head, []byte("DAF/PCK")):
		return KindPCK, nil
	case bytes.HasPrefix(head, []byte("DAF/")), bytes.HasPrefix(head, []byte("DAS/")):
		return KindOpaque, nil
	case bytes.HasPrefix(head, []byte("KPL/MK")):
		return KindMeta, nil
	case bytes.HasPrefix(head, []byte("KPL/")):
		return KindText, nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".tle", ".3le":
		return KindTLE, nil
	case ".tm":
		return KindMeta, nil
	case ".tf", ".tpc", ".tls", ".ti", ".tsc":
		return KindText, nil
	}
	if _, err := f.Seek(0, 0); err == nil {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if strings.TrimSpace(sc.Text()) == beginData {
				return KindText, nil
			}
		}
	}
	return "", fmt.Errorf("%s: %w: unrecognised kernel type", path, ErrUnsupported)
}
