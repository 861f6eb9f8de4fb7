package kernel

import "strings"

var builtinBodies = []struct {
	name string
	code int
}{
	{"SOLAR SYSTEM BARYCENTER", 0},
	{"SSB", 0},
	{"MERCURY BARYCENTER", 1},
	{"VENUS BARYCENTER", 2},
	{"EARTH MOON BARYCENTER", 3},
	{"EMB", 3},
	{"EARTH BARYCENTER", 3},
	{"MARS BARYCENTER", 4},
	{"JUPITER BARYCENTER", 5},
	{"SATURN BARYCENTER", 6},
	{"URANUS BARYCENTER", 7},
	{"NEPTUNE BARYCENTER", 8},
	{"PLUTO BARYCENTER", 9},
	{"SUN", 10},
	{"MERCURY", 199},
	{"VENUS", 299},
	{"EARTH", 399},
	{"MOON", 301},
	{"MARS", 499},
	{"PHOBOS", 401},
	{"DEIMOS", 402},
	{"JUPITER", 599},
	{"SATURN", 699},
	{"URANUS", 799},
	{"NEPTUNE", 899},
	{"PLUTO", 999},
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToUpper(name)), " ")
}

// BodyCode resolves a body name to its NAIF integer code. Kernel-defined
// NAIF_BODY_NAME/NAIF_BODY_CODE assignments take precedence over built-in
// names, later assignments over earlier ones.
func (p *Pool) BodyCode(name string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bodyCodeLocked(name)
}

func (p *Pool) bodyCodeLocked(name string) (int, bool) {
	want := normalizeName(name)
	names, _ := p.stringsLocked("NAIF_BODY_NAME")
	codes, _ := p.numbersLocked("NAIF_BODY_CODE")
	for i := min(len(names), len(codes)) - 1; i >= 0; i-- {
		if normalizeName(names[i]) == want {
			return int(codes[i]), true
		}
	}
	for _, b := range builtinBodies {
		if b.name == want {
			return b.code, true
		}
	}
	return 0, false
}

// BodyName returns the preferred name of a NAIF body code.
func (p *Pool) BodyName(code int) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bodyNameLocked(code)
}

func (p *Pool) bodyNameLocked(code int) (string, bool) {
	names, _ := p.stringsLocked("NAIF_BODY_NAME")
	codes, _ := p.numbersLocked("NAIF_BODY_CODE")
	for i := min(len(names), len(codes)) - 1; i >= 0; i-- {
		if int(codes[i]) == code {
			return normalizeName(names[i]), true
		}
	}
	for _, b := range builtinBodies {
		if b.code == code {
			return b.name, true
		}
	}
	return "", false
}
