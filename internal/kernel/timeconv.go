package kernel

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// leapTable holds the DELTET variables of a leapseconds kernel.
type leapTable struct {
	deltaTA float64
	k       float64
	eb      float64
	m0, m1  float64
	// deltaAT[i] applies from utcStart[i] (seconds past J2000, midnight).
	deltaAT  []float64
	utcStart []float64
}

func (p *Pool) leapTableLocked() (*leapTable, error) {
	get := func(name string) (float64, error) {
		v, ok := p.numberLocked(name)
		if !ok {
			return 0, fmt.Errorf("%w: %s (no leapseconds kernel loaded)", ErrNotFound, name)
		}
		return v, nil
	}
	var lt leapTable
	var err error
	if lt.deltaTA, err = get("DELTET/DELTA_T_A"); err != nil {
		return nil, err
	}
	if lt.k, err = get("DELTET/K"); err != nil {
		return nil, err
	}
	if lt.eb, err = get("DELTET/EB"); err != nil {
		return nil, err
	}
	m, ok := p.numbersLocked("DELTET/M")
	if !ok || len(m) != 2 {
		return nil, fmt.Errorf("%w: DELTET/M", ErrNotFound)
	}
	lt.m0, lt.m1 = m[0], m[1]
	pairs, ok := p.numbersLocked("DELTET/DELTA_AT")
	if !ok || len(pairs) < 2 || len(pairs)%2 != 0 {
		return nil, fmt.Errorf("%w: DELTET/DELTA_AT", ErrNotFound)
	}
	for i := 0; i < len(pairs); i += 2 {
		lt.deltaAT = append(lt.deltaAT, pairs[i])
		lt.utcStart = append(lt.utcStart, pairs[i+1])
	}
	return &lt, nil
}

// deltaATAt returns TAI-UTC in effect at the UTC day starting at dayStart.
func (lt *leapTable) deltaATAt(dayStart float64) float64 {
	out := lt.deltaAT[0]
	for i, start := range lt.utcStart {
		if dayStart < start {
			break
		}
		out = lt.deltaAT[i]
	}
	return out
}

// tdtToET applies the periodic TDB-TDT term.
func (lt *leapTable) tdtToET(tdt float64) float64 {
	m := lt.m0 + lt.m1*tdt
	e := m + lt.eb*math.Sin(m)
	return tdt + lt.k*math.Sin(e)
}

func (lt *leapTable) etToTDT(et float64) float64 {
	tdt := et
	for i := 0; i < 4; i++ {
		tdt = et - (lt.tdtToET(tdt) - tdt)
	}
	return tdt
}

// StrToET converts a UTC calendar string to ephemeris time (TDB seconds
// past J2000). A leapseconds kernel must be loaded.
func (p *Pool) StrToET(s string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lt, err := p.leapTableLocked()
	if err != nil {
		return 0, err
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "Z")
	days, sec, err := splitCalendar(s)
	if err != nil {
		return 0, fmt.Errorf("parse time %q: %w", s, err)
	}
	dayStart := days * 86400
	tai := dayStart + sec + lt.deltaATAt(dayStart)
	return lt.tdtToET(tai + lt.deltaTA), nil
}

// ETToUTC converts ephemeris time to UTC seconds past J2000 on a uniform
// day scale. Epochs inside a leap second map onto the following second.
func (p *Pool) ETToUTC(et float64) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.etToUTCLocked(et)
}

func (p *Pool) etToUTCLocked(et float64) (float64, error) {
	lt, err := p.leapTableLocked()
	if err != nil {
		return 0, err
	}
	tai := lt.etToTDT(et) - lt.deltaTA
	dat := lt.deltaAT[0]
	for i, start := range lt.utcStart {
		if tai < start+lt.deltaAT[i] {
			break
		}
		dat = lt.deltaAT[i]
	}
	return tai - dat, nil
}

// ETToCalendar formats et as an ISO UTC calendar string with millisecond
// precision.
func (p *Pool) ETToCalendar(et float64) (string, error) {
	utc, err := p.ETToUTC(et)
	if err != nil {
		return "", err
	}
	whole := math.Floor(utc)
	ms := int64(math.Round((utc - whole) * 1000))
	t := time.Unix(int64(whole)+j2000Unix, ms*int64(time.Millisecond)).UTC()
	return t.Format("2006-01-02T15:04:05.000"), nil
}

// utcToETApprox converts without a leapseconds kernel when none is loaded,
// assuming the TAI-UTC offset in force since 2017.
func (p *Pool) utcToETApprox(utc float64) float64 {
	lt, err := p.leapTableLocked()
	if err != nil {
		return utc + 37 + 32.184
	}
	dayStart := math.Floor((utc+43200)/86400)*86400 - 43200
	return lt.tdtToET(utc + lt.deltaATAt(dayStart) + lt.deltaTA)
}
