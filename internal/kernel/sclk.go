package kernel

import (
	"fmt"
	"sort"
	"strconv"
)

// sclkClock is a type 1 spacecraft clock: a piecewise linear map between
// encoded ticks, counted from the start of the first partition, and a
// parallel time scale.
type sclkClock struct {
	id            int
	ticksPerCount float64
	tdt           bool
	// encoded tick, parallel time and seconds per most significant count,
	// sorted by tick.
	coeffs [][3]float64
}

// sclkLocked reads the SCLK kernel variables of a clock. Variable names
// carry the negated clock ID, so clock -91 reads SCLK01_COEFFICIENTS_91.
func (p *Pool) sclkLocked(clock int) (*sclkClock, error) {
	suffix := "_" + strconv.Itoa(-clock)
	if t, ok := p.numberLocked("SCLK_DATA_TYPE" + suffix); ok && int(t) != 1 {
		return nil, fmt.Errorf("%w: SCLK data type %d for clock %d", ErrUnsupported, int(t), clock)
	}
	raw, ok := p.numbersLocked("SCLK01_COEFFICIENTS" + suffix)
	if !ok || len(raw) < 3 || len(raw)%3 != 0 {
		return nil, fmt.Errorf("%w: SCLK01_COEFFICIENTS%s (no clock kernel for %d)", ErrNotFound, suffix, clock)
	}
	moduli, ok := p.numbersLocked("SCLK01_MODULI" + suffix)
	if !ok || len(moduli) == 0 {
		return nil, fmt.Errorf("%w: SCLK01_MODULI%s", ErrNotFound, suffix)
	}

	c := &sclkClock{id: clock, ticksPerCount: 1}
	for _, m := range moduli[1:] {
		if m < 1 {
			return nil, fmt.Errorf("clock %d: bad modulus %g", clock, m)
		}
		c.ticksPerCount *= m
	}
	if sys, ok := p.numberLocked("SCLK01_TIME_SYSTEM" + suffix); ok {
		switch int(sys) {
		case 1:
		case 2:
			c.tdt = true
		default:
			return nil, fmt.Errorf("%w: SCLK time system %d", ErrUnsupported, int(sys))
		}
	}
	for i := 0; i < len(raw); i += 3 {
		if raw[i+2] <= 0 {
			return nil, fmt.Errorf("clock %d: non-positive rate in coefficient record %d", clock, i/3)
		}
		c.coeffs = append(c.coeffs, [3]float64{raw[i], raw[i+1], raw[i+2]})
	}
	return c, nil
}

// ticks converts parallel time to encoded ticks.
func (c *sclkClock) ticks(par float64) float64 {
	i := sort.Search(len(c.coeffs), func(i int) bool { return c.coeffs[i][1] > par }) - 1
	if i < 0 {
		i = 0
	}
	r := c.coeffs[i]
	return r[0] + (par-r[1])*c.ticksPerCount/r[2]
}

// parallel converts encoded ticks to parallel time.
func (c *sclkClock) parallel(ticks float64) float64 {
	i := sort.Search(len(c.coeffs), func(i int) bool { return c.coeffs[i][0] > ticks }) - 1
	if i < 0 {
		i = 0
	}
	r := c.coeffs[i]
	return r[1] + (ticks-r[0])*r[2]/c.ticksPerCount
}

// secondsPerTick returns the clock rate in force at ticks.
func (c *sclkClock) secondsPerTick(ticks float64) float64 {
	i := sort.Search(len(c.coeffs), func(i int) bool { return c.coeffs[i][0] > ticks }) - 1
	if i < 0 {
		i = 0
	}
	return c.coeffs[i][2] / c.ticksPerCount
}

// ETToTicks converts ephemeris time to encoded ticks of a type 1 clock.
func (p *Pool) ETToTicks(clock int, et float64) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, err := p.sclkLocked(clock)
	if err != nil {
		return 0, err
	}
	par, err := p.etToParallelLocked(c, et)
	if err != nil {
		return 0, err
	}
	return c.ticks(par), nil
}

// TicksToET converts encoded ticks of a type 1 clock to ephemeris time.
func (p *Pool) TicksToET(clock int, ticks float64) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, err := p.sclkLocked(clock)
	if err != nil {
		return 0, err
	}
	par := c.parallel(ticks)
	if !c.tdt {
		return par, nil
	}
	lt, err := p.leapTableLocked()
	if err != nil {
		return 0, err
	}
	return lt.tdtToET(par), nil
}

func (p *Pool) etToParallelLocked(c *sclkClock, et float64) (float64, error) {
	if !c.tdt {
		return et, nil
	}
	lt, err := p.leapTableLocked()
	if err != nil {
		return 0, err
	}
	return lt.etToTDT(et), nil
}

// ckClockLocked returns the clock that time-tags pointing of a CK
// instrument: CK_<id>_SCLK when assigned, otherwise id/1000.
func (p *Pool) ckClockLocked(inst int) int {
	if v, ok := p.numberLocked("CK_" + strconv.Itoa(inst) + "_SCLK"); ok {
		return int(v)
	}
	return inst / 1000
}
