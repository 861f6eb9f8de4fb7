package kernel

import (
	"fmt"
	"math"
	"sort"
)

// source supplies the state of one body relative to another over a time
// span. States are expressed in the source's reference frame.
type source interface {
	target() int
	center() int
	frame() int
	covers(et float64) bool
	state(et float64) (State, error)
}

// spkSegment holds the descriptor fields shared by every SPK data type.
type spkSegment struct {
	d         *dafFile
	start     float64
	stop      float64
	targetID  int
	centerID  int
	frameID   int
	dataType  int
	beginAddr int
	endAddr   int
}

func (s *spkSegment) target() int { return s.targetID }
func (s *spkSegment) center() int { return s.centerID }
func (s *spkSegment) frame() int  { return s.frameID }
func (s *spkSegment) covers(et float64) bool {
	return et >= s.start && et <= s.stop
}

func (p *Pool) furnishSPK(path string) error {
	d, err := openDAF(path)
	if err != nil {
		return err
	}
	if d.nd != 2 || d.ni != 6 {
		d.Close()
		return fmt.Errorf("%s: %w: DAF with ND=%d NI=%d is not an SPK", path, ErrUnsupported, d.nd, d.ni)
	}
	sums, err := d.summaries()
	if err != nil {
		d.Close()
		return fmt.Errorf("%s: %w", path, err)
	}

	var loaded []source
	for _, sum := range sums {
		seg := &spkSegment{
			d:         d,
			start:     sum.dc[0],
			stop:      sum.dc[1],
			targetID:  int(sum.ic[0]),
			centerID:  int(sum.ic[1]),
			frameID:   int(sum.ic[2]),
			dataType:  int(sum.ic[3]),
			beginAddr: int(sum.ic[4]),
			endAddr:   int(sum.ic[5]),
		}
		src, err := newSPKSource(seg)
		if err != nil {
			d.Close()
			return fmt.Errorf("%s: segment %d->%d: %w", path, seg.targetID, seg.centerID, err)
		}
		loaded = append(loaded, src)
	}
	p.sources = append(p.sources, loaded...)
	p.dafs = append(p.dafs, d)
	p.files = append(p.files, LoadedFile{Path: path, Kind: KindSPK, Segments: len(loaded)})
	return nil
}

func newSPKSource(seg *spkSegment) (source, error) {
	switch seg.dataType {
	case 2, 3:
		return newChebyshevSegment(seg)
	case 9, 13, 18:
		return newDiscreteSegment(seg)
	default:
		return nil, fmt.Errorf("%w: SPK data type %d", ErrUnsupported, seg.dataType)
	}
}

// chebyshevSegment evaluates SPK types 2 and 3: fixed-length records of
// Chebyshev coefficients. Type 2 stores position only, type 3 adds velocity.
type chebyshevSegment struct {
	*spkSegment
	init   float64
	intlen float64
	rsize  int
	n      int
}

func newChebyshevSegment(seg *spkSegment) (*chebyshevSegment, error) {
	trailer, err := seg.d.readDoubles(seg.endAddr-3, 4)
	if err != nil {
		return nil, err
	}
	c := &chebyshevSegment{
		spkSegment: seg,
		init:       trailer[0],
		intlen:     trailer[1],
		rsize:      int(trailer[2]),
		n:          int(trailer[3]),
	}
	comps := 3
	if seg.dataType == 3 {
		comps = 6
	}
	if c.n < 1 || c.intlen <= 0 || c.rsize < 2+comps || (c.rsize-2)%comps != 0 {
		return nil, fmt.Errorf("corrupt type %d trailer", seg.dataType)
	}
	return c, nil
}

func (c *chebyshevSegment) state(et float64) (State, error) {
	idx := int(math.Floor((et - c.init) / c.intlen))
	if idx < 0 {
		idx = 0
	}
	if idx >= c.n {
		idx = c.n - 1
	}
	rec, err := c.d.readDoubles(c.beginAddr+idx*c.rsize, c.rsize)
	if err != nil {
		return State{}, err
	}
	mid, radius := rec[0], rec[1]
	if radius <= 0 {
		return State{}, fmt.Errorf("record %d has radius %g", idx, radius)
	}
	x := (et - mid) / radius
	coeffs := rec[2:]

	var st State
	if c.dataType == 2 {
		ncoef := len(coeffs) / 3
		for i := 0; i < 3; i++ {
			v, dv := chebyshev(coeffs[i*ncoef:(i+1)*ncoef], x)
			st.Pos[i] = v
			st.Vel[i] = dv / radius
		}
		return st, nil
	}
	ncoef := len(coeffs) / 6
	for i := 0; i < 3; i++ {
		st.Pos[i], _ = chebyshev(coeffs[i*ncoef:(i+1)*ncoef], x)
		st.Vel[i], _ = chebyshev(coeffs[(i+3)*ncoef:(i+4)*ncoef], x)
	}
	return st, nil
}

// chebyshev evaluates sum(c[k]*T_k(x)) and its derivative with respect to x.
func chebyshev(c []float64, x float64) (float64, float64) {
	var t0, t1 = 1.0, x
	var d0, d1 = 0.0, 1.0
	val := c[0] * t0
	der := 0.0
	if len(c) > 1 {
		val += c[1] * t1
		der += c[1] * d1
	}
	for k := 2; k < len(c); k++ {
		t2 := 2*x*t1 - t0
		d2 := 2*t1 + 2*x*d1 - d0
		val += c[k] * t2
		der += c[k] * d2
		t0, t1 = t1, t2
		d0, d1 = d1, d2
	}
	return val, der
}

// discreteSegment evaluates SPK types 9 (Lagrange), 13 (Hermite) and 18
// over unequally spaced discrete states. Type 18 packets are either Hermite
// (position, its derivative, velocity, its derivative) or Lagrange (position
// and velocity), selected by subtype.
type discreteSegment struct {
	*spkSegment
	window  int
	packet  int
	hermite bool
	epochs  []float64
}

func newDiscreteSegment(seg *spkSegment) (*discreteSegment, error) {
	s := &discreteSegment{spkSegment: seg, packet: 6, hermite: seg.dataType == 13}
	var n int
	if seg.dataType == 18 {
		meta, err := seg.d.readDoubles(seg.endAddr-2, 3)
		if err != nil {
			return nil, err
		}
		switch int(meta[0]) {
		case 0:
			s.packet, s.hermite = 12, true
		case 1:
		default:
			return nil, fmt.Errorf("%w: type 18 subtype %d", ErrUnsupported, int(meta[0]))
		}
		s.window, n = int(meta[1]), int(meta[2])
	} else {
		meta, err := seg.d.readDoubles(seg.endAddr-1, 2)
		if err != nil {
			return nil, err
		}
		s.window, n = int(meta[0])+1, int(meta[1])
	}
	if n < 2 || s.window < 2 {
		return nil, fmt.Errorf("corrupt type %d trailer", seg.dataType)
	}
	if s.window > n {
		s.window = n
	}
	epochs, err := seg.d.readDoubles(seg.beginAddr+s.packet*n, n)
	if err != nil {
		return nil, err
	}
	s.epochs = epochs
	return s, nil
}

func (s *discreteSegment) state(et float64) (State, error) {
	n := len(s.epochs)
	near := sort.SearchFloat64s(s.epochs, et)
	first := near - s.window/2
	if first < 0 {
		first = 0
	}
	if first > n-s.window {
		first = n - s.window
	}
	raw, err := s.d.readDoubles(s.beginAddr+s.packet*first, s.packet*s.window)
	if err != nil {
		return State{}, err
	}
	xs := s.epochs[first : first+s.window]

	var st State
	col := make([]float64, s.window)
	dcol := make([]float64, s.window)
	for comp := 0; comp < 3; comp++ {
		for i := 0; i < s.window; i++ {
			col[i] = raw[s.packet*i+comp]
			dcol[i] = raw[s.packet*i+comp+3]
		}
		switch {
		case !s.hermite:
			st.Pos[comp] = lagrange(xs, col, et)
			st.Vel[comp] = lagrange(xs, dcol, et)
		case s.packet == 12:
			st.Pos[comp], _ = hermite(xs, col, dcol, et)
			acc := make([]float64, s.window)
			for i := 0; i < s.window; i++ {
				col[i] = raw[s.packet*i+comp+6]
				acc[i] = raw[s.packet*i+comp+9]
			}
			st.Vel[comp], _ = hermite(xs, col, acc, et)
		default:
			st.Pos[comp], st.Vel[comp] = hermite(xs, col, dcol, et)
		}
	}
	return st, nil
}

// lagrange evaluates the interpolating polynomial through (xs, ys) at x
// using Neville's algorithm.
func lagrange(xs, ys []float64, x float64) float64 {
	p := make([]float64, len(ys))
	copy(p, ys)
	for k := 1; k < len(xs); k++ {
		for i := 0; i < len(xs)-k; i++ {
			p[i] = ((x-xs[i+k])*p[i] + (xs[i]-x)*p[i+1]) / (xs[i] - xs[i+k])
		}
	}
	return p[0]
}

// hermite evaluates the Hermite interpolating polynomial matching values ys
// and derivatives dys at xs, returning the value and derivative at x.
func hermite(xs, ys, dys []float64, x float64) (float64, float64) {
	n := 2 * len(xs)
	z := make([]float64, n)
	q := make([]float64, n)
	for i := range xs {
		z[2*i], z[2*i+1] = xs[i], xs[i]
		q[2*i], q[2*i+1] = ys[i], ys[i]
	}
	// q[k] ends up as the divided difference f[z0..zk].
	prev := make([]float64, n)
	copy(prev, q)
	for k := 1; k < n; k++ {
		next := make([]float64, n-k)
		for i := 0; i < n-k; i++ {
			if k == 1 && i%2 == 0 {
				next[i] = dys[i/2]
				continue
			}
			next[i] = (prev[i+1] - prev[i]) / (z[i+k] - z[i])
		}
		q[k] = next[0]
		prev = next
	}

	// Horner evaluation of the Newton form and its derivative.
	val := q[n-1]
	der := 0.0
	for k := n - 2; k >= 0; k-- {
		der = der*(x-z[k]) + val
		val = val*(x-z[k]) + q[k]
	}
	return val, der
}
