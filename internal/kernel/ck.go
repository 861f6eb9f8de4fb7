package kernel

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// errNoPointing means a CK segment spans the epoch but holds no pointing
// for it; earlier segments may still.
var errNoPointing = errors.New("no pointing at epoch")

// ckSegment holds the descriptor fields shared by every CK data type.
// Times are encoded spacecraft clock ticks.
type ckSegment struct {
	d         *dafFile
	start     float64
	stop      float64
	inst      int
	ref       int
	dataType  int
	hasAV     bool
	beginAddr int
	endAddr   int
}

// ckSource evaluates the pointing of an instrument. orientation returns the
// rotation from the instrument frame to the segment's reference frame and
// the angular velocity of the instrument in the reference frame, in rad/s.
type ckSource interface {
	segment() *ckSegment
	orientation(ticks float64, clock *sclkClock) (Mat3, Vec3, error)
}

func (s *ckSegment) segment() *ckSegment { return s }

func (p *Pool) furnishCK(path string) error {
	d, err := openDAF(path)
	if err != nil {
		return err
	}
	if d.nd != 2 || d.ni != 6 {
		d.Close()
		return fmt.Errorf("%s: %w: DAF with ND=%d NI=%d is not a CK", path, ErrUnsupported, d.nd, d.ni)
	}
	sums, err := d.summaries()
	if err != nil {
		d.Close()
		return fmt.Errorf("%s: %w", path, err)
	}

	var loaded []ckSource
	for _, sum := range sums {
		seg := &ckSegment{
			d:         d,
			start:     sum.dc[0],
			stop:      sum.dc[1],
			inst:      int(sum.ic[0]),
			ref:       int(sum.ic[1]),
			dataType:  int(sum.ic[2]),
			hasAV:     sum.ic[3] == 1,
			beginAddr: int(sum.ic[4]),
			endAddr:   int(sum.ic[5]),
		}
		var src ckSource
		switch seg.dataType {
		case 2:
			src, err = newCK2Segment(seg)
		case 3:
			src, err = newCK3Segment(seg)
		default:
			err = fmt.Errorf("%w: CK data type %d", ErrUnsupported, seg.dataType)
		}
		if err != nil {
			d.Close()
			return fmt.Errorf("%s: instrument %d: %w", path, seg.inst, err)
		}
		loaded = append(loaded, src)
	}
	p.cks = append(p.cks, loaded...)
	p.dafs = append(p.dafs, d)
	p.files = append(p.files, LoadedFile{Path: path, Kind: KindCK, Segments: len(loaded)})
	return nil
}

// ckFrameLocked returns the rotation from a class 3 frame to J2000 and its
// angular velocity in J2000. The latest loaded segment with pointing at et
// wins.
func (p *Pool) ckFrameLocked(info FrameInfo, et float64, depth int) (Mat3, Vec3, error) {
	clock, err := p.sclkLocked(p.ckClockLocked(info.ClassID))
	if err != nil {
		return Mat3{}, Vec3{}, fmt.Errorf("frame %s: %w", info.Name, err)
	}
	par, err := p.etToParallelLocked(clock, et)
	if err != nil {
		return Mat3{}, Vec3{}, err
	}
	ticks := clock.ticks(par)

	for i := len(p.cks) - 1; i >= 0; i-- {
		seg := p.cks[i].segment()
		if seg.inst != info.ClassID || ticks < seg.start || ticks > seg.stop {
			continue
		}
		toRef, av, err := p.cks[i].orientation(ticks, clock)
		if errors.Is(err, errNoPointing) {
			continue
		}
		if err != nil {
			return Mat3{}, Vec3{}, fmt.Errorf("frame %s: %w", info.Name, err)
		}
		refRot, refOmega, err := p.toJ2000Locked(seg.ref, et, depth+1)
		if err != nil {
			return Mat3{}, Vec3{}, err
		}
		return refRot.Mul(toRef), refOmega.Add(refRot.MulVec(av)), nil
	}
	return Mat3{}, Vec3{}, fmt.Errorf("%w: no pointing for %s (instrument %d) at %.3f", ErrNoCoverage, info.Name, info.ClassID, et)
}

// ck2Segment evaluates CK type 2: intervals of constant angular velocity.
// Each record is a quaternion, an angular velocity and a seconds-per-tick
// rate, valid from its start tick to its stop tick.
type ck2Segment struct {
	*ckSegment
	starts []float64
	stops  []float64
}

func newCK2Segment(seg *ckSegment) (*ck2Segment, error) {
	size := seg.endAddr - seg.beginAddr + 1
	n := size / 10
	for n > 0 && 10*n+(n-1)/100 > size {
		n--
	}
	if n < 1 || 10*n+(n-1)/100 != size {
		return nil, fmt.Errorf("corrupt type 2 array of %d words", size)
	}
	starts, err := seg.d.readDoubles(seg.beginAddr+8*n, n)
	if err != nil {
		return nil, err
	}
	stops, err := seg.d.readDoubles(seg.beginAddr+9*n, n)
	if err != nil {
		return nil, err
	}
	return &ck2Segment{ckSegment: seg, starts: starts, stops: stops}, nil
}

func (s *ck2Segment) orientation(ticks float64, _ *sclkClock) (Mat3, Vec3, error) {
	i := sort.Search(len(s.starts), func(i int) bool { return s.starts[i] > ticks }) - 1
	if i < 0 || ticks > s.stops[i] {
		return Mat3{}, Vec3{}, errNoPointing
	}
	rec, err := s.d.readDoubles(s.beginAddr+8*i, 8)
	if err != nil {
		return Mat3{}, Vec3{}, err
	}
	base := QuaternionToMatrix(Quaternion{rec[0], rec[1], rec[2], rec[3]}).Transpose()
	av := Vec3{rec[4], rec[5], rec[6]}
	angle := (ticks - s.starts[i]) * rec[7] * av.Norm()
	return axisRotation(av, angle).Mul(base), av, nil
}

// ck3Segment evaluates CK type 3: discrete pointing instances, linearly
// interpolated within interpolation intervals.
type ck3Segment struct {
	*ckSegment
	rsize  int
	epochs []float64
	starts []float64
}

func newCK3Segment(seg *ckSegment) (*ck3Segment, error) {
	meta, err := seg.d.readDoubles(seg.endAddr-1, 2)
	if err != nil {
		return nil, err
	}
	nints, n := int(meta[0]), int(meta[1])
	rsize := 4
	if seg.hasAV {
		rsize = 7
	}
	if n < 1 || nints < 1 || nints > n {
		return nil, fmt.Errorf("corrupt type 3 trailer")
	}
	epochs, err := seg.d.readDoubles(seg.beginAddr+rsize*n, n)
	if err != nil {
		return nil, err
	}
	starts, err := seg.d.readDoubles(seg.beginAddr+rsize*n+n+(n-1)/100, nints)
	if err != nil {
		return nil, err
	}
	return &ck3Segment{ckSegment: seg, rsize: rsize, epochs: epochs, starts: starts}, nil
}

// interval returns the interpolation interval holding instance k.
func (s *ck3Segment) interval(k int) int {
	return sort.Search(len(s.starts), func(i int) bool { return s.starts[i] > s.epochs[k] }) - 1
}

func (s *ck3Segment) orientation(ticks float64, clock *sclkClock) (Mat3, Vec3, error) {
	n := len(s.epochs)
	if ticks < s.epochs[0] || ticks > s.epochs[n-1] {
		return Mat3{}, Vec3{}, errNoPointing
	}
	hi := sort.SearchFloat64s(s.epochs, ticks)
	lo := hi - 1
	if s.epochs[hi] == ticks {
		// On an instance: pair it with a neighbour in the same interval so
		// the rate is still defined.
		switch {
		case hi+1 < n && s.interval(hi+1) == s.interval(hi):
			lo, hi = hi, hi+1
		case hi > 0 && s.interval(hi-1) == s.interval(hi):
			lo = hi - 1
		default:
			lo = hi
		}
	}
	if lo < 0 || s.interval(lo) != s.interval(hi) {
		return Mat3{}, Vec3{}, errNoPointing
	}

	first, err := s.d.readDoubles(s.beginAddr+lo*s.rsize, s.rsize)
	if err != nil {
		return Mat3{}, Vec3{}, err
	}
	a1 := QuaternionToMatrix(Quaternion{first[0], first[1], first[2], first[3]}).Transpose()
	if lo == hi {
		var av Vec3
		if s.hasAV {
			av = Vec3{first[4], first[5], first[6]}
		}
		return a1, av, nil
	}
	second, err := s.d.readDoubles(s.beginAddr+hi*s.rsize, s.rsize)
	if err != nil {
		return Mat3{}, Vec3{}, err
	}
	a2 := QuaternionToMatrix(Quaternion{second[0], second[1], second[2], second[3]}).Transpose()

	span := s.epochs[hi] - s.epochs[lo]
	frac := (ticks - s.epochs[lo]) / span
	axis, angle := rotationAxisAngle(a2.Mul(a1.Transpose()))
	rot := axisRotation(axis, frac*angle).Mul(a1)

	if s.hasAV {
		av1 := Vec3{first[4], first[5], first[6]}
		av2 := Vec3{second[4], second[5], second[6]}
		return rot, av1.Add(av2.Sub(av1).Scale(frac)), nil
	}
	seconds := span * clock.secondsPerTick(s.epochs[lo])
	if seconds <= 0 {
		return rot, Vec3{}, nil
	}
	return rot, axis.Scale(angle / seconds), nil
}

// axisRotation returns the matrix that rotates vectors by angle radians
// about axis.
func axisRotation(axis Vec3, angle float64) Mat3 {
	k := axis.Unit()
	if k == (Vec3{}) || angle == 0 {
		return Identity()
	}
	s, c := math.Sincos(angle / 2)
	return QuaternionToMatrix(Quaternion{c, s * k[0], s * k[1], s * k[2]})
}

// rotationAxisAngle returns the unit axis and the angle in [0, pi] of a
// rotation matrix.
func rotationAxisAngle(m Mat3) (Vec3, float64) {
	q := MatrixToQuaternion(m)
	v := Vec3{q[1], q[2], q[3]}
	n := v.Norm()
	if n == 0 {
		return Vec3{}, 0
	}
	return v.Scale(1 / n), 2 * math.Atan2(n, q[0])
}
