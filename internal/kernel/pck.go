package kernel

import (
	"fmt"
	"math"
	"strconv"
)

const (
	secondsPerDay     = 86400.0
	secondsPerCentury = 36525 * secondsPerDay
	deg               = math.Pi / 180
)

// bodyOrientation evaluates the IAU rotation model BODY<id>_POLE_RA,
// BODY<id>_POLE_DEC and BODY<id>_PM at et. It returns the rotation from
// the body-fixed frame to J2000 and the body's angular velocity expressed
// in J2000.
//
// Binary PCK data for the body, when loaded and covering et, takes
// precedence over the text constants.
func (p *Pool) bodyOrientationLocked(body int, et float64) (Mat3, Vec3, error) {
	for i := len(p.pcks) - 1; i >= 0; i-- {
		if seg := p.pcks[i]; seg.targetID == body && seg.covers(et) {
			return binaryOrientation(seg, et)
		}
	}
	prefix := "BODY" + strconv.Itoa(body) + "_"
	ra, okRA := p.numbersLocked(prefix + "POLE_RA")
	dec, okDec := p.numbersLocked(prefix + "POLE_DEC")
	pm, okPM := p.numbersLocked(prefix + "PM")
	if !okRA || !okDec || !okPM {
		return Mat3{}, Vec3{}, fmt.Errorf("%w: orientation constants for body %d", ErrNotFound, body)
	}

	t := et / secondsPerCentury
	d := et / secondsPerDay
	raV, raR := polyRate(ra, t, secondsPerCentury)
	decV, decR := polyRate(dec, t, secondsPerCentury)
	wV, wR := polyRate(pm, d, secondsPerDay)

	nutRA, _ := p.numbersLocked(prefix + "NUT_PREC_RA")
	nutDec, _ := p.numbersLocked(prefix + "NUT_PREC_DEC")
	nutPM, _ := p.numbersLocked(prefix + "NUT_PREC_PM")
	if len(nutRA)+len(nutDec)+len(nutPM) > 0 {
		bary := body
		if body >= 100 && body < 1000 {
			bary = body / 100
		}
		angles, ok := p.numbersLocked("BODY" + strconv.Itoa(bary) + "_NUT_PREC_ANGLES")
		if !ok || len(angles)%2 != 0 {
			return Mat3{}, Vec3{}, fmt.Errorf("%w: BODY%d_NUT_PREC_ANGLES", ErrNotFound, bary)
		}
		for i := 0; 2*i+1 < len(angles); i++ {
			theta := angles[2*i] + angles[2*i+1]*t
			thetaRate := angles[2*i+1] / secondsPerCentury
			s, c := math.Sincos(theta * deg)
			if i < len(nutRA) {
				raV += nutRA[i] * s
				raR += nutRA[i] * c * thetaRate * deg
			}
			if i < len(nutDec) {
				decV += nutDec[i] * c
				decR -= nutDec[i] * s * thetaRate * deg
			}
			if i < len(nutPM) {
				wV += nutPM[i] * s
				wR += nutPM[i] * c * thetaRate * deg
			}
		}
	}

	raRad, decRad, wRad := raV*deg, decV*deg, math.Mod(wV, 360)*deg
	toJ, omega := eulerToInertial(math.Pi/2+raRad, math.Pi/2-decRad, wRad, raR*deg, -decR*deg, wR*deg)

	ref := frameJ2000
	if v, ok := p.numberLocked(prefix + "CONSTANTS_REF_FRAME"); ok {
		ref = int(v)
	}
	return inertialChain(ref, toJ, omega)
}

// eulerToInertial turns 3-1-3 angles, inertial to body-fixed as
// R3(w) R1(delta) R3(phi), and their rates into the body-fixed to inertial
// rotation and the angular velocity in the inertial frame.
func eulerToInertial(phi, delta, w, phiDot, deltaDot, wDot float64) (Mat3, Vec3) {
	toBody := Rotate(w, 3).Mul(Rotate(delta, 1)).Mul(Rotate(phi, 3))
	sp, cp := math.Sincos(phi)
	sd, cd := math.Sincos(delta)
	node := Vec3{cp, sp, 0}
	pole := Vec3{sd * sp, -sd * cp, cd}
	omega := Vec3{0, 0, phiDot}.Add(node.Scale(deltaDot)).Add(pole.Scale(wDot))
	return toBody.Transpose(), omega
}

// inertialChain re-expresses an orientation relative to the inertial frame
// ref in J2000.
func inertialChain(ref int, rot Mat3, omega Vec3) (Mat3, Vec3, error) {
	if ref == frameJ2000 {
		return rot, omega, nil
	}
	refRot, err := inertialToJ2000(ref)
	if err != nil {
		return Mat3{}, Vec3{}, err
	}
	return refRot.Mul(rot), refRot.MulVec(omega), nil
}

func (p *Pool) furnishBinaryPCK(path string) error {
	d, err := openDAF(path)
	if err != nil {
		return err
	}
	if d.nd != 2 || d.ni != 5 {
		d.Close()
		return fmt.Errorf("%s: %w: DAF with ND=%d NI=%d is not a binary PCK", path, ErrUnsupported, d.nd, d.ni)
	}
	sums, err := d.summaries()
	if err != nil {
		d.Close()
		return fmt.Errorf("%s: %w", path, err)
	}

	var loaded []*chebyshevSegment
	for _, sum := range sums {
		seg := &spkSegment{
			d:         d,
			start:     sum.dc[0],
			stop:      sum.dc[1],
			targetID:  int(sum.ic[0]),
			frameID:   int(sum.ic[1]),
			dataType:  int(sum.ic[2]),
			beginAddr: int(sum.ic[3]),
			endAddr:   int(sum.ic[4]),
		}
		if seg.dataType != 2 && seg.dataType != 3 {
			d.Close()
			return fmt.Errorf("%s: frame %d: %w: PCK data type %d", path, seg.targetID, ErrUnsupported, seg.dataType)
		}
		c, err := newChebyshevSegment(seg)
		if err != nil {
			d.Close()
			return fmt.Errorf("%s: frame %d: %w", path, seg.targetID, err)
		}
		loaded = append(loaded, c)
	}
	p.pcks = append(p.pcks, loaded...)
	p.dafs = append(p.dafs, d)
	p.files = append(p.files, LoadedFile{Path: path, Kind: KindPCK, Segments: len(loaded)})
	return nil
}

// binaryOrientation evaluates a binary PCK segment. Its three components are
// the Euler angles phi, delta and w in radians.
func binaryOrientation(seg *chebyshevSegment, et float64) (Mat3, Vec3, error) {
	a, err := seg.state(et)
	if err != nil {
		return Mat3{}, Vec3{}, err
	}
	rot, omega := eulerToInertial(a.Pos[0], a.Pos[1], a.Pos[2], a.Vel[0], a.Vel[1], a.Vel[2])
	return inertialChain(seg.frameID, rot, omega)
}

// polyRate evaluates c0 + c1*x + c2*x^2 and its rate per second, where x
// advances by one per unit seconds.
func polyRate(c []float64, x, unit float64) (float64, float64) {
	var v, r float64
	for i := len(c) - 1; i >= 0; i-- {
		v = v*x + c[i]
	}
	for i := len(c) - 1; i >= 1; i-- {
		r = r*x + float64(i)*c[i]
	}
	return v, r / unit
}
