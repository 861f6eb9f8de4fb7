package kernel

import (
	"fmt"
	"math"
	"strings"
)

// SpeedOfLight in km/s.
const SpeedOfLight = 299792.458

const maxChainDepth = 64

// Aberration correction identifiers accepted by StateJ2000.
const (
	CorrectionNone      = "NONE"
	CorrectionLT        = "LT"
	CorrectionLTStellar = "LT+S"
)

// StateJ2000 returns the state of target relative to observer in the J2000
// frame at et, together with the one-way light time. abcorr selects the
// aberration correction: NONE, LT or LT+S.
func (p *Pool) StateJ2000(target, observer int, et float64, abcorr string) (State, float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	corr := strings.ToUpper(strings.ReplaceAll(abcorr, " ", ""))
	geo, err := p.relativeLocked(target, et, observer, et)
	if err != nil {
		return State{}, 0, err
	}
	lt := geo.Pos.Norm() / SpeedOfLight

	switch corr {
	case CorrectionNone:
		return geo, lt, nil
	case CorrectionLT, CorrectionLTStellar:
	default:
		return State{}, 0, fmt.Errorf("%w: aberration correction %q", ErrUnsupported, abcorr)
	}

	obs, err := p.chainLocked(observer, et)
	if err != nil {
		return State{}, 0, err
	}
	// One light-time iteration.
	tgt, err := p.chainLocked(target, et-lt)
	if err != nil {
		return State{}, 0, err
	}
	node, ok := commonNode(tgt, obs)
	if !ok {
		return State{}, 0, noCoverage(target, observer, et)
	}
	rel := tgt.rel[node].Sub(obs.rel[node])
	tgtVel := tgt.rel[node].Vel
	lt = rel.Pos.Norm() / SpeedOfLight

	dlt := 0.0
	if r := rel.Pos.Norm(); r > 0 {
		dlt = rel.Pos.Dot(rel.Vel) / (r * SpeedOfLight)
	}
	obsVel := tgtVel.Sub(rel.Vel)
	rel.Vel = tgtVel.Scale(1 - dlt).Sub(obsVel)

	if corr == CorrectionLTStellar {
		ssbObs, ok := obs.rel[0]
		if !ok {
			return State{}, 0, fmt.Errorf("%w: stellar aberration needs the state of %d relative to the solar system barycenter", ErrNoCoverage, observer)
		}
		rel.Pos = stellarAberration(rel.Pos, ssbObs.Vel)
	}
	return rel, lt, nil
}

// stellarAberration corrects pos for the observer's velocity vobs
// relative to the solar system barycenter.
func stellarAberration(pos, vobs Vec3) Vec3 {
	u := pos.Unit()
	h := u.Cross(vobs.Scale(1 / SpeedOfLight))
	sinPhi := h.Norm()
	if sinPhi == 0 {
		return pos
	}
	if sinPhi > 1 {
		sinPhi = 1
	}
	return RotateVector(pos, h, math.Asin(sinPhi))
}

// chain records, for each ancestor reached by following ephemeris centers
// from a body, the state of that body relative to the ancestor.
type chain struct {
	rel   map[int]State
	order []int
}

func (p *Pool) relativeLocked(target int, etT float64, observer int, etO float64) (State, error) {
	if target == observer && etT == etO {
		return State{}, nil
	}
	tgt, err := p.chainLocked(target, etT)
	if err != nil {
		return State{}, err
	}
	obs, err := p.chainLocked(observer, etO)
	if err != nil {
		return State{}, err
	}
	node, ok := commonNode(tgt, obs)
	if !ok {
		return State{}, noCoverage(target, observer, etT)
	}
	return tgt.rel[node].Sub(obs.rel[node]), nil
}

func commonNode(a, b chain) (int, bool) {
	for _, n := range b.order {
		if _, ok := a.rel[n]; ok {
			return n, true
		}
	}
	return 0, false
}

func noCoverage(target, observer int, et float64) error {
	return fmt.Errorf("%w: state of %d relative to %d at ET %.6f", ErrNoCoverage, target, observer, et)
}

// chainLocked follows the highest-priority covering source from body to
// its center until no source remains.
func (p *Pool) chainLocked(body int, et float64) (chain, error) {
	c := chain{rel: map[int]State{body: {}}, order: []int{body}}
	var acc State
	cur := body
	for depth := 0; depth < maxChainDepth; depth++ {
		st, center, found, err := p.sourceStateLocked(cur, et)
		if err != nil {
			return chain{}, err
		}
		if !found {
			return c, nil
		}
		acc = acc.Add(st)
		cur = center
		if _, seen := c.rel[cur]; seen {
			return chain{}, fmt.Errorf("ephemeris centers of %d form a cycle", body)
		}
		c.rel[cur] = acc
		c.order = append(c.order, cur)
	}
	return chain{}, fmt.Errorf("ephemeris chain of %d too deep", body)
}

// sourceStateLocked evaluates the most recently loaded source for body that
// covers et and returns its state in J2000 relative to the source center.
func (p *Pool) sourceStateLocked(body int, et float64) (State, int, bool, error) {
	for i := len(p.sources) - 1; i >= 0; i-- {
		src := p.sources[i]
		if src.target() != body || !src.covers(et) {
			continue
		}
		st, err := src.state(et)
		if err != nil {
			return State{}, 0, false, fmt.Errorf("state of %d relative to %d: %w", body, src.center(), err)
		}
		if f := src.frame(); f != frameJ2000 {
			rot, omega, err := p.toJ2000Locked(f, et, 0)
			if err != nil {
				return State{}, 0, false, err
			}
			pos := rot.MulVec(st.Pos)
			st = State{Pos: pos, Vel: rot.MulVec(st.Vel).Add(omega.Cross(pos))}
		}
		return st, src.center(), true, nil
	}
	return State{}, 0, false, nil
}
