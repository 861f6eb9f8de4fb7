package kernel

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Frame classes as numbered in frame kernels.
const (
	ClassInertial = 1
	ClassPCK      = 2
	ClassCK       = 3
	ClassTK       = 4
	ClassDynamic  = 5
)

const (
	frameJ2000      = 1
	frameEclipJ2000 = 17
	// obliquity of the ecliptic at J2000 (IAU 1976), arcseconds.
	obliquityJ2000 = 84381.448
	maxFrameDepth  = 10
)

// FrameInfo describes a reference frame.
type FrameInfo struct {
	Name    string
	Code    int
	Class   int
	ClassID int
	Center  int
}

var builtinFrames = []FrameInfo{
	{Name: "J2000", Code: frameJ2000, Class: ClassInertial, ClassID: frameJ2000, Center: 0},
	{Name: "ECLIPJ2000", Code: frameEclipJ2000, Class: ClassInertial, ClassID: frameEclipJ2000, Center: 0},
	{Name: "IAU_SUN", Code: 10010, Class: ClassPCK, ClassID: 10, Center: 10},
	{Name: "IAU_MERCURY", Code: 10011, Class: ClassPCK, ClassID: 199, Center: 199},
	{Name: "IAU_VENUS", Code: 10012, Class: ClassPCK, ClassID: 299, Center: 299},
	{Name: "IAU_EARTH", Code: 10013, Class: ClassPCK, ClassID: 399, Center: 399},
	{Name: "IAU_MARS", Code: 10014, Class: ClassPCK, ClassID: 499, Center: 499},
	{Name: "IAU_JUPITER", Code: 10015, Class: ClassPCK, ClassID: 599, Center: 599},
	{Name: "IAU_SATURN", Code: 10016, Class: ClassPCK, ClassID: 699, Center: 699},
	{Name: "IAU_URANUS", Code: 10017, Class: ClassPCK, ClassID: 799, Center: 799},
	{Name: "IAU_NEPTUNE", Code: 10018, Class: ClassPCK, ClassID: 899, Center: 899},
	{Name: "IAU_PLUTO", Code: 10019, Class: ClassPCK, ClassID: 999, Center: 999},
	{Name: "IAU_MOON", Code: 10020, Class: ClassPCK, ClassID: 301, Center: 301},
	{Name: "IAU_PHOBOS", Code: 10021, Class: ClassPCK, ClassID: 401, Center: 401},
	{Name: "IAU_DEIMOS", Code: 10022, Class: ClassPCK, ClassID: 402, Center: 402},
}

func inertialToJ2000(code int) (Mat3, error) {
	switch code {
	case frameJ2000:
		return Identity(), nil
	case frameEclipJ2000:
		return Rotate(obliquityJ2000*arcsec, 1).Transpose(), nil
	default:
		return Mat3{}, fmt.Errorf("%w: inertial frame %d", ErrUnsupported, code)
	}
}

// FrameName returns the name of the frame with the given code.
func (p *Pool) FrameName(code int) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info, ok := p.frameInfoLocked(code)
	return info.Name, ok
}

// FrameCode returns the code of the named frame.
func (p *Pool) FrameCode(name string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frameCodeLocked(name)
}

func (p *Pool) frameCodeLocked(name string) (int, bool) {
	want := normalizeName(name)
	if v, ok := p.numberLocked("FRAME_" + want); ok {
		return int(v), true
	}
	for _, f := range builtinFrames {
		if f.Name == want {
			return f.Code, true
		}
	}
	return 0, false
}

func (p *Pool) frameInfoLocked(code int) (FrameInfo, bool) {
	prefix := "FRAME_" + strconv.Itoa(code) + "_"
	if names, ok := p.stringsLocked(prefix + "NAME"); ok {
		info := FrameInfo{Name: normalizeName(names[0]), Code: code, ClassID: code}
		if v, ok := p.numberLocked(prefix + "CLASS"); ok {
			info.Class = int(v)
		}
		if v, ok := p.numberLocked(prefix + "CLASS_ID"); ok {
			info.ClassID = int(v)
		}
		if v, ok := p.numberLocked(prefix + "CENTER"); ok {
			info.Center = int(v)
		} else if s, ok := p.stringsLocked(prefix + "CENTER"); ok {
			info.Center, _ = p.bodyCodeLocked(s[0])
		}
		return info, true
	}
	for _, f := range builtinFrames {
		if f.Code == code {
			return f, true
		}
	}
	return FrameInfo{}, false
}

// BodyFrame returns the body-fixed frame associated with a body: the
// OBJECT_<code>_FRAME or OBJECT_<name>_FRAME assignment when present,
// otherwise the built-in IAU frame of the body.
func (p *Pool) BodyFrame(body int) (int, string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	name, hasName := p.bodyNameLocked(body)
	keys := []string{"OBJECT_" + strconv.Itoa(body) + "_FRAME"}
	if hasName {
		keys = append(keys, "OBJECT_"+strings.ReplaceAll(name, " ", "_")+"_FRAME", "OBJECT_"+name+"_FRAME")
	}
	for _, key := range keys {
		if v, ok := p.numberLocked(key); ok {
			info, found := p.frameInfoLocked(int(v))
			if !found {
				return int(v), "", true
			}
			return info.Code, info.Name, true
		}
		if s, ok := p.stringsLocked(key); ok {
			code, found := p.frameCodeLocked(s[0])
			if !found {
				return 0, normalizeName(s[0]), false
			}
			return code, normalizeName(s[0]), true
		}
	}
	for _, f := range builtinFrames {
		if f.Class == ClassPCK && f.ClassID == body {
			return f.Code, f.Name, true
		}
	}
	return 0, "", false
}

// Rotation returns the rotation from the given frame to J2000 at et and the
// angular velocity of the frame relative to J2000, expressed in the frame.
func (p *Pool) Rotation(frame int, et float64) (Mat3, Vec3, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rot, omegaJ, err := p.toJ2000Locked(frame, et, 0)
	if err != nil {
		return Mat3{}, Vec3{}, err
	}
	return rot, rot.Transpose().MulVec(omegaJ), nil
}

// toJ2000Locked returns the rotation from frame to J2000 and the frame's
// angular velocity expressed in J2000.
func (p *Pool) toJ2000Locked(frame int, et float64, depth int) (Mat3, Vec3, error) {
	if depth > maxFrameDepth {
		return Mat3{}, Vec3{}, fmt.Errorf("frame %d: relative frame chain too deep", frame)
	}
	info, ok := p.frameInfoLocked(frame)
	if !ok {
		return Mat3{}, Vec3{}, fmt.Errorf("%w: frame %d", ErrNotFound, frame)
	}
	switch info.Class {
	case ClassInertial:
		rot, err := inertialToJ2000(info.ClassID)
		return rot, Vec3{}, err
	case ClassPCK:
		return p.bodyOrientationLocked(info.ClassID, et)
	case ClassTK:
		rel, toRel, err := p.tkFrameLocked(info)
		if err != nil {
			return Mat3{}, Vec3{}, err
		}
		relRot, omega, err := p.toJ2000Locked(rel, et, depth+1)
		if err != nil {
			return Mat3{}, Vec3{}, err
		}
		return relRot.Mul(toRel), omega, nil
	case ClassCK:
		return p.ckFrameLocked(info, et, depth)
	default:
		return Mat3{}, Vec3{}, fmt.Errorf("%w: frame %s has class %d", ErrUnsupported, info.Name, info.Class)
	}
}

// tkFrameLocked reads a fixed-offset frame definition and returns the
// relative frame code and the rotation from the TK frame to it.
func (p *Pool) tkFrameLocked(info FrameInfo) (int, Mat3, error) {
	get := func(suffix string) string {
		byCode := "TKFRAME_" + strconv.Itoa(info.ClassID) + "_" + suffix
		if _, ok := p.vars[byCode]; ok {
			return byCode
		}
		return "TKFRAME_" + info.Name + "_" + suffix
	}

	relNames, ok := p.stringsLocked(get("RELATIVE"))
	if !ok {
		return 0, Mat3{}, fmt.Errorf("%w: relative frame of %s", ErrNotFound, info.Name)
	}
	rel, ok := p.frameCodeLocked(relNames[0])
	if !ok {
		return 0, Mat3{}, fmt.Errorf("%w: frame %s", ErrNotFound, relNames[0])
	}
	specs, ok := p.stringsLocked(get("SPEC"))
	if !ok {
		return 0, Mat3{}, fmt.Errorf("%w: TK specification of %s", ErrNotFound, info.Name)
	}

	switch strings.ToUpper(specs[0]) {
	case "MATRIX":
		v, ok := p.numbersLocked(get("MATRIX"))
		if !ok || len(v) != 9 {
			return 0, Mat3{}, fmt.Errorf("%s: TK matrix needs 9 values", info.Name)
		}
		var m Mat3
		for c := 0; c < 3; c++ {
			for r := 0; r < 3; r++ {
				m[r][c] = v[c*3+r]
			}
		}
		return rel, m, nil
	case "ANGLES":
		angles, ok := p.numbersLocked(get("ANGLES"))
		axes, ok2 := p.numbersLocked(get("AXES"))
		if !ok || !ok2 || len(angles) != 3 || len(axes) != 3 {
			return 0, Mat3{}, fmt.Errorf("%s: TK angles need 3 angles and 3 axes", info.Name)
		}
		scale := deg
		if units, ok := p.stringsLocked(get("UNITS")); ok {
			switch strings.ToUpper(units[0]) {
			case "RADIANS":
				scale = 1
			case "DEGREES":
				scale = deg
			case "ARCMINUTES":
				scale = deg / 60
			case "ARCSECONDS":
				scale = arcsec
			default:
				return 0, Mat3{}, fmt.Errorf("%w: angle units %s", ErrUnsupported, units[0])
			}
		}
		m := Rotate(angles[2]*scale, int(axes[2])).
			Mul(Rotate(angles[1]*scale, int(axes[1]))).
			Mul(Rotate(angles[0]*scale, int(axes[0])))
		return rel, m.Transpose(), nil
	case "QUATERNION":
		q, ok := p.numbersLocked(get("Q"))
		if !ok || len(q) != 4 {
			return 0, Mat3{}, fmt.Errorf("%s: TK quaternion needs 4 values", info.Name)
		}
		n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
		if n == 0 {
			return 0, Mat3{}, fmt.Errorf("%s: zero TK quaternion", info.Name)
		}
		return rel, QuaternionToMatrix(Quaternion{q[0] / n, q[1] / n, q[2] / n, q[3] / n}), nil
	default:
		return 0, Mat3{}, fmt.Errorf("%w: TK specification %s", ErrUnsupported, specs[0])
	}
}
