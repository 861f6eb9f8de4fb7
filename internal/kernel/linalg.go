package kernel

import "math"

// Vec3 is a Cartesian 3-vector.
type Vec3 [3]float64

// Mat3 is a 3x3 matrix stored row-major.
type Mat3 [3][3]float64

// State is a position (km) and velocity (km/s) pair.
type State struct {
	Pos Vec3
	Vel Vec3
}

// Quaternion uses the scalar-first convention (c, s1, s2, s3).
type Quaternion [4]float64

// Identity returns the 3x3 identity matrix.
func Identity() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a Vec3) Scale(s float64) Vec3 {
	return Vec3{a[0] * s, a[1] * s, a[2] * s}
}
func (a Vec3) Dot(b Vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func (a Vec3) Norm() float64      { return math.Sqrt(a.Dot(a)) }

// Cross returns a x b.
func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// Unit returns a/|a|, or the zero vector when a is zero.
func (a Vec3) Unit() Vec3 {
	n := a.Norm()
	if n == 0 {
		return Vec3{}
	}
	return a.Scale(1 / n)
}

// Add returns s+o component-wise.
func (s State) Add(o State) State { return State{Pos: s.Pos.Add(o.Pos), Vel: s.Vel.Add(o.Vel)} }

// Sub returns s-o component-wise.
func (s State) Sub(o State) State { return State{Pos: s.Pos.Sub(o.Pos), Vel: s.Vel.Sub(o.Vel)} }

// MulVec returns m*v.
func (m Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

// Mul returns m*n.
func (m Mat3) Mul(n Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
	}
	return out
}

// Transpose returns the transpose of m.
func (m Mat3) Transpose() Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// Rotate returns the matrix that rotates a frame by angle radians about the
// given axis (1, 2 or 3). Vectors expressed in the old frame map to the new
// frame when multiplied by the result.
func Rotate(angle float64, axis int) Mat3 {
	c, s := math.Cos(angle), math.Sin(angle)
	switch axis {
	case 1:
		return Mat3{{1, 0, 0}, {0, c, s}, {0, -s, c}}
	case 2:
		return Mat3{{c, 0, -s}, {0, 1, 0}, {s, 0, c}}
	default:
		return Mat3{{c, s, 0}, {-s, c, 0}, {0, 0, 1}}
	}
}

// RotateVector rotates v by angle radians about axis using Rodrigues' formula.
func RotateVector(v, axis Vec3, angle float64) Vec3 {
	k := axis.Unit()
	c, s := math.Cos(angle), math.Sin(angle)
	return v.Scale(c).Add(k.Cross(v).Scale(s)).Add(k.Scale(k.Dot(v) * (1 - c)))
}

// MatrixToQuaternion converts a rotation matrix to a unit quaternion in the
// scalar-first convention such that QuaternionToMatrix(q) == m. The returned
// scalar part is non-negative.
func MatrixToQuaternion(m Mat3) Quaternion {
	tr := m[0][0] + m[1][1] + m[2][2]
	var q Quaternion
	switch {
	case tr >= m[0][0] && tr >= m[1][1] && tr >= m[2][2]:
		c := 0.5 * math.Sqrt(1+tr)
		f := 0.25 / c
		q = Quaternion{c, (m[2][1] - m[1][2]) * f, (m[0][2] - m[2][0]) * f, (m[1][0] - m[0][1]) * f}
	case m[0][0] >= m[1][1] && m[0][0] >= m[2][2]:
		s1 := 0.5 * math.Sqrt(1+2*m[0][0]-tr)
		f := 0.25 / s1
		q = Quaternion{(m[2][1] - m[1][2]) * f, s1, (m[0][1] + m[1][0]) * f, (m[0][2] + m[2][0]) * f}
	case m[1][1] >= m[2][2]:
		s2 := 0.5 * math.Sqrt(1+2*m[1][1]-tr)
		f := 0.25 / s2
		q = Quaternion{(m[0][2] - m[2][0]) * f, (m[0][1] + m[1][0]) * f, s2, (m[1][2] + m[2][1]) * f}
	default:
		s3 := 0.5 * math.Sqrt(1+2*m[2][2]-tr)
		f := 0.25 / s3
		q = Quaternion{(m[1][0] - m[0][1]) * f, (m[0][2] + m[2][0]) * f, (m[1][2] + m[2][1]) * f, s3}
	}
	if q[0] < 0 {
		q = Quaternion{-q[0], -q[1], -q[2], -q[3]}
	}
	n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	return Quaternion{q[0] / n, q[1] / n, q[2] / n, q[3] / n}
}

// QuaternionToMatrix converts a unit scalar-first quaternion to a rotation
// matrix.
func QuaternionToMatrix(q Quaternion) Mat3 {
	c, s1, s2, s3 := q[0], q[1], q[2], q[3]
	return Mat3{
		{1 - 2*(s2*s2+s3*s3), 2 * (s1*s2 - c*s3), 2 * (s1*s3 + c*s2)},
		{2 * (s1*s2 + c*s3), 1 - 2*(s1*s1+s3*s3), 2 * (s2*s3 - c*s1)},
		{2 * (s1*s3 - c*s2), 2 * (s2*s3 + c*s1), 1 - 2*(s1*s1+s2*s2)},
	}
}
