package kernel

import (
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sclkKernel defines clock id with 65536 ticks per second up to parallel
// time 100 s and two seconds per count afterwards.
func sclkKernel(ids ...int) string {
	var b strings.Builder
	b.WriteString("KPL/SCLK\n\n\\begindata\n")
	for _, id := range ids {
		n := strconv.Itoa(-id)
		b.WriteString("SCLK_DATA_TYPE_" + n + " = ( 1 )\n")
		b.WriteString("SCLK01_TIME_SYSTEM_" + n + " = ( 1 )\n")
		b.WriteString("SCLK01_N_FIELDS_" + n + " = ( 2 )\n")
		b.WriteString("SCLK01_MODULI_" + n + " = ( 4294967296 65536 )\n")
		b.WriteString("SCLK01_OFFSETS_" + n + " = ( 0 0 )\n")
		b.WriteString("SCLK01_COEFFICIENTS_" + n + " = ( 0.0 0.0 1.0\n    6553600.0 100.0 2.0 )\n")
	}
	b.WriteString("\\begintext\n")
	return b.String()
}

const testCKFrames = `KPL/FK

\begindata
FRAME_HERA_SPACECRAFT      = -91000
FRAME_-91000_NAME          = 'HERA_SPACECRAFT'
FRAME_-91000_CLASS         = 3
FRAME_-91000_CLASS_ID      = -91000
FRAME_-91000_CENTER        = -91
CK_-91000_SCLK             = -91

FRAME_JUVENTAS_SPACECRAFT  = -15513000
FRAME_-15513000_NAME       = 'JUVENTAS_SPACECRAFT'
FRAME_-15513000_CLASS      = 3
FRAME_-15513000_CLASS_ID   = -15513000
FRAME_-15513000_CENTER     = -15513

FRAME_ITRF93               = 13000
FRAME_13000_NAME           = 'ITRF93'
FRAME_13000_CLASS          = 2
FRAME_13000_CLASS_ID       = 3000
FRAME_13000_CENTER         = 399
\begintext
`

const tps = 65536.0

// numericOmega differentiates a frame-to-J2000 rotation and returns the
// angular velocity in J2000.
func numericOmega(t *testing.T, rot func(et float64) Mat3, et float64) Vec3 {
	t.Helper()
	const h = 1e-3
	plus, minus := rot(et+h), rot(et-h)
	var dot Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dot[i][j] = (plus[i][j] - minus[i][j]) / (2 * h)
		}
	}
	w := dot.Mul(rot(et).Transpose())
	return Vec3{w[2][1], w[0][2], w[1][0]}
}

func assertMatInDelta(t *testing.T, want, got Mat3, delta float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		assertVecInDelta(t, Vec3(want[i]), Vec3(got[i]), delta)
	}
}

func TestSpacecraftClock(t *testing.T) {
	pool := NewPool()
	_, err := pool.ETToTicks(-91, 0)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, pool.Furnish(writeFile(t, t.TempDir(), "hera.tsc", sclkKernel(-91))))
	for _, tc := range []struct{ et, ticks float64 }{
		{0, 0},
		{50, 50 * tps},
		{100, 100 * tps},
		{120, 100*tps + 20*tps/2},
	} {
		ticks, err := pool.ETToTicks(-91, tc.et)
		require.NoError(t, err)
		assert.InDelta(t, tc.ticks, ticks, 1e-6, "et %v", tc.et)
		et, err := pool.TicksToET(-91, tc.ticks)
		require.NoError(t, err)
		assert.InDelta(t, tc.et, et, 1e-9)
	}
}

// spinZ is the pointing of a spacecraft turning about J2000 z at 0.01 rad/s.
func spinZ(et float64) Mat3 { return axisRotation(Vec3{0, 0, 1}, 0.01*et) }

// ck3Array lays out type 3 pointing without angular velocity for instances
// at the given epochs (seconds) split into intervals starting at starts.
func ck3Array(epochs, starts []float64, pointing func(float64) Mat3) []float64 {
	var data []float64
	for _, et := range epochs {
		q := MatrixToQuaternion(pointing(et).Transpose())
		data = append(data, q[:]...)
	}
	for _, et := range epochs {
		data = append(data, et*tps)
	}
	for _, et := range starts {
		data = append(data, et*tps)
	}
	return append(data, float64(len(starts)), float64(len(epochs)))
}

func TestCKType3Pointing(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool()
	require.NoError(t, pool.Furnish(writeFile(t, dir, "hera.tsc", sclkKernel(-91))))
	require.NoError(t, pool.Furnish(writeFile(t, dir, "hera.tf", testCKFrames)))

	path := writeDAF(t, dir, "hera_att.bc", "DAF/CK", 6, []testArray{{
		dc:   [2]float64{0, 50 * tps},
		ic:   []int{-91000, 1, 3, 0},
		data: ck3Array([]float64{0, 10, 20, 40, 50}, []float64{0, 40}, spinZ),
	}})
	require.NoError(t, pool.Furnish(path))
	loaded := pool.Loaded()
	require.Equal(t, KindCK, loaded[len(loaded)-1].Kind)
	require.Equal(t, 1, loaded[len(loaded)-1].Segments)

	code, ok := pool.FrameCode("HERA_SPACECRAFT")
	require.True(t, ok)
	for _, et := range []float64{0, 15, 20, 43.5, 50} {
		rot, av, err := pool.Rotation(code, et)
		require.NoError(t, err, "et %v", et)
		assertMatInDelta(t, spinZ(et), rot, 1e-12)
		assertVecInDelta(t, Vec3{0, 0, 0.01}, av, 1e-12)
	}

	// Between interpolation intervals and outside the segment.
	for _, et := range []float64{30, 60, -1} {
		_, _, err := pool.Rotation(code, et)
		assert.ErrorIs(t, err, ErrNoCoverage, "et %v", et)
	}
}

func TestCKType2ConstantRate(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool()
	require.NoError(t, pool.Furnish(writeFile(t, dir, "juventas.tsc", sclkKernel(-15513))))
	require.NoError(t, pool.Furnish(writeFile(t, dir, "hera.tf", testCKFrames)))

	av := Vec3{0.02, 0, 0}
	pointing := func(et float64) Mat3 { return axisRotation(av, av.Norm()*et) }
	var data []float64
	for _, start := range []float64{0, 20} {
		q := MatrixToQuaternion(pointing(start).Transpose())
		data = append(data, q[:]...)
		data = append(data, av[:]...)
		data = append(data, 1/tps)
	}
	data = append(data, 0, 20*tps, 10*tps, 30*tps)
	path := writeDAF(t, dir, "juventas_att.bc", "DAF/CK", 6, []testArray{{
		dc:   [2]float64{0, 30 * tps},
		ic:   []int{-15513000, frameEclipJ2000, 2, 1},
		data: data,
	}})
	require.NoError(t, pool.Furnish(path))

	ecl, err := inertialToJ2000(frameEclipJ2000)
	require.NoError(t, err)
	rot, frameAV, err := pool.Rotation(-15513000, 25)
	require.NoError(t, err)
	assertMatInDelta(t, ecl.Mul(pointing(25)), rot, 1e-12)
	assertVecInDelta(t, ecl.MulVec(av), rot.MulVec(frameAV), 1e-14)

	_, _, err = pool.Rotation(-15513000, 15)
	assert.ErrorIs(t, err, ErrNoCoverage)
}

func TestLaterCKSegmentWins(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool()
	require.NoError(t, pool.Furnish(writeFile(t, dir, "hera.tsc", sclkKernel(-91))))
	require.NoError(t, pool.Furnish(writeFile(t, dir, "hera.tf", testCKFrames)))
	still := func(float64) Mat3 { return Identity() }
	require.NoError(t, pool.Furnish(writeDAF(t, dir, "a.bc", "DAF/CK", 6, []testArray{{
		dc: [2]float64{0, 50 * tps}, ic: []int{-91000, 1, 3, 0},
		data: ck3Array([]float64{0, 50}, []float64{0}, still),
	}})))
	require.NoError(t, pool.Furnish(writeDAF(t, dir, "b.bc", "DAF/CK", 6, []testArray{{
		dc: [2]float64{10 * tps, 20 * tps}, ic: []int{-91000, 1, 3, 0},
		data: ck3Array([]float64{10, 20}, []float64{10}, spinZ),
	}})))

	rot, _, err := pool.Rotation(-91000, 15)
	require.NoError(t, err)
	assertMatInDelta(t, spinZ(15), rot, 1e-12)
	rot, _, err = pool.Rotation(-91000, 30)
	require.NoError(t, err)
	assertMatInDelta(t, Identity(), rot, 1e-12)

	pool.Clear()
	_, _, err = pool.Rotation(-91000, 15)
	assert.Error(t, err)
}

func TestBinaryPCKOrientation(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool()
	require.NoError(t, pool.Furnish(writeFile(t, dir, "frames.tf", testCKFrames)))
	path := writeDAF(t, dir, "earth.bpc", "DAF/PCK", 5, []testArray{{
		dc:   [2]float64{-100, 100},
		ic:   []int{3000, frameJ2000, 2},
		data: linearType2(Vec3{1, 0.4, 2}, Vec3{1e-3, 0, 7e-5}, 100),
	}})
	require.NoError(t, pool.Furnish(path))
	loaded := pool.Loaded()
	require.Equal(t, KindPCK, loaded[len(loaded)-1].Kind)

	orient := func(et float64) Mat3 {
		rot, _, err := pool.Rotation(13000, et)
		require.NoError(t, err)
		return rot
	}
	rot, av, err := pool.Rotation(13000, 40)
	require.NoError(t, err)
	toBody := Rotate(2+7e-5*40, 3).Mul(Rotate(0.4, 1)).Mul(Rotate(1+1e-3*40, 3))
	assertMatInDelta(t, toBody.Transpose(), rot, 1e-12)
	assertVecInDelta(t, numericOmega(t, orient, 40), rot.MulVec(av), 1e-9)

	// Outside the binary segment the text constants would apply; there are
	// none for 3000.
	_, _, err = pool.Rotation(13000, 500)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTextPCKAngularVelocityMatchesDerivative(t *testing.T) {
	pool := NewPool()
	require.NoError(t, pool.Furnish(writeFile(t, t.TempDir(), "pck.tpc", `KPL/PCK

\begindata
BODY499_POLE_RA  = ( 317.68143 -0.1061 0. )
BODY499_POLE_DEC = (  52.88650 -0.0609 0. )
BODY499_PM       = ( 176.630   350.89198226 0. )
\begintext
`)))
	orient := func(et float64) Mat3 {
		rot, _, err := pool.Rotation(10014, et)
		require.NoError(t, err)
		return rot
	}
	et := 1e7
	rot, av, err := pool.Rotation(10014, et)
	require.NoError(t, err)
	assertVecInDelta(t, numericOmega(t, orient, et), rot.MulVec(av), 1e-9)
}

func TestAxisAngleRoundTrip(t *testing.T) {
	axis := Vec3{1, -2, 0.5}.Unit()
	for _, angle := range []float64{0.1, 1.3, 3.0} {
		gotAxis, gotAngle := rotationAxisAngle(axisRotation(axis, angle))
		assert.InDelta(t, angle, gotAngle, 1e-12)
		assertVecInDelta(t, axis, gotAxis, 1e-12)
	}
	_, angle := rotationAxisAngle(Identity())
	assert.Zero(t, angle)
	assertVecInDelta(t, Vec3{0, 1, 0}, axisRotation(Vec3{0, 0, 1}, math.Pi/2).MulVec(Vec3{1, 0, 0}), 1e-12)
}
