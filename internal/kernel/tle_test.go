package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const issTLE = `ISS (ZARYA)
1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927
2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537
`

func TestTLEPropagation(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool()
	require.NoError(t, pool.Furnish(writeFile(t, dir, "naif.tls", testLSK)))
	require.NoError(t, pool.Furnish(writeFile(t, dir, "iss.tle", issTLE)))

	loaded := pool.Loaded()
	require.Len(t, loaded, 2)
	assert.Equal(t, KindTLE, loaded[1].Kind)
	assert.Equal(t, 1, loaded[1].Segments)

	et, err := pool.StrToET("2008-09-20T12:25:40")
	require.NoError(t, err)

	st, _, err := pool.StateJ2000(-125544, earthID, et, CorrectionNone)
	require.NoError(t, err)
	r := st.Pos.Norm()
	assert.Greater(t, r, 6600.0)
	assert.Less(t, r, 6800.0)
	v := st.Vel.Norm()
	assert.Greater(t, v, 7.0)
	assert.Less(t, v, 8.0)
	// Near-circular orbit: velocity is almost perpendicular to position.
	assert.Less(t, math.Abs(st.Pos.Unit().Dot(st.Vel.Unit())), 0.01)

	// Half a second later the position has advanced by about v/2.
	later, _, err := pool.StateJ2000(-125544, earthID, et+0.5, CorrectionNone)
	require.NoError(t, err)
	assert.InDelta(t, v/2, later.Pos.Sub(st.Pos).Norm(), 0.01)

	_, _, err = pool.StateJ2000(-125544, earthID, et+20*86400, CorrectionNone)
	assert.ErrorIs(t, err, ErrNoCoverage)
}

func TestPrecessionIsIdentityAtJ2000(t *testing.T) {
	p := precessionIAU1976(0)
	for i := 0; i < 3; i++ {
		assertVecInDelta(t, Vec3(Identity()[i]), Vec3(p[i]), 1e-15)
	}
	// About 50.3 arcseconds per year in general precession.
	year := 365.25 * 86400
	moved := precessionIAU1976(year).MulVec(Vec3{1, 0, 0})
	angle := math.Acos(moved.Dot(Vec3{1, 0, 0}))
	assert.InDelta(t, 50.3, angle/arcsec, 0.5)
}
