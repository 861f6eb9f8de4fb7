package kernel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTextKernel(t *testing.T) {
	src := `KPL/FK

Commentary outside data blocks is ignored, even NAME = 'value'.

\begindata

   NAIF_BODY_NAME += ( 'DIDYMOS', 'DART''S TARGET' )
   NAIF_BODY_CODE += ( -658030
                       -658030 )
   BODY399_RADII   = ( 6378.1366 6378.1366 6356.7519 )
   DELTET/K        = 1.657D-3
   DELTET/DELTA_AT = ( 10, @1972-JAN-1
                       37, @2017-JAN-1 )
   EMPTY_LIST      = ( )

\begintext

   BODY399_RADII = ( 1 2 3 )
`
	assigns, err := parseTextKernel(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, assigns, 6)

	names := assigns[0]
	assert.Equal(t, "NAIF_BODY_NAME", names.name)
	assert.True(t, names.append)
	require.Len(t, names.values, 2)
	assert.Equal(t, "DART'S TARGET", names.values[1].Str)
	assert.True(t, names.values[1].IsString)

	codes := assigns[1]
	require.Len(t, codes.values, 2)
	assert.Equal(t, -658030.0, codes.values[1].Num)

	radii := assigns[2]
	assert.False(t, radii.append)
	assert.Equal(t, 6356.7519, radii.values[2].Num)

	assert.InDelta(t, 1.657e-3, assigns[3].values[0].Num, 1e-15)

	deltaAT := assigns[4].values
	require.Len(t, deltaAT, 4)
	assert.Equal(t, 37.0, deltaAT[2].Num)
	// 2017-01-01T00:00:00 is 6209.5 uniform days past J2000.
	assert.Equal(t, 6209.5*86400, deltaAT[3].Num)

	assert.Empty(t, assigns[5].values)
}

func TestParseTextKernelErrors(t *testing.T) {
	cases := map[string]string{
		"unterminated string": "\\begindata\nX = 'abc\n",
		"missing operator":    "\\begindata\nX 1\n",
		"unterminated list":   "\\begindata\nX = ( 1 2\n",
		"bad date":            "\\begindata\nX = @2017-FOO-01\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseTextKernel(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestSplitCalendar(t *testing.T) {
	cases := []struct {
		in   string
		days float64
		sec  float64
	}{
		{"2000-01-01T12:00:00", -0.5, 43200},
		{"2000-JAN-01 12:00:00", -0.5, 43200},
		{"2017-OCT-01 00:00:00", 6482.5, 0},
		{"2016-12-31T23:59:60.5", 6208.5, 86400.5},
		{"2026-10-01", 9769.5, 0},
	}
	for _, tc := range cases {
		days, sec, err := splitCalendar(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.days, days, tc.in)
		assert.InDelta(t, tc.sec, sec, 1e-9, tc.in)
	}

	for _, bad := range []string{"", "2020", "2020-02-30", "2020-13-01", "2020-01-01T24:00:00", "2020-01-01T10"} {
		_, _, err := splitCalendar(bad)
		assert.Error(t, err, bad)
	}
}
