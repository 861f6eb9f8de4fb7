package kernel

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joshuaferrara/go-satellite"
)

const (
	// tleIDBase maps NORAD catalogue numbers to NAIF IDs: -100000 - norad.
	tleIDBase = -100000
	earthID   = 399
	// tleCoverage is how far either side of its epoch one element set is used.
	tleCoverage = 15 * 86400.0
	arcsec      = math.Pi / (180 * 3600)
)

// tleSource propagates one two-line element set with SGP4. States are
// precessed from the TEME frame of date to J2000.
type tleSource struct {
	id    int
	sat   satellite.Satellite
	epoch float64
	toUTC func(et float64) (float64, error)
}

func (t *tleSource) target() int { return t.id }
func (t *tleSource) center() int { return earthID }
func (t *tleSource) frame() int  { return frameJ2000 }
func (t *tleSource) covers(et float64) bool {
	return math.Abs(et-t.epoch) <= tleCoverage
}

func (t *tleSource) state(et float64) (State, error) {
	utc, err := t.toUTC(et)
	if err != nil {
		return State{}, err
	}
	whole := math.Floor(utc)
	frac := utc - whole
	ts := time.Unix(int64(whole)+j2000Unix, 0).UTC()

	pos, vel := satellite.Propagate(t.sat, ts.Year(), int(ts.Month()), ts.Day(), ts.Hour(), ts.Minute(), ts.Second())
	st := State{
		Pos: Vec3{pos.X, pos.Y, pos.Z},
		Vel: Vec3{vel.X, vel.Y, vel.Z},
	}
	for i := 0; i < 3; i++ {
		if math.IsNaN(st.Pos[i]) || math.IsNaN(st.Vel[i]) {
			return State{}, fmt.Errorf("SGP4 propagation failed for %d at ET %.3f", t.id, et)
		}
	}
	st.Pos = st.Pos.Add(st.Vel.Scale(frac))

	toJ2000 := precessionIAU1976(et).Transpose()
	return State{Pos: toJ2000.MulVec(st.Pos), Vel: toJ2000.MulVec(st.Vel)}, nil
}

// precessionIAU1976 returns the matrix rotating J2000 vectors into the mean
// equator and equinox of the date et.
func precessionIAU1976(et float64) Mat3 {
	t := et / (36525 * 86400)
	zeta := (2306.2181*t + 0.30188*t*t + 0.017998*t*t*t) * arcsec
	z := (2306.2181*t + 1.09468*t*t + 0.018203*t*t*t) * arcsec
	theta := (2004.3109*t - 0.42665*t*t - 0.041833*t*t*t) * arcsec
	return Rotate(-z, 3).Mul(Rotate(theta, 2)).Mul(Rotate(-zeta, 3))
}

func (p *Pool) furnishTLE(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open TLE kernel: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r ")
		if strings.HasPrefix(line, "1 ") || strings.HasPrefix(line, "2 ") {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read TLE kernel: %w", err)
	}

	var loaded []source
	for i := 0; i+1 < len(lines); i++ {
		l1, l2 := lines[i], lines[i+1]
		if l1[0] != '1' || l2[0] != '2' {
			continue
		}
		src, err := p.newTLESource(l1, l2)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		loaded = append(loaded, src)
		i++
	}
	if len(loaded) == 0 {
		return fmt.Errorf("%s: no element sets found", path)
	}
	p.sources = append(p.sources, loaded...)
	p.files = append(p.files, LoadedFile{Path: path, Kind: KindTLE, Segments: len(loaded)})
	return nil
}

func (p *Pool) newTLESource(l1, l2 string) (*tleSource, error) {
	if len(l1) < 32 || len(l2) < 7 {
		return nil, fmt.Errorf("short element set line")
	}
	norad, err := strconv.Atoi(strings.TrimSpace(l2[2:7]))
	if err != nil {
		return nil, fmt.Errorf("bad catalogue number %q", l2[2:7])
	}
	yy, err := strconv.Atoi(strings.TrimSpace(l1[18:20]))
	if err != nil {
		return nil, fmt.Errorf("bad epoch year %q", l1[18:20])
	}
	doy, err := strconv.ParseFloat(strings.TrimSpace(l1[20:32]), 64)
	if err != nil {
		return nil, fmt.Errorf("bad epoch day %q", l1[20:32])
	}
	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}
	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	epochUTC := float64(jan1.Unix()-j2000Unix) + (doy-1)*86400

	return &tleSource{
		id:    tleIDBase - norad,
		sat:   satellite.TLEToSat(l1, l2, satellite.GravityWGS72),
		epoch: p.utcToETApprox(epochUTC),
		toUTC: p.etToUTCLocked,
	}, nil
}
