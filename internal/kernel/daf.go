package kernel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

const dafRecordBytes = 1024

// dafFile is an open double-precision array file. Reads go through ReadAt
// so concurrent evaluations never share a file offset.
type dafFile struct {
	f     *os.File
	order binary.ByteOrder
	nd    int
	ni    int
	fward int
	idw   string
}

// dafSummary is one array descriptor: ND doubles followed by NI integers.
// The last two integers are the initial and final addresses of the array.
type dafSummary struct {
	dc []float64
	ic []int32
}

func (s dafSummary) begin() int { return int(s.ic[len(s.ic)-2]) }
func (s dafSummary) end() int   { return int(s.ic[len(s.ic)-1]) }

func openDAF(path string) (*dafFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open DAF: %w", err)
	}
	rec := make([]byte, dafRecordBytes)
	if _, err := f.ReadAt(rec, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: read file record: %w", path, err)
	}

	d := &dafFile{f: f, idw: string(bytes.TrimRight(rec[0:8], " \x00"))}
	switch fmtID := string(rec[88:96]); fmtID {
	case "BIG-IEEE":
		d.order = binary.BigEndian
	case "LTL-IEEE", "\x00\x00\x00\x00\x00\x00\x00\x00", "        ":
		d.order = binary.LittleEndian
	default:
		f.Close()
		return nil, fmt.Errorf("%s: %w: binary format %q", path, ErrUnsupported, fmtID)
	}
	d.nd = int(int32(d.order.Uint32(rec[8:12])))
	d.ni = int(int32(d.order.Uint32(rec[12:16])))
	d.fward = int(int32(d.order.Uint32(rec[76:80])))
	if d.nd < 0 || d.ni < 2 || d.nd > 124 || d.ni > 250 {
		f.Close()
		return nil, fmt.Errorf("%s: corrupt DAF file record (ND=%d NI=%d)", path, d.nd, d.ni)
	}
	return d, nil
}

// Close releases the underlying file.
func (d *dafFile) Close() error { return d.f.Close() }

// summarySize returns the length of one summary in doubles.
func (d *dafFile) summarySize() int { return d.nd + (d.ni+1)/2 }

// summaries walks the summary record chain and returns every descriptor in
// file order.
func (d *dafFile) summaries() ([]dafSummary, error) {
	var out []dafSummary
	rec := make([]byte, dafRecordBytes)
	ss := d.summarySize()
	seen := map[int]bool{}
	for next := d.fward; next > 0; {
		if seen[next] {
			return nil, fmt.Errorf("summary record chain loops at record %d", next)
		}
		seen[next] = true
		if _, err := d.f.ReadAt(rec, int64(next-1)*dafRecordBytes); err != nil {
			return nil, fmt.Errorf("read summary record %d: %w", next, err)
		}
		ctl := d.decodeDoubles(rec[:24])
		nsum := int(ctl[2])
		if nsum < 0 || 3+nsum*ss > dafRecordBytes/8 {
			return nil, fmt.Errorf("summary record %d holds %d summaries", next, nsum)
		}
		for i := 0; i < nsum; i++ {
			off := (3 + i*ss) * 8
			raw := rec[off : off+ss*8]
			s := dafSummary{dc: d.decodeDoubles(raw[:d.nd*8])}
			s.ic = make([]int32, d.ni)
			for j := 0; j < d.ni; j++ {
				s.ic[j] = int32(d.order.Uint32(raw[d.nd*8+j*4:]))
			}
			out = append(out, s)
		}
		next = int(ctl[0])
	}
	return out, nil
}

// readDoubles reads count doubles starting at the 1-based word address addr.
func (d *dafFile) readDoubles(addr, count int) ([]float64, error) {
	if addr < 1 || count < 0 {
		return nil, fmt.Errorf("bad DAF address %d", addr)
	}
	buf := make([]byte, count*8)
	if _, err := d.f.ReadAt(buf, int64(addr-1)*8); err != nil {
		return nil, fmt.Errorf("read %d doubles at %d: %w", count, addr, err)
	}
	return d.decodeDoubles(buf), nil
}

func (d *dafFile) decodeDoubles(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(d.order.Uint64(b[i*8:]))
	}
	return out
}
