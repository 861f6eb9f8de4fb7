package protocol

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a human-readable rendering of a response: the header, then
// every record with each value next to its raw bytes.
func Dump(w io.Writer, b []byte) error {
	resp, err := DecodeResponse(b)
	if err != nil {
		return err
	}
	line := strings.Repeat("-", 60)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "| timestamp: %s  (%.3f)\n", hexBytes(b[0:8]), resp.Timestamp)
	fmt.Fprintf(w, "| status:    0x%02X  (%s)\n", byte(resp.Status), resp.Status)
	fmt.Fprintf(w, "| records:   %d\n", len(resp.Records))
	fmt.Fprintln(w, line)

	for i, rec := range resp.Records {
		raw := b[HeaderSize+i*RecordSize : HeaderSize+(i+1)*RecordSize]
		fmt.Fprintf(w, "%12d   %s\n", rec.ID, hexBytes(raw[0:4]))
		groups := []struct {
			name string
			n    int
		}{{"position", 3}, {"velocity", 3}, {"orientation", 4}, {"angular_velocity", 3}}
		vals := make([]float64, 0, 13)
		vals = append(vals, rec.State.Position[:]...)
		vals = append(vals, rec.State.Velocity[:]...)
		vals = append(vals, rec.State.Orientation[:]...)
		vals = append(vals, rec.State.AngularVelocity[:]...)
		k := 0
		for _, g := range groups {
			fmt.Fprintf(w, "  %s\n", g.name)
			for j := 0; j < g.n; j++ {
				off := 4 + k*8
				fmt.Fprintf(w, "%14.4E   %s\n", vals[k], hexBytes(raw[off:off+8]))
				k++
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", c)
	}
	return sb.String()
}
