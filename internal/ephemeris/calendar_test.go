package ephemeris

import (
	"testing"
	"time"
)

func TestFormatUTC(t *testing.T) {
	cases := []struct {
		ts   float64
		want string
	}{
		{0, "1970-01-01T00:00:00"},
		{1728000000, "2024-10-04T00:00:00"},
		{951782400, "2000-02-29T00:00:00"},
		{1728000000.25, "2024-10-04T00:00:00.250000"},
		{-1, "1969-12-31T23:59:59"},
		{-0.5, "1969-12-31T23:59:59.500000"},
		{4107542400, "2100-03-01T00:00:00"},
	}
	for _, tc := range cases {
		if got := FormatUTC(tc.ts); got != tc.want {
			t.Fatalf("FormatUTC(%v) = %q, want %q", tc.ts, got, tc.want)
		}
	}
}

func TestFormatUTCMatchesTimePackage(t *testing.T) {
	for _, ts := range []int64{-62135596800, -2208988800, -86401, 68169600, 915148799, 1483228800, 253402300799} {
		want := time.Unix(ts, 0).UTC().Format("2006-01-02T15:04:05")
		if got := FormatUTC(float64(ts)); got != want {
			t.Fatalf("FormatUTC(%d) = %q, want %q", ts, got, want)
		}
	}
}

func TestCatalogOrder(t *testing.T) {
	if len(Catalog) != 13 {
		t.Fatalf("catalog has %d bodies, want 13", len(Catalog))
	}
	if Catalog[0].ID != 10 || Catalog[len(Catalog)-1].ID != -15513000 {
		t.Fatalf("unexpected catalog order: first %d last %d", Catalog[0].ID, Catalog[len(Catalog)-1].ID)
	}
	seen := map[int32]bool{}
	for _, b := range Catalog {
		if seen[b.ID] {
			t.Fatalf("duplicate catalog id %d", b.ID)
		}
		seen[b.ID] = true
	}
	if name, ok := CatalogName(-91000); !ok || name != "HERA_SPACECRAFT" {
		t.Fatalf("CatalogName(-91000) = %q, %v", name, ok)
	}
}
