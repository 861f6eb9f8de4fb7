package ephemeris

// Body is one entry of the object catalog.
type Body struct {
	ID   int32
	Name string
}

// Catalog lists the bodies served in every response, in wire order.
// Instrument frames of the spacecraft (HERA_SMC -91500, HERA_HSH -91400,
// HERA_TIRI -91200, HERA_AFC-2 -91120, HERA_AFC-1 -91110) are
// not served.
var Catalog = []Body{
	{10, "SUN"},
	{199, "MERCURY"},
	{299, "VENUS"},
	{399, "EARTH"},
	{301, "MOON"},
	{499, "MARS"},
	{401, "PHOBOS"},
	{402, "DEIMOS"},
	{-658030, "DIDYMOS"},
	{-658031, "DIMORPHOS"},
	{-91900, "DART_IMPACT_SITE"},
	{-91000, "HERA_SPACECRAFT"},
	{-15513000, "JUVENTAS_SPACECRAFT"},
}

// CatalogName returns the catalog name of id.
func CatalogName(id int32) (string, bool) {
	for _, b := range Catalog {
		if b.ID == id {
			return b.Name, true
		}
	}
	return "", false
}
