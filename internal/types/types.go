// README: Shared identity and coordinate primitives used across modules.
package types

// ID identifies drivers, passengers, trips and ledger entries. Values are
// store-assigned keys and are treated as opaque.
type ID string

// Point is a WGS84 coordinate. Field names mirror the shared store records.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsZero reports whether the point carries no fix yet.
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}
