// README: Offer-feed data shapes for the trip matcher.
package matching

import (
	"sort"

	"motorcab/internal/modules/trip"
)

// Update is one emission of the offer feed: the full ranked candidate list,
// plus an alert flag on the emissions where new work arrived.
type Update struct {
	Trips []trip.Trip
	Alert bool
}

// Rank orders candidates highest-fare first. Ties resolve by arrival order
// (createdAt, then ID) so every driver sees the same deterministic list.
func Rank(trips []trip.Trip) {
	sort.Slice(trips, func(i, j int) bool {
		if trips[i].CreatedAt != trips[j].CreatedAt {
			return trips[i].CreatedAt < trips[j].CreatedAt
		}
		return trips[i].ID < trips[j].ID
	})
	sort.SliceStable(trips, func(i, j int) bool {
		return trips[i].Fare > trips[j].Fare
	})
}
