package ceremony

import "sort"

// DecodeCeremonyHeader converts the top-level ceremony document payload
// into a Ceremony with no circuits populated; circuits live in a
// subcollection and are loaded separately.
func DecodeCeremonyHeader(id string, data map[string]any) Ceremony {
	return Ceremony{
		ID:     id,
		Title:  str(data["title"]),
		Prefix: str(data["prefix"]),
	}
}

// SortCircuits orders circuits by their 1-based SequencePosition, as
// required for ContributionProgress indexing.
func SortCircuits(circuits []Circuit) {
	sort.Slice(circuits, func(i, j int) bool {
		return circuits[i].SequencePosition < circuits[j].SequencePosition
	})
}
