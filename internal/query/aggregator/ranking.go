package aggregator

import (
	"sort"

	"github.com/arkilian/eventlens/internal/store"
)

// RankGroups sorts groups by count descending, breaking ties by key ascending,
// and applies offset then limit. A negative limit keeps every group.
// The input slice is sorted in place.
func RankGroups(groups []store.GroupStat, limit, offset int) []store.GroupStat {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Key < groups[j].Key
	})

	// Apply OFFSET
	if offset > 0 {
		if offset >= len(groups) {
			return []store.GroupStat{}
		}
		groups = groups[offset:]
	}

	// Apply LIMIT
	if limit >= 0 && limit < len(groups) {
		groups = groups[:limit]
	}
	return groups
}

// Percentage returns part/total*100 rounded half-up to a whole number, in
// integer arithmetic. A zero total yields 0.
func Percentage(part, total int64) int64 {
	if total <= 0 || part <= 0 {
		return 0
	}
	return (part*200 + total) / (2 * total)
}
