package ranking

import (
	"slices"

	"leaderboard/internal/store"
)

// RankedEntry is a score entry decorated with its 1-based position. Ranks
// are derived on every read, never stored.
type RankedEntry struct {
	store.Player
	Rank int `json:"rank"`
}

// Rank orders players by score (descending) then time taken (ascending)
// and assigns 1-based ranks. Exact ties still get distinct consecutive
// ranks; the stable sort keeps their input order. The input slice is not
// modified.
func Rank(players []store.Player) []RankedEntry {
	sorted := slices.Clone(players)
	slices.SortStableFunc(sorted, func(a, b store.Player) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		return a.TimeTaken - b.TimeTaken
	})

	ranked := make([]RankedEntry, len(sorted))
	for i, p := range sorted {
		ranked[i] = RankedEntry{Player: p, Rank: i + 1}
	}
	return ranked
}

// Top returns the leading n entries of an already ranked sequence.
func Top(ranked []RankedEntry, n int) []RankedEntry {
	if len(ranked) <= n {
		return ranked
	}
	return ranked[:n]
}
