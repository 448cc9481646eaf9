package presence

import (
	"sort"

	"github.com/samber/lo"
)

// Delta is the membership change between two snapshots of one room.
type Delta struct {
	Joins  []string
	Leaves []string
}

func (d Delta) Empty() bool {
	return len(d.Joins) == 0 && len(d.Leaves) == 0
}

// Diff compares two membership sets of the same room. The caller keeps the
// baseline. self never appears in the result.
func Diff(oldMembers []string, newMembers []string, self string) Delta {
	leaves, joins := lo.Difference(lo.Uniq(oldMembers), lo.Uniq(newMembers))
	joins = lo.Without(joins, self)
	leaves = lo.Without(leaves, self)
	sort.Strings(joins)
	sort.Strings(leaves)
	return Delta{Joins: joins, Leaves: leaves}
}

// AwayDelta lists users whose away state flipped between two snapshots.
type AwayDelta struct {
	Entered []string
	Cleared []string
}

// DiffAway compares away flags of users present in both snapshots. Users
// that joined or left are handled by Diff and ignored here.
func DiffAway(oldAway map[string]bool, newAway map[string]bool, self string) AwayDelta {
	result := AwayDelta{}
	for user, away := range newAway {
		if user == self {
			continue
		}
		was, ok := oldAway[user]
		if !ok || was == away {
			continue
		}
		if away {
			result.Entered = append(result.Entered, user)
		} else {
			result.Cleared = append(result.Cleared, user)
		}
	}
	sort.Strings(result.Entered)
	sort.Strings(result.Cleared)
	return result
}
