package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffJoinsAndLeaves(t *testing.T) {
	delta := Diff([]string{"A", "B"}, []string{"B", "C"}, "B")
	assert.Equal(t, []string{"C"}, delta.Joins)
	assert.Equal(t, []string{"A"}, delta.Leaves)
}

func TestDiffIgnoresSelf(t *testing.T) {
	delta := Diff([]string{"A"}, []string{"B", "me"}, "me")
	assert.Equal(t, []string{"B"}, delta.Joins)
	assert.Equal(t, []string{"A"}, delta.Leaves)

	delta = Diff([]string{"me"}, nil, "me")
	assert.True(t, delta.Empty())
}

func TestDiffFromEmptyBaseline(t *testing.T) {
	delta := Diff(nil, []string{"C", "A"}, "B")
	assert.Equal(t, []string{"A", "C"}, delta.Joins)
	assert.Empty(t, delta.Leaves)
}

func TestDiffUnchanged(t *testing.T) {
	delta := Diff([]string{"A", "B"}, []string{"B", "A", "A"}, "Z")
	assert.True(t, delta.Empty())
}

func TestDiffAway(t *testing.T) {
	oldAway := map[string]bool{"A": false, "B": true, "C": false, "me": false}
	newAway := map[string]bool{"A": true, "B": false, "C": false, "D": true, "me": true}

	delta := DiffAway(oldAway, newAway, "me")
	assert.Equal(t, []string{"A"}, delta.Entered)
	assert.Equal(t, []string{"B"}, delta.Cleared)
}
