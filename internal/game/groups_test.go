/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%d", i)
	}
	return out
}

func TestAssignRejectsTooFewStudents(t *testing.T) {
	_, _, err := NewAssigner(nil).Assign(ids(3))
	require.ErrorIs(t, err, ErrInsufficientPlayers)
	assert.Contains(t, err.Error(), "currently 3")
}

func TestAssignPartitions(t *testing.T) {
	for _, n := range []int{4, 5, 7, 8, 11, 12, 30} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			groups, unassigned, err := NewAssigner(nil).Assign(ids(n))
			require.NoError(t, err)

			assert.Len(t, groups, n/GroupSize)
			assert.Len(t, unassigned, n%GroupSize)

			seen := map[string]int{}
			for i, g := range groups {
				assert.Equal(t, i, g.ID)
				assert.Len(t, g.Members, GroupSize)
				for _, m := range g.Members {
					seen[m]++
				}
			}
			for _, m := range unassigned {
				seen[m]++
			}

			assert.Len(t, seen, n)
			for id, count := range seen {
				assert.Equal(t, 1, count, id)
			}
		})
	}
}

func TestAssignUsesShuffleOrder(t *testing.T) {
	reverse := func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}

	groups, unassigned, err := NewAssigner(reverse).Assign(ids(5))
	require.NoError(t, err)

	assert.Equal(t, []string{"p4", "p3", "p2", "p1"}, groups[0].Members)
	assert.Equal(t, []string{"p0"}, unassigned)
}

func TestAssignDoesNotMutateInput(t *testing.T) {
	in := ids(8)
	before := append([]string(nil), in...)

	_, _, err := NewAssigner(nil).Assign(in)
	require.NoError(t, err)
	assert.Equal(t, before, in)
}
