/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"math/rand/v2"
)

// Shuffler permutes n elements in place through swap.
type Shuffler func(n int, swap func(i, j int))

// Assigner partitions students into groups of GroupSize.
type Assigner struct {
	shuffle Shuffler
}

// NewAssigner returns an Assigner using shuffle, or a uniform random
// shuffle when shuffle is nil.
func NewAssigner(shuffle Shuffler) *Assigner {
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	return &Assigner{shuffle: shuffle}
}

// Assign shuffles students and slices them into consecutive blocks. The
// trailing remainder is returned as unassigned.
func (a *Assigner) Assign(students []string) ([]Group, []string, error) {
	if len(students) < GroupSize {
		return nil, nil, newError(KindInsufficientPlayers,
			"need at least %d students to start (currently %d)", GroupSize, len(students))
	}

	ids := append([]string(nil), students...)
	a.shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})

	full := len(ids) / GroupSize * GroupSize

	groups := make([]Group, 0, full/GroupSize)
	for i := 0; i < full; i += GroupSize {
		groups = append(groups, Group{
			ID:      len(groups),
			Members: append([]string(nil), ids[i:i+GroupSize]...),
		})
	}

	var unassigned []string
	if full < len(ids) {
		unassigned = append(unassigned, ids[full:]...)
	}

	return groups, unassigned, nil
}
