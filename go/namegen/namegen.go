// Package namegen generates foal names.
package namegen

import (
	"fmt"
	"math/rand"
)

var prefixes = []string{
	"Midnight", "Golden", "Silver", "Thunder", "Willow", "Ember",
	"Northern", "Velvet", "Copper", "Starlit", "Rolling", "Autumn",
	"Clover", "Misty", "Ironwood", "Meadow",
}

var suffixes = []string{
	"Dancer", "Runner", "Whisper", "Storm", "Blaze", "Breeze",
	"Shadow", "Song", "Spirit", "Gallop", "Crown", "Comet",
	"Drift", "Flame", "Hollow", "Star",
}

// Generator produces names from a random source.
type Generator struct {
	rand *rand.Rand
}

// New returns a Generator drawing from |r|.
func New(r *rand.Rand) *Generator { return &Generator{rand: r} }

// FoalName returns a fresh two-part name.
func (g *Generator) FoalName() string {
	return fmt.Sprintf("%s %s",
		prefixes[g.rand.Intn(len(prefixes))],
		suffixes[g.rand.Intn(len(suffixes))])
}
