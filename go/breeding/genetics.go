// Package breeding implements the breed-a-foal processor: genetic
// inheritance of sex, leg type, coat color and statistics, run under
// the shared request lifecycle.
package breeding

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/hoofworks/paddock/go/model"
)

// Potential bounds: a mutated potential outside them snaps to the
// midpoint rather than clamping to the edge.
const (
	potentialFloor = 30
	potentialCeil  = 95
	potentialReset = 50
)

// Special-color frequency multipliers by number of special parents.
var specialMultipliers = [3]float64{1.0, 10.0, 50.0}

func inheritSex(r *rand.Rand) model.Sex {
	if r.Intn(2) == 0 {
		return model.SexStallion
	}
	return model.SexMare
}

func inheritLegType(r *rand.Rand) model.LegType {
	return model.LegTypes[r.Intn(len(model.LegTypes))]
}

// colorFrequency converts a catalog color's stored rarity weight into a
// sampling frequency: 1/max(1, Weight), scaled for special colors by
// how many parents carry a special coat.
func colorFrequency(c model.Color, specialParents int) float64 {
	var w = c.Weight
	if w < 1 {
		w = 1
	}
	var freq = 1.0 / float64(w)
	if c.IsSpecial {
		freq *= specialMultipliers[specialParents]
	}
	return freq
}

// sampleColor draws a coat color by cumulative-weight sampling over the
// catalog. |specialParents| counts the parents with a special coat.
func sampleColor(r *rand.Rand, catalog []model.Color, specialParents int) (model.Color, error) {
	if len(catalog) == 0 {
		return model.Color{}, fmt.Errorf("color catalog is empty")
	}
	var total float64
	for _, c := range catalog {
		total += colorFrequency(c, specialParents)
	}

	var draw = r.Float64() * total
	var cum float64
	for _, c := range catalog {
		cum += colorFrequency(c, specialParents)
		if draw < cum {
			return c, nil
		}
	}
	// Floating-point remainder lands on the last color.
	return catalog[len(catalog)-1], nil
}

// inheritPotentials runs the Punnett-square selection for one stat.
// Two quadrants pair one parent's dominant with the other's recessive;
// the other two pair like alleles, with a secondary flip deciding which
// parent contributes the dominant.
func inheritPotentials(r *rand.Rand, sire, dam *model.Statistic) (dom, rec int) {
	switch r.Intn(4) {
	case 0:
		dom, rec = sire.DominantPotential, dam.RecessivePotential
	case 1:
		dom, rec = dam.DominantPotential, sire.RecessivePotential
	case 2:
		if r.Intn(2) == 0 {
			dom, rec = sire.DominantPotential, dam.DominantPotential
		} else {
			dom, rec = dam.DominantPotential, sire.DominantPotential
		}
	default:
		if r.Intn(2) == 0 {
			dom, rec = sire.RecessivePotential, dam.RecessivePotential
		} else {
			dom, rec = dam.RecessivePotential, sire.RecessivePotential
		}
	}
	return mutatePotential(r, dom), mutatePotential(r, rec)
}

// mutatePotential applies the 100-bucket rarity mutation: bucket 1 is a
// large positive mutation, bucket 2 a large negative one, the rest a
// small jitter. Out-of-bounds results snap to the midpoint.
func mutatePotential(r *rand.Rand, potential int) int {
	var mutated = potential
	switch bucket := r.Intn(100) + 1; bucket {
	case 1:
		mutated += r.Intn(16) // [0, +15]
	case 2:
		mutated -= r.Intn(16) // [-15, 0]
	default:
		mutated += r.Intn(11) - 5 // [-5, +5]
	}
	if mutated < potentialFloor || mutated > potentialCeil {
		return potentialReset
	}
	return mutated
}

// actualFor seeds the newborn's actual stat value: a uniform integer in
// [max(1, dom/3), dom/2].
func actualFor(r *rand.Rand, dom int) int {
	var lo = dom / 3
	if lo < 1 {
		lo = 1
	}
	var hi = dom / 2
	if hi < lo {
		hi = lo
	}
	return lo + r.Intn(hi-lo+1)
}

// inheritStatistics builds the foal's stat block. Every heritable stat
// must be carried by both parents; Happiness is seeded fixed.
func inheritStatistics(r *rand.Rand, foalID uuid.UUID, sire, dam *model.Horse) ([]model.Statistic, error) {
	var out = make([]model.Statistic, 0, len(model.HeritableStats)+1)
	for _, kind := range model.HeritableStats {
		var sireStat, damStat = sire.Stat(kind), dam.Stat(kind)
		if sireStat == nil || damStat == nil {
			return nil, fmt.Errorf("both parents must carry the %s statistic", kind)
		}
		var dom, rec = inheritPotentials(r, sireStat, damStat)
		out = append(out, model.Statistic{
			ID:                 uuid.New(),
			HorseID:            foalID,
			Kind:               kind,
			DominantPotential:  dom,
			RecessivePotential: rec,
			Actual:             actualFor(r, dom),
		})
	}
	out = append(out, model.Statistic{
		ID:                uuid.New(),
		HorseID:           foalID,
		Kind:              model.StatHappiness,
		DominantPotential: 100,
		Actual:            50,
	})
	return out, nil
}
