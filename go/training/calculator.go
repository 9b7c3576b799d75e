// Package training implements the train-a-horse processor: eligibility
// checks, diminishing-returns stat gains, and happiness cost with an
// overwork roll.
package training

import (
	"math"
	"math/rand"
	"time"

	"github.com/hoofworks/paddock/go/model"
)

const (
	// HappinessFloor is the minimum happiness required to train.
	HappinessFloor = 20

	// baseGainRate scales (potential - actual) per point of intensity.
	baseGainRate = 0.10

	// overworkChance is the percent chance a session doubles its
	// happiness cost.
	overworkChance = 25
)

// Career phase boundaries, in age days.
const (
	growthPhaseDays = 365
	primePhaseDays  = 5 * 365
)

// careerPhaseMultiplier scales gains by age: young horses learn fast,
// veterans slowly.
func careerPhaseMultiplier(ageDays int) float64 {
	switch {
	case ageDays < growthPhaseDays:
		return 1.25
	case ageDays < primePhaseDays:
		return 1.0
	default:
		return 0.75
	}
}

// happinessModifier maps happiness in [0,100] onto [0.5, 1.5].
func happinessModifier(happiness int) float64 {
	return 0.5 + float64(happiness)/100.0
}

// legTypeBonus favors the stat matching the horse's running style.
// All-rounders get a small bonus on everything.
func legTypeBonus(leg model.LegType, stat model.StatKind) float64 {
	switch leg {
	case model.LegFrontRunner:
		if stat == model.StatSpeed {
			return 1.2
		}
	case model.LegStalker:
		if stat == model.StatAgility {
			return 1.2
		}
	case model.LegCloser:
		if stat == model.StatStamina {
			return 1.2
		}
	case model.LegAllRounder:
		return 1.05
	}
	return 1.0
}

// gainFor computes the session's stat gain: (potential - actual)
// scaled by intensity, career phase, happiness and leg type, clamped so
// the actual never exceeds the dominant potential.
func gainFor(horse *model.Horse, stat *model.Statistic, program *model.Training, now time.Time) int {
	var headroom = stat.DominantPotential - stat.Actual
	if headroom <= 0 {
		return 0
	}
	var raw = float64(headroom) *
		baseGainRate * float64(program.Intensity) *
		careerPhaseMultiplier(horse.AgeDays(now)) *
		happinessModifier(horse.Happiness) *
		legTypeBonus(horse.LegType, program.TrainedStat)

	var gain = int(math.Round(raw))
	if gain < 1 {
		gain = 1
	}
	if gain > headroom {
		gain = headroom
	}
	return gain
}

// happinessCostFor applies the program's cost, doubled on an overwork
// roll.
func happinessCostFor(r *rand.Rand, program *model.Training) int {
	var cost = program.HappinessCost
	if r.Intn(100) < overworkChance {
		cost *= 2
	}
	return cost
}
