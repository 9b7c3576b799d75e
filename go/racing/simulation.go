// Package racing implements the run-a-race processor: a tick-by-tick
// simulation of the field, persisted as a RaceRun with per-tick
// positions and final placements.
package racing

import (
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hoofworks/paddock/go/model"
)

const (
	// FieldSize is the number of horses in a run, requester included.
	FieldSize = 6

	// maxTicks bounds the simulation; stragglers are placed by distance
	// covered when it expires.
	maxTicks = 600

	// metersPerTickPerSpeed converts the effective speed stat into
	// meters advanced each tick.
	metersPerTickPerSpeed = 0.18
)

// runner is one horse's live simulation state.
type runner struct {
	horse    *model.Horse
	position float64
	finished int // tick of finish, 0 while running
}

// statOr returns the horse's actual value for |kind|, or |fallback|.
func statOr(h *model.Horse, kind model.StatKind, fallback int) float64 {
	if s := h.Stat(kind); s != nil {
		return float64(s.Actual)
	}
	return float64(fallback)
}

// phaseMultiplier shapes a horse's pace over race progress in [0,1]
// according to its running style.
func phaseMultiplier(leg model.LegType, progress float64) float64 {
	switch leg {
	case model.LegFrontRunner:
		return 1.15 - 0.3*progress
	case model.LegCloser:
		return 0.85 + 0.3*progress
	case model.LegStalker:
		// Strongest through the middle of the race.
		if progress > 0.5 {
			progress = 1 - progress
		}
		return 0.9 + 0.4*progress
	default:
		return 1.0
	}
}

// tickAdvance computes one tick's advance in meters.
func tickAdvance(r *rand.Rand, h *model.Horse, progress float64) float64 {
	var speed = statOr(h, model.StatSpeed, 30)
	var stamina = statOr(h, model.StatStamina, 30)
	var agility = statOr(h, model.StatAgility, 30)
	var strength = statOr(h, model.StatStrength, 30)
	var smarts = statOr(h, model.StatIntelligence, 30)

	// Speed dominates; the supporting stats round out the base pace.
	var base = speed*0.5 + agility*0.2 + strength*0.2 + smarts*0.1

	// Stamina governs how much of the pace survives into the late race.
	var fade = 1.0 - progress*(1.0-stamina/150.0)
	if fade < 0.4 {
		fade = 0.4
	}

	var happiness = 0.85 + float64(h.Happiness)/100.0*0.3
	var jitter = 0.9 + r.Float64()*0.2

	return base * metersPerTickPerSpeed * fade *
		phaseMultiplier(h.LegType, progress) * happiness * jitter
}

// simulate runs the race to completion and returns the persisted run.
func simulate(r *rand.Rand, race *model.Race, field []*model.Horse, now time.Time) *model.RaceRun {
	var runID = uuid.New()
	var runners = make([]*runner, len(field))
	for i, h := range field {
		runners[i] = &runner{horse: h}
	}

	var run = model.RaceRun{
		ID:     runID,
		RaceID: race.ID,
		RunAt:  now,
	}
	var distance = float64(race.Distance)

	for tick := 1; tick <= maxTicks; tick++ {
		var racing = false
		for _, rn := range runners {
			if rn.finished != 0 {
				continue
			}
			racing = true
			rn.position += tickAdvance(r, rn.horse, rn.position/distance)
			if rn.position >= distance {
				rn.position = distance
				rn.finished = tick
			}
			run.Ticks = append(run.Ticks, model.RaceRunTick{
				RaceRunID: runID,
				HorseID:   rn.horse.ID,
				Tick:      tick,
				Position:  rn.position,
			})
		}
		if !racing {
			break
		}
	}

	// Placement: finishers by tick, then stragglers by distance covered.
	sort.SliceStable(runners, func(i, j int) bool {
		var a, b = runners[i], runners[j]
		if (a.finished != 0) != (b.finished != 0) {
			return a.finished != 0
		}
		if a.finished != b.finished {
			return a.finished < b.finished
		}
		return a.position > b.position
	})
	for place, rn := range runners {
		run.Horses = append(run.Horses, model.RaceRunHorse{
			RaceRunID:      runID,
			HorseID:        rn.horse.ID,
			Placement:      place + 1,
			FinishedAtTick: rn.finished,
		})
	}
	return &run
}
