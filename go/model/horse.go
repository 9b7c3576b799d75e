package model

import (
	"time"

	"github.com/google/uuid"
)

// Sex of a horse.
type Sex int

const (
	SexStallion Sex = iota
	SexMare
)

func (s Sex) String() string {
	if s == SexMare {
		return "Mare"
	}
	return "Stallion"
}

// LegType is the horse's running style, fixed at birth.
type LegType int

const (
	LegFrontRunner LegType = iota
	LegStalker
	LegCloser
	LegAllRounder
)

// LegTypes enumerates every leg type, in sampling order.
var LegTypes = []LegType{LegFrontRunner, LegStalker, LegCloser, LegAllRounder}

func (l LegType) String() string {
	switch l {
	case LegFrontRunner:
		return "FrontRunner"
	case LegStalker:
		return "Stalker"
	case LegCloser:
		return "Closer"
	case LegAllRounder:
		return "AllRounder"
	default:
		return "Unknown"
	}
}

// StatKind identifies one heritable statistic.
type StatKind int

const (
	StatSpeed StatKind = iota
	StatStamina
	StatAgility
	StatStrength
	StatIntelligence
	StatHappiness
)

// HeritableStats are the stats a foal inherits from its parents.
// Happiness is excluded: it is seeded fixed at birth.
var HeritableStats = []StatKind{StatSpeed, StatStamina, StatAgility, StatStrength, StatIntelligence}

func (k StatKind) String() string {
	switch k {
	case StatSpeed:
		return "Speed"
	case StatStamina:
		return "Stamina"
	case StatAgility:
		return "Agility"
	case StatStrength:
		return "Strength"
	case StatIntelligence:
		return "Intelligence"
	case StatHappiness:
		return "Happiness"
	default:
		return "Unknown"
	}
}

// Statistic is one stat line of a horse. DominantPotential caps what
// training can reach; RecessivePotential only matters for inheritance.
type Statistic struct {
	ID                 uuid.UUID
	HorseID            uuid.UUID
	Kind               StatKind
	DominantPotential  int
	RecessivePotential int
	Actual             int
}

// Color is a catalog coat color. Weight means rarity: frequency is
// 1/max(1,Weight). Special colors get a multiplier from special parents.
type Color struct {
	ID        uuid.UUID
	Name      string
	Weight    int
	IsSpecial bool
}

// Horse is the central game entity. Relations are carried as table ids,
// never as owning back-references.
type Horse struct {
	ID      uuid.UUID
	Name    string
	OwnerID uuid.UUID
	SireID  *uuid.UUID
	DamID   *uuid.UUID
	ColorID uuid.UUID
	Sex     Sex
	LegType LegType

	Statistics []Statistic

	// Career counters.
	RacesRun    int
	RacesWon    int
	Parented    int
	TrainedDays int

	Happiness               int
	HasTrainedSinceLastRace bool
	BornAt                  time.Time
}

// Stat returns the horse's statistic of the given kind, or nil.
func (h *Horse) Stat(kind StatKind) *Statistic {
	for i := range h.Statistics {
		if h.Statistics[i].Kind == kind {
			return &h.Statistics[i]
		}
	}
	return nil
}

// AgeDays is the horse's age in whole days at |now|.
func (h *Horse) AgeDays(now time.Time) int {
	return int(now.Sub(h.BornAt).Hours() / 24)
}

// Feeding is a catalog feed type.
type Feeding struct {
	ID             uint8
	Name           string
	HappinessBoost int
	StatBoost      int
	BoostedStat    StatKind
}

// Training is a catalog training program.
type Training struct {
	ID            uint8
	Name          string
	TrainedStat   StatKind
	Intensity     int // 1..3, scales gain and happiness cost
	HappinessCost int
}

// Race is a catalog race definition.
type Race struct {
	ID       uint8
	Name     string
	Distance int // meters
	Purse    int
}

// FeedingSession records one completed feeding.
type FeedingSession struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	HorseID        uuid.UUID
	FeedingID      uint8
	UserID         uuid.UUID
	HappinessDelta int
	StatDelta      int
	FedAt          time.Time
}

// HorseFeedingPreference records how a horse responded the first time
// it sampled a feed; it never changes afterwards.
type HorseFeedingPreference struct {
	HorseID   uuid.UUID
	FeedingID uint8
	Liked     bool
}

// TrainingSession records one completed training.
type TrainingSession struct {
	ID            uuid.UUID
	SessionID     uuid.UUID
	HorseID       uuid.UUID
	TrainingID    uint8
	UserID        uuid.UUID
	TrainedStat   StatKind
	Gain          int
	HappinessCost int
	TrainedAt     time.Time
}

// RaceRun is one simulated race execution.
type RaceRun struct {
	ID     uuid.UUID
	RaceID uint8
	RunAt  time.Time
	Horses []RaceRunHorse
	Ticks  []RaceRunTick
}

// RaceRunHorse is one participant's final placement in a run.
type RaceRunHorse struct {
	RaceRunID      uuid.UUID
	HorseID        uuid.UUID
	Placement      int
	FinishedAtTick int
}

// RaceRunTick is a single horse's position at one simulation tick.
type RaceRunTick struct {
	RaceRunID uuid.UUID
	HorseID   uuid.UUID
	Tick      int
	Position  float64
}
