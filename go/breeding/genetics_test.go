package breeding

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hoofworks/paddock/go/model"
)

func testParent(sex model.Sex, dom, rec int) *model.Horse {
	var h = &model.Horse{ID: uuid.New(), Sex: sex}
	for _, kind := range model.HeritableStats {
		h.Statistics = append(h.Statistics, model.Statistic{
			ID:                 uuid.New(),
			HorseID:            h.ID,
			Kind:               kind,
			DominantPotential:  dom,
			RecessivePotential: rec,
			Actual:             dom / 2,
		})
	}
	return h
}

func TestMutatePotentialStaysInBoundsOrResets(t *testing.T) {
	var r = rand.New(rand.NewSource(7))
	for i := 0; i < 10000; i++ {
		var out = mutatePotential(r, 60)
		require.GreaterOrEqual(t, out, potentialFloor)
		require.LessOrEqual(t, out, potentialCeil)
	}
}

func TestMutatePotentialResetsOutOfBoundsToMidpoint(t *testing.T) {
	var r = rand.New(rand.NewSource(7))
	var sawReset bool
	// A potential at the ceiling mutates above it often enough that the
	// midpoint reset must be observed.
	for i := 0; i < 10000 && !sawReset; i++ {
		if out := mutatePotential(r, potentialCeil); out == potentialReset {
			sawReset = true
		}
	}
	require.True(t, sawReset)
}

func TestActualForRange(t *testing.T) {
	var r = rand.New(rand.NewSource(11))
	for i := 0; i < 5000; i++ {
		var actual = actualFor(r, 60)
		require.GreaterOrEqual(t, actual, 20)
		require.LessOrEqual(t, actual, 30)
	}
	// Tiny potentials still yield at least 1.
	for i := 0; i < 100; i++ {
		require.GreaterOrEqual(t, actualFor(r, 2), 1)
	}
}

func TestInheritStatisticsCoversEveryStat(t *testing.T) {
	var r = rand.New(rand.NewSource(3))
	var sire = testParent(model.SexStallion, 70, 50)
	var dam = testParent(model.SexMare, 60, 40)
	var foalID = uuid.New()

	var stats, err = inheritStatistics(r, foalID, sire, dam)
	require.NoError(t, err)
	require.Len(t, stats, len(model.HeritableStats)+1)

	var byKind = make(map[model.StatKind]model.Statistic)
	for _, s := range stats {
		require.Equal(t, foalID, s.HorseID)
		byKind[s.Kind] = s
	}
	for _, kind := range model.HeritableStats {
		var s, ok = byKind[kind]
		require.True(t, ok)
		require.GreaterOrEqual(t, s.DominantPotential, potentialFloor)
		require.LessOrEqual(t, s.DominantPotential, potentialCeil)
		require.GreaterOrEqual(t, s.Actual, 1)
		require.LessOrEqual(t, s.Actual, s.DominantPotential/2)
	}

	var happiness = byKind[model.StatHappiness]
	require.Equal(t, 100, happiness.DominantPotential)
	require.Equal(t, 50, happiness.Actual)
}

func TestInheritStatisticsRequiresBothParentsStats(t *testing.T) {
	var r = rand.New(rand.NewSource(3))
	var sire = testParent(model.SexStallion, 70, 50)
	var dam = testParent(model.SexMare, 60, 40)
	dam.Statistics = dam.Statistics[:1] // drop all but Speed

	var _, err = inheritStatistics(r, uuid.New(), sire, dam)
	require.ErrorContains(t, err, "both parents must carry")
}

func TestSampleColorEmptyCatalog(t *testing.T) {
	var r = rand.New(rand.NewSource(1))
	var _, err = sampleColor(r, nil, 0)
	require.Error(t, err)
}

func TestSampleColorRespectsWeights(t *testing.T) {
	var r = rand.New(rand.NewSource(42))
	var common = model.Color{ID: uuid.New(), Name: "Bay", Weight: 1}
	var rare = model.Color{ID: uuid.New(), Name: "Cremello", Weight: 100}
	var catalog = []model.Color{common, rare}

	var counts = make(map[uuid.UUID]int)
	for i := 0; i < 10000; i++ {
		var c, err = sampleColor(r, catalog, 0)
		require.NoError(t, err)
		counts[c.ID]++
	}
	// Bay at weight 1 is 100x as frequent as Cremello at weight 100.
	require.Greater(t, counts[common.ID], 9000)
	require.Greater(t, counts[rare.ID], 0)
}

func TestSpecialParentsBoostSpecialColors(t *testing.T) {
	var r = rand.New(rand.NewSource(42))
	var plain = model.Color{ID: uuid.New(), Name: "Bay", Weight: 1}
	var special = model.Color{ID: uuid.New(), Name: "Moonlit", Weight: 100, IsSpecial: true}
	var catalog = []model.Color{plain, special}

	var draw = func(specialParents int) int {
		var hits int
		for i := 0; i < 10000; i++ {
			var c, err = sampleColor(r, catalog, specialParents)
			require.NoError(t, err)
			if c.ID == special.ID {
				hits++
			}
		}
		return hits
	}

	var none, one, both = draw(0), draw(1), draw(2)
	require.Greater(t, one, none)
	require.Greater(t, both, one)
	// Two special parents put the special color at a 50x multiplier:
	// frequency 0.5 against Bay's 1.0, about a third of draws.
	require.Greater(t, both, 2500)
}

func TestInheritSexAndLegTypeAreUniformDraws(t *testing.T) {
	var r = rand.New(rand.NewSource(9))
	var sexes = make(map[model.Sex]int)
	var legs = make(map[model.LegType]int)
	for i := 0; i < 4000; i++ {
		sexes[inheritSex(r)]++
		legs[inheritLegType(r)]++
	}
	require.Len(t, sexes, 2)
	require.Len(t, legs, len(model.LegTypes))
	for _, n := range legs {
		require.Greater(t, n, 500)
	}
}
