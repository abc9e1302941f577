package podds

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoissonProb(t *testing.T) {
	assert.InDelta(t, math.Exp(-1.5), PoissonProb(1.5, 0), 1e-12)
	assert.InDelta(t, 1.5*math.Exp(-1.5), PoissonProb(1.5, 1), 1e-12)
	assert.Zero(t, PoissonProb(1.5, -1))
	assert.Equal(t, 1.0, PoissonProb(0, 0))

	total := 0.0
	for k := 0; k <= 30; k++ {
		total += PoissonProb(2.3, k)
	}
	assert.InDelta(t, 1.0, total, 1e-9, "mass up to 30 goals should be essentially 1")
}

func TestPoissonSampleMean(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, lambda := range []float64{0.8, 2.5, 15} {
		total := 0
		n := 20000
		for i := 0; i < n; i++ {
			total += PoissonSample(lambda, rng)
		}
		assert.InDelta(t, lambda, float64(total)/float64(n), 0.1, "sample mean for lambda %v", lambda)
	}
}

func TestTau(t *testing.T) {
	lambda, mu, rho := 1.4, 1.1, -0.1
	assert.InDelta(t, 1-lambda*mu*rho, Tau(0, 0, lambda, mu, rho), 1e-12)
	assert.InDelta(t, 1+lambda*rho, Tau(0, 1, lambda, mu, rho), 1e-12)
	assert.InDelta(t, 1+mu*rho, Tau(1, 0, lambda, mu, rho), 1e-12)
	assert.InDelta(t, 1-rho, Tau(1, 1, lambda, mu, rho), 1e-12)
	assert.Equal(t, 1.0, Tau(2, 1, lambda, mu, rho), "correction only touches the low-score cells")
	assert.Equal(t, 1.0, Tau(0, 2, lambda, mu, rho))
}

func TestScoreGridSumsToOne(t *testing.T) {
	for _, rho := range []float64{0, -0.12, 0.2} {
		grid := ScoreGrid(1.6, 1.2, rho, Config.GoalCap)
		total := 0.0
		for h := range grid {
			for a := range grid[h] {
				total += grid[h][a]
				assert.GreaterOrEqual(t, grid[h][a], 0.0)
			}
		}
		assert.InDelta(t, 1.0, total, 1e-9, "grid with rho %v", rho)
	}
}

func TestScoreGridNegativeRhoShiftsDraws(t *testing.T) {
	flat := OutcomeProbs(ScoreGrid(1.3, 1.3, 0, Config.GoalCap))
	corrected := OutcomeProbs(ScoreGrid(1.3, 1.3, -0.1, Config.GoalCap))
	assert.Greater(t, corrected.Draw, flat.Draw,
		"negative rho should add mass to low-scoring draws")
}

func TestOutcomeProbsSymmetry(t *testing.T) {
	p := OutcomeProbs(ScoreGrid(1.4, 1.4, 0, Config.GoalCap))
	assert.InDelta(t, p.Home, p.Away, 1e-9, "equal expected goals give symmetric win probabilities")
	assert.True(t, p.Valid())
}

func TestGoalMarkets(t *testing.T) {
	grid := ScoreGrid(1.8, 1.2, 0, Config.GoalCap)
	over15 := OverProb(grid, 1.5)
	over25 := OverProb(grid, 2.5)
	assert.Greater(t, over15, over25, "higher lines are harder to clear")
	assert.Greater(t, over15, 0.0)
	assert.Less(t, over25, 1.0)

	btts := BTTSProb(grid)
	assert.Greater(t, btts, 0.0)
	assert.Less(t, btts, 1.0)

	h, a := MostLikelyScore(grid)
	assert.GreaterOrEqual(t, h, 0)
	assert.GreaterOrEqual(t, a, 0)
}

func TestBaselineStats(t *testing.T) {
	matches := playSyntheticSeasons(13, 10)
	baseline := NewBaselineStats(matches)
	require.Equal(t, len(matches), baseline.Matches())

	pred := baseline.Predict("ARS", "TOT")
	assert.Equal(t, TierPoisson, pred.Tier)
	assert.True(t, pred.Probs.Valid())
	assert.Greater(t, pred.Probs.Home, pred.Probs.Away,
		"the dominant side should be favourite even on raw averages")

	// Unknown teams degrade to the league-average matchup.
	unknown := baseline.Predict("AAA", "BBB")
	assert.True(t, unknown.Probs.Valid())
	assert.Greater(t, unknown.Probs.Home, unknown.Probs.Away,
		"home advantage survives in the league averages")
}

func TestBaselineStatsEmpty(t *testing.T) {
	baseline := NewBaselineStats(nil)
	pred := baseline.Predict("A", "B")
	assert.True(t, pred.Probs.Valid(), "priors should produce a usable prediction with zero history")
}
