package podds

import (
	"math"
	"math/rand"
)

// PoissonProb calculates Poisson probability P(X = k) where X ~ Poisson(lambda).
// Computed in log space for numerical stability.
func PoissonProb(lambda float64, k int) float64 {
	if k < 0 {
		return 0
	}
	if lambda <= 0 {
		if k == 0 {
			return 1.0
		}
		return 0
	}
	logProb := float64(k)*math.Log(lambda) - lambda - logFactorial(k)
	return math.Exp(logProb)
}

// logFactorial computes log(n!) for Poisson calculations.
func logFactorial(n int) float64 {
	if n <= 1 {
		return 0
	}
	result := 0.0
	for i := 2; i <= n; i++ {
		result += math.Log(float64(i))
	}
	return result
}

// PoissonSample draws one sample from Poisson(lambda) using the supplied
// source. Knuth's algorithm below lambda 12, normal approximation above.
func PoissonSample(lambda float64, rng *rand.Rand) int {
	if lambda <= 0 {
		return 0
	}
	if lambda < 12 {
		L := math.Exp(-lambda)
		k := 0
		p := 1.0
		for p > L {
			k++
			p *= rng.Float64()
		}
		return k - 1
	}
	return int(math.Max(0, math.Round(rng.NormFloat64()*math.Sqrt(lambda)+lambda)))
}

// Tau is the Dixon-Coles low-score correction factor. It adjusts the four
// scorelines in {0,1}x{0,1} where independent Poisson under-represents the
// observed excess of low-scoring draws, and is 1 everywhere else.
func Tau(homeGoals, awayGoals int, lambda, mu, rho float64) float64 {
	switch {
	case homeGoals == 0 && awayGoals == 0:
		return 1 - lambda*mu*rho
	case homeGoals == 0 && awayGoals == 1:
		return 1 + lambda*rho
	case homeGoals == 1 && awayGoals == 0:
		return 1 + mu*rho
	case homeGoals == 1 && awayGoals == 1:
		return 1 - rho
	default:
		return 1.0
	}
}

// ScoreGrid builds the scoreline probability matrix up to goalCap goals per
// side: independent Poisson outer product with the tau correction applied,
// cells floored at zero and the whole grid renormalized.
func ScoreGrid(lambda, mu, rho float64, goalCap int) [][]float64 {
	homeProbs := make([]float64, goalCap+1)
	awayProbs := make([]float64, goalCap+1)
	for k := 0; k <= goalCap; k++ {
		homeProbs[k] = PoissonProb(lambda, k)
		awayProbs[k] = PoissonProb(mu, k)
	}

	grid := make([][]float64, goalCap+1)
	for h := 0; h <= goalCap; h++ {
		grid[h] = make([]float64, goalCap+1)
		for a := 0; a <= goalCap; a++ {
			cell := homeProbs[h] * awayProbs[a]
			if rho != 0 && h <= 1 && a <= 1 {
				cell *= Tau(h, a, lambda, mu, rho)
				if cell < 0 {
					cell = 0
				}
			}
			grid[h][a] = cell
		}
	}
	return renormalizeGrid(grid)
}

// renormalizeGrid rescales all cells so the grid sums to 1.
func renormalizeGrid(grid [][]float64) [][]float64 {
	total := 0.0
	for i := range grid {
		for j := range grid[i] {
			total += grid[i][j]
		}
	}
	if total > 0 {
		for i := range grid {
			for j := range grid[i] {
				grid[i][j] /= total
			}
		}
	}
	return grid
}

// OutcomeProbs derives 1X2 probabilities from a scoreline grid by summing the
// lower triangle (home win), diagonal (draw) and upper triangle (away win).
func OutcomeProbs(grid [][]float64) ProbTriple {
	var p ProbTriple
	for h := range grid {
		for a := range grid[h] {
			switch {
			case h > a:
				p.Home += grid[h][a]
			case h == a:
				p.Draw += grid[h][a]
			default:
				p.Away += grid[h][a]
			}
		}
	}
	return p.Normalize()
}

// OverProb returns the probability of total goals exceeding the given line.
func OverProb(grid [][]float64, line float64) float64 {
	prob := 0.0
	for h := range grid {
		for a := range grid[h] {
			if float64(h+a) > line {
				prob += grid[h][a]
			}
		}
	}
	return prob
}

// BTTSProb returns the probability both teams score at least once.
func BTTSProb(grid [][]float64) float64 {
	prob := 0.0
	for h := 1; h < len(grid); h++ {
		for a := 1; a < len(grid[h]); a++ {
			prob += grid[h][a]
		}
	}
	return prob
}

// MostLikelyScore returns the modal scoreline of the grid.
func MostLikelyScore(grid [][]float64) (homeGoals, awayGoals int) {
	best := -1.0
	for h := range grid {
		for a := range grid[h] {
			if grid[h][a] > best {
				best = grid[h][a]
				homeGoals, awayGoals = h, a
			}
		}
	}
	return homeGoals, awayGoals
}

/////////////////////////////////////////////////////////////////////////
////// Poisson baseline from rolling scoring averages
/////////////////////////////////////////////////////////////////////////

type teamAverages struct {
	homeScored, homeConceded float64
	awayScored, awayConceded float64
	homePlayed, awayPlayed   int
}

// BaselineStats is the bottom prediction tier: expected goals from empirical
// per-team scoring averages scaled against the league average. It needs no
// fitted parameters, so it is always available once a handful of matches exist.
type BaselineStats struct {
	teams          map[string]*teamAverages
	leagueHomeAvg  float64
	leagueAwayAvg  float64
	matchesCounted int
}

// NewBaselineStats accumulates scoring averages from the given finished matches.
func NewBaselineStats(matches []*Match) *BaselineStats {
	b := &BaselineStats{teams: make(map[string]*teamAverages)}
	totalHome, totalAway := 0.0, 0.0
	for _, m := range matches {
		if !m.HasBeenPlayed() {
			continue
		}
		home := b.team(m.HomeID)
		away := b.team(m.AwayID)
		home.homeScored += float64(m.HomeGoals)
		home.homeConceded += float64(m.AwayGoals)
		home.homePlayed++
		away.awayScored += float64(m.AwayGoals)
		away.awayConceded += float64(m.HomeGoals)
		away.awayPlayed++
		totalHome += float64(m.HomeGoals)
		totalAway += float64(m.AwayGoals)
		b.matchesCounted++
	}
	if b.matchesCounted > 0 {
		b.leagueHomeAvg = totalHome / float64(b.matchesCounted)
		b.leagueAwayAvg = totalAway / float64(b.matchesCounted)
	} else {
		// Sensible league-wide priors when no history exists at all.
		b.leagueHomeAvg = 1.5
		b.leagueAwayAvg = 1.1
	}
	return b
}

func (b *BaselineStats) team(id string) *teamAverages {
	t, ok := b.teams[id]
	if !ok {
		t = &teamAverages{}
		b.teams[id] = t
	}
	return t
}

// Matches returns the number of finished matches the averages were built from.
func (b *BaselineStats) Matches() int {
	return b.matchesCounted
}

// ExpectedGoals returns (lambda, mu) for a fixture as attack strength times
// opposition defense weakness times the league venue average. Unknown teams
// fall back to strength 1.0, the league-average team.
func (b *BaselineStats) ExpectedGoals(homeID, awayID string) (lambda, mu float64) {
	homeAttack, homeDefense := b.strengths(homeID, true)
	awayAttack, awayDefense := b.strengths(awayID, false)

	lambda = homeAttack * awayDefense * b.leagueHomeAvg
	mu = awayAttack * homeDefense * b.leagueAwayAvg
	if lambda <= 0 {
		lambda = 0.05
	}
	if mu <= 0 {
		mu = 0.05
	}
	return lambda, mu
}

// strengths returns (attack, defense) multipliers relative to league average
// for the requested venue.
func (b *BaselineStats) strengths(teamID string, home bool) (attack, defense float64) {
	attack, defense = 1.0, 1.0
	t, ok := b.teams[teamID]
	if !ok {
		return attack, defense
	}
	if home && t.homePlayed > 0 && b.leagueHomeAvg > 0 && b.leagueAwayAvg > 0 {
		attack = (t.homeScored / float64(t.homePlayed)) / b.leagueHomeAvg
		defense = (t.homeConceded / float64(t.homePlayed)) / b.leagueAwayAvg
	} else if !home && t.awayPlayed > 0 && b.leagueHomeAvg > 0 && b.leagueAwayAvg > 0 {
		attack = (t.awayScored / float64(t.awayPlayed)) / b.leagueAwayAvg
		defense = (t.awayConceded / float64(t.awayPlayed)) / b.leagueHomeAvg
	}
	return attack, defense
}

// Predict returns the baseline 1X2 probabilities and markets for a fixture.
func (b *BaselineStats) Predict(homeID, awayID string) *Prediction {
	lambda, mu := b.ExpectedGoals(homeID, awayID)
	return predictionFromGrid(lambda, mu, 0, TierPoisson)
}
