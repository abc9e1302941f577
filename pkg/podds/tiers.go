package podds

// Tier identifies which model produced a prediction. The serving path walks
// the chain top-down (stacking, then Dixon-Coles, then the Poisson baseline)
// and stops at the first tier whose prerequisites are satisfied, so every
// output carries its provenance instead of being selected by flag soup.
type Tier string

const (
	TierStacking     Tier = "stacking"
	TierDixonColes   Tier = "dc-goals"
	TierDixonColesXG Tier = "dc-xg"
	TierPoisson      Tier = "poisson-baseline"
)

// Prediction is the full output for one fixture: the 1X2 triple plus the
// derived goal markets and the raw expected goals the totals markets need.
type Prediction struct {
	MatchID string     `json:"matchId,omitempty"`
	Tier    Tier       `json:"tier"`
	Probs   ProbTriple `json:"probs"`

	Lambda float64 `json:"lambda"` // expected home goals
	Mu     float64 `json:"mu"`     // expected away goals

	Over1p5 float64 `json:"over1p5"`
	Over2p5 float64 `json:"over2p5"`
	BTTS    float64 `json:"btts"`

	MostLikelyHomeGoals int `json:"mostLikelyHomeGoals"`
	MostLikelyAwayGoals int `json:"mostLikelyAwayGoals"`

	Calibrated bool `json:"calibrated"`
}

// predictionFromGrid derives all market outputs from a tau-corrected score
// grid for the given expected goals.
func predictionFromGrid(lambda, mu, rho float64, tier Tier) *Prediction {
	grid := ScoreGrid(lambda, mu, rho, Config.GoalCap)
	mlh, mla := MostLikelyScore(grid)
	return &Prediction{
		Tier:                tier,
		Probs:               OutcomeProbs(grid).Clamp(Config.ProbEpsilon),
		Lambda:              lambda,
		Mu:                  mu,
		Over1p5:             OverProb(grid, 1.5),
		Over2p5:             OverProb(grid, 2.5),
		BTTS:                BTTSProb(grid),
		MostLikelyHomeGoals: mlh,
		MostLikelyAwayGoals: mla,
	}
}
