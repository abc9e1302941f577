package podds

import (
	"errors"
	"math"
	"time"
)

// Outcome indices for the 1X2 market. The order is significant: the ranked
// probability score treats home win, draw and away win as ordered categories.
const (
	OutcomeHome = 0
	OutcomeDraw = 1
	OutcomeAway = 2
)

// Sentinel errors surfaced by the modeling core. Callers are expected to
// pick a fallback tier on ErrInsufficientData and ErrNotConverged, and to
// treat ErrStaleParameters as a programming error in the calling code.
var (
	ErrInsufficientData = errors.New("podds: not enough matches to fit")
	ErrNotConverged     = errors.New("podds: optimizer did not converge")
	ErrStaleParameters  = errors.New("podds: parameters were fitted after the match kicked off")
	ErrUnknownTeam      = errors.New("podds: team not present in fitted parameters")
	ErrNoArtifact       = errors.New("podds: no stored artifact for scope and date")
	ErrFeatureMismatch  = errors.New("podds: feature vector does not match model contract")
	ErrNotChronological = errors.New("podds: observation out of chronological order")
)

// Match represents a single fixture. Goals use the -1 sentinel until the
// match settles; expected goals are fractional shot-quality values and stay
// at -1 when no xG feed covers the fixture. A settled match is never mutated.
type Match struct {
	ID       string    `json:"id"`
	LeagueID int       `json:"leagueId"`
	Season   string    `json:"season"`
	UTCTime  time.Time `json:"utcTime"`

	HomeID string `json:"homeId"`
	AwayID string `json:"awayId"`

	HomeGoals int `json:"homeGoals"`
	AwayGoals int `json:"awayGoals"`

	HomeXG float64 `json:"homeXg,omitempty"`
	AwayXG float64 `json:"awayXg,omitempty"`

	// Average decimal bookmaker odds for the 1X2 market, -1 when unknown.
	HomeOdds float64 `json:"homeOdds,omitempty"`
	DrawOdds float64 `json:"drawOdds,omitempty"`
	AwayOdds float64 `json:"awayOdds,omitempty"`
}

// NewMatch returns a Match with all optional fields set to their sentinels.
func NewMatch(id string, leagueID int, kickoff time.Time, homeID, awayID string) *Match {
	return &Match{
		ID:        id,
		LeagueID:  leagueID,
		UTCTime:   kickoff,
		HomeID:    homeID,
		AwayID:    awayID,
		HomeGoals: -1,
		AwayGoals: -1,
		HomeXG:    -1,
		AwayXG:    -1,
		HomeOdds:  -1,
		DrawOdds:  -1,
		AwayOdds:  -1,
	}
}

// HasBeenPlayed reports whether the match has a settled result.
func (m *Match) HasBeenPlayed() bool {
	return m.HomeGoals >= 0 && m.AwayGoals >= 0
}

// HasXG reports whether shot-quality expected goals are available.
func (m *Match) HasXG() bool {
	return m.HomeXG >= 0 && m.AwayXG >= 0
}

// HasOdds reports whether a full set of 1X2 bookmaker odds is present.
func (m *Match) HasOdds() bool {
	return m.HomeOdds > 0 && m.DrawOdds > 0 && m.AwayOdds > 0
}

// Outcome returns the realized 1X2 outcome index, or -1 for an unplayed match.
func (m *Match) Outcome() int {
	if !m.HasBeenPlayed() {
		return -1
	}
	switch {
	case m.HomeGoals > m.AwayGoals:
		return OutcomeHome
	case m.HomeGoals == m.AwayGoals:
		return OutcomeDraw
	default:
		return OutcomeAway
	}
}

// ProbTriple is an ordered (home, draw, away) probability vector.
// Every producer in this package guarantees the three values sum to one
// within floating tolerance and lie strictly inside (0, 1).
type ProbTriple struct {
	Home float64 `json:"home"`
	Draw float64 `json:"draw"`
	Away float64 `json:"away"`
}

// At returns the probability for the given outcome index.
func (p ProbTriple) At(outcome int) float64 {
	switch outcome {
	case OutcomeHome:
		return p.Home
	case OutcomeDraw:
		return p.Draw
	case OutcomeAway:
		return p.Away
	default:
		return 0
	}
}

// Double-chance markets, derived directly from the triple.
func (p ProbTriple) HomeOrDraw() float64 { return p.Home + p.Draw }
func (p ProbTriple) HomeOrAway() float64 { return p.Home + p.Away }
func (p ProbTriple) DrawOrAway() float64 { return p.Draw + p.Away }

// Sum returns the total mass of the triple.
func (p ProbTriple) Sum() float64 {
	return p.Home + p.Draw + p.Away
}

// Normalize rescales the triple to sum to one.
func (p ProbTriple) Normalize() ProbTriple {
	total := p.Sum()
	if total <= 0 {
		return ProbTriple{Home: 1.0 / 3, Draw: 1.0 / 3, Away: 1.0 / 3}
	}
	return ProbTriple{Home: p.Home / total, Draw: p.Draw / total, Away: p.Away / total}
}

// Clamp pins each component into [eps, 1-eps] and renormalizes, so downstream
// log transforms never see an exact zero.
func (p ProbTriple) Clamp(eps float64) ProbTriple {
	clamped := ProbTriple{
		Home: clampFloat(p.Home, eps, 1-eps),
		Draw: clampFloat(p.Draw, eps, 1-eps),
		Away: clampFloat(p.Away, eps, 1-eps),
	}
	return clamped.Normalize()
}

// Valid reports whether the triple is a proper distribution within tolerance.
func (p ProbTriple) Valid() bool {
	if math.Abs(p.Sum()-1) > 1e-6 {
		return false
	}
	for _, v := range []float64{p.Home, p.Draw, p.Away} {
		if v <= 0 || v >= 1 || math.IsNaN(v) {
			return false
		}
	}
	return true
}

func clampFloat(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
