package podds

import (
	"fmt"
	"math"
	"time"
)

// EloTracker is an incremental rating system feeding the blender's rating
// differential feature. Ratings update match by match with a margin-of-victory
// multiplier, and regress toward the initial mean at season boundaries.
//
// The tracker's home advantage lives only inside its own expected-score
// formula. It is deliberately kept independent of the Dixon-Coles home
// advantage: both measure the same real-world effect through different
// channels, and summing them would double-count it.
type EloTracker struct {
	ratings map[string]float64
	season  string
	last    time.Time

	initial       float64
	k             float64
	homeAdvantage float64
	regression    float64
}

// NewEloTracker returns a tracker seeded from the global config.
func NewEloTracker() *EloTracker {
	return &EloTracker{
		ratings:       make(map[string]float64),
		last:          time.Time{},
		initial:       Config.EloInitial,
		k:             Config.EloK,
		homeAdvantage: Config.EloHomeAdvantage,
		regression:    Config.EloSeasonRegression,
	}
}

// Rating returns a team's current rating, the initial mean if unseen.
func (e *EloTracker) Rating(team string) float64 {
	if r, ok := e.ratings[team]; ok {
		return r
	}
	return e.initial
}

// Diff returns the home-minus-away rating differential. The home advantage
// term is intentionally excluded here; it belongs to the update formula, not
// to the feature handed to the blender.
func (e *EloTracker) Diff(homeID, awayID string) float64 {
	return e.Rating(homeID) - e.Rating(awayID)
}

// Expected returns the home side's expected score for a fixture, with the
// home advantage applied inside the logistic.
func (e *EloTracker) Expected(homeID, awayID string) float64 {
	diff := e.Rating(homeID) + e.homeAdvantage - e.Rating(awayID)
	return 1.0 / (1.0 + math.Pow(10, -diff/400))
}

// Observe folds one finished match into the ratings. Matches must arrive in
// kickoff order; feeding results out of order would leak future information
// into earlier ratings, so it is rejected rather than tolerated.
func (e *EloTracker) Observe(m *Match) error {
	if !m.HasBeenPlayed() {
		return fmt.Errorf("cannot observe unplayed match %s", m.ID)
	}
	if m.UTCTime.Before(e.last) {
		return fmt.Errorf("%w: match %s at %s, tracker at %s",
			ErrNotChronological, m.ID, m.UTCTime.Format(time.RFC3339), e.last.Format(time.RFC3339))
	}

	if m.Season != "" && m.Season != e.season {
		if e.season != "" {
			e.regressToMean()
		}
		e.season = m.Season
	}

	score := 0.5
	switch {
	case m.HomeGoals > m.AwayGoals:
		score = 1.0
	case m.HomeGoals < m.AwayGoals:
		score = 0.0
	}

	expected := e.Expected(m.HomeID, m.AwayID)
	delta := e.k * e.movMultiplier(m) * (score - expected)

	e.ratings[m.HomeID] = e.Rating(m.HomeID) + delta
	e.ratings[m.AwayID] = e.Rating(m.AwayID) - delta
	e.last = m.UTCTime
	return nil
}

// movMultiplier scales the update by margin of victory: a 4-0 says more about
// relative strength than a 1-0, but logarithmically so blowouts don't swamp
// the ratings.
func (e *EloTracker) movMultiplier(m *Match) float64 {
	diff := m.HomeGoals - m.AwayGoals
	if diff < 0 {
		diff = -diff
	}
	if diff <= 1 {
		return 1.0
	}
	return 1.0 + math.Log(float64(diff))
}

// regressToMean pulls every rating part-way back to the initial mean at a
// season boundary, reflecting squad churn between seasons.
func (e *EloTracker) regressToMean() {
	for team, rating := range e.ratings {
		e.ratings[team] = rating + e.regression*(e.initial-rating)
	}
}
