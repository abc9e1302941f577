package podds

import "fmt"

// FairProbs converts decimal 1X2 bookmaker odds into implied probabilities
// with the overround removed: each reciprocal is divided by the sum of the
// three reciprocals, so the bookmaker margin disappears by normalization.
func FairProbs(homeOdds, drawOdds, awayOdds float64) (ProbTriple, error) {
	if homeOdds <= 1 || drawOdds <= 1 || awayOdds <= 1 {
		return ProbTriple{}, fmt.Errorf("decimal odds must each exceed 1.0, got %v/%v/%v", homeOdds, drawOdds, awayOdds)
	}
	raw := ProbTriple{
		Home: 1 / homeOdds,
		Draw: 1 / drawOdds,
		Away: 1 / awayOdds,
	}
	return raw.Normalize(), nil
}

// Overround returns the bookmaker margin for a 1X2 price set: the amount by
// which the summed implied probabilities exceed 1.
func Overround(homeOdds, drawOdds, awayOdds float64) (float64, error) {
	if homeOdds <= 1 || drawOdds <= 1 || awayOdds <= 1 {
		return 0, fmt.Errorf("decimal odds must each exceed 1.0, got %v/%v/%v", homeOdds, drawOdds, awayOdds)
	}
	return 1/homeOdds + 1/drawOdds + 1/awayOdds - 1, nil
}
