package podds

import "math"

// RankedProbabilityScore scores an ordered 3-outcome forecast against the
// realized outcome index. It is the cumulative squared difference between the
// forecast CDF and the outcome CDF, normalized to [0, 1]; lower is better.
// Unlike log-loss it credits near misses: a confident draw forecast scores
// better against a narrow home win than a confident away-win forecast does.
func RankedProbabilityScore(forecast ProbTriple, outcome int) float64 {
	forecastCDF := [2]float64{forecast.Home, forecast.Home + forecast.Draw}
	var outcomeCDF [2]float64
	if outcome <= OutcomeHome {
		outcomeCDF[0] = 1
	}
	if outcome <= OutcomeDraw {
		outcomeCDF[1] = 1
	}
	sum := 0.0
	for i := 0; i < 2; i++ {
		d := forecastCDF[i] - outcomeCDF[i]
		sum += d * d
	}
	return sum / 2
}

// BrierScore is the squared error between one predicted probability and the
// binary indicator of whether that outcome happened.
func BrierScore(prob float64, happened bool) float64 {
	indicator := 0.0
	if happened {
		indicator = 1.0
	}
	d := prob - indicator
	return d * d
}

// LogLoss is the negative log probability assigned to the realized outcome,
// clamped away from zero so a confident miss stays finite.
func LogLoss(forecast ProbTriple, outcome int) float64 {
	p := clampFloat(forecast.At(outcome), 1e-12, 1)
	return -math.Log(p)
}
