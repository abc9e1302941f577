package podds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictorBaselineOnly(t *testing.T) {
	matches := playSyntheticSeasons(31, 10)
	predictor := Predictor{Baseline: NewBaselineStats(matches)}

	fixture := NewMatch("f1", 1, matches[len(matches)-1].UTCTime.Add(24*time.Hour), "ARS", "TOT")
	pred, err := predictor.Predict(fixture)
	require.NoError(t, err)
	assert.Equal(t, TierPoisson, pred.Tier)
	assert.False(t, pred.Calibrated)
	assert.Equal(t, "f1", pred.MatchID)
}

func TestPredictorPrefersDixonColes(t *testing.T) {
	matches := playSyntheticSeasons(32, 10)
	params, err := FitDixonColes(matches, 1, DefaultDCFitOptions(DCModeGoals))
	require.NoError(t, err)

	predictor := Predictor{Baseline: NewBaselineStats(matches), DCGoals: params}
	fixture := NewMatch("f1", 1, params.AsOf.Add(24*time.Hour), "ARS", "TOT")
	pred, err := predictor.Predict(fixture)
	require.NoError(t, err)
	assert.Equal(t, TierDixonColes, pred.Tier)
}

func TestPredictorFallsBackOnUnknownTeam(t *testing.T) {
	matches := playSyntheticSeasons(33, 10)
	params, err := FitDixonColes(matches, 1, DefaultDCFitOptions(DCModeGoals))
	require.NoError(t, err)

	predictor := Predictor{Baseline: NewBaselineStats(matches), DCGoals: params}
	fixture := NewMatch("f1", 1, params.AsOf.Add(24*time.Hour), "ARS", "PROMOTED")
	pred, err := predictor.Predict(fixture)
	require.NoError(t, err, "an uncovered team should drop the tier, not the prediction")
	assert.Equal(t, TierPoisson, pred.Tier)
}

func TestPredictorRejectsStaleParameters(t *testing.T) {
	matches := playSyntheticSeasons(34, 10)
	params, err := FitDixonColes(matches, 1, DefaultDCFitOptions(DCModeGoals))
	require.NoError(t, err)

	predictor := Predictor{Baseline: NewBaselineStats(matches), DCGoals: params}
	past := NewMatch("f1", 1, params.AsOf.Add(-48*time.Hour), "ARS", "TOT")
	_, err = predictor.Predict(past)
	assert.ErrorIs(t, err, ErrStaleParameters,
		"scoring a match the fit already saw must fail loudly")
}

func TestPredictorAppliesCalibratorLast(t *testing.T) {
	matches := playSyntheticSeasons(35, 10)
	calibrator := TrainCalibrator(biasedSamples(400), DefaultCalibratorTrainOptions())
	require.False(t, calibrator.Identity)

	predictor := Predictor{Baseline: NewBaselineStats(matches), Calibrator: calibrator}
	fixture := NewMatch("f1", 1, matches[len(matches)-1].UTCTime.Add(24*time.Hour), "ARS", "TOT")
	pred, err := predictor.Predict(fixture)
	require.NoError(t, err)
	assert.True(t, pred.Calibrated)
	assert.True(t, pred.Probs.Valid())
}

func TestPredictorRequiresBaseline(t *testing.T) {
	predictor := Predictor{}
	_, err := predictor.Predict(NewMatch("f1", 1, time.Now(), "A", "B"))
	assert.Error(t, err)
}
