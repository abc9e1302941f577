package podds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(":memory:")
	require.NoError(t, err, "Failed to initialize test database")
	t.Cleanup(func() { store.Close() })
	return store
}

func testParams(asOf time.Time) *DCParams {
	return &DCParams{
		LeagueID:      1,
		Mode:          DCModeGoals,
		AsOf:          asOf,
		FittedAt:      asOf.Add(time.Minute),
		HomeAdvantage: 0.28,
		Rho:           -0.08,
		Attack:        map[string]float64{"A": 0.2, "B": -0.2},
		Defense:       map[string]float64{"A": -0.1, "B": 0.1},
		Matches:       120,
		Converged:     true,
	}
}

func TestStoreDCParamsAsOfResolution(t *testing.T) {
	store := openTestStore(t)
	day1 := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	day10 := day1.Add(9 * 24 * time.Hour)

	require.NoError(t, store.SaveDCParams(testParams(day1)))
	require.NoError(t, store.SaveDCParams(testParams(day10)))

	// A date between the two versions resolves to the earlier one.
	loaded, err := store.LoadDCParams(1, DCModeGoals, day1.Add(4*24*time.Hour))
	require.NoError(t, err)
	assert.True(t, loaded.AsOf.Equal(day1))
	assert.InDelta(t, 0.2, loaded.Attack["A"], 1e-12)

	// A later date resolves to the newest version.
	loaded, err = store.LoadDCParams(1, DCModeGoals, day10.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, loaded.AsOf.Equal(day10))

	// Nothing exists before the first version.
	_, err = store.LoadDCParams(1, DCModeGoals, day1.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrNoArtifact)

	// Other scopes stay empty.
	_, err = store.LoadDCParams(2, DCModeGoals, day10)
	assert.ErrorIs(t, err, ErrNoArtifact)
	_, err = store.LoadDCParams(1, DCModeXG, day10)
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestStoreRetainsSupersededVersions(t *testing.T) {
	store := openTestStore(t)
	asOf := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	first := testParams(asOf)
	second := testParams(asOf)
	second.FittedAt = first.FittedAt.Add(time.Hour)
	second.Rho = -0.12

	require.NoError(t, store.SaveDCParams(first))
	require.NoError(t, store.SaveDCParams(second))

	// The latest fit for the same as-of date wins, the old row is kept.
	loaded, err := store.LoadDCParams(1, DCModeGoals, asOf)
	require.NoError(t, err)
	assert.InDelta(t, -0.12, loaded.Rho, 1e-12)
}

func TestStoreBlenderRoundtrip(t *testing.T) {
	store := openTestStore(t)

	model, err := TrainBlender(agreementSamples(200), DefaultFeatureNames(), DefaultBlenderTrainOptions())
	require.NoError(t, err)
	require.NoError(t, store.SaveBlender(1, model))

	loaded, err := store.LoadBlender(1, model.TrainedAt)
	require.NoError(t, err)
	assert.Equal(t, model.FeatureNames, loaded.FeatureNames)
	assert.InDelta(t, model.ValidationLogLoss, loaded.ValidationLogLoss, 1e-9)

	_, err = store.LoadBlender(99, model.TrainedAt)
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestStoreBlenderAsOfResolution(t *testing.T) {
	store := openTestStore(t)
	day1 := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	day10 := day1.Add(9 * 24 * time.Hour)

	early, err := TrainBlender(agreementSamples(200), DefaultFeatureNames(), DefaultBlenderTrainOptions())
	require.NoError(t, err)
	early.TrainedAt = day1
	early.Samples = 200
	late, err := TrainBlender(agreementSamples(300), DefaultFeatureNames(), DefaultBlenderTrainOptions())
	require.NoError(t, err)
	late.TrainedAt = day10
	late.Samples = 300

	require.NoError(t, store.SaveBlender(1, early))
	require.NoError(t, store.SaveBlender(1, late))

	// A backtest at a date between the two versions must see the earlier one.
	loaded, err := store.LoadBlender(1, day1.Add(4*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 200, loaded.Samples)

	loaded, err = store.LoadBlender(1, day10.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 300, loaded.Samples)

	_, err = store.LoadBlender(1, day1.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestStoreBlenderRejectsSchemaDrift(t *testing.T) {
	store := openTestStore(t)

	model, err := TrainBlender(agreementSamples(200), DefaultFeatureNames(), DefaultBlenderTrainOptions())
	require.NoError(t, err)
	model.Version = BlenderSchemaVersion + 1
	require.NoError(t, store.SaveBlender(1, model))

	_, err = store.LoadBlender(1, model.TrainedAt)
	assert.ErrorIs(t, err, ErrFeatureMismatch,
		"a stored model from another schema version must not be served")
}

func TestStoreCalibratorRoundtrip(t *testing.T) {
	store := openTestStore(t)

	c := TrainCalibrator(biasedSamples(400), DefaultCalibratorTrainOptions())
	require.False(t, c.Identity)
	require.NoError(t, store.SaveCalibrator(1, c))

	loaded, err := store.LoadCalibrator(1, c.TrainedAt)
	require.NoError(t, err)
	assert.Equal(t, c.W, loaded.W)
	assert.False(t, loaded.Identity)

	_, err = store.LoadCalibrator(2, c.TrainedAt)
	assert.ErrorIs(t, err, ErrNoArtifact)

	// Nothing exists before the first training date.
	_, err = store.LoadCalibrator(1, c.TrainedAt.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestStoreMatchesRoundtrip(t *testing.T) {
	store := openTestStore(t)
	matches := playSyntheticSeasons(71, 2)

	require.NoError(t, store.SaveMatches(matches))

	loaded, err := store.LoadMatches(1)
	require.NoError(t, err)
	require.Len(t, loaded, len(matches))
	assert.Equal(t, matches[0].ID, loaded[0].ID)
	assert.True(t, loaded[0].UTCTime.Before(loaded[len(loaded)-1].UTCTime),
		"matches load in kickoff order")

	// Upserting the same matches again must not duplicate rows.
	require.NoError(t, store.SaveMatches(matches))
	loaded, err = store.LoadMatches(1)
	require.NoError(t, err)
	assert.Len(t, loaded, len(matches))
}
