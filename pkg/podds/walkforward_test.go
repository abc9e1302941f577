package podds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWalkForwardOptions() WalkForwardOptions {
	opts := DefaultWalkForwardOptions()
	opts.Warmup = 40
	opts.RefitInterval = 10
	return opts
}

func TestWalkForwardComparison(t *testing.T) {
	matches := playSyntheticSeasons(61, 12)

	report, err := WalkForward(matches, 1, testWalkForwardOptions())
	require.NoError(t, err)

	require.Len(t, report.Runs, 3)
	assert.Equal(t, len(matches), report.Matches)
	assert.Equal(t, 40, report.Warmup)

	for _, run := range report.Runs {
		assert.Equal(t, len(matches)-40, run.Scored+run.Skipped,
			"run %s must account for every post-warmup match", run.Name)
		assert.Greater(t, run.Scored, 0, "run %s scored nothing", run.Name)
		assert.Greater(t, run.MeanRPS, 0.0)
		assert.Less(t, run.MeanRPS, 1.0)
		assert.Greater(t, run.MeanLogLoss, 0.0)
		assert.GreaterOrEqual(t, run.ResultAccuracy, 0.0)
	}

	require.Contains(t, report.RPSDelta, "poisson-baseline")
	assert.Zero(t, report.RPSDelta["poisson-baseline"], "the first run is its own baseline")
}

func TestWalkForwardTiersEngage(t *testing.T) {
	matches := playSyntheticSeasons(62, 12)

	report, err := WalkForward(matches, 1, testWalkForwardOptions())
	require.NoError(t, err)

	// The dixon-coles run starts on the baseline tier and upgrades once
	// enough history accumulates for a fit.
	tiers := make(map[Tier]int)
	for _, p := range report.Runs[1].Predictions {
		tiers[p.Tier]++
	}
	assert.Greater(t, tiers[TierDixonColes], 0, "the fitted tier should engage after warmup")

	// The stacked run should eventually serve from the blender.
	tiers = make(map[Tier]int)
	for _, p := range report.Runs[2].Predictions {
		tiers[p.Tier]++
	}
	assert.Greater(t, tiers[TierStacking], 0, "the stacking tier should engage once trained")
}

func TestWalkForwardOutperformsBaseline(t *testing.T) {
	// With data generated from a Dixon-Coles truth, the fitted model should
	// not score meaningfully worse than raw scoring averages.
	matches := playSyntheticSeasons(63, 15)

	report, err := WalkForward(matches, 1, testWalkForwardOptions())
	require.NoError(t, err)
	assert.LessOrEqual(t, report.RPSDelta["dixon-coles"], 0.01)
}

func TestWalkForwardBatchesTiedKickoffs(t *testing.T) {
	// A simultaneous league round: several matches share one kickoff instant.
	matches := playSyntheticSeasons(64, 12)
	tied := matches[49].UTCTime
	matches[50].UTCTime = tied
	matches[51].UTCTime = tied

	report, err := WalkForward(matches, 1, testWalkForwardOptions())
	require.NoError(t, err, "tied kickoffs must batch, not abort the run")

	for _, run := range report.Runs {
		assert.Equal(t, len(matches)-40, run.Scored+run.Skipped,
			"run %s must still account for every post-warmup match", run.Name)
	}
	scored := make(map[string]bool)
	for _, p := range report.Runs[0].Predictions {
		scored[p.MatchID] = true
	}
	assert.True(t, scored[matches[49].ID] && scored[matches[50].ID] && scored[matches[51].ID],
		"every match in the tied batch gets scored")
}

func TestWalkForwardFitsNeverSeeCurrentMatch(t *testing.T) {
	matches := playSyntheticSeasons(67, 10)
	// Include a tied round so the batch path is covered by the invariant too.
	matches[60].UTCTime = matches[59].UTCTime

	type fitCall struct {
		cutoff time.Time
		latest time.Time
		inputs int
	}
	var calls []fitCall

	opts := testWalkForwardOptions()
	opts.fitObserver = func(cutoff time.Time, inputs []*Match) {
		latest := time.Time{}
		for _, m := range inputs {
			if m.UTCTime.After(latest) {
				latest = m.UTCTime
			}
		}
		calls = append(calls, fitCall{cutoff: cutoff, latest: latest, inputs: len(inputs)})
	}

	_, err := WalkForward(matches, 1, opts)
	require.NoError(t, err)
	require.NotEmpty(t, calls, "the harness should have refitted at least once")

	for _, c := range calls {
		assert.True(t, c.latest.Before(c.cutoff),
			"fit input at %s must be strictly before the cutoff %s (%d inputs)",
			c.latest.Format(time.RFC3339), c.cutoff.Format(time.RFC3339), c.inputs)
	}
}

func TestWalkForwardTooFewMatches(t *testing.T) {
	matches := playSyntheticSeasons(65, 1)[:20]
	_, err := WalkForward(matches, 1, testWalkForwardOptions())
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestWalkForwardNeedsSpecs(t *testing.T) {
	opts := testWalkForwardOptions()
	opts.Specs = nil
	_, err := WalkForward(playSyntheticSeasons(66, 3), 1, opts)
	assert.Error(t, err)
}
