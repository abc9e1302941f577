package podds

import (
	"fmt"

	"github.com/richard-senior/podds/internal/logger"
)

// Predictor walks the fallback chain for one batch of fixtures. It holds an
// immutable snapshot of whatever artifacts the orchestration layer loaded:
// nil fields simply disable their tier. Ordering is fixed: stacking if a
// blender artifact exists, otherwise Dixon-Coles, otherwise the Poisson
// baseline, with the calibrator applied last in every case.
type Predictor struct {
	Baseline   *BaselineStats
	DCGoals    *DCParams
	DCXG       *DCParams
	Elo        *EloTracker
	Blender    *BlenderModel
	Calibrator *Calibrator
}

// Predict produces the final prediction for a fixture, tagged with the tier
// that produced it.
func (p *Predictor) Predict(m *Match) (*Prediction, error) {
	baseline, dcGoals, dcXG, err := p.basePredictions(m)
	if err != nil {
		return nil, err
	}

	var result *Prediction
	switch {
	case p.Blender != nil:
		features := p.features(m, baseline, dcGoals, dcXG)
		probs, blendErr := p.Blender.Blend(features)
		if blendErr != nil {
			return nil, blendErr
		}
		// The blender owns the 1X2 triple; the goal markets still come from
		// the best available score grid.
		base := dcGoals
		if base == nil {
			base = dcXG
		}
		if base == nil {
			base = baseline
		}
		result = &Prediction{
			Tier:                TierStacking,
			Probs:               probs,
			Lambda:              base.Lambda,
			Mu:                  base.Mu,
			Over1p5:             base.Over1p5,
			Over2p5:             base.Over2p5,
			BTTS:                base.BTTS,
			MostLikelyHomeGoals: base.MostLikelyHomeGoals,
			MostLikelyAwayGoals: base.MostLikelyAwayGoals,
		}
	case dcGoals != nil:
		result = dcGoals
	case dcXG != nil:
		result = dcXG
	default:
		result = baseline
	}

	if p.Calibrator != nil && !p.Calibrator.Identity {
		result.Probs = p.Calibrator.Apply(result.Probs)
		result.Calibrated = true
	}
	result.MatchID = m.ID
	return result, nil
}

// FeaturesFor exposes the blender feature vector for a fixture, used by the
// walk-forward harness to collect genuinely out-of-sample training rows.
func (p *Predictor) FeaturesFor(m *Match) ([]float64, error) {
	baseline, dcGoals, dcXG, err := p.basePredictions(m)
	if err != nil {
		return nil, err
	}
	return p.features(m, baseline, dcGoals, dcXG), nil
}

// basePredictions computes every available base model's output for the
// fixture. A Dixon-Coles set that does not cover one of the teams drops out
// of the chain quietly; a stale parameter set is a caller bug and fails loudly.
func (p *Predictor) basePredictions(m *Match) (baseline, dcGoals, dcXG *Prediction, err error) {
	if p.Baseline == nil {
		return nil, nil, nil, fmt.Errorf("predictor has no baseline model for match %s", m.ID)
	}
	baseline = p.Baseline.Predict(m.HomeID, m.AwayID)

	predict := func(params *DCParams) (*Prediction, error) {
		if params == nil {
			return nil, nil
		}
		if err := params.CheckKickoff(m.UTCTime); err != nil {
			return nil, err
		}
		pred, err := params.Predict(m.HomeID, m.AwayID)
		if err != nil {
			// Promoted or newly-covered teams may be missing from an older
			// fit; the tier is skipped rather than the batch aborted.
			logger.Debug("dixon-coles tier unavailable", m.ID, err)
			return nil, nil
		}
		return pred, nil
	}

	if dcGoals, err = predict(p.DCGoals); err != nil {
		return nil, nil, nil, err
	}
	if dcXG, err = predict(p.DCXG); err != nil {
		return nil, nil, nil, err
	}
	return baseline, dcGoals, dcXG, nil
}

func (p *Predictor) features(m *Match, baseline, dcGoals, dcXG *Prediction) []float64 {
	eloDiff := 0.0
	if p.Elo != nil {
		eloDiff = p.Elo.Diff(m.HomeID, m.AwayID)
	}
	var fair *ProbTriple
	if m.HasOdds() {
		if probs, err := FairProbs(m.HomeOdds, m.DrawOdds, m.AwayOdds); err == nil {
			fair = &probs
		}
	}
	return BuildFeatures(baseline, dcGoals, dcXG, eloDiff, fair)
}
