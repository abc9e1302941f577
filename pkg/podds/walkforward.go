package podds

import (
	"fmt"
	"sort"
	"time"

	"github.com/richard-senior/podds/internal/logger"
)

// RunSpec names one model configuration evaluated by the walk-forward
// harness. All specs in a run score the identical match sequence, so their
// aggregate metrics are directly comparable.
type RunSpec struct {
	Name          string
	UseDCGoals    bool
	UseDCXG       bool
	UseBlender    bool
	UseCalibrator bool
}

// DefaultRunSpecs is the standard ablation ladder: the empirical Poisson
// baseline, Dixon-Coles on its own, and the full stacked pipeline.
func DefaultRunSpecs() []RunSpec {
	return []RunSpec{
		{Name: "poisson-baseline"},
		{Name: "dixon-coles", UseDCGoals: true},
		{Name: "stacked", UseDCGoals: true, UseDCXG: true, UseBlender: true, UseCalibrator: true},
	}
}

// WalkForwardOptions configures a harness run.
type WalkForwardOptions struct {
	RefitInterval int // matches between Dixon-Coles refits
	Warmup        int // initial matches excluded from scoring
	FitOptions    DCFitOptions
	Specs         []RunSpec

	// fitObserver, when set, sees every refit's cutoff and input matches.
	fitObserver func(cutoff time.Time, inputs []*Match)
}

// DefaultWalkForwardOptions returns options seeded from the config.
func DefaultWalkForwardOptions() WalkForwardOptions {
	return WalkForwardOptions{
		RefitInterval: Config.RefitInterval,
		Warmup:        Config.WarmupMatches,
		FitOptions:    DefaultDCFitOptions(DCModeGoals),
		Specs:         DefaultRunSpecs(),
	}
}

// MatchScore records one scored prediction inside a run.
type MatchScore struct {
	MatchID string     `json:"matchId"`
	Kickoff time.Time  `json:"kickoff"`
	Tier    Tier       `json:"tier"`
	Probs   ProbTriple `json:"probs"`
	Outcome int        `json:"outcome"`
	RPS     float64    `json:"rps"`
	Brier   float64    `json:"brier"`
	LogLoss float64    `json:"logLoss"`
}

// RunReport aggregates one configuration's performance over the sequence.
type RunReport struct {
	Name           string       `json:"name"`
	Scored         int          `json:"scored"`
	Skipped        int          `json:"skipped"`
	MeanRPS        float64      `json:"meanRps"`
	MeanBrier      float64      `json:"meanBrier"`
	MeanLogLoss    float64      `json:"meanLogLoss"`
	ResultAccuracy float64      `json:"resultAccuracy"` // percent of correct 1X2 picks
	Predictions    []MatchScore `json:"predictions,omitempty"`
}

// ComparisonReport is the harness output: one report per spec plus each
// spec's aggregate RPS delta against the first (baseline) spec.
type ComparisonReport struct {
	LeagueID int                `json:"leagueId"`
	Matches  int                `json:"matches"`
	Warmup   int                `json:"warmup"`
	Runs     []RunReport        `json:"runs"`
	RPSDelta map[string]float64 `json:"rpsDelta"`
}

// wfArtifacts is the immutable snapshot rebuilt at each refit point and
// shared by every spec. Specs differ only in which tiers they switch on.
type wfArtifacts struct {
	baseline   *BaselineStats
	dcGoals    *DCParams
	dcXG       *DCParams
	blender    *BlenderModel
	calibrator *Calibrator
}

// WalkForward replays a league's finished matches in kickoff order, refitting
// periodically on strictly-earlier matches and scoring each configuration
// with proper scoring rules. A match's own result only becomes available to
// fits and ratings after that match has been scored.
func WalkForward(matches []*Match, leagueID int, opts WalkForwardOptions) (*ComparisonReport, error) {
	if len(opts.Specs) == 0 {
		return nil, fmt.Errorf("walk-forward needs at least one run spec")
	}

	sequence := make([]*Match, 0, len(matches))
	for _, m := range matches {
		if m.HasBeenPlayed() {
			sequence = append(sequence, m)
		}
	}
	sort.SliceStable(sequence, func(i, j int) bool {
		return sequence[i].UTCTime.Before(sequence[j].UTCTime)
	})
	if len(sequence) <= opts.Warmup {
		return nil, fmt.Errorf("%w: %d finished matches with warmup %d", ErrInsufficientData, len(sequence), opts.Warmup)
	}

	elo := NewEloTracker()
	var history []*Match
	var artifacts wfArtifacts
	var blendSamples []BlendSample
	var calibSamples []CalibSample
	sinceRefit := opts.RefitInterval // force a build at the first opportunity

	reports := make([]RunReport, len(opts.Specs))
	for i, spec := range opts.Specs {
		reports[i] = RunReport{Name: spec.Name}
	}

	// Matches sharing a kickoff instant (a simultaneous league round) are
	// processed as one batch: every match in the batch is scored against the
	// pre-kickoff state, and only then do all their results enter the history
	// together. That keeps the strictly-before guarantee without aborting on
	// real-world tied kickoffs.
	for start := 0; start < len(sequence); {
		end := start
		for end < len(sequence) && sequence[end].UTCTime.Equal(sequence[start].UTCTime) {
			end++
		}
		batch := sequence[start:end]
		kickoff := batch[0].UTCTime

		if len(history) > 0 && !history[len(history)-1].UTCTime.Before(kickoff) {
			return nil, fmt.Errorf("match %s kicks off before already-admitted history", batch[0].ID)
		}

		if sinceRefit >= opts.RefitInterval && len(history) > 0 {
			artifacts = refitArtifacts(history, leagueID, kickoff, opts, blendSamples, calibSamples)
			sinceRefit = 0
		}

		// Collect training rows before the results are known, so blender and
		// calibrator samples are genuinely out-of-sample.
		collector := Predictor{
			Baseline: artifacts.baseline,
			DCGoals:  artifacts.dcGoals,
			DCXG:     artifacts.dcXG,
			Elo:      elo,
			Blender:  artifacts.blender,
		}

		for offset, m := range batch {
			if artifacts.baseline != nil {
				if features, err := collector.FeaturesFor(m); err == nil {
					blendSamples = append(blendSamples, BlendSample{Features: features, Outcome: m.Outcome(), Kickoff: m.UTCTime})
				}
				if pred, err := collector.Predict(m); err == nil {
					calibSamples = append(calibSamples, CalibSample{Probs: pred.Probs, Outcome: m.Outcome(), Kickoff: m.UTCTime})
				}
			}

			if start+offset < opts.Warmup || artifacts.baseline == nil {
				continue
			}
			outcome := m.Outcome()
			for specIdx, spec := range opts.Specs {
				predictor := predictorForSpec(spec, artifacts, elo)
				pred, err := predictor.Predict(m)
				if err != nil {
					// One bad fixture must not sink the batch.
					logger.Warn("prediction skipped", m.ID, "spec", spec.Name, err)
					reports[specIdx].Skipped++
					continue
				}
				score := MatchScore{
					MatchID: m.ID,
					Kickoff: m.UTCTime,
					Tier:    pred.Tier,
					Probs:   pred.Probs,
					Outcome: outcome,
					RPS:     RankedProbabilityScore(pred.Probs, outcome),
					Brier:   BrierScore(pred.Probs.Home, outcome == OutcomeHome),
					LogLoss: LogLoss(pred.Probs, outcome),
				}
				reports[specIdx].Predictions = append(reports[specIdx].Predictions, score)
			}
		}

		// Only now do these results become available to future fits.
		for _, m := range batch {
			history = append(history, m)
			if err := elo.Observe(m); err != nil {
				return nil, fmt.Errorf("rating update failed: %w", err)
			}
		}
		sinceRefit += len(batch)
		start = end
	}

	report := &ComparisonReport{
		LeagueID: leagueID,
		Matches:  len(sequence),
		Warmup:   opts.Warmup,
		Runs:     reports,
		RPSDelta: make(map[string]float64),
	}
	for i := range report.Runs {
		aggregate(&report.Runs[i])
	}
	base := report.Runs[0].MeanRPS
	for _, run := range report.Runs {
		report.RPSDelta[run.Name] = run.MeanRPS - base
	}
	return report, nil
}

// refitArtifacts rebuilds the shared model snapshot from matches strictly
// before the cutoff. Fit failures leave the affected tier empty so the
// fallback chain absorbs them.
func refitArtifacts(history []*Match, leagueID int, cutoff time.Time, opts WalkForwardOptions,
	blendSamples []BlendSample, calibSamples []CalibSample) wfArtifacts {

	if opts.fitObserver != nil {
		opts.fitObserver(cutoff, history)
	}

	artifacts := wfArtifacts{baseline: NewBaselineStats(history)}

	needGoals, needXG, needBlender, needCalib := false, false, false, false
	for _, spec := range opts.Specs {
		needGoals = needGoals || spec.UseDCGoals
		needXG = needXG || spec.UseDCXG
		needBlender = needBlender || spec.UseBlender
		needCalib = needCalib || spec.UseCalibrator
	}

	if needGoals {
		fitOpts := opts.FitOptions
		fitOpts.Mode = DCModeGoals
		fitOpts.AsOf = cutoff
		params, err := FitDixonColes(history, leagueID, fitOpts)
		if err != nil {
			logger.Debug("goals-mode fit unavailable", err)
		} else {
			artifacts.dcGoals = params
		}
	}
	if needXG {
		fitOpts := opts.FitOptions
		fitOpts.Mode = DCModeXG
		fitOpts.AsOf = cutoff
		params, err := FitDixonColes(history, leagueID, fitOpts)
		if err != nil {
			logger.Debug("xg-mode fit unavailable", err)
		} else {
			artifacts.dcXG = params
		}
	}
	if needBlender && len(blendSamples) >= Config.BlenderMinSamples {
		model, err := TrainBlender(blendSamples, DefaultFeatureNames(), DefaultBlenderTrainOptions())
		if err != nil {
			logger.Debug("blender training unavailable", err)
		} else {
			artifacts.blender = model
		}
	}
	if needCalib {
		artifacts.calibrator = TrainCalibrator(calibSamples, DefaultCalibratorTrainOptions())
	}
	return artifacts
}

func predictorForSpec(spec RunSpec, artifacts wfArtifacts, elo *EloTracker) Predictor {
	predictor := Predictor{Baseline: artifacts.baseline, Elo: elo}
	if spec.UseDCGoals {
		predictor.DCGoals = artifacts.dcGoals
	}
	if spec.UseDCXG {
		predictor.DCXG = artifacts.dcXG
	}
	if spec.UseBlender {
		predictor.Blender = artifacts.blender
	}
	if spec.UseCalibrator {
		predictor.Calibrator = artifacts.calibrator
	}
	return predictor
}

func aggregate(run *RunReport) {
	if len(run.Predictions) == 0 {
		return
	}
	correct := 0
	for _, p := range run.Predictions {
		run.MeanRPS += p.RPS
		run.MeanBrier += p.Brier
		run.MeanLogLoss += p.LogLoss
		if argmax(p.Probs) == p.Outcome {
			correct++
		}
	}
	n := float64(len(run.Predictions))
	run.Scored = len(run.Predictions)
	run.MeanRPS /= n
	run.MeanBrier /= n
	run.MeanLogLoss /= n
	run.ResultAccuracy = 100 * float64(correct) / n
}

func argmax(p ProbTriple) int {
	best, idx := p.Home, OutcomeHome
	if p.Draw > best {
		best, idx = p.Draw, OutcomeDraw
	}
	if p.Away > best {
		idx = OutcomeAway
	}
	return idx
}
