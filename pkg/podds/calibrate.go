package podds

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/richard-senior/podds/internal/logger"
)

// CalibSample is one calibration training row: a model's stated probability
// triple for a match and the outcome that actually happened.
type CalibSample struct {
	Probs   ProbTriple
	Outcome int
	Kickoff time.Time
}

// Calibrator corrects systematic over- or under-confidence in a probability
// triple. It works in log-probability space: componentwise log, an affine map
// (3x3 weights plus bias), then softmax back to probabilities. The identity
// transform (W = I, b = 0) passes probabilities through almost unchanged.
//
// Calibration is applied strictly after blending. The blender was trained on
// raw base-model probabilities; feeding it recalibrated inputs would hand it
// a distribution it never saw.
type Calibrator struct {
	W [3][3]float64 `json:"w"`
	B [3]float64    `json:"b"`

	// Identity marks a pass-through calibrator, either because too little
	// data existed to fit one or because a fit failed its validation gate.
	Identity bool `json:"identity"`

	OffDiagL2 float64 `json:"offDiagL2"` // regularization used at fit time
	DiagPull  float64 `json:"diagPull"`

	TrainedAt         time.Time `json:"trainedAt"`
	Samples           int       `json:"samples"`
	ValidationLogLoss float64   `json:"validationLogLoss"`
	IdentityLogLoss   float64   `json:"identityLogLoss"`
}

// IdentityCalibrator returns the pass-through transform.
func IdentityCalibrator() *Calibrator {
	return &Calibrator{
		W:        [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Identity: true,
	}
}

// Apply transforms a probability triple through the fitted map. The identity
// calibrator returns its input untouched so an uncalibrated pipeline is
// bit-stable.
func (c *Calibrator) Apply(p ProbTriple) ProbTriple {
	if c == nil || c.Identity {
		return p
	}
	clamped := p.Clamp(Config.ProbEpsilon)
	x := [3]float64{math.Log(clamped.Home), math.Log(clamped.Draw), math.Log(clamped.Away)}
	var z [3]float64
	for k := 0; k < 3; k++ {
		z[k] = c.B[k]
		for j := 0; j < 3; j++ {
			z[k] += c.W[k][j] * x[j]
		}
	}
	return softmax3(z).Clamp(Config.ProbEpsilon)
}

// CalibratorTrainOptions configures offline calibrator training.
type CalibratorTrainOptions struct {
	OffDiagL2  float64 // penalty on cross-class weights
	DiagPull   float64 // penalty pulling diagonal weights toward 1
	Rate       float64
	Iterations int
	MinSamples int
	ValSplit   float64
}

// DefaultCalibratorTrainOptions returns options seeded from the config.
func DefaultCalibratorTrainOptions() CalibratorTrainOptions {
	return CalibratorTrainOptions{
		OffDiagL2:  Config.CalibOffDiagL2,
		DiagPull:   Config.CalibDiagPull,
		Rate:       Config.CalibRate,
		Iterations: Config.CalibIters,
		MinSamples: Config.CalibMinSamples,
		ValSplit:   Config.CalibValSplit,
	}
}

// TrainCalibrator fits the affine map by gradient descent on held-out
// log-loss with an analytic gradient. Two safety valves guard it:
//
//   - below MinSamples no fit is attempted and the identity transform is
//     returned, because recalibration on a handful of matches adds noise,
//     not signal;
//   - a fitted transform is only returned if its validation log-loss strictly
//     beats the identity's. Otherwise the fit is discarded as a logged no-op,
//     so a well-calibrated model can never be silently made worse.
func TrainCalibrator(samples []CalibSample, opts CalibratorTrainOptions) *Calibrator {
	if len(samples) < opts.MinSamples {
		logger.Debug("calibration skipped, too few samples", len(samples), "need", opts.MinSamples)
		return IdentityCalibrator()
	}

	ordered := make([]CalibSample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kickoff.Before(ordered[j].Kickoff)
	})

	nVal := int(float64(len(ordered)) * opts.ValSplit)
	if nVal < 1 {
		nVal = 1
	}
	train := ordered[:len(ordered)-nVal]
	val := ordered[len(ordered)-nVal:]

	c := &Calibrator{
		W:         [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		OffDiagL2: opts.OffDiagL2,
		DiagPull:  opts.DiagPull,
		TrainedAt: time.Now().UTC(),
		Samples:   len(ordered),
	}

	// Pre-compute log inputs once; they do not change across iterations.
	logInputs := make([][3]float64, len(train))
	for i, s := range train {
		p := s.Probs.Clamp(Config.ProbEpsilon)
		logInputs[i] = [3]float64{math.Log(p.Home), math.Log(p.Draw), math.Log(p.Away)}
	}

	invN := 1.0 / float64(len(train))
	for iter := 0; iter < opts.Iterations; iter++ {
		var gradW [3][3]float64
		var gradB [3]float64

		for i, s := range train {
			x := logInputs[i]
			var z [3]float64
			for k := 0; k < 3; k++ {
				z[k] = c.B[k]
				for j := 0; j < 3; j++ {
					z[k] += c.W[k][j] * x[j]
				}
			}
			q := softmax3(z)
			for k := 0; k < 3; k++ {
				residual := q.At(k)
				if k == s.Outcome {
					residual -= 1
				}
				gradB[k] += residual
				for j := 0; j < 3; j++ {
					gradW[k][j] += residual * x[j]
				}
			}
		}

		for k := 0; k < 3; k++ {
			c.B[k] -= opts.Rate * gradB[k] * invN
			for j := 0; j < 3; j++ {
				g := gradW[k][j] * invN
				if k == j {
					g += opts.DiagPull * (c.W[k][j] - 1)
				} else {
					g += opts.OffDiagL2 * c.W[k][j]
				}
				c.W[k][j] -= opts.Rate * g
			}
		}
	}

	c.IdentityLogLoss = calibratorLogLoss(IdentityCalibrator(), val)
	c.ValidationLogLoss = calibratorLogLoss(c, val)

	if c.ValidationLogLoss >= c.IdentityLogLoss {
		logger.Info("calibration regression, keeping identity transform",
			"fitted", c.ValidationLogLoss, "identity", c.IdentityLogLoss)
		identity := IdentityCalibrator()
		identity.Samples = len(ordered)
		identity.ValidationLogLoss = c.IdentityLogLoss
		identity.IdentityLogLoss = c.IdentityLogLoss
		return identity
	}
	return c
}

func calibratorLogLoss(c *Calibrator, samples []CalibSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range samples {
		total += LogLoss(c.Apply(s.Probs), s.Outcome)
	}
	return total / float64(len(samples))
}

// String describes the calibrator for logs.
func (c *Calibrator) String() string {
	if c == nil || c.Identity {
		return "calibrator(identity)"
	}
	return fmt.Sprintf("calibrator(samples=%d val=%.4f identity=%.4f)",
		c.Samples, c.ValidationLogLoss, c.IdentityLogLoss)
}
