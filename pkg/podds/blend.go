package podds

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// BlenderSchemaVersion identifies the feature contract below. Bump it when
// the feature list changes so stored models can never be fed a vector they
// were not trained on.
const BlenderSchemaVersion = 1

// DefaultFeatureNames is the ordered feature contract for the stacking model:
// three base-model probability triples, the Elo rating differential (scaled
// to units of 400 rating points) and the overround-free bookmaker triple.
func DefaultFeatureNames() []string {
	return []string{
		"poisson_home", "poisson_draw", "poisson_away",
		"dc_goals_home", "dc_goals_draw", "dc_goals_away",
		"dc_xg_home", "dc_xg_draw", "dc_xg_away",
		"elo_diff",
		"fair_home", "fair_draw", "fair_away",
	}
}

// BuildFeatures assembles a feature vector in DefaultFeatureNames order.
// Any nil source is encoded as zeros: a missing base model degrades the
// blend instead of blocking the prediction.
func BuildFeatures(baseline, dcGoals, dcXG *Prediction, eloDiff float64, fair *ProbTriple) []float64 {
	features := make([]float64, 0, 13)
	appendTriple := func(p *Prediction) {
		if p == nil {
			features = append(features, 0, 0, 0)
			return
		}
		features = append(features, p.Probs.Home, p.Probs.Draw, p.Probs.Away)
	}
	appendTriple(baseline)
	appendTriple(dcGoals)
	appendTriple(dcXG)
	features = append(features, eloDiff/400)
	if fair == nil {
		features = append(features, 0, 0, 0)
	} else {
		features = append(features, fair.Home, fair.Draw, fair.Away)
	}
	return features
}

// BlendSample is one training row: an out-of-sample feature vector, the
// realized outcome, and the kickoff used for chronological splitting. The
// features must have been produced before the result was known; refitting
// base models with hindsight and regenerating features poisons the blender.
type BlendSample struct {
	Features []float64
	Outcome  int
	Kickoff  time.Time
}

// BlenderModel is a fitted multinomial logistic stacking model: one weight
// row and intercept per outcome class, softmax over the three linear scores.
// Inference is a closed-form matrix multiply; nothing iterates at serving time.
type BlenderModel struct {
	Version      int         `json:"version"`
	FeatureNames []string    `json:"featureNames"`
	Weights      [][]float64 `json:"weights"`    // 3 rows x len(FeatureNames)
	Intercepts   []float64   `json:"intercepts"` // 3

	TrainedAt         time.Time `json:"trainedAt"`
	Samples           int       `json:"samples"`
	ValidationLogLoss float64   `json:"validationLogLoss"`
}

// Blend combines a feature vector into a single calibrated probability triple.
func (m *BlenderModel) Blend(features []float64) (ProbTriple, error) {
	if len(features) != len(m.FeatureNames) {
		return ProbTriple{}, fmt.Errorf("%w: got %d features, model expects %d",
			ErrFeatureMismatch, len(features), len(m.FeatureNames))
	}
	var scores [3]float64
	for k := 0; k < 3; k++ {
		z := m.Intercepts[k]
		for j, x := range features {
			z += m.Weights[k][j] * x
		}
		scores[k] = z
	}
	return softmax3(scores).Clamp(Config.ProbEpsilon), nil
}

// softmax3 converts three scores to a probability triple, shifting by the
// max score so the exponentials cannot overflow.
func softmax3(scores [3]float64) ProbTriple {
	maxScore := math.Max(scores[0], math.Max(scores[1], scores[2]))
	e0 := math.Exp(scores[0] - maxScore)
	e1 := math.Exp(scores[1] - maxScore)
	e2 := math.Exp(scores[2] - maxScore)
	sum := e0 + e1 + e2
	return ProbTriple{Home: e0 / sum, Draw: e1 / sum, Away: e2 / sum}
}

// BlenderTrainOptions configures offline blender training.
type BlenderTrainOptions struct {
	L2         float64
	Rate       float64
	Iterations int
	MinSamples int
	ValSplit   float64
}

// DefaultBlenderTrainOptions returns training options seeded from the config.
func DefaultBlenderTrainOptions() BlenderTrainOptions {
	return BlenderTrainOptions{
		L2:         Config.BlenderL2,
		Rate:       Config.BlenderRate,
		Iterations: Config.BlenderIters,
		MinSamples: Config.BlenderMinSamples,
		ValSplit:   Config.BlenderValSplit,
	}
}

// TrainBlender fits the multinomial logistic model by batch gradient descent
// on multinomial log-loss with L2 regularization on the weights (not the
// intercepts). Samples are ordered chronologically and the validation slice
// is the most recent fraction; shuffling would let later matches leak into
// the training side of earlier ones.
func TrainBlender(samples []BlendSample, featureNames []string, opts BlenderTrainOptions) (*BlenderModel, error) {
	if len(samples) < opts.MinSamples {
		return nil, fmt.Errorf("%w: have %d blend samples, need %d", ErrInsufficientData, len(samples), opts.MinSamples)
	}
	nFeatures := len(featureNames)
	for _, s := range samples {
		if len(s.Features) != nFeatures {
			return nil, fmt.Errorf("%w: sample has %d features, contract has %d",
				ErrFeatureMismatch, len(s.Features), nFeatures)
		}
	}

	ordered := make([]BlendSample, len(samples))
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

	model := &BlenderModel{
		Version:      BlenderSchemaVersion,
		FeatureNames: featureNames,
		Weights:      make([][]float64, 3),
		Intercepts:   make([]float64, 3),
		TrainedAt:    time.Now().UTC(),
		Samples:      len(ordered),
	}
	for k := range model.Weights {
		model.Weights[k] = make([]float64, nFeatures)
	}

	gradW := make([][]float64, 3)
	for k := range gradW {
		gradW[k] = make([]float64, nFeatures)
	}
	var gradB [3]float64
	invN := 1.0 / float64(len(train))

	for iter := 0; iter < opts.Iterations; iter++ {
		for k := 0; k < 3; k++ {
			gradB[k] = 0
			for j := 0; j < nFeatures; j++ {
				gradW[k][j] = 0
			}
		}

		for _, s := range train {
			var scores [3]float64
			for k := 0; k < 3; k++ {
				z := model.Intercepts[k]
				for j, x := range s.Features {
					z += model.Weights[k][j] * x
				}
				scores[k] = z
			}
			q := softmax3(scores)
			for k := 0; k < 3; k++ {
				residual := q.At(k)
				if k == s.Outcome {
					residual -= 1
				}
				gradB[k] += residual
				for j, x := range s.Features {
					gradW[k][j] += residual * x
				}
			}
		}

		for k := 0; k < 3; k++ {
			model.Intercepts[k] -= opts.Rate * gradB[k] * invN
			for j := 0; j < nFeatures; j++ {
				model.Weights[k][j] -= opts.Rate * (gradW[k][j]*invN + opts.L2*model.Weights[k][j])
			}
		}
	}

	model.ValidationLogLoss = blenderLogLoss(model, val)
	return model, nil
}

func blenderLogLoss(model *BlenderModel, samples []BlendSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range samples {
		probs, err := model.Blend(s.Features)
		if err != nil {
			continue
		}
		total += LogLoss(probs, s.Outcome)
	}
	return total / float64(len(samples))
}
