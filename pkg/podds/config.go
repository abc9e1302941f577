package podds

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PoddsConfig contains all configurable parameters that influence model fitting
// and prediction. This centralizes the magic numbers so tuning runs can sweep
// them without touching code.
type PoddsConfig struct {
	// === DIXON-COLES FITTER ===

	// Rho grid for the low-score correlation search. The likelihood surface in
	// rho is not reliably smooth, so the fitter always picks the best value off
	// this fixed grid rather than optimizing rho jointly.
	RhoGridMin  float64 `yaml:"rhoGridMin"`  // default -0.35
	RhoGridMax  float64 `yaml:"rhoGridMax"`  // default 0.35
	RhoGridStep float64 `yaml:"rhoGridStep"` // default 0.01

	TimeDecayXi    float64 `yaml:"timeDecayXi"`    // per-day exponential down-weighting, 0 disables
	MinMatches     int     `yaml:"minMatches"`     // refuse to fit below this many matches (default 30)
	MaxIterations  int     `yaml:"maxIterations"`  // inner optimizer iteration cap (default 2500)
	Tolerance      float64 `yaml:"tolerance"`      // convergence tolerance on log-likelihood delta
	LearningRate   float64 `yaml:"learningRate"`   // gradient ascent step on mean gradients
	InitialHomeAdv float64 `yaml:"initialHomeAdv"` // starting home advantage (default 0.25)

	// Score grid evaluation
	GoalCap int `yaml:"goalCap"` // score grid upper bound per side (default 10)

	// === PROBABILITY OUTPUT ===

	ProbEpsilon float64 `yaml:"probEpsilon"` // output clamp keeping probabilities off 0 and 1

	// === BLENDER ===

	BlenderL2         float64 `yaml:"blenderL2"`         // L2 strength on blender weights
	BlenderRate       float64 `yaml:"blenderRate"`       // training step size
	BlenderIters      int     `yaml:"blenderIters"`      // training iteration cap
	BlenderMinSamples int     `yaml:"blenderMinSamples"` // below this, no blender is trained
	BlenderValSplit   float64 `yaml:"blenderValSplit"`   // chronological validation fraction

	// === CALIBRATOR ===

	CalibMinSamples int     `yaml:"calibMinSamples"` // identity transform below this (default 30)
	CalibOffDiagL2  float64 `yaml:"calibOffDiagL2"`  // penalty on cross-class weights
	CalibDiagPull   float64 `yaml:"calibDiagPull"`   // penalty pulling diagonal toward 1
	CalibRate       float64 `yaml:"calibRate"`       // training step size
	CalibIters      int     `yaml:"calibIters"`      // training iteration cap
	CalibValSplit   float64 `yaml:"calibValSplit"`   // chronological validation fraction

	// === ELO RATINGS ===

	EloInitial          float64 `yaml:"eloInitial"`          // starting rating (default 1500)
	EloK                float64 `yaml:"eloK"`                // base K factor
	EloHomeAdvantage    float64 `yaml:"eloHomeAdvantage"`    // rating points added to the home side
	EloSeasonRegression float64 `yaml:"eloSeasonRegression"` // fraction regressed to mean at season boundaries

	// === WALK-FORWARD EVALUATION ===

	RefitInterval int `yaml:"refitInterval"` // matches between Dixon-Coles refits (default 10)
	WarmupMatches int `yaml:"warmupMatches"` // initial matches excluded from scoring (default 50)
}

// DefaultPoddsConfig returns the default configuration with all standard values.
func DefaultPoddsConfig() *PoddsConfig {
	return &PoddsConfig{
		RhoGridMin:  -0.35,
		RhoGridMax:  0.35,
		RhoGridStep: 0.01,

		TimeDecayXi:    0.0,
		MinMatches:     30,
		MaxIterations:  2500,
		Tolerance:      1e-9,
		LearningRate:   0.35,
		InitialHomeAdv: 0.25,

		GoalCap: 10,

		ProbEpsilon: 1e-4,

		BlenderL2:         0.01,
		BlenderRate:       0.5,
		BlenderIters:      3000,
		BlenderMinSamples: 100,
		BlenderValSplit:   0.2,

		CalibMinSamples: 30,
		CalibOffDiagL2:  0.05,
		CalibDiagPull:   0.01,
		CalibRate:       0.5,
		CalibIters:      3000,
		CalibValSplit:   0.25,

		EloInitial:          1500,
		EloK:                20,
		EloHomeAdvantage:    60,
		EloSeasonRegression: 0.25,

		RefitInterval: 10,
		WarmupMatches: 50,
	}
}

// Global configuration instance
var Config *PoddsConfig

func init() {
	Config = DefaultPoddsConfig()
}

// UpdateConfig replaces the global configuration after validating it.
func UpdateConfig(newConfig *PoddsConfig) error {
	if err := ValidateConfig(newConfig); err != nil {
		return err
	}
	Config = newConfig
	return nil
}

// LoadConfig reads a YAML configuration file over the defaults, so partial
// files only override the keys they name.
func LoadConfig(path string) (*PoddsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	config := DefaultPoddsConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ValidateConfig ensures all configuration values are within workable ranges.
func ValidateConfig(config *PoddsConfig) error {
	if config.RhoGridMin > config.RhoGridMax {
		return fmt.Errorf("rho grid min %f exceeds max %f", config.RhoGridMin, config.RhoGridMax)
	}
	if config.RhoGridStep <= 0 {
		return fmt.Errorf("rho grid step must be positive, got: %f", config.RhoGridStep)
	}
	if config.TimeDecayXi < 0 {
		return fmt.Errorf("time decay xi must be non-negative, got: %f", config.TimeDecayXi)
	}
	if config.MinMatches < 1 {
		return fmt.Errorf("minMatches must be at least 1, got: %d", config.MinMatches)
	}
	if config.GoalCap < 3 {
		return fmt.Errorf("goalCap should be at least 3 to capture realistic scores, got: %d", config.GoalCap)
	}
	if config.ProbEpsilon <= 0 || config.ProbEpsilon >= 0.1 {
		return fmt.Errorf("probEpsilon must be in (0, 0.1), got: %f", config.ProbEpsilon)
	}
	if config.BlenderValSplit <= 0 || config.BlenderValSplit >= 1 {
		return fmt.Errorf("blenderValSplit must be in (0, 1), got: %f", config.BlenderValSplit)
	}
	if config.CalibValSplit <= 0 || config.CalibValSplit >= 1 {
		return fmt.Errorf("calibValSplit must be in (0, 1), got: %f", config.CalibValSplit)
	}
	if config.EloSeasonRegression < 0 || config.EloSeasonRegression > 1 {
		return fmt.Errorf("eloSeasonRegression must be in [0, 1], got: %f", config.EloSeasonRegression)
	}
	if config.RefitInterval < 1 {
		return fmt.Errorf("refitInterval must be at least 1, got: %d", config.RefitInterval)
	}
	if config.WarmupMatches < 0 {
		return fmt.Errorf("warmupMatches must be non-negative, got: %d", config.WarmupMatches)
	}
	return nil
}
