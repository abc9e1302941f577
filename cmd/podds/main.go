package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/podds"
)

var version = "dev"

var (
	flagConfig  string
	flagStore   string
	flagMatches string
	flagLeague  int
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "podds",
		Short: "Football match outcome modeling pipeline",
		Long: "podds fits Dixon-Coles goal models, blends them with ratings and market\n" +
			"signals, calibrates the output and evaluates everything walk-forward.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagVerbose {
				if err := logger.SetLevel("debug"); err != nil {
					return err
				}
			}
			if flagConfig != "" {
				config, err := podds.LoadConfig(flagConfig)
				if err != nil {
					return err
				}
				return podds.UpdateConfig(config)
			}
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config overriding defaults")
	root.PersistentFlags().StringVar(&flagStore, "store", "podds.db", "path to the sqlite artifact store")
	root.PersistentFlags().StringVar(&flagMatches, "matches", "", "path to a JSON match file")
	root.PersistentFlags().IntVar(&flagLeague, "league", 0, "league identifier")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(fitCmd(), predictCmd(), walkforwardCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func fitCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit Dixon-Coles parameters per league and store them",
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := readMatches()
			if err != nil {
				return err
			}
			store, err := podds.OpenStore(flagStore)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SaveMatches(matches); err != nil {
				return err
			}

			byLeague := make(map[int][]*podds.Match)
			for _, m := range matches {
				byLeague[m.LeagueID] = append(byLeague[m.LeagueID], m)
			}

			opts := podds.DefaultDCFitOptions(podds.DCMode(mode))
			results := podds.FitLeagues(byLeague, opts)
			failed := 0
			for leagueID, result := range results {
				if result.Err != nil {
					failed++
					continue
				}
				if err := store.SaveDCParams(result.Params); err != nil {
					return err
				}
				logger.Info("stored parameters", "league", leagueID,
					"teams", len(result.Params.Attack), "rho", result.Params.Rho)
			}
			if failed == len(results) {
				return fmt.Errorf("every league fit failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(podds.DCModeGoals), "fit target: goals or xg")
	return cmd
}

func predictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict upcoming fixtures from stored artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			fixtures, err := readMatches()
			if err != nil {
				return err
			}
			store, err := podds.OpenStore(flagStore)
			if err != nil {
				return err
			}
			defer store.Close()

			history, err := store.LoadMatches(flagLeague)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				return fmt.Errorf("no stored matches for league %d, run fit first", flagLeague)
			}

			predictor, err := buildPredictor(store, history)
			if err != nil {
				return err
			}

			var predictions []*podds.Prediction
			for _, m := range fixtures {
				pred, err := predictor.Predict(m)
				if err != nil {
					logger.Warn("fixture skipped", m.ID, err)
					continue
				}
				predictions = append(predictions, pred)
			}
			return writeJSON(predictions)
		},
	}
	return cmd
}

// buildPredictor assembles the serving chain from whatever artifacts exist.
// A missing artifact disables its tier; only the baseline is mandatory.
func buildPredictor(store *podds.Store, history []*podds.Match) (*podds.Predictor, error) {
	now := time.Now().UTC()
	predictor := &podds.Predictor{Baseline: podds.NewBaselineStats(history)}

	if params, err := store.LoadDCParams(flagLeague, podds.DCModeGoals, now); err == nil {
		predictor.DCGoals = params
	} else {
		logger.Debug("goals-mode tier disabled", err)
	}
	if params, err := store.LoadDCParams(flagLeague, podds.DCModeXG, now); err == nil {
		predictor.DCXG = params
	} else {
		logger.Debug("xg-mode tier disabled", err)
	}
	if model, err := store.LoadBlender(flagLeague, now); err == nil {
		predictor.Blender = model
	} else {
		logger.Debug("stacking tier disabled", err)
	}
	if c, err := store.LoadCalibrator(flagLeague, now); err == nil {
		predictor.Calibrator = c
	} else {
		logger.Debug("calibration disabled", err)
	}

	elo := podds.NewEloTracker()
	for _, m := range history {
		if !m.HasBeenPlayed() {
			continue
		}
		if err := elo.Observe(m); err != nil {
			return nil, err
		}
	}
	predictor.Elo = elo
	return predictor, nil
}

func walkforwardCmd() *cobra.Command {
	var persist bool
	cmd := &cobra.Command{
		Use:   "walkforward",
		Short: "Evaluate model configurations over historical matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := readMatches()
			if err != nil {
				return err
			}
			report, err := podds.WalkForward(matches, flagLeague, podds.DefaultWalkForwardOptions())
			if err != nil {
				return err
			}
			for _, run := range report.Runs {
				logger.Info("run complete", run.Name,
					"scored", run.Scored, "skipped", run.Skipped,
					"rps", fmt.Sprintf("%.4f", run.MeanRPS),
					"accuracy", fmt.Sprintf("%.1f%%", run.ResultAccuracy))
			}
			if persist {
				store, err := podds.OpenStore(flagStore)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.SaveMatches(matches); err != nil {
					return err
				}
			}
			return writeJSON(report)
		},
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "also store the input matches")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the podds version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("podds", version)
		},
	}
}

func readMatches() ([]*podds.Match, error) {
	if flagMatches == "" {
		return nil, fmt.Errorf("--matches is required")
	}
	data, err := os.ReadFile(flagMatches)
	if err != nil {
		return nil, fmt.Errorf("failed to read match file: %w", err)
	}
	var matches []*podds.Match
	if err := json.Unmarshal(data, &matches); err != nil {
		return nil, fmt.Errorf("failed to parse match file: %w", err)
	}
	if flagLeague != 0 {
		filtered := matches[:0]
		for _, m := range matches {
			if m.LeagueID == flagLeague {
				filtered = append(filtered, m)
			}
		}
		matches = filtered
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no matches in %s for league %d", flagMatches, flagLeague)
	}
	return matches, nil
}

func writeJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
