package podds

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/richard-senior/podds/internal/logger"
)

// DCMode selects the fitting target for the Dixon-Coles solver.
type DCMode string

const (
	// DCModeGoals fits on integer full-time scores with the low-score
	// correlation correction.
	DCModeGoals DCMode = "goals"
	// DCModeXG fits on fractional expected goals. The correction has no
	// meaning for non-integer scores, so rho is pinned at zero and a
	// quasi-likelihood is maximized instead.
	DCModeXG DCMode = "xg"
)

// DCFitOptions configures one Dixon-Coles fit.
type DCFitOptions struct {
	Mode           DCMode
	AsOf           time.Time // fit cutoff; only matches strictly before this contribute
	Xi             float64   // per-day exponential time decay, 0 disables
	MinMatches     int
	MaxIterations  int
	Tolerance      float64
	LearningRate   float64
	InitialHomeAdv float64
}

// DefaultDCFitOptions returns fit options seeded from the global config.
func DefaultDCFitOptions(mode DCMode) DCFitOptions {
	return DCFitOptions{
		Mode:           mode,
		Xi:             Config.TimeDecayXi,
		MinMatches:     Config.MinMatches,
		MaxIterations:  Config.MaxIterations,
		Tolerance:      Config.Tolerance,
		LearningRate:   Config.LearningRate,
		InitialHomeAdv: Config.InitialHomeAdv,
	}
}

// DCParams is one fitted parameter set for a league at a point in time.
// Parameter sets are immutable once fitted; a refit produces a new set and
// the old one is retained for backtest reproducibility.
type DCParams struct {
	LeagueID int       `json:"leagueId"`
	Mode     DCMode    `json:"mode"`
	AsOf     time.Time `json:"asOf"`
	FittedAt time.Time `json:"fittedAt"`

	HomeAdvantage float64            `json:"homeAdvantage"`
	Rho           float64            `json:"rho"`
	Attack        map[string]float64 `json:"attack"`
	Defense       map[string]float64 `json:"defense"`

	Matches       int     `json:"matches"`
	LogLikelihood float64 `json:"logLikelihood"`
	Iterations    int     `json:"iterations"`
	Converged     bool    `json:"converged"`
}

// CheckKickoff guards the walk-forward invariant: a parameter set may only
// score matches that kick off at or after its as-of date. Using it the other
// way round means the fit saw the future, which silently corrupts backtests,
// so this fails loudly instead.
func (p *DCParams) CheckKickoff(kickoff time.Time) error {
	if kickoff.Before(p.AsOf) {
		return fmt.Errorf("%w: params as of %s, match at %s",
			ErrStaleParameters, p.AsOf.Format(time.RFC3339), kickoff.Format(time.RFC3339))
	}
	return nil
}

// ExpectedGoals returns (lambda, mu) for a fixture under the fitted model:
// lambda = exp(attack_home + defense_away + homeAdvantage),
// mu = exp(attack_away + defense_home). Higher defense means leakier.
func (p *DCParams) ExpectedGoals(homeID, awayID string) (lambda, mu float64, err error) {
	homeAttack, ok := p.Attack[homeID]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownTeam, homeID)
	}
	awayAttack, ok := p.Attack[awayID]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownTeam, awayID)
	}
	lambda = math.Exp(homeAttack + p.Defense[awayID] + p.HomeAdvantage)
	mu = math.Exp(awayAttack + p.Defense[homeID])
	return lambda, mu, nil
}

// Predict derives the full market prediction for a fixture from the fitted
// parameters, applying the tau correction with the fitted rho.
func (p *DCParams) Predict(homeID, awayID string) (*Prediction, error) {
	lambda, mu, err := p.ExpectedGoals(homeID, awayID)
	if err != nil {
		return nil, err
	}
	tier := TierDixonColes
	if p.Mode == DCModeXG {
		tier = TierDixonColesXG
	}
	return predictionFromGrid(lambda, mu, p.Rho, tier), nil
}

/////////////////////////////////////////////////////////////////////////
////// Solver
/////////////////////////////////////////////////////////////////////////

// dcObservation is one match flattened into index/target/weight form so each
// optimizer pass is a tight loop over slices rather than map lookups.
type dcObservation struct {
	home, away           int
	homeGoals, awayGoals int // integer scores, -1 in xG mode
	homeY, awayY         float64
	weight               float64
}

type dcSolver struct {
	observations []dcObservation
	teams        []string
	opts         DCFitOptions

	attack  []float64
	defense []float64
	homeAdv float64

	// scratch buffers reused across iterations
	gradAttack  []float64
	gradDefense []float64
	wAttack     []float64
	wDefense    []float64
}

// FitDixonColes estimates per-team attack/defense strengths, a home-advantage
// term and (in goals mode) the low-score correlation rho for one league.
// Matches at or after opts.AsOf are excluded from the fit.
func FitDixonColes(matches []*Match, leagueID int, opts DCFitOptions) (*DCParams, error) {
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = latestKickoff(matches).Add(time.Second)
	}

	solver, err := newDCSolver(matches, asOf, opts)
	if err != nil {
		return nil, err
	}

	var bestRho, bestLL float64
	var iterations int
	converged := true

	if opts.Mode == DCModeXG {
		iters, ok := solver.solve()
		iterations = iters
		converged = ok
		bestRho = 0
		bestLL = solver.logLikelihood(0)
	} else {
		// The objective the inner optimizer climbs is rho-free, so the
		// strengths are solved once and rho is chosen by a profile scan of
		// the full likelihood at that optimum. The likelihood surface in rho
		// is not reliably smooth, so the best grid value is taken rather than
		// anything interpolated.
		iters, ok := solver.solve()
		iterations = iters
		converged = ok
		bestLL = math.Inf(-1)
		for rho := Config.RhoGridMin; rho <= Config.RhoGridMax+1e-12; rho += Config.RhoGridStep {
			rho = math.Round(rho*100) / 100
			ll := solver.logLikelihood(rho)
			if ll > bestLL {
				bestLL = ll
				bestRho = rho
			}
		}
		if math.IsInf(bestLL, -1) {
			return nil, fmt.Errorf("%w: no rho candidate yields a valid likelihood", ErrNotConverged)
		}
	}

	if !converged {
		return nil, fmt.Errorf("%w: %d iterations without reaching tolerance %g",
			ErrNotConverged, opts.MaxIterations, opts.Tolerance)
	}

	params := &DCParams{
		LeagueID:      leagueID,
		Mode:          opts.Mode,
		AsOf:          asOf,
		FittedAt:      time.Now().UTC(),
		HomeAdvantage: solver.homeAdv,
		Rho:           bestRho,
		Attack:        make(map[string]float64, len(solver.teams)),
		Defense:       make(map[string]float64, len(solver.teams)),
		Matches:       len(solver.observations),
		LogLikelihood: bestLL,
		Iterations:    iterations,
		Converged:     converged,
	}
	for i, team := range solver.teams {
		params.Attack[team] = solver.attack[i]
		params.Defense[team] = solver.defense[i]
	}

	logger.Debug("dixon-coles fit complete",
		"league", leagueID, "mode", string(opts.Mode),
		"matches", params.Matches, "rho", params.Rho, "iterations", params.Iterations)
	return params, nil
}

func latestKickoff(matches []*Match) time.Time {
	var latest time.Time
	for _, m := range matches {
		if m.UTCTime.After(latest) {
			latest = m.UTCTime
		}
	}
	return latest
}

func newDCSolver(matches []*Match, asOf time.Time, opts DCFitOptions) (*dcSolver, error) {
	index := make(map[string]int)
	var teams []string
	team := func(id string) int {
		if i, ok := index[id]; ok {
			return i
		}
		i := len(teams)
		index[id] = i
		teams = append(teams, id)
		return i
	}

	var observations []dcObservation
	for _, m := range matches {
		if !m.UTCTime.Before(asOf) {
			continue
		}
		var obs dcObservation
		switch opts.Mode {
		case DCModeGoals:
			if !m.HasBeenPlayed() {
				continue
			}
			obs.homeGoals, obs.awayGoals = m.HomeGoals, m.AwayGoals
			obs.homeY, obs.awayY = float64(m.HomeGoals), float64(m.AwayGoals)
		case DCModeXG:
			if !m.HasXG() {
				continue
			}
			obs.homeGoals, obs.awayGoals = -1, -1
			obs.homeY, obs.awayY = m.HomeXG, m.AwayXG
		default:
			return nil, fmt.Errorf("unknown fit mode %q", opts.Mode)
		}
		obs.home = team(m.HomeID)
		obs.away = team(m.AwayID)
		obs.weight = 1.0
		if opts.Xi > 0 {
			days := asOf.Sub(m.UTCTime).Hours() / 24
			obs.weight = math.Exp(-opts.Xi * days)
		}
		observations = append(observations, obs)
	}

	if len(observations) < opts.MinMatches {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(observations), opts.MinMatches)
	}

	n := len(teams)
	return &dcSolver{
		observations: observations,
		teams:        teams,
		opts:         opts,
		attack:       make([]float64, n),
		defense:      make([]float64, n),
		homeAdv:      opts.InitialHomeAdv,
		gradAttack:   make([]float64, n),
		gradDefense:  make([]float64, n),
		wAttack:      make([]float64, n),
		wDefense:     make([]float64, n),
	}, nil
}

// solve runs gradient ascent on the weighted Poisson log-likelihood over
// attack, defense and home advantage. Gradients are averaged over each
// parameter's weighted observation count, which keeps one step size workable
// for teams with very different match counts. Returns the iteration count and
// whether the objective delta dropped below tolerance.
func (s *dcSolver) solve() (int, bool) {
	prev := s.quasiLogLikelihood()
	for iter := 1; iter <= s.opts.MaxIterations; iter++ {
		s.step()
		current := s.quasiLogLikelihood()
		if math.Abs(current-prev) < s.opts.Tolerance {
			return iter, true
		}
		prev = current
	}
	return s.opts.MaxIterations, false
}

// step performs one gradient ascent update followed by the sum-to-zero
// projection that keeps the attack/defense split identifiable.
func (s *dcSolver) step() {
	for i := range s.gradAttack {
		s.gradAttack[i] = 0
		s.gradDefense[i] = 0
		s.wAttack[i] = 0
		s.wDefense[i] = 0
	}
	gradHomeAdv, weightTotal := 0.0, 0.0

	for _, obs := range s.observations {
		lambda := math.Exp(s.attack[obs.home] + s.defense[obs.away] + s.homeAdv)
		mu := math.Exp(s.attack[obs.away] + s.defense[obs.home])

		homeResidual := obs.weight * (obs.homeY - lambda)
		awayResidual := obs.weight * (obs.awayY - mu)

		s.gradAttack[obs.home] += homeResidual
		s.gradDefense[obs.away] += homeResidual
		s.gradAttack[obs.away] += awayResidual
		s.gradDefense[obs.home] += awayResidual
		gradHomeAdv += homeResidual

		s.wAttack[obs.home] += obs.weight
		s.wDefense[obs.away] += obs.weight
		s.wAttack[obs.away] += obs.weight
		s.wDefense[obs.home] += obs.weight
		weightTotal += obs.weight
	}

	lr := s.opts.LearningRate
	for i := range s.attack {
		if s.wAttack[i] > 0 {
			s.attack[i] += lr * s.gradAttack[i] / s.wAttack[i]
		}
		if s.wDefense[i] > 0 {
			s.defense[i] += lr * s.gradDefense[i] / s.wDefense[i]
		}
	}
	if weightTotal > 0 {
		s.homeAdv += lr * gradHomeAdv / weightTotal
	}

	s.normalize()
}

// normalize projects attack and defense back onto the sum-to-zero subspace.
// Without this the split between attack and defense is not unique: any
// constant can be shifted between every team's attack and defense.
func (s *dcSolver) normalize() {
	meanAttack, meanDefense := 0.0, 0.0
	for i := range s.attack {
		meanAttack += s.attack[i]
		meanDefense += s.defense[i]
	}
	meanAttack /= float64(len(s.attack))
	meanDefense /= float64(len(s.defense))
	for i := range s.attack {
		s.attack[i] -= meanAttack
		s.defense[i] -= meanDefense
	}
}

// quasiLogLikelihood is the rho-free objective the inner optimizer tracks:
// sum of weighted y*log(lambda) - lambda terms. The log-factorial term does
// not depend on the parameters, so dropping it changes nothing about the
// optimum and keeps xG mode well-defined for fractional targets.
func (s *dcSolver) quasiLogLikelihood() float64 {
	total := 0.0
	for _, obs := range s.observations {
		logLambda := s.attack[obs.home] + s.defense[obs.away] + s.homeAdv
		logMu := s.attack[obs.away] + s.defense[obs.home]
		total += obs.weight * (obs.homeY*logLambda - math.Exp(logLambda) +
			obs.awayY*logMu - math.Exp(logMu))
	}
	return total
}

// logLikelihood evaluates the full weighted log-likelihood for a candidate
// rho, including the tau correction. A rho that drives any observed
// scoreline's corrected probability non-positive invalidates the candidate,
// signalled with -Inf.
func (s *dcSolver) logLikelihood(rho float64) float64 {
	if s.opts.Mode == DCModeXG {
		return s.quasiLogLikelihood()
	}
	total := 0.0
	for _, obs := range s.observations {
		lambda := math.Exp(s.attack[obs.home] + s.defense[obs.away] + s.homeAdv)
		mu := math.Exp(s.attack[obs.away] + s.defense[obs.home])

		ll := obs.homeY*math.Log(lambda) - lambda - logFactorial(obs.homeGoals) +
			obs.awayY*math.Log(mu) - mu - logFactorial(obs.awayGoals)

		if rho != 0 && obs.homeGoals <= 1 && obs.awayGoals <= 1 {
			tau := Tau(obs.homeGoals, obs.awayGoals, lambda, mu, rho)
			if tau <= 0 {
				return math.Inf(-1)
			}
			ll += math.Log(tau)
		}
		total += obs.weight * ll
	}
	return total
}

/////////////////////////////////////////////////////////////////////////
////// Multi-league fitting
/////////////////////////////////////////////////////////////////////////

// LeagueFitResult pairs a league's fitted parameters with any fit error.
type LeagueFitResult struct {
	LeagueID int
	Params   *DCParams
	Err      error
}

// FitLeagues fits each league concurrently. Fits share no mutable state, so
// one goroutine per league needs no locking beyond collecting the results.
func FitLeagues(matchesByLeague map[int][]*Match, opts DCFitOptions) map[int]LeagueFitResult {
	results := make(map[int]LeagueFitResult, len(matchesByLeague))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for leagueID, matches := range matchesByLeague {
		wg.Add(1)
		go func(leagueID int, matches []*Match) {
			defer wg.Done()
			params, err := FitDixonColes(matches, leagueID, opts)
			if err != nil {
				logger.Warn("league fit failed", "league", leagueID, err)
			}
			mu.Lock()
			results[leagueID] = LeagueFitResult{LeagueID: leagueID, Params: params, Err: err}
			mu.Unlock()
		}(leagueID, matches)
	}
	wg.Wait()
	return results
}
