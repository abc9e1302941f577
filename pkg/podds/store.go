package podds

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/richard-senior/podds/internal/logger"
	_ "modernc.org/sqlite"
)

// Store persists fitted artifacts and match data in a local sqlite database.
// Artifacts are immutable: saving never updates a row, it inserts a new
// version, and loads resolve to the newest artifact whose as-of date does not
// exceed the requested date. Superseded versions are retained so any past
// backtest can be reproduced from the exact parameters it used.
type Store struct {
	db *sql.DB
}

// Timestamps are stored as fixed-width UTC text so the string comparison in
// as-of queries matches chronological order, fractional seconds included.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func sqlTime(t time.Time) string {
	return t.UTC().Format(sqlTimeLayout)
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS dc_params (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	league_id INTEGER NOT NULL,
	mode TEXT NOT NULL,
	as_of TEXT NOT NULL,
	fitted_at TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dc_params_scope ON dc_params(league_id, mode, as_of);

CREATE TABLE IF NOT EXISTS blender (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	league_id INTEGER NOT NULL,
	version INTEGER NOT NULL,
	trained_at TEXT NOT NULL,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS calibrator (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	league_id INTEGER NOT NULL,
	trained_at TEXT NOT NULL,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS matches (
	id TEXT PRIMARY KEY,
	league_id INTEGER NOT NULL,
	utc_time TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_matches_league ON matches(league_id, utc_time);
`

// OpenStore opens (and if necessary initializes) the database at path.
// Use ":memory:" for an ephemeral store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps writes serialized and makes ":memory:" safe;
	// the pool would otherwise hand out fresh empty in-memory databases.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err = db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	logger.Info("artifact store initialized", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDCParams inserts a new parameter set version. Existing rows for the same
// league, mode and as-of date are left in place.
func (s *Store) SaveDCParams(params *DCParams) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO dc_params (league_id, mode, as_of, fitted_at, payload) VALUES (?, ?, ?, ?, ?)`,
		params.LeagueID, string(params.Mode), sqlTime(params.AsOf), sqlTime(params.FittedAt),
		string(payload))
	if err != nil {
		return fmt.Errorf("failed to save parameters: %w", err)
	}
	return nil
}

// LoadDCParams returns the newest parameter set for the league and mode whose
// as-of date is at or before asOf. Among equal as-of dates the latest fit wins.
func (s *Store) LoadDCParams(leagueID int, mode DCMode, asOf time.Time) (*DCParams, error) {
	row := s.db.QueryRow(
		`SELECT payload FROM dc_params
		 WHERE league_id = ? AND mode = ? AND as_of <= ?
		 ORDER BY as_of DESC, id DESC LIMIT 1`,
		leagueID, string(mode), sqlTime(asOf))

	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: league %d mode %s as of %s",
				ErrNoArtifact, leagueID, mode, asOf.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("failed to load parameters: %w", err)
	}
	var params DCParams
	if err := json.Unmarshal([]byte(payload), &params); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}
	return &params, nil
}

// SaveBlender inserts a new blender model version for a league.
func (s *Store) SaveBlender(leagueID int, model *BlenderModel) error {
	payload, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to encode blender: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO blender (league_id, version, trained_at, payload) VALUES (?, ?, ?, ?)`,
		leagueID, model.Version, sqlTime(model.TrainedAt), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save blender: %w", err)
	}
	return nil
}

// LoadBlender returns the newest blender for a league trained at or before
// asOf. A model with a schema version other than the current one is rejected,
// because its feature contract no longer matches what serving will build.
func (s *Store) LoadBlender(leagueID int, asOf time.Time) (*BlenderModel, error) {
	row := s.db.QueryRow(
		`SELECT payload FROM blender WHERE league_id = ? AND trained_at <= ?
		 ORDER BY trained_at DESC, id DESC LIMIT 1`,
		leagueID, sqlTime(asOf))
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: no blender for league %d as of %s",
				ErrNoArtifact, leagueID, asOf.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("failed to load blender: %w", err)
	}
	var model BlenderModel
	if err := json.Unmarshal([]byte(payload), &model); err != nil {
		return nil, fmt.Errorf("failed to decode blender: %w", err)
	}
	if model.Version != BlenderSchemaVersion {
		return nil, fmt.Errorf("%w: stored blender has schema version %d, current is %d",
			ErrFeatureMismatch, model.Version, BlenderSchemaVersion)
	}
	return &model, nil
}

// SaveCalibrator inserts a new calibrator version for a league.
func (s *Store) SaveCalibrator(leagueID int, c *Calibrator) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode calibrator: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO calibrator (league_id, trained_at, payload) VALUES (?, ?, ?)`,
		leagueID, sqlTime(c.TrainedAt), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save calibrator: %w", err)
	}
	return nil
}

// LoadCalibrator returns the newest calibrator for a league trained at or
// before asOf.
func (s *Store) LoadCalibrator(leagueID int, asOf time.Time) (*Calibrator, error) {
	row := s.db.QueryRow(
		`SELECT payload FROM calibrator WHERE league_id = ? AND trained_at <= ?
		 ORDER BY trained_at DESC, id DESC LIMIT 1`,
		leagueID, sqlTime(asOf))
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: no calibrator for league %d as of %s",
				ErrNoArtifact, leagueID, asOf.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("failed to load calibrator: %w", err)
	}
	var c Calibrator
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("failed to decode calibrator: %w", err)
	}
	return &c, nil
}

// SaveMatches upserts matches in a single transaction. A settled match is
// stored as-is; callers own the rule that settled results never change.
func (s *Store) SaveMatches(matches []*Match) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO matches (id, league_id, utc_time, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET league_id=excluded.league_id,
		 utc_time=excluded.utc_time, payload=excluded.payload`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range matches {
		payload, err := json.Marshal(m)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to encode match %s: %w", m.ID, err)
		}
		if _, err = stmt.Exec(m.ID, m.LeagueID, sqlTime(m.UTCTime), string(payload)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save match %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// LoadMatches returns a league's matches in kickoff order.
func (s *Store) LoadMatches(leagueID int) ([]*Match, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM matches WHERE league_id = ? ORDER BY utc_time ASC`, leagueID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	var matches []*Match
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		var m Match
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("failed to decode match: %w", err)
		}
		matches = append(matches, &m)
	}
	return matches, rows.Err()
}
