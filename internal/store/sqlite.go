package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/Cheyans/server/internal/util"
)

const (
	defaultRatingMean      = 1500.0
	defaultRatingDeviation = 500.0
)

const schema = `
CREATE TABLE IF NOT EXISTS players (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	login TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ratings (
	player_id INTEGER PRIMARY KEY,
	global_mean REAL NOT NULL DEFAULT 1500,
	global_deviation REAL NOT NULL DEFAULT 500,
	ladder_mean REAL NOT NULL DEFAULT 1500,
	ladder_deviation REAL NOT NULL DEFAULT 500,
	num_games INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (player_id) REFERENCES players(id)
);

CREATE TABLE IF NOT EXISTS ladder_map_selections (
	player_id INTEGER NOT NULL,
	map_name TEXT NOT NULL,
	PRIMARY KEY (player_id, map_name),
	FOREIGN KEY (player_id) REFERENCES players(id)
);

CREATE TABLE IF NOT EXISTS ladder_map_stats (
	map_name TEXT PRIMARY KEY,
	times_played INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS game_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	game_uuid TEXT NOT NULL,
	mode TEXT NOT NULL,
	map_name TEXT NOT NULL,
	host_id INTEGER NOT NULL,
	finished_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS game_participants (
	game_result_id INTEGER NOT NULL,
	player_id INTEGER NOT NULL,
	PRIMARY KEY (game_result_id, player_id),
	FOREIGN KEY (game_result_id) REFERENCES game_results(id)
);

CREATE INDEX IF NOT EXISTS idx_game_results_uuid ON game_results(game_uuid);
`

// SQLiteStore is the Store implementation backed by an embedded SQLite
// database.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := util.ComponentLogger("database")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize access through a single connection; SQLite handles one
	// writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("database opened")
	return &SQLiteStore{db: db, logger: logger}, nil
}

// HashPassword returns the hex-encoded SHA-256 digest of a password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Authenticate verifies credentials against the players table.
func (s *SQLiteStore) Authenticate(login, password string) (*PlayerRecord, error) {
	var rec PlayerRecord
	var storedHash string

	err := s.db.QueryRow(
		`SELECT id, login, password_hash FROM players WHERE login = ?`, login,
	).Scan(&rec.ID, &rec.Login, &storedHash)
	if err == sql.ErrNoRows {
		return nil, ErrAuthFailure
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query player %q: %w", login, err)
	}

	if storedHash != HashPassword(password) {
		return nil, ErrAuthFailure
	}

	return &rec, nil
}

// LoadRatings fetches a player's ratings, returning defaults when the
// player has no rating row yet.
func (s *SQLiteStore) LoadRatings(playerID int) (*Ratings, error) {
	ratings := &Ratings{
		Global:    Rating{Mean: defaultRatingMean, Deviation: defaultRatingDeviation},
		Ladder1v1: Rating{Mean: defaultRatingMean, Deviation: defaultRatingDeviation},
	}

	err := s.db.QueryRow(
		`SELECT global_mean, global_deviation, ladder_mean, ladder_deviation, num_games
		 FROM ratings WHERE player_id = ?`, playerID,
	).Scan(
		&ratings.Global.Mean, &ratings.Global.Deviation,
		&ratings.Ladder1v1.Mean, &ratings.Ladder1v1.Deviation,
		&ratings.NumGames,
	)
	if err == sql.ErrNoRows {
		return ratings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ratings for player %d: %w", playerID, err)
	}

	return ratings, nil
}

// PersistGameResult writes a game result and its participants in one
// transaction.
func (s *SQLiteStore) PersistGameResult(result *GameResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO game_results (game_uuid, mode, map_name, host_id) VALUES (?, ?, ?, ?)`,
		result.GameUUID, result.Mode, result.MapName, result.HostID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert game result: %w", err)
	}

	resultID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read game result id: %w", err)
	}

	for _, playerID := range result.PlayerIDs {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO game_participants (game_result_id, player_id) VALUES (?, ?)`,
			resultID, playerID,
		); err != nil {
			return fmt.Errorf("failed to insert participant %d: %w", playerID, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO ladder_map_stats (map_name, times_played) VALUES (?, 1)
		 ON CONFLICT(map_name) DO UPDATE SET times_played = times_played + 1`,
		result.MapName,
	); err != nil {
		return fmt.Errorf("failed to update map stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit game result: %w", err)
	}

	s.logger.Debug().Str("uuid", result.GameUUID).Str("map", result.MapName).
		Msg("game result persisted")
	return nil
}

// PopularLadderMaps returns the count most-played ladder map names.
func (s *SQLiteStore) PopularLadderMaps(count int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT map_name FROM ladder_map_stats ORDER BY times_played DESC, map_name ASC LIMIT ?`,
		count,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query popular maps: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

// SelectedLadderMaps returns a player's chosen ladder maps.
func (s *SQLiteStore) SelectedLadderMaps(playerID int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT map_name FROM ladder_map_selections WHERE player_id = ? ORDER BY map_name ASC`,
		playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query map selections for player %d: %w", playerID, err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertPlayer creates or updates an account. Used by tests and setup
// tooling.
func (s *SQLiteStore) UpsertPlayer(login, password string) (int, error) {
	_, err := s.db.Exec(
		`INSERT INTO players (login, password_hash) VALUES (?, ?)
		 ON CONFLICT(login) DO UPDATE SET password_hash = excluded.password_hash`,
		login, HashPassword(password),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert player %q: %w", login, err)
	}

	var id int
	if err := s.db.QueryRow(`SELECT id FROM players WHERE login = ?`, login).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read id for player %q: %w", login, err)
	}
	return id, nil
}

// SetLadderMapSelections replaces a player's ladder map selections.
func (s *SQLiteStore) SetLadderMapSelections(playerID int, maps []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ladder_map_selections WHERE player_id = ?`, playerID); err != nil {
		return fmt.Errorf("failed to clear map selections: %w", err)
	}
	for _, name := range maps {
		if _, err := tx.Exec(
			`INSERT INTO ladder_map_selections (player_id, map_name) VALUES (?, ?)`,
			playerID, name,
		); err != nil {
			return fmt.Errorf("failed to insert map selection %q: %w", name, err)
		}
	}

	return tx.Commit()
}

// RecordMapPlay bumps a map's play counter. Used by tests and setup
// tooling to seed popularity data.
func (s *SQLiteStore) RecordMapPlay(mapName string, times int) error {
	_, err := s.db.Exec(
		`INSERT INTO ladder_map_stats (map_name, times_played) VALUES (?, ?)
		 ON CONFLICT(map_name) DO UPDATE SET times_played = times_played + excluded.times_played`,
		mapName, times,
	)
	if err != nil {
		return fmt.Errorf("failed to record map play for %q: %w", mapName, err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	s.logger.Info().Msg("closing database")
	return s.db.Close()
}
