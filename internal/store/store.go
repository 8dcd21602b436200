// Package store provides the persistence layer for the lobby server:
// player accounts, ratings, ladder map selections, and game results.
package store

import "errors"

// ErrAuthFailure is returned when a login/password pair does not match
// any stored account. Credentials are case sensitive.
var ErrAuthFailure = errors.New("login not found or password incorrect")

// PlayerRecord is a stored player account.
type PlayerRecord struct {
	ID    int
	Login string
}

// Rating is a player's skill estimate for one rating type.
type Rating struct {
	Mean      float64
	Deviation float64
}

// Ratings holds a player's global and ladder 1v1 ratings.
type Ratings struct {
	Global    Rating
	Ladder1v1 Rating
	NumGames  int
}

// GameResult records the outcome of a finished game for persistence.
type GameResult struct {
	GameUUID  string
	Mode      string
	MapName   string
	HostID    int
	PlayerIDs []int
}

// Store is the datastore interface the lobby server depends on.
type Store interface {
	// Authenticate verifies a login/password pair and returns the
	// matching account. Returns ErrAuthFailure on mismatch.
	Authenticate(login, password string) (*PlayerRecord, error)

	// LoadRatings fetches a player's ratings, substituting defaults
	// for players with no history.
	LoadRatings(playerID int) (*Ratings, error)

	// PersistGameResult writes a finished game's outcome.
	PersistGameResult(result *GameResult) error

	// PopularLadderMaps returns the names of the count most-picked
	// ladder maps.
	PopularLadderMaps(count int) ([]string, error)

	// SelectedLadderMaps returns the map names a player has selected
	// for ladder play.
	SelectedLadderMaps(playerID int) ([]string, error)

	// Close releases the underlying database handle.
	Close() error
}
