package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAuthenticateSuccess(t *testing.T) {
	s := newTestStore(t)

	id, err := s.UpsertPlayer("Rhiza", "secret")
	require.NoError(t, err)

	rec, err := s.Authenticate("Rhiza", "secret")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "Rhiza", rec.Login)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpsertPlayer("Rhiza", "secret")
	require.NoError(t, err)

	_, err = s.Authenticate("Rhiza", "wrong")
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestAuthenticateUnknownLogin(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Authenticate("nobody", "anything")
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestAuthenticateCaseSensitive(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpsertPlayer("Rhiza", "Secret")
	require.NoError(t, err)

	_, err = s.Authenticate("rhiza", "Secret")
	assert.ErrorIs(t, err, ErrAuthFailure)

	_, err = s.Authenticate("Rhiza", "secret")
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestLoadRatingsDefaults(t *testing.T) {
	s := newTestStore(t)

	id, err := s.UpsertPlayer("fresh", "pw")
	require.NoError(t, err)

	ratings, err := s.LoadRatings(id)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, ratings.Global.Mean)
	assert.Equal(t, 500.0, ratings.Global.Deviation)
	assert.Equal(t, 1500.0, ratings.Ladder1v1.Mean)
	assert.Equal(t, 500.0, ratings.Ladder1v1.Deviation)
	assert.Equal(t, 0, ratings.NumGames)
}

func TestPersistGameResultAndPopularity(t *testing.T) {
	s := newTestStore(t)

	hostID, err := s.UpsertPlayer("host", "pw")
	require.NoError(t, err)
	guestID, err := s.UpsertPlayer("guest", "pw")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.PersistGameResult(&GameResult{
			GameUUID:  "uuid-busy",
			Mode:      "ladder1v1",
			MapName:   "canis_river",
			HostID:    hostID,
			PlayerIDs: []int{hostID, guestID},
		}))
	}
	require.NoError(t, s.PersistGameResult(&GameResult{
		GameUUID:  "uuid-quiet",
		Mode:      "ladder1v1",
		MapName:   "theta_passage",
		HostID:    hostID,
		PlayerIDs: []int{hostID, guestID},
	}))

	popular, err := s.PopularLadderMaps(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"canis_river", "theta_passage"}, popular)

	popular, err = s.PopularLadderMaps(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"canis_river"}, popular)
}

func TestSelectedLadderMaps(t *testing.T) {
	s := newTestStore(t)

	id, err := s.UpsertPlayer("picky", "pw")
	require.NoError(t, err)

	maps, err := s.SelectedLadderMaps(id)
	require.NoError(t, err)
	assert.Empty(t, maps)

	require.NoError(t, s.SetLadderMapSelections(id, []string{"theta_passage", "canis_river"}))

	maps, err = s.SelectedLadderMaps(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"canis_river", "theta_passage"}, maps)

	require.NoError(t, s.SetLadderMapSelections(id, []string{"loki"}))
	maps, err = s.SelectedLadderMaps(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"loki"}, maps)
}

func TestRecordMapPlaySeedsPopularity(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordMapPlay("loki", 10))
	require.NoError(t, s.RecordMapPlay("canis_river", 5))

	popular, err := s.PopularLadderMaps(5)
	require.NoError(t, err)
	assert.Equal(t, []string{"loki", "canis_river"}, popular)
}
