package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListHeadForums(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewForumRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT forum_id FROM forum_heads WHERE user_id = $1 AND is_verified = $2")).
		WithArgs("h1", true).
		WillReturnRows(sqlmock.NewRows([]string{"forum_id"}).AddRow("F").AddRow("G"))

	set, err := repo.ListHeadForums(context.Background(), nil, "h1", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"F", "G"}, set.IDs())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertVerifiedPromotesExistingRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewForumRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id, forum_id) DO UPDATE SET is_verified = TRUE")).
		WithArgs("h2", "G", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpsertVerified(context.Background(), nil, "h2", "G"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCandidatesSkipsEmpty(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewForumRepository(db)

	require.NoError(t, repo.AddCandidates(context.Background(), nil, "h2", nil))

	mock.ExpectExec(regexp.QuoteMeta("FROM unnest($2::text[])")).
		WithArgs("h2", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, repo.AddCandidates(context.Background(), nil, "h2", []string{"G", "H"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUnverified(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewForumRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM forum_heads WHERE user_id = $1 AND is_verified = FALSE")).
		WithArgs("h2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.DeleteUnverified(context.Background(), nil, "h2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVenueLockForBooking(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVenueRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM venues WHERE id = $1 AND college_id = $2 FOR UPDATE")).
		WithArgs("v1", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "location"}).AddRow("v1", "Main Hall", "Block A"))

	venue, err := repo.LockForBooking(context.Background(), nil, "c1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "Main Hall", venue.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollegeCountForums(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCollegeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM forums WHERE college_id = $1 AND id = ANY($2)")).
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountForums(context.Background(), "c1", []string{"F", "G"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
