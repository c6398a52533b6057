package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorReadColdStart(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT history_id FROM gmail_cursor`).
		WillReturnRows(sqlmock.NewRows([]string{"history_id"}))

	repo := NewCursorRepo(db)
	_, err = repo.Read(context.Background())
	assert.ErrorIs(t, err, ErrNoCursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorRead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT history_id FROM gmail_cursor`).
		WillReturnRows(sqlmock.NewRows([]string{"history_id"}).AddRow(12345))

	repo := NewCursorRepo(db)
	got, err := repo.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), got)
}

func TestCursorAdvanceUsesGreatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`GREATEST\(gmail_cursor\.history_id, EXCLUDED\.history_id\)`).
		WithArgs(uint64(999)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewCursorRepo(db)
	require.NoError(t, repo.Advance(context.Background(), 999))
	assert.NoError(t, mock.ExpectationsWereMet())
}
