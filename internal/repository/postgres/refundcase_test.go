package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
)

func TestRefundCaseUpsertReturnsCaseID(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO refund_cases`).
		WillReturnRows(sqlmock.NewRows([]string{"case_id"}).AddRow("case-123"))

	repo := NewRefundCaseRepo(db)
	caseID, err := repo.Upsert(context.Background(), &domain.RefundCase{
		CaseID:             "case-123",
		CaseSource:         "gmail",
		SourceMessageID:    "msg-1",
		ReceivedAt:         time.Now().UTC(),
		FromEmail:          "alice@example.com",
		Classification:     domain.CategoryReturn,
		Confidence:         0.92,
		VerificationStatus: domain.StatusPendingReview,
	})
	require.NoError(t, err)
	assert.Equal(t, "case-123", caseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The upsert must never downgrade VERIFIED back to PENDING_REVIEW; the
// guard lives in the conflict clause itself.
func TestRefundCaseUpsertCarriesStatusGuard(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`WHEN refund_cases\.verification_status = 'VERIFIED' THEN 'VERIFIED'`).
		WillReturnRows(sqlmock.NewRows([]string{"case_id"}).AddRow("case-9"))

	repo := NewRefundCaseRepo(db)
	_, err = repo.Upsert(context.Background(), &domain.RefundCase{
		CaseID:             "case-9",
		SourceMessageID:    "msg-9",
		ReceivedAt:         time.Now().UTC(),
		FromEmail:          "bob@example.com",
		VerificationStatus: domain.StatusPendingReview,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBySourceMessageIDAbsent(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM refund_cases`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"case_id"}))

	repo := NewRefundCaseRepo(db)
	got, err := repo.GetBySourceMessageID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}
