package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func customerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"customer_id", "customer_email", "full_name", "phone", "membership_tier", "created_at",
	}).AddRow("c-1", "alice@example.com", "Alice Smith", "", "Plus", time.Now())
}

func TestFindCustomerByEmail(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`LOWER\(customer_email\) = LOWER\(\$1\)`).
		WithArgs("Alice@Example.com").
		WillReturnRows(customerRows())

	repo := NewOrdersRepo(db)
	c, err := repo.FindCustomerByEmail(context.Background(), "Alice@Example.com")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "c-1", c.CustomerID)
	assert.Equal(t, "Plus", c.MembershipTier)
}

func TestFindCustomerByEmailNoMatch(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM customers`).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}))

	repo := NewOrdersRepo(db)
	c, err := repo.FindCustomerByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestFindOrderByOrderInvoiceIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`WHERE order_invoice_id = \$1`).
		WithArgs("INV-MISSING").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}))

	repo := NewOrdersRepo(db)
	_, err = repo.FindOrderByOrderInvoiceID(context.Background(), "INV-MISSING")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

// Generated lookups must run read-only with a local statement timeout.
func TestRunReadOnlyPosture(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL transaction_read_only = on`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET LOCAL statement_timeout = 5000`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT order_id FROM orders`).
		WithArgs("alice@example.com", 5).
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow("o-1").AddRow("o-2"))
	mock.ExpectCommit()

	repo := NewOrdersRepo(db)
	rows, err := repo.RunReadOnly(context.Background(),
		`SELECT order_id FROM orders WHERE customer_email = $1 LIMIT $2`,
		[]interface{}{"alice@example.com", 5}, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "o-1", rows[0]["order_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
