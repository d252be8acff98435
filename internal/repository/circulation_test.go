package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/bookworm/internal/model"
)

func newMockRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRepository(db), mock
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var loanColumns = []string{"id", "book_id", "member_id", "checkout_date", "due_date", "return_date", "status", "title", "member_name"}

func TestCheckOut_Success(t *testing.T) {
	repo, mock := newMockRepository(t)
	checkout := date(2024, time.March, 1)
	due := date(2024, time.March, 15)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status, first_name || ' ' || last_name FROM members WHERE id = $1`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "name"}).AddRow("active", "Ann Lee"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT available_copies, title FROM books WHERE id = $1 FOR UPDATE`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"available_copies", "title"}).AddRow(2, "Dune"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE books SET available_copies = available_copies - 1 WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO loans`).
		WithArgs(int64(3), int64(7), checkout, due, "active").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	loan, err := repo.CheckOut(context.Background(), 3, 7, checkout, due)
	require.NoError(t, err)

	assert.Equal(t, int64(11), loan.ID)
	assert.Equal(t, model.LoanStatusActive, loan.Status)
	assert.Nil(t, loan.ReturnDate)
	assert.Equal(t, "Dune", loan.BookTitle)
	assert.Equal(t, "Ann Lee", loan.MemberName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckOut_NoCopiesLeavesCountsUnchanged(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "name"}).AddRow("active", "Ann Lee"))
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"available_copies", "title"}).AddRow(0, "Dune"))
	mock.ExpectRollback()

	_, err := repo.CheckOut(context.Background(), 3, 7, date(2024, time.March, 1), date(2024, time.March, 15))
	require.ErrorIs(t, err, ErrNotAvailable)

	// Никаких UPDATE/INSERT после отказа.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckOut_SuspendedMember(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "name"}).AddRow("suspended", "Ann Lee"))
	mock.ExpectRollback()

	_, err := repo.CheckOut(context.Background(), 3, 7, date(2024, time.March, 1), date(2024, time.March, 15))
	require.ErrorIs(t, err, ErrMemberSuspended)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckOut_UnknownReferences(t *testing.T) {
	t.Run("member", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status`).WillReturnRows(sqlmock.NewRows([]string{"status", "name"}))
		mock.ExpectRollback()

		_, err := repo.CheckOut(context.Background(), 3, 7, date(2024, time.March, 1), date(2024, time.March, 15))
		require.ErrorIs(t, err, ErrMemberNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("book", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status`).
			WillReturnRows(sqlmock.NewRows([]string{"status", "name"}).AddRow("active", "Ann Lee"))
		mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows([]string{"available_copies", "title"}))
		mock.ExpectRollback()

		_, err := repo.CheckOut(context.Background(), 3, 7, date(2024, time.March, 1), date(2024, time.March, 15))
		require.ErrorIs(t, err, ErrBookNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func flatRate(rate string) FineAssessor {
	r := decimal.RequireFromString(rate)
	return func(due, ret time.Time) decimal.Decimal {
		days := int64(ret.Sub(due).Hours() / 24)
		if days <= 0 {
			return decimal.Zero
		}
		return r.Mul(decimal.NewFromInt(days))
	}
}

func TestReturnLoan_OnTimeCreatesNoFine(t *testing.T) {
	repo, mock := newMockRepository(t)
	due := date(2024, time.March, 15)
	returned := date(2024, time.March, 14)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE l.id = $1 AND l.return_date IS NULL FOR UPDATE OF l`)).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows(loanColumns).
			AddRow(int64(11), int64(3), int64(7), date(2024, time.March, 1), due, nil, "active", "Dune", "Ann Lee"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE loans SET return_date = $2, status = $3 WHERE id = $1`)).
		WithArgs(int64(11), returned, "returned").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE books SET available_copies = available_copies + 1 WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := repo.ReturnLoan(context.Background(), 11, returned, flatRate("1.00"))
	require.NoError(t, err)

	assert.Nil(t, res.Fine)
	assert.Equal(t, model.LoanStatusReturned, res.Loan.Status)
	require.NotNil(t, res.Loan.ReturnDate)
	assert.True(t, res.Loan.ReturnDate.Equal(returned))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnLoan_LateUpsertsFine(t *testing.T) {
	repo, mock := newMockRepository(t)
	due := date(2024, time.March, 15)
	returned := date(2024, time.March, 20)
	created := time.Date(2024, time.March, 20, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF l`).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows(loanColumns).
			AddRow(int64(11), int64(3), int64(7), date(2024, time.March, 1), due, nil, "active", "Dune", "Ann Lee"))
	mock.ExpectExec(`UPDATE loans`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE books`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO fines .* ON CONFLICT \(loan_id\) DO UPDATE`).
		WithArgs(int64(11), int64(7), int64(500), "outstanding").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(4), created))
	mock.ExpectCommit()

	res, err := repo.ReturnLoan(context.Background(), 11, returned, flatRate("1.00"))
	require.NoError(t, err)

	require.NotNil(t, res.Fine)
	assert.Equal(t, int64(4), res.Fine.ID)
	assert.True(t, decimal.RequireFromString("5.00").Equal(res.Fine.AmountOwed))
	assert.True(t, res.Fine.AmountPaid.IsZero())
	assert.Equal(t, model.FineStatusOutstanding, res.Fine.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnLoan_PaidFineIsKept(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF l`).
		WillReturnRows(sqlmock.NewRows(loanColumns).
			AddRow(int64(11), int64(3), int64(7), date(2024, time.March, 1), date(2024, time.March, 15), nil, "active", "Dune", "Ann Lee"))
	mock.ExpectExec(`UPDATE loans`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE books`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO fines`).WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
	mock.ExpectCommit()

	res, err := repo.ReturnLoan(context.Background(), 11, date(2024, time.March, 17), flatRate("1.00"))
	require.NoError(t, err)
	assert.Nil(t, res.Fine)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnLoan_NotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF l`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(loanColumns))
	mock.ExpectRollback()

	_, err := repo.ReturnLoan(context.Background(), 99, date(2024, time.March, 17), flatRate("1.00"))
	require.ErrorIs(t, err, ErrLoanNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListLoans_BuildsFilter(t *testing.T) {
	repo, mock := newMockRepository(t)
	returned := date(2024, time.March, 10)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE l.member_id = $1 AND l.return_date IS NOT NULL ORDER BY l.checkout_date DESC, l.id DESC LIMIT $2`)).
		WithArgs(int64(7), 5).
		WillReturnRows(sqlmock.NewRows(loanColumns).
			AddRow(int64(2), int64(3), int64(7), date(2024, time.March, 1), date(2024, time.March, 15), returned, "returned", "Dune", "Ann Lee ").
			AddRow(int64(1), int64(4), int64(7), date(2024, time.February, 1), date(2024, time.February, 15), returned, "returned", "Emma", "Ann Lee "))

	loans, err := repo.ListLoans(context.Background(), LoanFilter{MemberID: 7, ReturnedOnly: true, Limit: 5})
	require.NoError(t, err)
	require.Len(t, loans, 2)

	assert.Equal(t, "Ann Lee", loans[0].MemberName)
	require.NotNil(t, loans[0].ReturnDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}
