package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bookworm/internal/model"
)

// FineAssessor рассчитывает штраф по сроку возврата и фактической дате возврата.
type FineAssessor func(dueDate, returnDate time.Time) decimal.Decimal

// LoanFilter задаёт условия выборки выдач. Нулевые поля не ограничивают выборку.
type LoanFilter struct {
	MemberID   int64
	BookID     int64
	ActiveOnly bool
	// ReturnedOnly и ActiveOnly взаимоисключающие.
	ReturnedOnly bool
	Limit        int
}

const loanSelect = `SELECT l.id, l.book_id, l.member_id, l.checkout_date, l.due_date, l.return_date, l.status,
       b.title, m.first_name || ' ' || m.last_name
FROM loans l
JOIN books b ON b.id = l.book_id
JOIN members m ON m.id = l.member_id`

func scanLoan(row rowScanner) (*model.Loan, error) {
	var (
		l          model.Loan
		returnDate sql.NullTime
		status     string
	)
	if err := row.Scan(&l.ID, &l.BookID, &l.MemberID, &l.CheckoutDate, &l.DueDate, &returnDate, &status, &l.BookTitle, &l.MemberName); err != nil {
		return nil, err
	}
	l.ReturnDate = nullTime(returnDate)
	l.Status = model.LoanStatus(status)
	l.MemberName = strings.TrimSpace(l.MemberName)
	return &l, nil
}

// CheckOut выдаёт экземпляр книги читателю. Строка книги блокируется до конца
// транзакции, поэтому параллельные выдачи одной книги выполняются по очереди.
func (r *PostgresRepository) CheckOut(ctx context.Context, bookID, memberID int64, checkoutDate, dueDate time.Time) (*model.Loan, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var memberStatus, memberName string
	err = tx.QueryRowContext(ctx,
		`SELECT status, first_name || ' ' || last_name FROM members WHERE id = $1`,
		memberID,
	).Scan(&memberStatus, &memberName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("select member: %w", err)
	}
	if model.MembershipStatus(memberStatus) != model.MembershipActive {
		return nil, ErrMemberSuspended
	}

	var (
		available int
		title     string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT available_copies, title FROM books WHERE id = $1 FOR UPDATE`,
		bookID,
	).Scan(&available, &title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("lock book for update: %w", err)
	}
	if available <= 0 {
		return nil, ErrNotAvailable
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE books SET available_copies = available_copies - 1 WHERE id = $1`,
		bookID,
	); err != nil {
		return nil, fmt.Errorf("decrement available copies: %w", err)
	}

	var loanID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO loans (book_id, member_id, checkout_date, due_date, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		bookID, memberID, checkoutDate, dueDate, string(model.LoanStatusActive),
	).Scan(&loanID)
	if err != nil {
		return nil, fmt.Errorf("insert loan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &model.Loan{
		ID:           loanID,
		BookID:       bookID,
		MemberID:     memberID,
		CheckoutDate: checkoutDate,
		DueDate:      dueDate,
		Status:       model.LoanStatusActive,
		BookTitle:    title,
		MemberName:   strings.TrimSpace(memberName),
	}, nil
}

// ReturnLoan закрывает активную выдачу, возвращает экземпляр на полку и при
// положительной сумме от assess создаёт или обновляет штраф. Все изменения
// выполняются в одной транзакции.
func (r *PostgresRepository) ReturnLoan(ctx context.Context, loanID int64, returnDate time.Time, assess FineAssessor) (*model.ReturnResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		loanSelect+` WHERE l.id = $1 AND l.return_date IS NULL FOR UPDATE OF l`,
		loanID,
	)
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("lock loan for update: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE loans SET return_date = $2, status = $3 WHERE id = $1`,
		loanID, returnDate, string(model.LoanStatusReturned),
	); err != nil {
		return nil, fmt.Errorf("update loan: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE books SET available_copies = available_copies + 1 WHERE id = $1`,
		loan.BookID,
	); err != nil {
		return nil, fmt.Errorf("increment available copies: %w", err)
	}

	loan.ReturnDate = &returnDate
	loan.Status = model.LoanStatusReturned
	result := &model.ReturnResult{Loan: *loan}

	amount := decimal.Zero
	if assess != nil {
		amount = assess(loan.DueDate, returnDate)
	}

	if cents := model.Cents(amount); cents > 0 {
		f := model.Fine{
			LoanID:     loan.ID,
			MemberID:   loan.MemberID,
			AmountOwed: model.FromCents(cents),
			AmountPaid: decimal.Zero,
			Status:     model.FineStatusOutstanding,
			BookTitle:  loan.BookTitle,
			MemberName: loan.MemberName,
		}
		err := tx.QueryRowContext(ctx,
			`INSERT INTO fines (loan_id, member_id, amount_owed, status)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (loan_id) DO UPDATE
			 SET amount_owed = EXCLUDED.amount_owed
			 WHERE fines.status = $4
			 RETURNING id, created_at`,
			loan.ID, loan.MemberID, cents, string(model.FineStatusOutstanding),
		).Scan(&f.ID, &f.CreatedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Штраф по этой выдаче уже оплачен.
		case err != nil:
			return nil, fmt.Errorf("upsert fine: %w", err)
		default:
			result.Fine = &f
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return result, nil
}

// ListLoans возвращает выдачи по фильтру, начиная с самых свежих.
func (r *PostgresRepository) ListLoans(ctx context.Context, f LoanFilter) ([]model.Loan, error) {
	var (
		conds []string
		args  []any
	)
	if f.MemberID != 0 {
		args = append(args, f.MemberID)
		conds = append(conds, fmt.Sprintf("l.member_id = $%d", len(args)))
	}
	if f.BookID != 0 {
		args = append(args, f.BookID)
		conds = append(conds, fmt.Sprintf("l.book_id = $%d", len(args)))
	}
	switch {
	case f.ActiveOnly:
		conds = append(conds, "l.return_date IS NULL")
	case f.ReturnedOnly:
		conds = append(conds, "l.return_date IS NOT NULL")
	}

	query := loanSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limitOrDefault(f.Limit))
	query += fmt.Sprintf(" ORDER BY l.checkout_date DESC, l.id DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	defer rows.Close()

	var res []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		res = append(res, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
