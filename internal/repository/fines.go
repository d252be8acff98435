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

// ChargeFunc списывает сумму штрафа у внешнего провайдера и возвращает данные платежа.
// Вызывается внутри транзакции, пока строка штрафа заблокирована.
type ChargeFunc func(ctx context.Context, fine model.Fine, amount decimal.Decimal) (*model.Payment, error)

// FineFilter задаёт условия выборки штрафов.
type FineFilter struct {
	MemberID int64
	Status   model.FineStatus
}

const fineSelect = `SELECT f.id, f.loan_id, f.member_id, f.amount_owed, f.amount_paid, f.status, f.created_at, f.paid_at,
       b.title, m.first_name || ' ' || m.last_name
FROM fines f
JOIN loans l ON l.id = f.loan_id
JOIN books b ON b.id = l.book_id
JOIN members m ON m.id = f.member_id`

func scanFine(row rowScanner) (*model.Fine, error) {
	var (
		f      model.Fine
		owed   int64
		paid   int64
		status string
		paidAt sql.NullTime
	)
	if err := row.Scan(&f.ID, &f.LoanID, &f.MemberID, &owed, &paid, &status, &f.CreatedAt, &paidAt, &f.BookTitle, &f.MemberName); err != nil {
		return nil, err
	}
	f.AmountOwed = model.FromCents(owed)
	f.AmountPaid = model.FromCents(paid)
	f.Status = model.FineStatus(status)
	f.PaidAt = nullTime(paidAt)
	f.MemberName = strings.TrimSpace(f.MemberName)
	return &f, nil
}

// GetFine возвращает штраф по идентификатору.
func (r *PostgresRepository) GetFine(ctx context.Context, id int64) (*model.Fine, error) {
	row := r.db.QueryRowContext(ctx, fineSelect+` WHERE f.id = $1`, id)

	f, err := scanFine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFineNotFound
		}
		return nil, fmt.Errorf("get fine: %w", err)
	}
	return f, nil
}

// ListFines возвращает штрафы по фильтру, начиная с самых свежих.
func (r *PostgresRepository) ListFines(ctx context.Context, f FineFilter) ([]model.Fine, error) {
	var (
		conds []string
		args  []any
	)
	if f.MemberID != 0 {
		args = append(args, f.MemberID)
		conds = append(conds, fmt.Sprintf("f.member_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("f.status = $%d", len(args)))
	}

	query := fineSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY f.id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select fines: %w", err)
	}
	defer rows.Close()

	var res []model.Fine
	for rows.Next() {
		fine, err := scanFine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fine: %w", err)
		}
		res = append(res, *fine)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SettleFine оплачивает штраф. Строка штрафа блокируется, затем вызывается
// charge; платёж записывается и штраф помечается оплаченным только после
// успешного ответа charge. Ошибка charge откатывает транзакцию без изменений,
// сбой после успешного charge возвращается как ErrChargeNotRecorded.
func (r *PostgresRepository) SettleFine(ctx context.Context, fineID int64, charge ChargeFunc) (*model.Payment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, fineSelect+` WHERE f.id = $1 FOR UPDATE OF f`, fineID)
	fine, err := scanFine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFineNotFound
		}
		return nil, fmt.Errorf("lock fine for update: %w", err)
	}
	if fine.Status == model.FineStatusPaid {
		return nil, ErrAlreadyPaid
	}

	payment, err := charge(ctx, *fine, fine.Outstanding())
	if err != nil {
		return nil, err
	}

	payment.FineID = fine.ID
	err = tx.QueryRowContext(ctx,
		`INSERT INTO payments (fine_id, external_ref, amount, currency, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		fine.ID, payment.ExternalRef, model.Cents(payment.Amount), payment.Currency, payment.IdempotencyKey,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: ref %s: insert payment: %w", ErrChargeNotRecorded, payment.ExternalRef, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE fines SET amount_paid = amount_owed, status = $2, paid_at = $3 WHERE id = $1`,
		fine.ID, string(model.FineStatusPaid), payment.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("%w: ref %s: mark fine paid: %w", ErrChargeNotRecorded, payment.ExternalRef, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: ref %s: commit: %w", ErrChargeNotRecorded, payment.ExternalRef, err)
	}

	return payment, nil
}

// ListPayments возвращает последние платежи читателя по всем его штрафам.
func (r *PostgresRepository) ListPayments(ctx context.Context, memberID int64, limit int) ([]model.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.fine_id, p.external_ref, p.amount, p.currency, p.idempotency_key, p.created_at
		 FROM payments p
		 JOIN fines f ON f.id = p.fine_id
		 WHERE f.member_id = $1
		 ORDER BY p.created_at DESC, p.id DESC
		 LIMIT $2`,
		memberID, limitOrDefault(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		var (
			p     model.Payment
			cents int64
		)
		if err := rows.Scan(&p.ID, &p.FineID, &p.ExternalRef, &cents, &p.Currency, &p.IdempotencyKey, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Amount = model.FromCents(cents)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// TopDebtors возвращает читателей с наибольшей суммой неоплаченных штрафов.
func (r *PostgresRepository) TopDebtors(ctx context.Context, limit int) ([]model.Debtor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.id, m.first_name, m.last_name, m.email, SUM(f.amount_owed - f.amount_paid)::BIGINT AS debt
		 FROM fines f
		 JOIN members m ON m.id = f.member_id
		 WHERE f.status = $1
		 GROUP BY m.id, m.first_name, m.last_name, m.email
		 ORDER BY debt DESC, m.id
		 LIMIT $2`,
		string(model.FineStatusOutstanding), limitOrDefault(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("select debtors: %w", err)
	}
	defer rows.Close()

	var res []model.Debtor
	for rows.Next() {
		var (
			d     model.Debtor
			cents int64
		)
		if err := rows.Scan(&d.MemberID, &d.FirstName, &d.LastName, &d.Email, &cents); err != nil {
			return nil, fmt.Errorf("scan debtor: %w", err)
		}
		d.TotalDebt = model.FromCents(cents)
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// Stats возвращает агрегаты каталога, читателей и штрафов на дату today.
func (r *PostgresRepository) Stats(ctx context.Context, today time.Time) (*model.LibraryStats, error) {
	var (
		s           model.LibraryStats
		outstanding int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT
		    (SELECT COUNT(*) FROM books),
		    (SELECT COALESCE(SUM(total_copies), 0) FROM books),
		    (SELECT COALESCE(SUM(total_copies - available_copies), 0) FROM books),
		    (SELECT COUNT(*) FROM members WHERE role = $1),
		    (SELECT COUNT(*) FROM loans WHERE due_date = $2 AND return_date IS NULL),
		    (SELECT COALESCE(SUM(amount_owed - amount_paid), 0)::BIGINT FROM fines WHERE status = $3)`,
		string(model.RoleMember), today, string(model.FineStatusOutstanding),
	).Scan(&s.TotalTitles, &s.TotalCopies, &s.CheckedOut, &s.TotalMembers, &s.LoansDueToday, &outstanding)
	if err != nil {
		return nil, fmt.Errorf("select stats: %w", err)
	}

	s.OutstandingFines = model.FromCents(outstanding)
	return &s, nil
}
