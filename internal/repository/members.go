package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmeshcher/bookworm/internal/model"
)

const memberColumns = `id, first_name, last_name, email, phone, role, status, password_hash, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*model.Member, error) {
	var (
		m      model.Member
		role   string
		status string
	)
	if err := row.Scan(&m.ID, &m.FirstName, &m.LastName, &m.Email, &m.Phone, &role, &status, &m.PasswordHash, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = model.Role(role)
	m.Status = model.MembershipStatus(status)
	return &m, nil
}

// CreateMember регистрирует нового читателя или библиотекаря.
func (r *PostgresRepository) CreateMember(ctx context.Context, m *model.Member) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO members (first_name, last_name, email, phone, role, status, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		m.FirstName, m.LastName, m.Email, m.Phone, string(m.Role), string(m.Status), m.PasswordHash,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicate, m.Email)
		}
		return 0, fmt.Errorf("create member: %w", err)
	}
	return id, nil
}

// GetMember возвращает читателя по идентификатору.
func (r *PostgresRepository) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1`,
		id,
	)

	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// GetMemberByEmail возвращает читателя по email без учёта регистра.
func (r *PostgresRepository) GetMemberByEmail(ctx context.Context, email string) (*model.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE lower(email) = lower($1)`,
		email,
	)

	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member by email: %w", err)
	}
	return m, nil
}

// UpdateMember обновляет контактные данные, роль и статус читателя.
func (r *PostgresRepository) UpdateMember(ctx context.Context, m *model.Member) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE members
		 SET first_name = $2, last_name = $3, email = $4, phone = $5, role = $6, status = $7
		 WHERE id = $1`,
		m.ID, m.FirstName, m.LastName, m.Email, m.Phone, string(m.Role), string(m.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, m.Email)
		}
		return fmt.Errorf("update member: %w", err)
	}
	return expectAffected(res, ErrMemberNotFound)
}

// SetMemberPassword заменяет хеш пароля читателя.
func (r *PostgresRepository) SetMemberPassword(ctx context.Context, id int64, hash []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE members SET password_hash = $2 WHERE id = $1`,
		id, hash,
	)
	if err != nil {
		return fmt.Errorf("set member password: %w", err)
	}
	return expectAffected(res, ErrMemberNotFound)
}

// SearchMembers ищет читателей по имени, email или номеру билета.
// Пустой запрос возвращает первых limit читателей.
func (r *PostgresRepository) SearchMembers(ctx context.Context, query string, limit int) ([]model.Member, error) {
	query = strings.TrimSpace(query)
	limit = limitOrDefault(limit)

	var (
		rows *sql.Rows
		err  error
	)
	if query == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+memberColumns+` FROM members ORDER BY last_name, first_name, id LIMIT $1`,
			limit,
		)
	} else {
		id, _ := strconv.ParseInt(query, 10, 64)
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+memberColumns+`
			 FROM members
			 WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR email ILIKE $1 OR id = $2
			 ORDER BY last_name, first_name, id
			 LIMIT $3`,
			likePattern(query), id, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("select members: %w", err)
	}
	defer rows.Close()

	var res []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		res = append(res, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func expectAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
