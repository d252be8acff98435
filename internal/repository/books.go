package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mmeshcher/bookworm/internal/model"
)

const bookColumns = `id, title, author, isbn, genre, total_copies, available_copies, created_at`

// SearchField ограничивает поиск по каталогу одним полем.
type SearchField string

const (
	SearchAny    SearchField = ""
	SearchTitle  SearchField = "title"
	SearchAuthor SearchField = "author"
)

// BookQuery описывает параметры поиска по каталогу.
type BookQuery struct {
	Term  string
	Field SearchField
	Limit int
}

func scanBook(row rowScanner) (*model.Book, error) {
	var b model.Book
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Genre, &b.TotalCopies, &b.AvailableCopies, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBook добавляет книгу в каталог. Все экземпляры новой книги доступны для выдачи.
func (r *PostgresRepository) CreateBook(ctx context.Context, b *model.Book) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO books (title, author, isbn, genre, total_copies, available_copies)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 RETURNING id`,
		b.Title, b.Author, b.ISBN, b.Genre, b.TotalCopies,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: isbn %s", ErrDuplicate, b.ISBN)
		}
		if isCheckViolation(err) {
			return 0, ErrCopiesInUse
		}
		return 0, fmt.Errorf("create book: %w", err)
	}
	return id, nil
}

// GetBook возвращает книгу по идентификатору.
func (r *PostgresRepository) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1`,
		id,
	)

	b, err := scanBook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

// UpdateBook обновляет описание книги. Изменение общего числа экземпляров
// сдвигает число доступных на ту же величину; если выданных экземпляров
// больше нового общего числа, возвращается ErrCopiesInUse.
func (r *PostgresRepository) UpdateBook(ctx context.Context, b *model.Book) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE books
		 SET title = $2, author = $3, isbn = $4, genre = $5,
		     available_copies = available_copies + ($6 - total_copies),
		     total_copies = $6
		 WHERE id = $1`,
		b.ID, b.Title, b.Author, b.ISBN, b.Genre, b.TotalCopies,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: isbn %s", ErrDuplicate, b.ISBN)
		}
		if isCheckViolation(err) {
			return ErrCopiesInUse
		}
		return fmt.Errorf("update book: %w", err)
	}
	return expectAffected(res, ErrBookNotFound)
}

// SearchBooks ищет книги по названию, автору или ISBN. Пустой запрос
// возвращает первые Limit книг каталога.
func (r *PostgresRepository) SearchBooks(ctx context.Context, q BookQuery) ([]model.Book, error) {
	term := strings.TrimSpace(q.Term)
	limit := limitOrDefault(q.Limit)

	var (
		where string
		args  []any
	)
	switch {
	case term == "":
		where = "TRUE"
	case q.Field == SearchTitle:
		where = "title ILIKE $1"
		args = append(args, likePattern(term))
	case q.Field == SearchAuthor:
		where = "author ILIKE $1"
		args = append(args, likePattern(term))
	default:
		where = "title ILIKE $1 OR author ILIKE $1 OR isbn = $2"
		args = append(args, likePattern(term), strings.ReplaceAll(term, "-", ""))
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM books WHERE %s ORDER BY title, id LIMIT $%d`, bookColumns, where, len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	defer rows.Close()

	var res []model.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		res = append(res, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
