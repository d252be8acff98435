// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrDuplicate возвращается при нарушении уникальности (ISBN книги, email читателя).
	ErrDuplicate = errors.New("record already exists")
	// ErrBookNotFound возвращается, если книга не найдена.
	ErrBookNotFound = errors.New("book not found")
	// ErrMemberNotFound возвращается, если читатель не найден.
	ErrMemberNotFound = errors.New("member not found")
	// ErrMemberSuspended возвращается при выдаче книги читателю с приостановленным билетом.
	ErrMemberSuspended = errors.New("membership suspended")
	// ErrNotAvailable возвращается, если свободных экземпляров книги нет.
	ErrNotAvailable = errors.New("no copies available")
	// ErrLoanNotFound возвращается, если активная выдача не найдена.
	ErrLoanNotFound = errors.New("active loan not found")
	// ErrCopiesInUse возвращается, если новое количество экземпляров меньше числа выданных.
	ErrCopiesInUse = errors.New("total copies below checked out count")
	// ErrFineNotFound возвращается, если штраф не найден.
	ErrFineNotFound = errors.New("fine not found")
	// ErrAlreadyPaid возвращается при попытке повторной оплаты штрафа.
	ErrAlreadyPaid = errors.New("fine already paid")
	// ErrChargeNotRecorded возвращается, если провайдер списал деньги, а сохранить
	// платёж не удалось. Текст ошибки содержит внешний номер платежа.
	ErrChargeNotRecorded = errors.New("charge succeeded but payment was not recorded")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	db   *sql.DB
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := Migrate(ctx, r.db); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// Open подключается к базе данных без применения миграций.
func Open(ctx context.Context, dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresRepository{
		db:   stdlib.OpenDBFromPool(pool),
		pool: pool,
	}, nil
}

// NewRepository создаёт репозиторий поверх уже открытого соединения.
func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// DB возвращает используемое соединение database/sql.
func (r *PostgresRepository) DB() *sql.DB {
	return r.db
}

// Migrate применяет все встроенные миграции схемы.
func Migrate(ctx context.Context, db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// MigrationStatus выводит состояние миграций в out.
func MigrationStatus(ctx context.Context, db *sql.DB, out io.Writer) error {
	if err := setupGoose(); err != nil {
		return err
	}

	goose.SetLogger(log.New(out, "", 0))

	if err := goose.StatusContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}

	return nil
}

func setupGoose() error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	return nil
}

// Ping проверяет доступность базы данных.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	err := r.db.Close()
	if r.pool != nil {
		r.pool.Close()
	}
	return err
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgerrcode.UniqueViolation
}

func isCheckViolation(err error) bool {
	return pgErrorCode(err) == pgerrcode.CheckViolation
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
