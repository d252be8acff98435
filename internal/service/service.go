// Package service реализует бизнес-логику библиотеки Bookworm.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/bookworm/internal/fine"
	"github.com/mmeshcher/bookworm/internal/mailer"
	"github.com/mmeshcher/bookworm/internal/model"
	"github.com/mmeshcher/bookworm/internal/payment"
	"github.com/mmeshcher/bookworm/internal/repository"
	"github.com/mmeshcher/bookworm/internal/validation"
)

var (
	// ErrInvalidCredentials возвращается при неверном email или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden возвращается, если у пользователя нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrNoOutstandingBalance возвращается, если у читателя нет неоплаченных штрафов.
	ErrNoOutstandingBalance = errors.New("no outstanding balance")
	// ErrDeliveryFailed возвращается, если письмо не удалось отправить.
	ErrDeliveryFailed = errors.New("reminder delivery failed")
	// ErrInvalidLoanPeriod возвращается при неположительном сроке выдачи.
	ErrInvalidLoanPeriod = errors.New("loan period must be positive")
	// ErrPaymentMethodRequired возвращается, если не передан токен платёжного средства.
	ErrPaymentMethodRequired = errors.New("payment method is required")
)

const (
	dashboardListSize = 5
	historySize       = 20
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Ping(ctx context.Context) error
	Close() error

	CreateBook(ctx context.Context, b *model.Book) (int64, error)
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	UpdateBook(ctx context.Context, b *model.Book) error
	SearchBooks(ctx context.Context, q repository.BookQuery) ([]model.Book, error)

	CreateMember(ctx context.Context, m *model.Member) (int64, error)
	GetMember(ctx context.Context, id int64) (*model.Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*model.Member, error)
	UpdateMember(ctx context.Context, m *model.Member) error
	SetMemberPassword(ctx context.Context, id int64, hash []byte) error
	SearchMembers(ctx context.Context, query string, limit int) ([]model.Member, error)

	CheckOut(ctx context.Context, bookID, memberID int64, checkoutDate, dueDate time.Time) (*model.Loan, error)
	ReturnLoan(ctx context.Context, loanID int64, returnDate time.Time, assess repository.FineAssessor) (*model.ReturnResult, error)
	ListLoans(ctx context.Context, f repository.LoanFilter) ([]model.Loan, error)

	GetFine(ctx context.Context, id int64) (*model.Fine, error)
	ListFines(ctx context.Context, f repository.FineFilter) ([]model.Fine, error)
	SettleFine(ctx context.Context, fineID int64, charge repository.ChargeFunc) (*model.Payment, error)
	ListPayments(ctx context.Context, memberID int64, limit int) ([]model.Payment, error)

	TopDebtors(ctx context.Context, limit int) ([]model.Debtor, error)
	Stats(ctx context.Context, today time.Time) (*model.LibraryStats, error)
}

// Processor списывает деньги у платёжного провайдера.
type Processor interface {
	Charge(ctx context.Context, ch payment.Charge) (*model.Payment, error)
}

// Mailer отправляет письма-напоминания.
type Mailer interface {
	SendReminder(ctx context.Context, r mailer.Reminder) error
}

// Options задаёт параметры библиотеки.
type Options struct {
	DailyRate      decimal.Decimal
	LoanPeriodDays int
	Currency       string
	// BaseURL используется для ссылок в письмах.
	BaseURL string
	// Now подменяется в тестах.
	Now func() time.Time
}

// Service содержит бизнес-логику библиотеки.
type Service struct {
	repo      Repository
	processor Processor
	mailer    Mailer
	opts      Options
}

// NewService создаёт сервис с репозиторием, платёжным провайдером и отправителем писем.
func NewService(repo Repository, processor Processor, m Mailer, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoanPeriodDays <= 0 {
		opts.LoanPeriodDays = 14
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.DailyRate.IsZero() {
		opts.DailyRate = fine.DefaultDailyRate
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Service{
		repo:      repo,
		processor: processor,
		mailer:    m,
		opts:      opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// LoanPeriodDays возвращает срок выдачи по умолчанию.
func (s *Service) LoanPeriodDays() int {
	return s.opts.LoanPeriodDays
}

// Currency возвращает валюту оплаты штрафов.
func (s *Service) Currency() string {
	return s.opts.Currency
}

func (s *Service) today() time.Time {
	return model.Date(s.opts.Now())
}

// HashPassword возвращает bcrypt-хеш пароля.
func HashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// Authenticate проверяет email и пароль и возвращает пользователя.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.Member, error) {
	m, err := s.repo.GetMemberByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if len(m.PasswordHash) == 0 {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(m.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return m, nil
}

// RegisterMember создаёт учётную запись с начальным паролем.
func (s *Service) RegisterMember(ctx context.Context, m *model.Member, password string) (int64, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return 0, err
	}

	m.PasswordHash = hash
	m.Email = strings.TrimSpace(m.Email)
	if m.Role == "" {
		m.Role = model.RoleMember
	}
	if m.Status == "" {
		m.Status = model.MembershipActive
	}

	return s.repo.CreateMember(ctx, m)
}

// UpdateMember обновляет данные читателя.
func (s *Service) UpdateMember(ctx context.Context, m *model.Member) error {
	m.Email = strings.TrimSpace(m.Email)
	return s.repo.UpdateMember(ctx, m)
}

// SetPassword заменяет пароль пользователя.
func (s *Service) SetPassword(ctx context.Context, memberID int64, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.repo.SetMemberPassword(ctx, memberID, hash)
}

// GetMember возвращает читателя по идентификатору.
func (s *Service) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	return s.repo.GetMember(ctx, id)
}

// SearchMembers ищет читателей по имени, email или номеру.
func (s *Service) SearchMembers(ctx context.Context, query string) ([]model.Member, error) {
	return s.repo.SearchMembers(ctx, query, 0)
}

// CreateBook добавляет книгу в каталог.
func (s *Service) CreateBook(ctx context.Context, b *model.Book) (int64, error) {
	b.ISBN = validation.NormalizeISBN(b.ISBN)
	return s.repo.CreateBook(ctx, b)
}

// UpdateBook обновляет описание книги и число экземпляров.
func (s *Service) UpdateBook(ctx context.Context, b *model.Book) error {
	b.ISBN = validation.NormalizeISBN(b.ISBN)
	return s.repo.UpdateBook(ctx, b)
}

// GetBook возвращает книгу по идентификатору.
func (s *Service) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	return s.repo.GetBook(ctx, id)
}

// SearchBooks ищет книги в каталоге.
func (s *Service) SearchBooks(ctx context.Context, q repository.BookQuery) ([]model.Book, error) {
	return s.repo.SearchBooks(ctx, q)
}

// BookDetail содержит книгу с текущими выдачами и историей.
type BookDetail struct {
	Book        *model.Book
	ActiveLoans []model.Loan
	History     []model.Loan
}

// GetBookDetail возвращает карточку книги.
func (s *Service) GetBookDetail(ctx context.Context, id int64) (*BookDetail, error) {
	b, err := s.repo.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.ListLoans(ctx, repository.LoanFilter{BookID: id, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListLoans(ctx, repository.LoanFilter{BookID: id, ReturnedOnly: true, Limit: historySize})
	if err != nil {
		return nil, err
	}

	return &BookDetail{Book: b, ActiveLoans: active, History: history}, nil
}

// MemberDetail содержит читателя с выдачами, штрафами и платежами.
type MemberDetail struct {
	Member      *model.Member
	ActiveLoans []model.Loan
	History     []model.Loan
	Fines       []model.Fine
	Payments    []model.Payment
	Outstanding decimal.Decimal
}

// GetMemberDetail возвращает карточку читателя.
func (s *Service) GetMemberDetail(ctx context.Context, id int64) (*MemberDetail, error) {
	m, err := s.repo.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.ListLoans(ctx, repository.LoanFilter{MemberID: id, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListLoans(ctx, repository.LoanFilter{MemberID: id, ReturnedOnly: true, Limit: historySize})
	if err != nil {
		return nil, err
	}
	fines, err := s.repo.ListFines(ctx, repository.FineFilter{MemberID: id})
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, id, historySize)
	if err != nil {
		return nil, err
	}

	return &MemberDetail{
		Member:      m,
		ActiveLoans: active,
		History:     history,
		Fines:       fines,
		Payments:    payments,
		Outstanding: outstandingTotal(fines),
	}, nil
}

// CheckOut выдаёт книгу читателю на dueInDays дней начиная с сегодняшней даты.
func (s *Service) CheckOut(ctx context.Context, bookID, memberID int64, dueInDays int) (*model.Loan, error) {
	if dueInDays <= 0 {
		return nil, ErrInvalidLoanPeriod
	}

	today := s.today()
	return s.repo.CheckOut(ctx, bookID, memberID, today, today.AddDate(0, 0, dueInDays))
}

// Return принимает книгу и начисляет штраф за просрочку по настроенной ставке.
func (s *Service) Return(ctx context.Context, loanID int64) (*model.ReturnResult, error) {
	rate := s.opts.DailyRate
	return s.repo.ReturnLoan(ctx, loanID, s.today(), func(due, ret time.Time) decimal.Decimal {
		return fine.Calculate(due, ret, rate)
	})
}

// ActiveLoans возвращает активные выдачи читателя или всей библиотеки при memberID = 0.
func (s *Service) ActiveLoans(ctx context.Context, memberID int64) ([]model.Loan, error) {
	return s.repo.ListLoans(ctx, repository.LoanFilter{MemberID: memberID, ActiveOnly: true})
}

// GetFine возвращает штраф, доступный пользователю actor.
func (s *Service) GetFine(ctx context.Context, fineID int64, actor model.Member) (*model.Fine, error) {
	f, err := s.repo.GetFine(ctx, fineID)
	if err != nil {
		return nil, err
	}
	if !actor.IsLibrarian() && f.MemberID != actor.ID {
		return nil, ErrForbidden
	}
	return f, nil
}

// PayFine оплачивает остаток штрафа через платёжного провайдера.
// Читатель может оплатить только свой штраф, библиотекарь любой.
func (s *Service) PayFine(ctx context.Context, fineID int64, paymentMethod string, actor model.Member) (*model.Payment, error) {
	paymentMethod = strings.TrimSpace(paymentMethod)

	if _, err := s.GetFine(ctx, fineID, actor); err != nil {
		return nil, err
	}
	if paymentMethod == "" {
		return nil, ErrPaymentMethodRequired
	}

	return s.repo.SettleFine(ctx, fineID, func(ctx context.Context, f model.Fine, amount decimal.Decimal) (*model.Payment, error) {
		return s.processor.Charge(ctx, payment.Charge{
			Amount:         amount,
			Currency:       s.opts.Currency,
			PaymentMethod:  paymentMethod,
			Description:    fmt.Sprintf("Library fine #%d: %s", f.ID, f.BookTitle),
			FineID:         f.ID,
			IdempotencyKey: payment.IdempotencyKey(f.ID, amount, paymentMethod),
		})
	})
}

// FeeSummary содержит неоплаченные штрафы читателя.
type FeeSummary struct {
	Member *model.Member
	Fines  []model.Fine
	Total  decimal.Decimal
}

// OutstandingFees возвращает неоплаченные штрафы читателя.
func (s *Service) OutstandingFees(ctx context.Context, memberID int64) (*FeeSummary, error) {
	m, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	fines, err := s.repo.ListFines(ctx, repository.FineFilter{MemberID: memberID, Status: model.FineStatusOutstanding})
	if err != nil {
		return nil, err
	}

	return &FeeSummary{Member: m, Fines: fines, Total: outstandingTotal(fines)}, nil
}

// SendReminder отправляет читателю письмо с суммой задолженности и возвращает эту сумму.
func (s *Service) SendReminder(ctx context.Context, memberID int64) (decimal.Decimal, error) {
	fees, err := s.OutstandingFees(ctx, memberID)
	if err != nil {
		return decimal.Zero, err
	}
	if !fees.Total.IsPositive() {
		return decimal.Zero, ErrNoOutstandingBalance
	}

	r := mailer.Reminder{
		To:       fees.Member.Email,
		Name:     fees.Member.FullName(),
		Total:    fees.Total,
		Currency: s.opts.Currency,
		Fines:    fees.Fines,
		FeesURL:  s.opts.BaseURL + "/fees",
	}
	if err := s.mailer.SendReminder(ctx, r); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	return fees.Total, nil
}

// LibrarianDashboard содержит данные панели библиотекаря.
type LibrarianDashboard struct {
	Stats       *model.LibraryStats
	RecentLoans []model.Loan
	TopDebtors  []model.Debtor
}

// GetLibrarianDashboard собирает статистику, последние выдачи и крупнейших должников.
func (s *Service) GetLibrarianDashboard(ctx context.Context) (*LibrarianDashboard, error) {
	stats, err := s.repo.Stats(ctx, s.today())
	if err != nil {
		return nil, err
	}
	recent, err := s.repo.ListLoans(ctx, repository.LoanFilter{Limit: dashboardListSize})
	if err != nil {
		return nil, err
	}
	debtors, err := s.repo.TopDebtors(ctx, dashboardListSize)
	if err != nil {
		return nil, err
	}

	return &LibrarianDashboard{Stats: stats, RecentLoans: recent, TopDebtors: debtors}, nil
}

// MemberDashboard содержит данные личного кабинета читателя.
type MemberDashboard struct {
	Member           *model.Member
	ActiveLoans      []model.Loan
	OutstandingCount int
	OutstandingTotal decimal.Decimal
}

// GetMemberDashboard возвращает активные выдачи и задолженность читателя.
func (s *Service) GetMemberDashboard(ctx context.Context, memberID int64) (*MemberDashboard, error) {
	fees, err := s.OutstandingFees(ctx, memberID)
	if err != nil {
		return nil, err
	}
	loans, err := s.repo.ListLoans(ctx, repository.LoanFilter{MemberID: memberID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	return &MemberDashboard{
		Member:           fees.Member,
		ActiveLoans:      loans,
		OutstandingCount: len(fees.Fines),
		OutstandingTotal: fees.Total,
	}, nil
}

// Today возвращает текущую календарную дату сервиса.
func (s *Service) Today() time.Time {
	return s.today()
}

func outstandingTotal(fines []model.Fine) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fines {
		if f.Status == model.FineStatusOutstanding {
			total = total.Add(f.Outstanding())
		}
	}
	return total
}
