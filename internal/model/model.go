// Package model содержит доменные сущности библиотеки Bookworm.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role определяет права пользователя в системе.
type Role string

const (
	RoleLibrarian Role = "librarian"
	RoleMember    Role = "member"
)

// MembershipStatus описывает состояние читательского билета.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipSuspended MembershipStatus = "suspended"
)

// LoanStatus описывает статус выдачи книги.
type LoanStatus string

const (
	LoanStatusActive   LoanStatus = "active"
	LoanStatusReturned LoanStatus = "returned"
)

// FineStatus описывает статус штрафа.
type FineStatus string

const (
	FineStatusOutstanding FineStatus = "outstanding"
	FineStatusPaid        FineStatus = "paid"
)

// Book описывает позицию каталога и количество экземпляров.
type Book struct {
	ID              int64
	Title           string
	Author          string
	ISBN            string
	Genre           string
	TotalCopies     int
	AvailableCopies int
	CreatedAt       time.Time
}

// CheckedOut возвращает количество выданных экземпляров.
func (b Book) CheckedOut() int {
	return b.TotalCopies - b.AvailableCopies
}

// Member представляет читателя или библиотекаря.
type Member struct {
	ID           int64
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	Role         Role
	Status       MembershipStatus
	PasswordHash []byte
	CreatedAt    time.Time
}

// FullName возвращает имя и фамилию через пробел.
func (m Member) FullName() string {
	if m.LastName == "" {
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

// IsLibrarian сообщает, обладает ли пользователь правами библиотекаря.
// Приостановленный билет снимает эти права.
func (m Member) IsLibrarian() bool {
	return m.Role == RoleLibrarian && m.Status != MembershipSuspended
}

// Loan описывает выдачу экземпляра книги читателю.
type Loan struct {
	ID           int64
	BookID       int64
	MemberID     int64
	CheckoutDate time.Time
	DueDate      time.Time
	ReturnDate   *time.Time
	Status       LoanStatus

	// Заполняются при выборках с join.
	BookTitle  string
	MemberName string
}

// IsOverdue сообщает, просрочена ли активная выдача на дату now.
// Просрочка считается так же, как при начислении штрафа.
func (l Loan) IsOverdue(now time.Time) bool {
	return l.Status == LoanStatusActive && DaysLate(l.DueDate, now) > 0
}

// Date отбрасывает время суток, сохраняя календарную дату в часовом поясе t.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysLate возвращает количество полных календарных дней от dueDate до at.
// Отрицательные значения приводятся к нулю.
func DaysLate(dueDate, at time.Time) int {
	due := Date(dueDate)
	day := Date(at)
	if !day.After(due) {
		return 0
	}
	return int(day.Sub(due).Hours() / 24)
}

// Fine описывает штраф за просроченную выдачу.
type Fine struct {
	ID         int64
	LoanID     int64
	MemberID   int64
	AmountOwed decimal.Decimal
	AmountPaid decimal.Decimal
	Status     FineStatus
	CreatedAt  time.Time
	PaidAt     *time.Time

	BookTitle  string
	MemberName string
}

// Outstanding возвращает неоплаченный остаток штрафа.
func (f Fine) Outstanding() decimal.Decimal {
	return f.AmountOwed.Sub(f.AmountPaid)
}

// Payment фиксирует успешную оплату штрафа через платёжного провайдера.
type Payment struct {
	ID             int64
	FineID         int64
	ExternalRef    string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	CreatedAt      time.Time
}

// ReturnResult описывает итог возврата книги.
type ReturnResult struct {
	Loan Loan
	Fine *Fine
}

// Debtor содержит суммарную задолженность читателя.
type Debtor struct {
	MemberID  int64
	FirstName string
	LastName  string
	Email     string
	TotalDebt decimal.Decimal
}

// LibraryStats содержит агрегаты для панели библиотекаря.
type LibraryStats struct {
	TotalTitles      int
	TotalCopies      int
	CheckedOut       int
	TotalMembers     int
	LoansDueToday    int
	OutstandingFines decimal.Decimal
}

// Available возвращает количество экземпляров на полках.
func (s LibraryStats) Available() int {
	return s.TotalCopies - s.CheckedOut
}

// FromCents переводит сумму в центах в десятичное представление.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Cents переводит десятичную сумму в центы, округляя до двух знаков.
func Cents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}
