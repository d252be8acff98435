// Package handler содержит HTTP-обработчики веб-интерфейса библиотеки Bookworm.
package handler

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/bookworm/internal/middleware"
	"github.com/mmeshcher/bookworm/internal/model"
	"github.com/mmeshcher/bookworm/internal/payment"
	"github.com/mmeshcher/bookworm/internal/repository"
	"github.com/mmeshcher/bookworm/internal/service"
	"github.com/mmeshcher/bookworm/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	Currency() string
	LoanPeriodDays() int
	Today() time.Time

	Authenticate(ctx context.Context, email, password string) (*model.Member, error)

	GetLibrarianDashboard(ctx context.Context) (*service.LibrarianDashboard, error)
	GetMemberDashboard(ctx context.Context, memberID int64) (*service.MemberDashboard, error)

	SearchBooks(ctx context.Context, q repository.BookQuery) ([]model.Book, error)
	GetBookDetail(ctx context.Context, id int64) (*service.BookDetail, error)
	CreateBook(ctx context.Context, b *model.Book) (int64, error)
	UpdateBook(ctx context.Context, b *model.Book) error

	SearchMembers(ctx context.Context, query string) ([]model.Member, error)
	GetMemberDetail(ctx context.Context, id int64) (*service.MemberDetail, error)
	RegisterMember(ctx context.Context, m *model.Member, password string) (int64, error)
	UpdateMember(ctx context.Context, m *model.Member) error

	CheckOut(ctx context.Context, bookID, memberID int64, dueInDays int) (*model.Loan, error)
	Return(ctx context.Context, loanID int64) (*model.ReturnResult, error)
	ActiveLoans(ctx context.Context, memberID int64) ([]model.Loan, error)

	OutstandingFees(ctx context.Context, memberID int64) (*service.FeeSummary, error)
	GetFine(ctx context.Context, fineID int64, actor model.Member) (*model.Fine, error)
	PayFine(ctx context.Context, fineID int64, paymentMethod string, actor model.Member) (*model.Payment, error)
	SendReminder(ctx context.Context, memberID int64) (decimal.Decimal, error)
}

// Handler реализует HTTP-обработчики веб-интерфейса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	validator      *validation.Validator
	templates      map[string]*template.Template
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) (*Handler, error) {
	templates, err := parseTemplates(s.Currency())
	if err != nil {
		return nil, err
	}

	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		validator:      validation.New(),
		templates:      templates,
	}, nil
}

// Healthz проверяет доступность базы данных.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func session(r *http.Request) middleware.Session {
	s, _ := middleware.GetSessionFromContext(r.Context())
	return s
}

func actor(r *http.Request) model.Member {
	s := session(r)
	return model.Member{ID: s.MemberID, Role: s.Role, Status: s.Status}
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryID(r *http.Request, name string) int64 {
	id, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// userMessage переводит ожидаемые доменные ошибки в текст для пользователя.
func userMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, repository.ErrNotAvailable):
		return "No copies of this book are available.", true
	case errors.Is(err, repository.ErrMemberSuspended):
		return "This membership is suspended.", true
	case errors.Is(err, repository.ErrBookNotFound):
		return "Book not found.", true
	case errors.Is(err, repository.ErrMemberNotFound):
		return "Member not found.", true
	case errors.Is(err, repository.ErrLoanNotFound):
		return "No active loan found.", true
	case errors.Is(err, repository.ErrFineNotFound):
		return "Fine not found.", true
	case errors.Is(err, repository.ErrAlreadyPaid):
		return "This fine has already been paid.", true
	case errors.Is(err, repository.ErrCopiesInUse):
		return "Total copies cannot be lower than the number of copies checked out.", true
	case errors.Is(err, repository.ErrDuplicate):
		return "A record with the same unique value already exists.", true
	case errors.Is(err, service.ErrInvalidLoanPeriod):
		return "Loan period must be at least one day.", true
	case errors.Is(err, service.ErrPaymentMethodRequired):
		return "Please provide a payment method.", true
	case errors.Is(err, service.ErrNoOutstandingBalance):
		return "This member has no outstanding fines.", true
	case errors.Is(err, service.ErrDeliveryFailed):
		return "The reminder email could not be sent. Please try again later.", true
	case errors.Is(err, payment.ErrDeclined):
		return fmt.Sprintf("Your payment was declined. %s", declineReason(err)), true
	default:
		return "", false
	}
}

func declineReason(err error) string {
	if reason, ok := strings.CutPrefix(err.Error(), payment.ErrDeclined.Error()+": "); ok && reason != "" {
		return reason
	}
	return "Please try another payment method."
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrBookNotFound) ||
		errors.Is(err, repository.ErrMemberNotFound) ||
		errors.Is(err, repository.ErrLoanNotFound) ||
		errors.Is(err, repository.ErrFineNotFound)
}

func isUnavailable(err error) bool {
	return errors.Is(err, payment.ErrUnavailable) ||
		errors.Is(err, payment.ErrNotConfigured) ||
		errors.Is(err, context.DeadlineExceeded)
}

// fail отображает страницу ошибки для неожиданных или фатальных для запроса ошибок.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		h.renderError(w, r, http.StatusForbidden, "You do not have access to this page.")
	case isNotFound(err):
		m, _ := userMessage(err)
		h.renderError(w, r, http.StatusNotFound, m)
	case isUnavailable(err):
		h.logger.Warn(msg, zap.Error(err))
		h.renderError(w, r, http.StatusServiceUnavailable, "The service is temporarily unavailable. Please try again later.")
	case errors.Is(err, context.Canceled):
		// Клиент ушёл, отвечать некому.
	default:
		h.logger.Error(msg, zap.Error(err), zap.String("path", r.URL.Path))
		h.renderError(w, r, http.StatusInternalServerError, "Something went wrong.")
	}
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.renderError(w, r, http.StatusNotFound, "Page not found.")
}
