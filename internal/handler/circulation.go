package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookworm/internal/model"
)

// CheckoutPage показывает форму выдачи книги.
func (h *Handler) CheckoutPage(w http.ResponseWriter, r *http.Request) {
	form := checkoutForm{
		BookID:    queryID(r, "book_id"),
		MemberID:  queryID(r, "member_id"),
		DueInDays: h.service.LoanPeriodDays(),
	}
	h.render(w, r, http.StatusOK, "checkout.html", page{Title: "Check out", Form: form})
}

// CheckOut выдаёт книгу читателю.
func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	errs := formErrors{}
	form := checkoutForm{
		BookID:    errs.id(r, "book_id", "BookID"),
		MemberID:  errs.id(r, "member_id", "MemberID"),
		DueInDays: h.service.LoanPeriodDays(),
	}
	if v := r.PostFormValue("due_in_days"); v != "" {
		form.DueInDays = errs.int(r, "due_in_days", "DueInDays")
	}
	if errs = errs.merge(h.validator.Struct(form)); errs != nil {
		h.render(w, r, http.StatusUnprocessableEntity, "checkout.html", page{Title: "Check out", Form: form, Errors: errs})
		return
	}

	loan, err := h.service.CheckOut(r.Context(), form.BookID, form.MemberID, form.DueInDays)
	if err != nil {
		if msg, ok := userMessage(err); ok {
			h.logger.Info("checkout rejected", zap.Error(err), zap.Int64("bookID", form.BookID), zap.Int64("memberID", form.MemberID))
			h.render(w, r, http.StatusConflict, "checkout.html", page{Title: "Check out", Form: form, Message: msg})
			return
		}
		h.fail(w, r, err, "checkout error")
		return
	}

	redirect(w, r, fmt.Sprintf("/members/%d", loan.MemberID), flashSuccess,
		fmt.Sprintf("Checked out %q to %s, due %s.", loan.BookTitle, loan.MemberName, loan.DueDate.Format("2006-01-02")))
}

type returnPage struct {
	MemberID int64
	Loans    []model.Loan
}

// ReturnPage показывает активные выдачи для приёма книг.
func (h *Handler) ReturnPage(w http.ResponseWriter, r *http.Request) {
	memberID := queryID(r, "member_id")

	loans, err := h.service.ActiveLoans(r.Context(), memberID)
	if err != nil {
		h.fail(w, r, err, "list active loans error")
		return
	}

	h.render(w, r, http.StatusOK, "return.html", page{
		Title: "Return",
		Data:  returnPage{MemberID: memberID, Loans: loans},
	})
}

// ReturnForm принимает книгу по номеру выдачи из формы.
func (h *Handler) ReturnForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := strconv.ParseInt(r.PostFormValue("loan_id"), 10, 64)
	if err != nil || id <= 0 {
		redirect(w, r, "/return", flashError, "Enter a valid loan number.")
		return
	}
	h.returnLoan(w, r, id)
}

// ReturnLoan принимает книгу по выдаче из URL.
func (h *Handler) ReturnLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	h.returnLoan(w, r, id)
}

func (h *Handler) returnLoan(w http.ResponseWriter, r *http.Request, loanID int64) {
	next := localPath(r.PostFormValue("next"), "/return")

	res, err := h.service.Return(r.Context(), loanID)
	if err != nil {
		if msg, ok := userMessage(err); ok {
			redirect(w, r, next, flashError, msg)
			return
		}
		h.fail(w, r, err, "return loan error")
		return
	}

	if res.Fine != nil {
		redirect(w, r, next, flashWarning, fmt.Sprintf("Returned %q late. A fine of %s %s was assessed to %s.",
			res.Loan.BookTitle, res.Fine.AmountOwed.StringFixed(2), h.currencyCode(), res.Loan.MemberName))
		return
	}
	redirect(w, r, next, flashSuccess, fmt.Sprintf("Returned %q.", res.Loan.BookTitle))
}
