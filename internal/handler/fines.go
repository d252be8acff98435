package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookworm/internal/model"
	"github.com/mmeshcher/bookworm/internal/payment"
	"github.com/mmeshcher/bookworm/internal/repository"
	"github.com/mmeshcher/bookworm/internal/service"
)

func (h *Handler) currencyCode() string {
	return strings.ToUpper(h.service.Currency())
}

// Fees показывает неоплаченные штрафы: читателю свои, библиотекарю по номеру читателя.
func (h *Handler) Fees(w http.ResponseWriter, r *http.Request) {
	s := session(r)

	memberID := s.MemberID
	if s.IsLibrarian() {
		memberID = queryID(r, "member_id")
		if memberID == 0 {
			h.render(w, r, http.StatusOK, "fees.html", page{Title: "Fees"})
			return
		}
	}

	fees, err := h.service.OutstandingFees(r.Context(), memberID)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) && s.IsLibrarian() {
			h.render(w, r, http.StatusNotFound, "fees.html", page{Title: "Fees", Message: "Member not found."})
			return
		}
		h.fail(w, r, err, "get fees error")
		return
	}

	h.render(w, r, http.StatusOK, "fees.html", page{Title: "Fees", Data: fees})
}

func feesPath(librarian bool, memberID int64) string {
	if librarian {
		return fmt.Sprintf("/fees?member_id=%d", memberID)
	}
	return "/fees"
}

// PayPage показывает форму оплаты штрафа.
func (h *Handler) PayPage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}

	f, err := h.service.GetFine(r.Context(), id, actor(r))
	if err != nil {
		h.fail(w, r, err, "get fine error")
		return
	}
	if f.Status == model.FineStatusPaid {
		redirect(w, r, feesPath(session(r).IsLibrarian(), f.MemberID), flashInfo, "This fine has already been paid.")
		return
	}

	h.render(w, r, http.StatusOK, "pay.html", page{Title: "Pay fine", Data: f})
}

// PayFine передаёт оплату штрафа платёжному провайдеру.
func (h *Handler) PayFine(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	s := session(r)
	payPath := fmt.Sprintf("/fines/%d/pay", id)

	p, err := h.service.PayFine(r.Context(), id, r.PostFormValue("payment_method"), actor(r))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyPaid):
			redirect(w, r, "/fees", flashInfo, "This fine has already been paid.")
		case errors.Is(err, repository.ErrChargeNotRecorded):
			h.logger.Error("charged fine payment was not recorded", zap.Error(err), zap.Int64("fineID", id))
			h.renderError(w, r, http.StatusInternalServerError,
				"Your payment went through but could not be recorded. Please contact the library before trying again.")
		case errors.Is(err, payment.ErrDeclined), errors.Is(err, service.ErrPaymentMethodRequired):
			h.logger.Info("fine payment rejected", zap.Error(err), zap.Int64("fineID", id))
			msg, _ := userMessage(err)
			redirect(w, r, payPath, flashError, msg)
		default:
			h.fail(w, r, err, "pay fine error")
		}
		return
	}

	h.logger.Info("fine paid",
		zap.Int64("fineID", id),
		zap.String("ref", p.ExternalRef),
		zap.String("amount", p.Amount.StringFixed(2)),
	)

	memberID := s.MemberID
	if s.IsLibrarian() {
		if f, err := h.service.GetFine(r.Context(), id, actor(r)); err == nil {
			memberID = f.MemberID
		}
	}
	redirect(w, r, feesPath(s.IsLibrarian(), memberID), flashSuccess,
		fmt.Sprintf("Payment of %s %s received. Reference: %s.", p.Amount.StringFixed(2), h.currencyCode(), p.ExternalRef))
}

// SendReminder отправляет читателю письмо о задолженности.
func (h *Handler) SendReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	next := localPath(r.PostFormValue("next"), "/")

	total, err := h.service.SendReminder(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoOutstandingBalance):
			redirect(w, r, next, flashInfo, "This member has no outstanding fines.")
		case errors.Is(err, service.ErrDeliveryFailed):
			h.logger.Warn("reminder delivery failed", zap.Error(err), zap.Int64("memberID", id))
			msg, _ := userMessage(err)
			redirect(w, r, next, flashError, msg)
		default:
			h.fail(w, r, err, "send reminder error")
		}
		return
	}

	redirect(w, r, next, flashSuccess, fmt.Sprintf("Reminder sent for %s %s.", total.StringFixed(2), h.currencyCode()))
}
