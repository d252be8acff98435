package handler

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookworm/internal/service"
	"github.com/mmeshcher/bookworm/internal/validation"
)

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// LoginPage показывает форму входа.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authMiddleware.CurrentSession(r); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "login.html", page{Title: "Sign in", Form: loginForm{}})
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	if err := h.validator.Struct(form); err != nil {
		form.Password = ""
		h.render(w, r, http.StatusUnprocessableEntity, "login.html", page{
			Title:  "Sign in",
			Form:   form,
			Errors: validation.Messages(err),
		})
		return
	}

	m, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			form.Password = ""
			h.render(w, r, http.StatusUnauthorized, "login.html", page{
				Title:   "Sign in",
				Form:    form,
				Message: "Invalid email or password.",
			})
			return
		}
		h.fail(w, r, err, "login user error")
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, *m); err != nil {
		h.logger.Error("set auth cookie error", zap.Error(err), zap.Int64("memberID", m.ID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	redirect(w, r, "/", flashSuccess, "Welcome back, "+m.FirstName+".")
}

// Logout завершает сессию.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	redirect(w, r, "/login", flashInfo, "You have been signed out.")
}
