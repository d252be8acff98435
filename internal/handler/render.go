package handler

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/bookworm/internal/middleware"
	"github.com/mmeshcher/bookworm/internal/model"
)

//go:embed templates/*.html
var templatesFS embed.FS

const (
	layoutTemplate  = "templates/layout.html"
	partialsPattern = "templates/_*.html"
	flashCookieName = "flash"
	flashCookieTTL  = time.Minute
)

// Виды flash-сообщений, они же CSS-классы.
const (
	flashSuccess = "success"
	flashInfo    = "info"
	flashWarning = "warning"
	flashError   = "error"
)

type flash struct {
	Kind    string
	Message string
}

// page общие данные всех страниц.
type page struct {
	Title    string
	Session  *middleware.Session
	Flash    *flash
	Currency string
	Today    time.Time

	// Message выводится над формой при повторном показе.
	Message string
	Errors  map[string]string
	Form    any
	Data    any
}

// loanTable данные общего шаблона таблицы выдач.
type loanTable struct {
	Loans []model.Loan
	Today time.Time
	// Next адрес возврата после приёма книги.
	Next string
}

func templateFuncs(currency string) template.FuncMap {
	return template.FuncMap{
		"loanTable": func(loans []model.Loan, today time.Time, next string) loanTable {
			return loanTable{Loans: loans, Today: today, Next: next}
		},
		"money": func(d decimal.Decimal) string {
			return d.StringFixed(2) + " " + strings.ToUpper(currency)
		},
		"date": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("2006-01-02")
		},
		"datep": func(t *time.Time) string {
			if t == nil {
				return "-"
			}
			return t.Format("2006-01-02")
		},
	}
}

func parseTemplates(currency string) (map[string]*template.Template, error) {
	pages, err := fs.Glob(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	res := make(map[string]*template.Template, len(pages))
	for _, p := range pages {
		name := path.Base(p)
		if p == layoutTemplate || strings.HasPrefix(name, "_") {
			continue
		}
		t, err := template.New(path.Base(layoutTemplate)).
			Funcs(templateFuncs(currency)).
			ParseFS(templatesFS, layoutTemplate, partialsPattern, p)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", p, err)
		}
		res[name] = t
	}
	return res, nil
}

// render выводит страницу name с кодом status. Flash-сообщение из cookie
// показывается один раз и удаляется.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, p page) {
	t, ok := h.templates[name]
	if !ok {
		h.logger.Error("template not found", zap.String("template", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if s, ok := middleware.GetSessionFromContext(r.Context()); ok {
		p.Session = &s
	}
	if p.Flash == nil {
		p.Flash = popFlash(w, r)
	}
	p.Currency = strings.ToUpper(h.service.Currency())
	p.Today = h.service.Today()

	var buf bytes.Buffer
	if err := t.Execute(&buf, p); err != nil {
		h.logger.Error("render template error", zap.Error(err), zap.String("template", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.render(w, r, status, "error.html", page{
		Title:   http.StatusText(status),
		Message: message,
		Data:    status,
	})
}

func setFlash(w http.ResponseWriter, kind, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    kind + ":" + base64.RawURLEncoding.EncodeToString([]byte(message)),
		Path:     "/",
		MaxAge:   int(flashCookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func popFlash(w http.ResponseWriter, r *http.Request) *flash {
	c, err := r.Cookie(flashCookieName)
	if err != nil {
		return nil
	}

	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	kind, encoded, ok := strings.Cut(c.Value, ":")
	if !ok {
		return nil
	}
	msg, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	switch kind {
	case flashSuccess, flashInfo, flashWarning, flashError:
		return &flash{Kind: kind, Message: string(msg)}
	default:
		return nil
	}
}

// redirect выполняет переход после POST с flash-сообщением.
func redirect(w http.ResponseWriter, r *http.Request, to, kind, message string) {
	if message != "" {
		setFlash(w, kind, message)
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// localPath возвращает next, если это путь внутри приложения, иначе fallback.
func localPath(next, fallback string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return fallback
	}
	return next
}
