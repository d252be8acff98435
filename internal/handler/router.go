package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/bookworm/internal/middleware"
	"github.com/mmeshcher/bookworm/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware веб-интерфейса.
func (h *Handler) SetupRouter(requestTimeout time.Duration) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5, "text/html", "text/plain"))
	if requestTimeout > 0 {
		r.Use(chimiddleware.Timeout(requestTimeout))
	}

	r.Get("/healthz", h.Healthz)
	r.Get("/login", h.LoginPage)
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/", h.Dashboard)
		r.Get("/search", h.Search)
		r.Get("/fees", h.Fees)
		r.Get("/fines/{id}/pay", h.PayPage)
		r.Post("/fines/{id}/pay", h.PayFine)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RequireRole(model.RoleLibrarian))

			r.Route("/books", func(r chi.Router) {
				r.Get("/", h.ListBooks)
				r.Get("/new", h.NewBookPage)
				r.Post("/new", h.CreateBook)
				r.Get("/{id}", h.BookDetail)
				r.Post("/{id}", h.UpdateBook)
			})

			r.Route("/members", func(r chi.Router) {
				r.Get("/", h.ListMembers)
				r.Get("/new", h.NewMemberPage)
				r.Post("/new", h.CreateMember)
				r.Get("/{id}", h.MemberDetail)
				r.Post("/{id}", h.UpdateMember)
				r.Post("/{id}/remind", h.SendReminder)
			})

			r.Get("/checkout", h.CheckoutPage)
			r.Post("/checkout", h.CheckOut)
			r.Get("/return", h.ReturnPage)
			r.Post("/return", h.ReturnForm)
			r.Post("/loans/{id}/return", h.ReturnLoan)
		})
	})

	r.NotFound(h.notFound)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
