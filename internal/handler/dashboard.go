package handler

import (
	"net/http"

	"github.com/mmeshcher/bookworm/internal/repository"
)

// Dashboard показывает панель библиотекаря или личный кабинет читателя.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	s := session(r)

	if s.IsLibrarian() {
		dash, err := h.service.GetLibrarianDashboard(r.Context())
		if err != nil {
			h.fail(w, r, err, "get librarian dashboard error")
			return
		}
		h.render(w, r, http.StatusOK, "dashboard_librarian.html", page{Title: "Command Center", Data: dash})
		return
	}

	dash, err := h.service.GetMemberDashboard(r.Context(), s.MemberID)
	if err != nil {
		h.fail(w, r, err, "get member dashboard error")
		return
	}
	h.render(w, r, http.StatusOK, "dashboard_member.html", page{Title: "My Account", Data: dash})
}

type searchForm struct {
	Query string
	Type  string
}

// Search ищет книги по названию или автору.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	form := searchForm{
		Query: r.URL.Query().Get("q"),
		Type:  r.URL.Query().Get("search_type"),
	}

	field := repository.SearchTitle
	if form.Type == string(repository.SearchAuthor) {
		field = repository.SearchAuthor
	} else {
		form.Type = string(repository.SearchTitle)
	}

	p := page{Title: "Search", Form: form}
	if form.Query != "" {
		books, err := h.service.SearchBooks(r.Context(), repository.BookQuery{Term: form.Query, Field: field})
		if err != nil {
			h.fail(w, r, err, "search books error")
			return
		}
		p.Data = books
	}

	h.render(w, r, http.StatusOK, "search.html", p)
}
