package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mmeshcher/bookworm/internal/repository"
)

// ListBooks показывает каталог с поиском по названию, автору или ISBN.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	books, err := h.service.SearchBooks(r.Context(), repository.BookQuery{Term: q})
	if err != nil {
		h.fail(w, r, err, "list books error")
		return
	}

	h.render(w, r, http.StatusOK, "books.html", page{Title: "Books", Form: searchForm{Query: q}, Data: books})
}

// NewBookPage показывает форму добавления книги.
func (h *Handler) NewBookPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "book_form.html", page{Title: "Add book", Form: bookForm{TotalCopies: 1}})
}

// CreateBook добавляет книгу в каталог.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	form, errs := parseBookForm(r)
	if errs = errs.merge(h.validator.Struct(form)); errs != nil {
		h.render(w, r, http.StatusUnprocessableEntity, "book_form.html", page{Title: "Add book", Form: form, Errors: errs})
		return
	}

	id, err := h.service.CreateBook(r.Context(), form.book(0))
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			h.render(w, r, http.StatusConflict, "book_form.html", page{
				Title:  "Add book",
				Form:   form,
				Errors: formErrors{"ISBN": "a book with this ISBN already exists"},
			})
			return
		}
		h.fail(w, r, err, "create book error")
		return
	}

	redirect(w, r, fmt.Sprintf("/books/%d", id), flashSuccess, fmt.Sprintf("Added %q to the catalog.", form.Title))
}

// BookDetail показывает карточку книги с формой редактирования.
func (h *Handler) BookDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}

	detail, err := h.service.GetBookDetail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "get book error")
		return
	}

	h.render(w, r, http.StatusOK, "book_detail.html", page{
		Title: detail.Book.Title,
		Form:  bookFormFrom(*detail.Book),
		Data:  detail,
	})
}

// UpdateBook сохраняет изменения карточки книги.
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	form, errs := parseBookForm(r)
	status := http.StatusUnprocessableEntity
	if errs = errs.merge(h.validator.Struct(form)); errs == nil {
		err := h.service.UpdateBook(r.Context(), form.book(id))
		switch {
		case err == nil:
			redirect(w, r, fmt.Sprintf("/books/%d", id), flashSuccess, "Book updated.")
			return
		case errors.Is(err, repository.ErrCopiesInUse):
			errs = formErrors{"TotalCopies": "cannot be lower than the number of copies checked out"}
		case errors.Is(err, repository.ErrDuplicate):
			errs = formErrors{"ISBN": "a book with this ISBN already exists"}
			status = http.StatusConflict
		default:
			h.fail(w, r, err, "update book error")
			return
		}
	}

	detail, err := h.service.GetBookDetail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "get book error")
		return
	}
	h.render(w, r, status, "book_detail.html", page{
		Title:  detail.Book.Title,
		Form:   form,
		Errors: errs,
		Data:   detail,
	})
}
