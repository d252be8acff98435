package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mmeshcher/bookworm/internal/model"
	"github.com/mmeshcher/bookworm/internal/validation"
)

// formErrors собирает ошибки разбора чисел и валидации по именам полей.
type formErrors map[string]string

func (e formErrors) int(r *http.Request, key, field string) int {
	v := strings.TrimSpace(r.PostFormValue(key))
	n, err := strconv.Atoi(v)
	if err != nil {
		e[field] = "must be a whole number"
		return 0
	}
	return n
}

func (e formErrors) id(r *http.Request, key, field string) int64 {
	v := strings.TrimSpace(r.PostFormValue(key))
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e[field] = "must be a valid id"
		return 0
	}
	return n
}

// merge добавляет ошибки валидатора, не затирая ошибки разбора.
func (e formErrors) merge(err error) formErrors {
	for k, v := range validation.Messages(err) {
		if _, ok := e[k]; !ok {
			e[k] = v
		}
	}
	if len(e) == 0 {
		return nil
	}
	return e
}

type bookForm struct {
	Title       string `validate:"required,max=255"`
	Author      string `validate:"required,max=255"`
	ISBN        string `validate:"required,isbn"`
	Genre       string `validate:"max=100"`
	TotalCopies int    `validate:"min=1,max=1000"`
}

func parseBookForm(r *http.Request) (bookForm, formErrors) {
	errs := formErrors{}
	f := bookForm{
		Title:  strings.TrimSpace(r.PostFormValue("title")),
		Author: strings.TrimSpace(r.PostFormValue("author")),
		ISBN:   strings.TrimSpace(r.PostFormValue("isbn")),
		Genre:  strings.TrimSpace(r.PostFormValue("genre")),
	}
	f.TotalCopies = errs.int(r, "total_copies", "TotalCopies")
	return f, errs
}

func (f bookForm) book(id int64) *model.Book {
	return &model.Book{
		ID:          id,
		Title:       f.Title,
		Author:      f.Author,
		ISBN:        f.ISBN,
		Genre:       f.Genre,
		TotalCopies: f.TotalCopies,
	}
}

func bookFormFrom(b model.Book) bookForm {
	return bookForm{Title: b.Title, Author: b.Author, ISBN: b.ISBN, Genre: b.Genre, TotalCopies: b.TotalCopies}
}

type memberForm struct {
	FirstName string `validate:"required,max=100"`
	LastName  string `validate:"required,max=100"`
	Email     string `validate:"required,email,max=254"`
	Phone     string `validate:"max=30"`
	Role      string `validate:"oneof=librarian member"`
	Status    string `validate:"oneof=active suspended"`
}

type newMemberForm struct {
	memberForm
	Password string `validate:"required,min=8"`
}

func parseMemberForm(r *http.Request) memberForm {
	f := memberForm{
		FirstName: strings.TrimSpace(r.PostFormValue("first_name")),
		LastName:  strings.TrimSpace(r.PostFormValue("last_name")),
		Email:     strings.TrimSpace(r.PostFormValue("email")),
		Phone:     strings.TrimSpace(r.PostFormValue("phone")),
		Role:      r.PostFormValue("role"),
		Status:    r.PostFormValue("status"),
	}
	if f.Role == "" {
		f.Role = string(model.RoleMember)
	}
	if f.Status == "" {
		f.Status = string(model.MembershipActive)
	}
	return f
}

func (f memberForm) member(id int64) *model.Member {
	return &model.Member{
		ID:        id,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Email:     f.Email,
		Phone:     f.Phone,
		Role:      model.Role(f.Role),
		Status:    model.MembershipStatus(f.Status),
	}
}

func memberFormFrom(m model.Member) memberForm {
	return memberForm{
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Email:     m.Email,
		Phone:     m.Phone,
		Role:      string(m.Role),
		Status:    string(m.Status),
	}
}

type checkoutForm struct {
	BookID    int64 `validate:"gt=0"`
	MemberID  int64 `validate:"gt=0"`
	DueInDays int   `validate:"min=1,max=365"`
}
