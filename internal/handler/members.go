package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mmeshcher/bookworm/internal/model"
	"github.com/mmeshcher/bookworm/internal/repository"
)

// ListMembers показывает читателей с поиском по имени, email или номеру.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	members, err := h.service.SearchMembers(r.Context(), q)
	if err != nil {
		h.fail(w, r, err, "list members error")
		return
	}

	h.render(w, r, http.StatusOK, "members.html", page{Title: "Members", Form: searchForm{Query: q}, Data: members})
}

// NewMemberPage показывает форму регистрации читателя.
func (h *Handler) NewMemberPage(w http.ResponseWriter, r *http.Request) {
	form := newMemberForm{memberForm: memberForm{Role: string(model.RoleMember), Status: string(model.MembershipActive)}}
	h.render(w, r, http.StatusOK, "member_form.html", page{Title: "Register member", Form: form})
}

// CreateMember регистрирует читателя с начальным паролем.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	form := newMemberForm{memberForm: parseMemberForm(r), Password: r.PostFormValue("password")}
	if errs := (formErrors{}).merge(h.validator.Struct(form)); errs != nil {
		form.Password = ""
		h.render(w, r, http.StatusUnprocessableEntity, "member_form.html", page{Title: "Register member", Form: form, Errors: errs})
		return
	}

	id, err := h.service.RegisterMember(r.Context(), form.member(0), form.Password)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			form.Password = ""
			h.render(w, r, http.StatusConflict, "member_form.html", page{
				Title:  "Register member",
				Form:   form,
				Errors: formErrors{"Email": "a member with this email already exists"},
			})
			return
		}
		h.fail(w, r, err, "register member error")
		return
	}

	redirect(w, r, fmt.Sprintf("/members/%d", id), flashSuccess, fmt.Sprintf("Registered %s %s.", form.FirstName, form.LastName))
}

// MemberDetail показывает карточку читателя: выдачи, историю и штрафы.
func (h *Handler) MemberDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}

	detail, err := h.service.GetMemberDetail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "get member error")
		return
	}

	h.render(w, r, http.StatusOK, "member_detail.html", page{
		Title: detail.Member.FullName(),
		Form:  memberFormFrom(*detail.Member),
		Data:  detail,
	})
}

// UpdateMember сохраняет контактные данные, роль и статус читателя.
func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	form := parseMemberForm(r)
	status := http.StatusUnprocessableEntity
	errs := (formErrors{}).merge(h.validator.Struct(form))
	if errs == nil {
		err := h.service.UpdateMember(r.Context(), form.member(id))
		switch {
		case err == nil:
			redirect(w, r, fmt.Sprintf("/members/%d", id), flashSuccess, "Member updated.")
			return
		case errors.Is(err, repository.ErrDuplicate):
			errs = formErrors{"Email": "a member with this email already exists"}
			status = http.StatusConflict
		default:
			h.fail(w, r, err, "update member error")
			return
		}
	}

	detail, err := h.service.GetMemberDetail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "get member error")
		return
	}
	h.render(w, r, status, "member_detail.html", page{
		Title:  detail.Member.FullName(),
		Form:   form,
		Errors: errs,
		Data:   detail,
	})
}
