package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/bookworm/internal/model"
	"github.com/mmeshcher/bookworm/internal/repository"
)

type memberStore map[int64]model.Member

func (s memberStore) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	m, ok := s[id]
	if !ok {
		return nil, repository.ErrMemberNotFound
	}
	return &m, nil
}

type failingStore struct{}

func (failingStore) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	return nil, errors.New("connection refused")
}

var ann = model.Member{ID: 42, FirstName: "Ann", LastName: "Lee", Role: model.RoleLibrarian, Status: model.MembershipActive}

func issueCookie(t *testing.T, m *AuthMiddleware, member model.Member) *http.Cookie {
	t.Helper()

	w := httptest.NewRecorder()
	require.NoError(t, m.SetAuthCookie(w, member))

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies, "no cookies set by SetAuthCookie")
	return cookies[0]
}

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret", memberStore{42: ann})

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		s, ok := GetSessionFromContext(r.Context())
		if !ok {
			t.Fatalf("session not in context")
		}
		if s.MemberID != 42 {
			t.Fatalf("member id from context = %d, want 42", s.MemberID)
		}
		assert.Equal(t, model.RoleLibrarian, s.Role)
		assert.Equal(t, "Ann Lee", s.Name)
		assert.True(t, s.IsLibrarian())
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(issueCookie(t, m, ann))

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret", memberStore{})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.Middleware(next).ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusSeeOther)
	}
	assert.Equal(t, LoginPath, res.Header.Get("Location"))
}

func TestAuthMiddleware_RejectsForeignAndExpiredTokens(t *testing.T) {
	member := model.Member{ID: 7, Role: model.RoleMember}

	t.Run("other secret", func(t *testing.T) {
		cookie := issueCookie(t, NewAuthMiddleware("other-secret", memberStore{}), member)

		_, ok := NewAuthMiddleware("test-secret", memberStore{}).CurrentSession(requestWith(cookie))
		assert.False(t, ok)
	})

	t.Run("expired", func(t *testing.T) {
		m := NewAuthMiddleware("test-secret", memberStore{})
		m.now = func() time.Time { return time.Now().Add(-24 * time.Hour) }
		cookie := issueCookie(t, m, member)

		m.now = time.Now
		_, ok := m.CurrentSession(requestWith(cookie))
		assert.False(t, ok)
	})

	t.Run("tampered", func(t *testing.T) {
		m := NewAuthMiddleware("test-secret", memberStore{})
		cookie := issueCookie(t, m, member)
		cookie.Value += "x"

		_, ok := m.CurrentSession(requestWith(cookie))
		assert.False(t, ok)
	})
}

func TestAuthMiddleware_RoleComesFromStore(t *testing.T) {
	store := memberStore{42: ann}
	m := NewAuthMiddleware("test-secret", store)
	cookie := issueCookie(t, m, ann)

	demoted := ann
	demoted.Role = model.RoleMember
	store[42] = demoted

	h := m.Middleware(RequireRole(model.RoleLibrarian)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("demoted member reached a librarian handler")
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestWith(cookie))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthMiddleware_DeletedMemberIsSignedOut(t *testing.T) {
	m := NewAuthMiddleware("test-secret", memberStore{})
	cookie := issueCookie(t, m, ann)

	w := httptest.NewRecorder()
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})).ServeHTTP(w, requestWith(cookie))

	res := w.Result()
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, LoginPath, res.Header.Get("Location"))
	require.Len(t, res.Cookies(), 1)
	assert.Equal(t, authCookieName, res.Cookies()[0].Name)
	assert.Less(t, res.Cookies()[0].MaxAge, 0)
}

func TestAuthMiddleware_StoreUnavailable(t *testing.T) {
	m := NewAuthMiddleware("test-secret", failingStore{})

	w := httptest.NewRecorder()
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})).ServeHTTP(w, requestWith(issueCookie(t, m, ann)))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func requestWith(c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(c)
	return r
}

func TestRequireRole(t *testing.T) {
	guard := RequireRole(model.RoleLibrarian)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name    string
		session *Session
		want    int
	}{
		{name: "librarian", session: &Session{MemberID: 1, Role: model.RoleLibrarian}, want: http.StatusNoContent},
		{name: "member", session: &Session{MemberID: 2, Role: model.RoleMember}, want: http.StatusForbidden},
		{name: "suspended librarian", session: &Session{MemberID: 3, Role: model.RoleLibrarian, Status: model.MembershipSuspended}, want: http.StatusForbidden},
		{name: "anonymous", want: http.StatusSeeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/books", nil)
			if tt.session != nil {
				r = r.WithContext(WithSession(r.Context(), *tt.session))
			}
			w := httptest.NewRecorder()

			guard(ok).ServeHTTP(w, r)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestClearAuthCookie(t *testing.T) {
	w := httptest.NewRecorder()
	NewAuthMiddleware("test-secret", memberStore{}).ClearAuthCookie(w)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, authCookieName, cookies[0].Name)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/teapot", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/teapot", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.EqualValues(t, len("short and stout"), fields["bytes"])
}
