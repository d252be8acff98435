// Package middleware содержит HTTP middleware для сервиса Bookworm.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/bookworm/internal/model"
	"github.com/mmeshcher/bookworm/internal/repository"
)

type contextKey string

const sessionKey contextKey = "session"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 12 * time.Hour
	issuer         = "bookworm"
)

// LoginPath страница, на которую перенаправляются неаутентифицированные запросы.
const LoginPath = "/login"

// Session описывает аутентифицированного пользователя. Роль и статус берутся
// из хранилища на каждом запросе, токен подтверждает только личность.
type Session struct {
	MemberID int64
	Role     model.Role
	Status   model.MembershipStatus
	Name     string
}

// IsLibrarian сообщает, вошёл ли пользователь как действующий библиотекарь.
func (s Session) IsLibrarian() bool {
	return s.member().IsLibrarian()
}

func (s Session) member() model.Member {
	return model.Member{ID: s.MemberID, Role: s.Role, Status: s.Status}
}

func sessionFor(m model.Member) Session {
	return Session{MemberID: m.ID, Role: m.Role, Status: m.Status, Name: m.FullName()}
}

// MemberLookup загружает пользователя сессии.
type MemberLookup interface {
	GetMember(ctx context.Context, id int64) (*model.Member, error)
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// AuthMiddleware выполняет проверку аутентификации пользователя по cookie с подписанным JWT.
type AuthMiddleware struct {
	secretKey []byte
	members   MemberLookup
	now       func() time.Time
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// При пустом ключе генерируется случайный, и сессии не переживают перезапуск.
func NewAuthMiddleware(secret string, members MemberLookup) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}

	return &AuthMiddleware{
		secretKey: key,
		members:   members,
		now:       time.Now,
	}
}

// Middleware проверяет cookie авторизации, загружает пользователя и добавляет
// сессию в контекст запроса. Запросы без действующей сессии или от удалённого
// пользователя перенаправляются на страницу входа.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := a.sessionFromRequest(r)
		if !ok {
			http.Redirect(w, r, LoginPath, http.StatusSeeOther)
			return
		}

		m, err := a.members.GetMember(r.Context(), token.MemberID)
		if err != nil {
			if errors.Is(err, repository.ErrMemberNotFound) {
				a.ClearAuthCookie(w)
				http.Redirect(w, r, LoginPath, http.StatusSeeOther)
				return
			}
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sessionFor(*m))))
	})
}

// RequireRole пропускает только пользователей с указанной ролью и действующим
// билетом. Используется после Middleware.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := GetSessionFromContext(r.Context())
			if !ok {
				http.Redirect(w, r, LoginPath, http.StatusSeeOther)
				return
			}
			if s.Role != role || s.Status == model.MembershipSuspended {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetAuthCookie выпускает токен сессии для пользователя и устанавливает cookie авторизации.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, m model.Member) error {
	token, err := a.sign(m)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  a.now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearAuthCookie удаляет cookie авторизации.
func (a *AuthMiddleware) ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// CurrentSession возвращает сессию из cookie запроса без перенаправлений.
func (a *AuthMiddleware) CurrentSession(r *http.Request) (Session, bool) {
	return a.sessionFromRequest(r)
}

func (a *AuthMiddleware) sign(m model.Member) (string, error) {
	now := a.now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(m.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(authCookieTTL)),
		},
		Role: string(m.Role),
		Name: m.FullName(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

func (a *AuthMiddleware) sessionFromRequest(r *http.Request) (Session, bool) {
	cookie, err := r.Cookie(authCookieName)
	if err != nil || cookie.Value == "" {
		return Session{}, false
	}

	s, err := a.parse(cookie.Value)
	if err != nil {
		return Session{}, false
	}
	return s, true
}

func (a *AuthMiddleware) parse(token string) (Session, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Session{}, fmt.Errorf("parse session token: %w", err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Session{}, errors.New("invalid session subject")
	}

	role := model.Role(claims.Role)
	if role != model.RoleLibrarian && role != model.RoleMember {
		return Session{}, errors.New("invalid session role")
	}

	return Session{MemberID: id, Role: role, Name: claims.Name}, nil
}

// WithSession добавляет сессию в контекст.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// GetSessionFromContext извлекает сессию пользователя из контекста запроса.
func GetSessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}
