package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pribylovaa/recycle-communities/internal/models"
)

// Заголовки, которыми вышестоящий шлюз передаёт уже аутентифицированного пользователя.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserName  = "X-User-Name"
	HeaderUserPhoto = "X-User-Photo"
)

type identityKey struct{}

// Identity переносит пользователя из заголовков X-User-* в контекст.
// Запросы без X-User-Id проходят дальше: хендлеры сами решают, нужна ли личность.
func Identity() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := models.Identity{
				UserID:      strings.TrimSpace(r.Header.Get(HeaderUserID)),
				DisplayName: strings.TrimSpace(r.Header.Get(HeaderUserName)),
				PhotoURL:    strings.TrimSpace(r.Header.Get(HeaderUserPhoto)),
			}

			if id.Valid() {
				r = r.WithContext(context.WithValue(r.Context(), identityKey{}, id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFrom достаёт пользователя из контекста; ok=false - анонимный запрос.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok
}
