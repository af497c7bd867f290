package httpapi

import (
	"context"
	"net/http"
	"strings"

	"example.com/aki-mvp/internal/auth"
)

type ctxKey string

const clientIDKey ctxKey = "clientID"

// AuthMiddleware пускает только презентационные клиенты с валидным
// bearer-токеном.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			token := strings.TrimPrefix(h, "Bearer ")

			claims, err := auth.Verify(secret, token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), clientIDKey, claims.ClientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClientIDFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(clientIDKey)
	s, ok := v.(string)
	return s, ok
}
