// requestid.go - идентификатор запроса для сквозной корреляции логов.
// Берётся из заголовка X-Request-ID или генерируется (UUID v4).
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// HeaderRequestID - заголовок с идентификатором запроса.
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLen - ограничение длины входящего идентификатора.
const maxRequestIDLen = 128

type requestIDKey struct{}

// RequestID возвращает middleware, назначающий идентификатор запроса.
// Идентификатор возвращается клиенту в X-Request-ID и доступен через RequestIDFromContext.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" || len(id) > maxRequestIDLen {
				id = uuid.NewString()
			}

			w.Header().Set(HeaderRequestID, id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext возвращает идентификатор запроса или пустую строку.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
