package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/pribylovaa/recycle-communities/internal/pkg/log"
	apierrors "github.com/pribylovaa/recycle-communities/internal/transport/http/errors"
)

// errPanic отображается в 500/internal: содержимое паники клиенту не уходит.
var errPanic = errors.New("handler panicked")

// Recover превращает panic обработчика в 500 с телом ошибки и стеком в логе.
// http.ErrAbortHandler пробрасывается дальше: им net/http обрывает ответ намеренно.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				log.From(r.Context()).Error("handler_panic",
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", RequestIDFrom(r.Context()),
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				apierrors.WriteError(w, r, errPanic)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
