package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"perpetual/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Логирует панику со stack trace и возвращает клиенту 500 без деталей.
// Сервер продолжает обслуживать последующие запросы.
func Recovery(log *utils.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = utils.L()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic in http handler",
						utils.String("panic", fmt.Sprint(rec)),
						utils.String("method", r.Method),
						utils.String("path", r.URL.Path),
						utils.String("stack", string(debug.Stack())),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(authError{Error: http.StatusText(http.StatusInternalServerError), Code: "INTERNAL_ERROR"})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
