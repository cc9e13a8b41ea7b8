package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/iudanet/gophsync/pkg/api"
)

// RecoveryMiddleware перехватывает panic обработчика, логирует стек вызовов
// и возвращает 500 с JSON телом api.ErrorResponse.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered",
						"error", err,
						"method", r.Method,
						"path", r.URL.Path,
						"peer", r.Header.Get(DeviceHeader),
						"stack", string(debug.Stack()),
					)

					// детали паники пиру не раскрываем
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "internal error"})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
