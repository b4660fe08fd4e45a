package middleware

import (
	"log"
	"net/http"

	"github.com/hyunwoolee/gemini-relay/pkg/utils"
)

// Recover converts a handler panic into a structured JSON error so no
// unhandled fault reaches the caller as a bare connection reset or an
// empty body.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[recover] panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				utils.RespondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
