package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hyunwoolee/gemini-relay/internal/handler/api"
	middlewarePkg "github.com/hyunwoolee/gemini-relay/internal/middleware"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(apiHandler *api.Handler, allowedOrigin string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middlewarePkg.Recover)
	r.Use(middlewarePkg.CORS(allowedOrigin))

	apiHandler.RegisterRoutes(r)

	return r
}
