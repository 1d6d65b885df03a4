package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func SetupRoutes(rooms RoomLookup, ledger XPLookup, ws http.HandlerFunc, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws)
	r.Get("/rooms/{code}", GetRoom(rooms))
	r.Get("/players/{id}/xp", GetPlayerXP(ledger, logger))
	return r
}
