package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Fantasim/btcoracle/internal/api/handlers"
	"github.com/Fantasim/btcoracle/internal/api/middleware"
	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/db"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Store is everything the ops surface reads from the database.
type Store interface {
	handlers.ProviderHealthStore
	handlers.JournalStore
}

var _ Store = (*db.DB)(nil)

// NewRouter creates the read-only ops router.
func NewRouter(store Store, conn handlers.ConnectionStatus, cfg *config.Config) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogging)
	r.Use(middleware.HostCheck)
	r.Use(middleware.CORS)
	r.Use(middleware.ReadOnly)

	slog.Info("router initialized",
		"middleware", []string{"recoverer", "requestLogging", "hostCheck", "cors", "readOnly"},
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthHandler(cfg, conn, Version))
		r.Get("/health/providers", handlers.GetProviderHealth(store))

		r.Get("/payouts", handlers.ListPayouts(store))
		r.Get("/payouts/{burnId}", handlers.GetPayout(store))
		r.Get("/mints", handlers.ListMints(store))
		r.Get("/mints/{txHash}", handlers.GetMint(store))
	})

	return r
}
