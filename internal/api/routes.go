package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(m.Timeout(15 * time.Second))
	r.Use(middleware.Heartbeat("/ping"))

	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	// Event stream
	if h.wsHub != nil {
		r.Get("/ws", h.wsHub.ServeWS)
	}

	// v1 API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/items", h.CreateItem)

		r.Route("/listings", func(r chi.Router) {
			r.Get("/{assetID}", h.GetListing)
			r.Post("/{assetID}", h.ListItem)
			r.Delete("/{assetID}", h.CancelListing)
			r.Post("/{assetID}/buy", h.BuyItem)
		})

		r.Route("/auctions", func(r chi.Router) {
			r.Get("/{assetID}", h.GetAuction)
			r.Post("/{assetID}", h.OpenAuction)
			r.Post("/{assetID}/bids", h.MakeBid)
			r.Post("/{assetID}/finish", h.FinishAuction)
		})

		r.Get("/config", h.GetConfig)
		r.Route("/admin", func(r chi.Router) {
			r.Put("/auction-duration", h.SetAuctionDuration)
			r.Put("/min-bids", h.SetMinBids)
		})

		r.Get("/assets/{assetID}/events", h.GetAssetEvents)
	})

	return r
}
