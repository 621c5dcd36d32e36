package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ggmarket/ggmarket-backend/api/controllers"
	webhookcontrollers "github.com/ggmarket/ggmarket-backend/api/controllers/webhooks"
	"github.com/ggmarket/ggmarket-backend/api/middleware"
	checkoutsvc "github.com/ggmarket/ggmarket-backend/internal/checkout"
	"github.com/ggmarket/ggmarket-backend/internal/disputes"
	"github.com/ggmarket/ggmarket-backend/internal/inventory"
	"github.com/ggmarket/ggmarket-backend/internal/listings"
	"github.com/ggmarket/ggmarket-backend/internal/orders"
	"github.com/ggmarket/ggmarket-backend/internal/payments"
	"github.com/ggmarket/ggmarket-backend/internal/reviews"
	pixwebhook "github.com/ggmarket/ggmarket-backend/internal/webhooks/pix"
	"github.com/ggmarket/ggmarket-backend/pkg/config"
	"github.com/ggmarket/ggmarket-backend/pkg/db"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
	"github.com/ggmarket/ggmarket-backend/pkg/redis"
)

type RouterParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	DBPinger  db.Pinger
	Redis     redis.Pinger
	Checkout  checkoutsvc.Service
	Orders    orders.Service
	Payments  payments.Service
	Listings  listings.Service
	Inventory inventory.Service
	Disputes  disputes.Service
	Reviews   reviews.Service
	Webhooks  pixwebhook.Service
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DBPinger, p.Redis))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/pix", webhookcontrollers.PixWebhook(p.Webhooks, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(logg))

		r.Post("/checkout", controllers.Checkout(p.Checkout, p.Payments, logg))

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Get("/", controllers.OrderDetail(p.Orders, logg))
			r.Get("/history", controllers.OrderHistory(p.Orders, logg))
			r.Post("/cancel", controllers.CancelOrder(p.Orders, logg))
			r.Post("/deliver", controllers.DeliverOrder(p.Checkout, logg))
			r.Post("/confirm", controllers.ConfirmReceipt(p.Checkout, logg))
			r.Post("/dispute", controllers.OpenDispute(p.Disputes, logg))
			r.Post("/review", controllers.CreateReview(p.Reviews, logg))
		})

		r.Route("/disputes/{disputeId}", func(r chi.Router) {
			r.Post("/resolve", controllers.ResolveDispute(p.Disputes, logg))
			r.Post("/evidence", controllers.AddDisputeEvidence(p.Disputes, logg))
			r.Get("/evidence", controllers.ListDisputeEvidence(p.Disputes, logg))
		})

		r.Route("/listings", func(r chi.Router) {
			r.Post("/", controllers.CreateListing(p.Listings, logg))
			r.Route("/{listingId}", func(r chi.Router) {
				r.Post("/publish", controllers.PublishListing(p.Listings, logg))
				r.Post("/inventory", controllers.AddInventory(p.Listings, p.Inventory, logg))
				r.Get("/inventory/count", controllers.InventoryCount(p.Inventory, logg))
			})
		})

		r.Get("/sellers/{sellerId}/rating", controllers.SellerRating(p.Reviews, logg))
	})

	return r
}
