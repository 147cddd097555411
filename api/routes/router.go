package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/codevault-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/codevault-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/codevault-backend/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/codevault-backend/api/controllers/webhooks"
	"github.com/angelmondragon/codevault-backend/api/middleware"
	"github.com/angelmondragon/codevault-backend/internal/inventory"
	"github.com/angelmondragon/codevault-backend/internal/ledger"
	"github.com/angelmondragon/codevault-backend/internal/orders"
	"github.com/angelmondragon/codevault-backend/internal/payments"
	"github.com/angelmondragon/codevault-backend/internal/reconciliation"
	"github.com/angelmondragon/codevault-backend/pkg/config"
	"github.com/angelmondragon/codevault-backend/pkg/db"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	idempotencyStore redis.IdempotencyStore,
	gatherer prometheus.Gatherer,
	ordersSvc orders.Service,
	paymentsSvc payments.Service,
	ledgerSvc ledger.Service,
	inventorySvc inventory.Service,
	reconciler *reconciliation.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/nowpayments", webhookcontrollers.NowPaymentsWebhook(reconciler, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Checkout(ordersSvc, logg))
			r.Get("/", ordercontrollers.List(ordersSvc, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(ordersSvc, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/invoices", paymentcontrollers.CreateInvoice(paymentsSvc, logg))
			r.Get("/currencies", paymentcontrollers.Currencies(paymentsSvc, logg))
			r.Get("/minimum-amount", paymentcontrollers.MinimumAmount(paymentsSvc, logg))
			r.Get("/balance", paymentcontrollers.Balance(ledgerSvc, logg))
			r.Get("/ledger", paymentcontrollers.History(ledgerSvc, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.UserRoleAdmin, logg))
			r.Post("/orders/{orderId}/allocate", controllers.AdminAllocateOrder(ordersSvc, logg))
			r.Post("/orders/{orderId}/refund", controllers.AdminRefundOrder(ordersSvc, logg))
			r.Post("/products/{productId}/credentials", controllers.AdminImportCredentials(inventorySvc, logg))
			r.Post("/ledger/{entryId}/reconcile", controllers.AdminReconcileEntry(ledgerSvc, paymentsSvc, reconciler, logg))
		})
	})

	return r
}
