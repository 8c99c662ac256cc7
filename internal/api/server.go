package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/darshannathani/pp-sub001/internal/auth"
	"github.com/darshannathani/pp-sub001/internal/models"
)

// RouterConfig carries what NewRouter needs besides the handlers.
type RouterConfig struct {
	Auth           auth.Service
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter wires every route under /api/v1.
func NewRouter(h *Handler, authHandler *auth.Handler, cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if h.Logger == nil {
		h.Logger = cfg.Logger
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(cfg.Auth))

			r.Get("/me", h.GetMe)
			r.Get("/wallet", h.GetWallet)
			r.Get("/wallet/transactions", h.ListTransactions)

			r.With(auth.RequireKind(models.OwnerTester, models.OwnerCreator, models.OwnerAdmin)).
				Post("/withdrawals", h.CreateWithdrawal)

			r.Route("/tasks", func(r chi.Router) {
				creator := auth.RequireKind(models.OwnerCreator)
				r.With(creator).Get("/", h.ListTasks)
				r.With(creator).Post("/", h.CreateTask)
				r.Get("/{id}", h.GetTask)
				r.Get("/{id}/transactions", h.ListTaskTransactions)
				r.With(creator).Post("/{id}/fund", h.FundTask)
				r.With(creator).Post("/{id}/refund", h.RefundTask)
				r.With(auth.RequireKind(models.OwnerTester)).Post("/{id}/responses", h.SubmitResponse)
				r.With(creator).Post("/{id}/responses/{testerID}/accept", h.AcceptResponse)
				r.With(creator).Post("/{id}/responses/{testerID}/reject", h.RejectResponse)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireKind(models.OwnerAdmin))
				r.Post("/deposits", h.CreateDeposit)
				r.Post("/backfill-wallets", h.BackfillWallets)
				r.Post("/reconcile", h.Reconcile)
			})
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		AllowCredentials: true,
	}).Handler(r)
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
