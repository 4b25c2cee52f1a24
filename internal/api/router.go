package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HealthFunc informa o último ciclo bem-sucedido.
type HealthFunc func(ctx context.Context) (time.Time, bool, error)

// Router monta as rotas de leitura. metricsHandler e health são opcionais.
func Router(h *Handler, health HealthFunc, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))

	r.Route("/v1/electricity", func(r chi.Router) {
		r.Get("/user_list", h.UserList)
		r.Get("/accounts", h.Accounts)
		r.Get("/balance/{userId}", h.Balance)
		r.Get("/dailys/{userId}", h.Dailys)
		r.Get("/latest_month/{userId}", h.LatestMonth)
		r.Get("/this_year/{userId}", h.ThisYear)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if health != nil {
			at, ok, err := health(r.Context())
			switch {
			case err != nil:
				h.logger.Warn("erro lendo último ciclo", "err", err)
			case ok:
				resp["last_success"] = stamp(at)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
				"duration", time.Since(start), "request_id", middleware.GetReqID(r.Context()))
		})
	}
}
