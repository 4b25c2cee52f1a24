// Package api expõe os dados persistidos em JSON. Só lê do store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/repository"
)

const (
	defaultDays = 7
	maxDays     = 366
)

// displayZone é o fuso usado nas datas devolvidas (o mesmo do portal).
var displayZone = time.FixedZone("CST", 8*60*60)

type reader interface {
	AccountIDs(ctx context.Context) ([]string, error)
	Accounts(ctx context.Context) ([]repository.AccountRecord, error)
	Balance(ctx context.Context, accountID string) (*repository.BalanceRecord, error)
	RecentDaily(ctx context.Context, accountID string, n int) ([]repository.DailyRecord, error)
	LatestMonth(ctx context.Context, accountID string) (*repository.UsageRecord, error)
	Year(ctx context.Context, accountID string, year int) (*repository.UsageRecord, error)
}

type Handler struct {
	store  reader
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(store reader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger.With("component", "api"), now: time.Now}
}

type balanceResponse struct {
	Balance    json.Number `json:"balance"`
	UpdateTime string      `json:"updateTime"`
}

type dailyResponse struct {
	Date  string  `json:"date"`
	Usage float64 `json:"usage"`
}

type usageResponse struct {
	Date   string      `json:"date"`
	Usage  float64     `json:"usage"`
	Charge json.Number `json:"charge"`
}

type accountResponse struct {
	ID         string `json:"id"`
	Location   string `json:"location"`
	UpdateTime string `json:"updateTime"`
}

// empty é o corpo devolvido quando a conta não tem o dado; clientes
// existentes esperam 200 com objeto vazio.
var empty = struct{}{}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func stamp(t time.Time) string {
	return t.In(displayZone).Format(time.DateTime)
}

func (h *Handler) UserList(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.AccountIDs(r.Context())
	if err != nil {
		h.fail(w, "user_list", "", err)
		return
	}
	h.write(w, ids)
}

func (h *Handler) Accounts(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.Accounts(r.Context())
	if err != nil {
		h.fail(w, "accounts", "", err)
		return
	}
	out := make([]accountResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, accountResponse{ID: rec.ID, Location: rec.Location, UpdateTime: stamp(rec.UpdatedAt)})
	}
	h.write(w, out)
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userId")
	rec, err := h.store.Balance(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		h.write(w, empty)
		return
	}
	if err != nil {
		h.fail(w, "balance", id, err)
		return
	}
	h.write(w, balanceResponse{Balance: number(rec.Balance), UpdateTime: stamp(rec.UpdatedAt)})
}

func (h *Handler) Dailys(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userId")
	days := defaultDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxDays {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		days = n
	}

	recs, err := h.store.RecentDaily(r.Context(), id, days)
	if err != nil {
		h.fail(w, "dailys", id, err)
		return
	}
	out := make([]dailyResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, dailyResponse{Date: rec.Date.Format(time.DateOnly), Usage: rec.Usage})
	}
	h.write(w, out)
}

func (h *Handler) LatestMonth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userId")
	rec, err := h.store.LatestMonth(r.Context(), id)
	h.usage(w, "latest_month", id, rec, err)
}

// ThisYear devolve o agregado do ano corrente. Em janeiro o ano corrente
// ainda não foi coletado, então cai para o anterior.
func (h *Handler) ThisYear(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userId")
	now := h.now().In(displayZone)

	rec, err := h.store.Year(r.Context(), id, now.Year())
	if errors.Is(err, repository.ErrNotFound) && now.Month() == time.January {
		rec, err = h.store.Year(r.Context(), id, now.Year()-1)
	}
	h.usage(w, "this_year", id, rec, err)
}

func (h *Handler) usage(w http.ResponseWriter, op, id string, rec *repository.UsageRecord, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		h.write(w, empty)
		return
	}
	if err != nil {
		h.fail(w, op, id, err)
		return
	}
	h.write(w, usageResponse{Date: rec.Date.Format(time.DateOnly), Usage: rec.Usage, Charge: number(rec.Charge)})
}

func (h *Handler) write(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("erro serializando resposta", "err", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op, id string, err error) {
	h.logger.Error("erro lendo do store", "op", op, "account", id, "err", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
