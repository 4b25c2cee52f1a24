// Package repository persiste os dados coletados e atende as leituras da API.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
)

var ErrNotFound = errors.New("registro não encontrado")

type BalanceRecord struct {
	AccountID string
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

type DailyRecord struct {
	Date  time.Time
	Usage float64
}

// UsageRecord serve para mês e ano; Date é o primeiro dia do período.
type UsageRecord struct {
	Date   time.Time
	Usage  float64
	Charge decimal.Decimal
}

type AccountRecord struct {
	ID        string
	Location  string
	UpdatedAt time.Time
}

// Store é a camada de persistência. Cada upsert sobrescreve o valor e
// atualiza update_time; as leituras devolvem ErrNotFound quando não há linha.
type Store interface {
	UpsertBalance(ctx context.Context, accountID string, balance decimal.Decimal) error
	UpsertLocation(ctx context.Context, accountID, location string) error
	UpsertDaily(ctx context.Context, accountID string, d model.DailyUsage) error
	UpsertDailyBatch(ctx context.Context, accountID string, ds []model.DailyUsage) error
	UpsertMonth(ctx context.Context, accountID string, m model.MonthlyUsage) error
	UpsertYear(ctx context.Context, accountID string, y model.YearlyUsage) error

	AccountIDs(ctx context.Context) ([]string, error)
	Accounts(ctx context.Context) ([]AccountRecord, error)
	Balance(ctx context.Context, accountID string) (*BalanceRecord, error)
	RecentDaily(ctx context.Context, accountID string, n int) ([]DailyRecord, error)
	LatestMonth(ctx context.Context, accountID string) (*UsageRecord, error)
	Year(ctx context.Context, accountID string, year int) (*UsageRecord, error)

	Close() error
}

// SaveAccount grava cada fato presente na conta, uma chamada por fato.
// Campos ausentes (falharam na extração) são pulados; erros de escrita são
// acumulados para que um fato ruim não impeça os outros.
func SaveAccount(ctx context.Context, s Store, acc *model.Account) error {
	var errs []error
	wrap := func(op string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", op, acc.ID, err))
		}
	}

	if acc.Location != "" {
		wrap("location", s.UpsertLocation(ctx, acc.ID, acc.Location))
	}
	if acc.Balance != nil {
		wrap("balance", s.UpsertBalance(ctx, acc.ID, *acc.Balance))
	}
	if acc.LastDaily != nil {
		wrap("last_daily", s.UpsertDaily(ctx, acc.ID, *acc.LastDaily))
	}
	if len(acc.Daily) > 0 {
		wrap("daily", s.UpsertDailyBatch(ctx, acc.ID, acc.Daily))
	}
	for _, m := range acc.Monthly {
		wrap("monthly", s.UpsertMonth(ctx, acc.ID, m))
	}
	if acc.Yearly != nil {
		wrap("yearly", s.UpsertYear(ctx, acc.ID, *acc.Yearly))
	}
	return errors.Join(errs...)
}

func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

func monthKey(t time.Time) string {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Format(time.DateOnly)
}

func yearKey(year int) string {
	return fmt.Sprintf("%04d-01-01", year)
}
