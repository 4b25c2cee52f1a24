package publish

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
)

func TestAccountDocSkipsMissingFields(t *testing.T) {
	at := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	acc := model.NewAccount("1001")
	acc.Fail("balance", model.KindTransient, errors.New("timeout"))

	doc := accountDoc("run-1", acc, at)
	require.Equal(t, "1001", doc["account_id"])
	require.Equal(t, "2024-05-01T07:00:00Z", doc["updated_at"])
	require.NotContains(t, doc, "balance")
	require.NotContains(t, doc, "in_arrears")
	require.NotContains(t, doc, "location")
}

func TestAccountDocFull(t *testing.T) {
	bal := decimal.RequireFromString("-12.5")
	acc := model.NewAccount("1001")
	acc.Location = "Rua A"
	acc.Balance = &bal
	acc.LastDaily = &model.DailyUsage{Date: time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC), Usage: 7.2}
	acc.Yearly = &model.YearlyUsage{Year: 2024, Usage: 900, Charge: decimal.RequireFromString("450.5")}

	doc := accountDoc("run-1", acc, time.Now())
	require.Equal(t, -12.5, doc["balance"])
	require.Equal(t, true, doc["in_arrears"])
	require.Equal(t, "2024-05-09", doc["last_daily_date"])
	require.Equal(t, 2024, doc["year"])
	require.Equal(t, 450.5, doc["year_charge"])
}
