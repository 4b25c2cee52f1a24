package commands

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/captcha"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/config"
)

func TestCells(t *testing.T) {
	acc := model.NewAccount("1001")
	require.Equal(t, "-", balanceCell(acc))
	require.Equal(t, "-", lastDailyCell(acc))
	require.Equal(t, "-", yearCell(acc))
	require.Empty(t, failuresCell(acc))

	bal := decimal.RequireFromString("-123.45")
	acc.Balance = &bal
	acc.LastDaily = &model.DailyUsage{Date: time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC), Usage: 7.2}
	acc.Yearly = &model.YearlyUsage{Year: 2023, Usage: 2400, Charge: decimal.RequireFromString("1300.2")}
	acc.Fail("daily", model.KindConfig, errors.New("x"))
	acc.Fail("monthly", model.KindTransient, errors.New("y"))

	require.Equal(t, "-123.45 (欠费)", balanceCell(acc))
	require.Equal(t, "2024-05-09 7.20 kWh", lastDailyCell(acc))
	require.Equal(t, "2023: 2400 kWh / 1300.20", yearCell(acc))
	require.Equal(t, "daily, monthly", failuresCell(acc))
}

func TestBuildInferrer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	inf, closer, err := buildInferrer(cfg, nil, logger)
	require.NoError(t, err)
	require.Nil(t, closer)
	require.IsType(t, &captcha.EdgeInferrer{}, inf)

	cfg.Captcha.Solver = "nats"
	_, _, err = buildInferrer(cfg, nil, logger)
	require.Error(t, err)
}
