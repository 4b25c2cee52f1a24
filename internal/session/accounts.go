package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
)

// Accounts enumera as contas do menu, na ordem do menu. Index é a posição
// do item no menu, contando os itens sem id.
func (d *Driver) Accounts(ctx context.Context) ([]model.MenuAccount, error) {
	if d.state != StateLoggedIn {
		return nil, ErrNotLoggedIn
	}

	reloadCtx, cancel := context.WithTimeout(ctx, d.opts.LoginTimeout)
	err := d.page.Reload(reloadCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("erro recarregando página: %w", err)
	}
	if err := d.pause(ctx, 2); err != nil {
		return nil, err
	}

	if err := d.waitVisible(ctx, selDropdown); err != nil {
		return nil, fmt.Errorf("menu de contas não apareceu: %w", err)
	}
	if err := d.click(ctx, selDropdownOpen); err != nil {
		return nil, fmt.Errorf("erro abrindo menu de contas: %w", err)
	}
	if err := d.pause(ctx, 1); err != nil {
		return nil, err
	}

	waitCtx, cancel := d.bounded(ctx)
	err = d.page.WaitText(waitCtx, selDropdownItems, ":")
	cancel()
	if err != nil {
		return nil, fmt.Errorf("itens do menu não carregaram: %w", err)
	}

	textsCtx, cancel := d.bounded(ctx)
	items, err := d.page.Texts(textsCtx, selDropdownItems)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("erro lendo menu de contas: %w", err)
	}

	accounts := make([]model.MenuAccount, 0, len(items))
	ids := make([]string, 0, len(items))
	for i, item := range items {
		id := ParseAccountID(item)
		if id == "" {
			d.logger.Warn("item do menu sem id", "text", item, "index", i)
			continue
		}
		accounts = append(accounts, model.MenuAccount{Index: i, ID: id})
		ids = append(ids, id)
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	d.logger.Info("contas encontradas", "count", len(accounts), "ids", ids)
	return accounts, nil
}

// Extract seleciona a conta index (posição no menu) e extrai cada campo de
// forma independente. Falhas de campo ficam em Account.Failures; o erro só
// é retornado quando a conta nem pôde ser selecionada.
func (d *Driver) Extract(ctx context.Context, index int, id string) (*model.Account, error) {
	if d.state != StateLoggedIn {
		return nil, ErrNotLoggedIn
	}
	logger := d.logger.With("account", id)
	acc := model.NewAccount(id)

	// página de saldo
	if err := d.navigate(ctx, d.opts.BalanceURL); err != nil {
		return nil, fmt.Errorf("erro abrindo página de saldo: %w", err)
	}
	if err := d.pause(ctx, 1); err != nil {
		return nil, err
	}
	if err := d.chooseAccount(ctx, index); err != nil {
		return nil, fmt.Errorf("erro selecionando conta %s: %w", id, err)
	}
	if err := d.pause(ctx, 1); err != nil {
		return nil, err
	}

	if shown, err := d.text(ctx, selInfoID); err == nil {
		if got := ParseAccountID(shown); got != "" && got != id {
			return nil, fmt.Errorf("%w: esperada %s, exibida %s", ErrAccountMismatch, id, got)
		}
	}
	if location, err := d.text(ctx, selInfoLocation); err != nil {
		acc.Fail("location", model.KindTransient, err)
	} else {
		acc.Location = location
	}

	if bal, err := d.balance(ctx); err != nil {
		acc.Fail("balance", model.KindTransient, err)
		logger.Warn("saldo indisponível", "op", "balance", "err", err)
	} else {
		acc.Balance = &bal
		logger.Info("saldo obtido", "op", "balance", "balance", bal.String())
	}

	// página de consumo
	if err := d.openUsage(ctx, index); err != nil {
		for _, field := range []string{"yearly", "monthly", "last_daily", "daily"} {
			acc.Fail(field, model.KindAccount, err)
		}
		logger.Warn("página de consumo indisponível", "err", err)
		return acc, nil
	}

	if yearly, err := d.yearly(ctx); err != nil {
		acc.Fail("yearly", model.KindTransient, err)
		logger.Warn("consumo anual indisponível", "op", "yearly", "err", err)
	} else {
		acc.Yearly = yearly
		logger.Info("consumo anual obtido", "op", "yearly", "year", yearly.Year, "usage", yearly.Usage, "charge", yearly.Charge.String())
	}

	if monthly, err := d.monthly(ctx); err != nil {
		acc.Fail("monthly", model.KindTransient, err)
		logger.Warn("consumo mensal indisponível", "op", "monthly", "err", err)
	} else {
		acc.Monthly = monthly
		logger.Info("consumo mensal obtido", "op", "monthly", "months", len(monthly))
	}

	if last, err := d.lastDaily(ctx); err != nil {
		acc.Fail("last_daily", model.KindTransient, err)
		logger.Warn("último consumo diário indisponível", "op", "last_daily", "err", err)
	} else {
		acc.LastDaily = last
		logger.Info("último consumo diário obtido", "op", "last_daily", "date", last.Date.Format(time.DateOnly), "usage", last.Usage)
	}

	if daily, err := d.daily(ctx); err != nil {
		kind := model.KindTransient
		if errors.Is(err, ErrUnsupportedRetention) {
			kind = model.KindConfig
		}
		acc.Fail("daily", kind, err)
		logger.Warn("consumo diário indisponível", "op", "daily", "err", err)
	} else {
		acc.Daily = daily
		logger.Info("consumo diário obtido", "op", "daily", "days", len(daily))
	}

	return acc, nil
}

func (d *Driver) openUsage(ctx context.Context, index int) error {
	if err := d.navigate(ctx, d.opts.UsageURL); err != nil {
		return fmt.Errorf("erro abrindo página de consumo: %w", err)
	}
	if err := d.pause(ctx, 1); err != nil {
		return err
	}
	if err := d.chooseAccount(ctx, index); err != nil {
		return err
	}
	return d.pause(ctx, 1)
}

func (d *Driver) chooseAccount(ctx context.Context, index int) error {
	if err := d.click(ctx, selAccountSuffix); err != nil {
		return err
	}
	if err := d.pause(ctx, 1); err != nil {
		return err
	}
	return d.click(ctx, selAccountItem(index))
}

func (d *Driver) balance(ctx context.Context) (decimal.Decimal, error) {
	amount, err := d.text(ctx, selBalance)
	if err != nil {
		return decimal.Zero, err
	}
	marker, err := d.text(ctx, selBalanceMarker)
	if err != nil {
		return decimal.Zero, err
	}
	return ParseBalance(amount, marker)
}

// displayYear é o ano que os dados anuais/mensais cobrem. Em janeiro o ano
// corrente ainda não tem dados fechados, então o portal é trocado para o anterior.
func (d *Driver) displayYear() (year int, january bool) {
	now := d.now().In(PortalZone)
	if now.Month() == time.January {
		return now.Year() - 1, true
	}
	return now.Year(), false
}

func (d *Driver) selectYear(ctx context.Context, year int) error {
	if err := d.click(ctx, selYearInput); err != nil {
		return fmt.Errorf("erro abrindo seletor de ano: %w", err)
	}
	if err := d.pause(ctx, 1); err != nil {
		return err
	}
	if err := d.click(ctx, selYearOption(year)); err != nil {
		return fmt.Errorf("erro selecionando ano %d: %w", year, err)
	}
	return d.pause(ctx, 1)
}

func (d *Driver) yearly(ctx context.Context) (*model.YearlyUsage, error) {
	year, january := d.displayYear()
	if january {
		if err := d.selectYear(ctx, year); err != nil {
			return nil, err
		}
	}
	if err := d.click(ctx, selTabFirst); err != nil {
		return nil, err
	}
	if err := d.pause(ctx, 1); err != nil {
		return nil, err
	}
	if err := d.waitVisible(ctx, selTotal); err != nil {
		return nil, err
	}

	usageText, err := d.text(ctx, selYearUsage)
	if err != nil {
		return nil, err
	}
	chargeText, err := d.text(ctx, selYearCharge)
	if err != nil {
		return nil, err
	}
	usage, err := parseFloat(usageText)
	if err != nil {
		return nil, err
	}
	charge, err := parseDecimal(chargeText)
	if err != nil {
		return nil, err
	}
	return &model.YearlyUsage{Year: year, Usage: usage, Charge: charge}, nil
}

func (d *Driver) monthly(ctx context.Context) ([]model.MonthlyUsage, error) {
	if err := d.click(ctx, selTabFirst); err != nil {
		return nil, err
	}
	if err := d.pause(ctx, 1); err != nil {
		return nil, err
	}
	year, january := d.displayYear()
	if january {
		if err := d.selectYear(ctx, year); err != nil {
			return nil, err
		}
	}
	if err := d.waitVisible(ctx, selTotal); err != nil {
		return nil, err
	}
	text, err := d.text(ctx, selMonthTable)
	if err != nil {
		return nil, err
	}
	return ParseMonthlyTable(text, year)
}

func (d *Driver) lastDaily(ctx context.Context) (*model.DailyUsage, error) {
	if err := d.click(ctx, selTabSecond); err != nil {
		return nil, err
	}
	if err := d.pause(ctx, 1); err != nil {
		return nil, err
	}
	if err := d.waitVisible(ctx, selFirstUsage); err != nil {
		return nil, err
	}
	usageText, err := d.text(ctx, selFirstUsage)
	if err != nil {
		return nil, err
	}
	dateText, err := d.text(ctx, selFirstDate)
	if err != nil {
		return nil, err
	}
	date, err := ParseDate(dateText)
	if err != nil {
		return nil, fmt.Errorf("data inválida %q: %w", dateText, err)
	}
	usage, err := parseFloat(usageText)
	if err != nil {
		return nil, err
	}
	return &model.DailyUsage{Date: date, Usage: usage}, nil
}

func (d *Driver) daily(ctx context.Context) ([]model.DailyUsage, error) {
	var label Selector
	switch d.opts.RetentionDays {
	case 7:
		label = selRetention7
	case 30:
		// só aparece para contas com pagamento inteligente
		label = selRetention30
	default:
		return nil, ErrUnsupportedRetention
	}

	if err := d.click(ctx, selTabSecond); err != nil {
		return nil, err
	}
	if err := d.pause(ctx, 1); err != nil {
		return nil, err
	}
	if err := d.click(ctx, label); err != nil {
		return nil, err
	}
	if err := d.pause(ctx, 1); err != nil {
		return nil, err
	}
	if err := d.waitVisible(ctx, selFirstUsage); err != nil {
		return nil, err
	}

	htmlCtx, cancel := d.bounded(ctx)
	html, err := d.page.HTML(htmlCtx, selDailyTable)
	cancel()
	if err != nil {
		return nil, err
	}
	return ParseDailyRows(html)
}
