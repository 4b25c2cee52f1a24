package session

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
)

// PortalZone é o fuso em que o portal exibe datas.
var PortalZone = time.FixedZone("CST", 8*60*60)

const arrearsMarker = "欠费"

var (
	ErrMalformedTable = errors.New("tabela em formato inesperado")

	digitRun   = regexp.MustCompile(`[0-9]+`)
	numberRun  = regexp.MustCompile(`-?[0-9]+(?:\.[0-9]+)?`)
	bareMonth  = regexp.MustCompile(`^([0-9]{1,2})月$`)
	monthForms = []string{"2006-01", "2006-1", "2006.01", "2006/01", "200601", "2006年01月", "2006年1月", "2006-01-02"}
)

// ParseAccountID pega a última sequência de dígitos do item do menu
// ("户号:1234567890" -> "1234567890").
func ParseAccountID(text string) string {
	runs := digitRun.FindAllString(text, -1)
	if len(runs) == 0 {
		return ""
	}
	return runs[len(runs)-1]
}

// ParseBalance converte o saldo exibido; o marcador de débito nega o valor.
func ParseBalance(amount, marker string) (decimal.Decimal, error) {
	num := numberRun.FindString(strings.ReplaceAll(amount, ",", ""))
	if num == "" {
		return decimal.Zero, fmt.Errorf("saldo inválido: %q", amount)
	}
	bal, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, fmt.Errorf("saldo inválido: %q: %w", amount, err)
	}
	if strings.Contains(marker, arrearsMarker) {
		bal = bal.Abs().Neg()
	}
	return bal, nil
}

func parseFloat(text string) (float64, error) {
	num := numberRun.FindString(strings.ReplaceAll(text, ",", ""))
	if num == "" {
		return 0, fmt.Errorf("número inválido: %q", text)
	}
	return strconv.ParseFloat(num, 64)
}

func parseDecimal(text string) (decimal.Decimal, error) {
	num := numberRun.FindString(strings.ReplaceAll(text, ",", ""))
	if num == "" {
		return decimal.Zero, fmt.Errorf("valor inválido: %q", text)
	}
	return decimal.NewFromString(num)
}

func parseMonth(text string, year int) (time.Time, error) {
	text = strings.TrimSpace(text)
	if m := bareMonth.FindStringSubmatch(text); m != nil {
		month, _ := strconv.Atoi(m[1])
		if month < 1 || month > 12 {
			return time.Time{}, fmt.Errorf("mês inválido: %q", text)
		}
		return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, PortalZone), nil
	}
	for _, layout := range monthForms {
		if t, err := time.ParseInLocation(layout, text, PortalZone); err == nil {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, PortalZone), nil
		}
	}
	return time.Time{}, fmt.Errorf("mês inválido: %q", text)
}

// ParseDate lê a data do dia como o portal exibe (2006-01-02).
func ParseDate(text string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", strings.TrimSpace(text), PortalZone)
}

// ParseMonthlyTable transforma o texto do tbody mensal em triplas
// (mês, consumo, valor), na ordem exibida. A linha "MAX" do rodapé é descartada.
// year é usado quando a coluna traz só "N月".
func ParseMonthlyTable(text string, year int) ([]model.MonthlyUsage, error) {
	var cells []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "MAX" {
			continue
		}
		cells = append(cells, line)
	}
	if len(cells)%3 != 0 {
		return nil, fmt.Errorf("%w: %d células não formam triplas", ErrMalformedTable, len(cells))
	}

	out := make([]model.MonthlyUsage, 0, len(cells)/3)
	for i := 0; i < len(cells); i += 3 {
		month, err := parseMonth(cells[i], year)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
		}
		usage, err := parseFloat(cells[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
		}
		charge, err := parseDecimal(cells[i+2])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
		}
		out = append(out, model.MonthlyUsage{Month: month, Usage: usage, Charge: charge})
	}
	return out, nil
}

// ParseDailyRows lê o HTML do tbody diário. Linhas sem consumo são puladas
// (o portal mostra o dia corrente vazio até fechar a leitura).
func ParseDailyRows(html string) ([]model.DailyUsage, error) {
	// tbody solto é descartado pelo parser HTML5 fora de uma <table>
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<table>" + html + "</table>"))
	if err != nil {
		return nil, fmt.Errorf("erro parseando tabela diária: %w", err)
	}

	var (
		out      []model.DailyUsage
		firstErr error
	)
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if firstErr != nil {
			return
		}
		cols := row.Find("td")
		if cols.Length() < 2 {
			return
		}
		day := strings.TrimSpace(cols.Eq(0).Text())
		usageText := strings.TrimSpace(cols.Eq(1).Text())
		if usageText == "" {
			return
		}
		date, err := ParseDate(day)
		if err != nil {
			firstErr = fmt.Errorf("%w: data %q", ErrMalformedTable, day)
			return
		}
		usage, err := parseFloat(usageText)
		if err != nil {
			firstErr = fmt.Errorf("%w: %v", ErrMalformedTable, err)
			return
		}
		out = append(out, model.DailyUsage{Date: date, Usage: usage})
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
