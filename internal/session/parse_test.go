package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseAccountID(t *testing.T) {
	require.Equal(t, "1234567890", ParseAccountID("户号:1234567890"))
	require.Equal(t, "3301234567", ParseAccountID("杭州 2号楼 : 3301234567"))
	require.Equal(t, "", ParseAccountID("sem número"))
}

func TestParseBalance(t *testing.T) {
	bal, err := ParseBalance("123.45", "账户余额")
	require.NoError(t, err)
	require.Equal(t, "123.45", bal.String())

	bal, err = ParseBalance("123.45", "当前欠费")
	require.NoError(t, err)
	require.Equal(t, "-123.45", bal.String())

	bal, err = ParseBalance("1,234.56", "")
	require.NoError(t, err)
	require.Equal(t, "1234.56", bal.String())

	bal, err = ParseBalance("¥1,234.56", "欠费")
	require.NoError(t, err)
	require.Equal(t, "-1234.56", bal.String())

	_, err = ParseBalance("--", "")
	require.Error(t, err)
}

func TestParseMonthlyTableStripsMax(t *testing.T) {
	text := "2024-01\n310\n170.50\nMAX\n2024-02\n280.5\n155.20\n2024-03\n260\n143.00\n"

	rows, err := ParseMonthlyTable(text, 2024)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, PortalZone), rows[0].Month)
	require.InDelta(t, 310.0, rows[0].Usage, 1e-9)
	require.Equal(t, "170.5", rows[0].Charge.String())

	require.Equal(t, time.February, rows[1].Month.Month())
	require.InDelta(t, 280.5, rows[1].Usage, 1e-9)
	require.Equal(t, "143", rows[2].Charge.String())
}

func TestParseMonthlyTableBareMonths(t *testing.T) {
	rows, err := ParseMonthlyTable("1月\n100\n50\n12月\n90\n45.5", 2023)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, time.Date(2023, 12, 1, 0, 0, 0, 0, PortalZone), rows[1].Month)
}

func TestParseMonthlyTableMalformed(t *testing.T) {
	_, err := ParseMonthlyTable("2024-01\n310\nMAX", 2024)
	require.ErrorIs(t, err, ErrMalformedTable)

	_, err = ParseMonthlyTable("ontem\n310\n12", 2024)
	require.ErrorIs(t, err, ErrMalformedTable)

	rows, err := ParseMonthlyTable("MAX\n", 2024)
	require.NoError(t, err)
	require.Empty(t, rows)
}

const dailyHTML = `<tbody>
<tr class="el-table__row"><td><div class="cell">2024-03-05</div></td><td><div class="cell"></div></td></tr>
<tr class="el-table__row"><td><div class="cell">2024-03-04</div></td><td><div class="cell">8.41</div></td></tr>
<tr class="el-table__row"><td><div class="cell">2024-03-03</div></td><td><div class="cell">10.02</div></td></tr>
</tbody>`

func TestParseDailyRows(t *testing.T) {
	rows, err := ParseDailyRows(dailyHTML)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, PortalZone), rows[0].Date)
	require.InDelta(t, 8.41, rows[0].Usage, 1e-9)
	require.InDelta(t, 10.02, rows[1].Usage, 1e-9)
}

func TestParseDailyRowsBadDate(t *testing.T) {
	_, err := ParseDailyRows(`<tbody><tr><td><div>ontem</div></td><td><div>3.2</div></td></tr></tbody>`)
	require.ErrorIs(t, err, ErrMalformedTable)
}
