package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/fetcher"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
)

var persist bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Roda um ciclo de coleta agora e mostra o resultado.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := buildRuntime(ctx, cfg, logger, persist)
		if err != nil {
			return err
		}
		defer rt.Close()

		var res *fetcher.Result
		if persist {
			res, err = rt.refresh.Run(ctx)
		} else {
			res, err = rt.fetcher.Fetch(ctx, nil)
		}
		if res != nil {
			printResult(res)
		}
		return err
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&persist, "persist", false, "grava o resultado no banco (e publica, se houver NATS)")
	rootCmd.AddCommand(fetchCmd)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func printResult(res *fetcher.Result) {
	t := newTable()
	t.SetTitle(fmt.Sprintf("run %s (%s)", res.RunID, res.Finished.Sub(res.Started).Round(time.Second)))
	t.AppendHeader(table.Row{"Conta", "Endereço", "Saldo", "Último dia", "Dias", "Meses", "Ano", "Falhas"})

	ids := make([]string, 0, len(res.Accounts))
	for id := range res.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		acc := res.Accounts[id]
		t.AppendRow(table.Row{
			acc.ID,
			acc.Location,
			balanceCell(acc),
			lastDailyCell(acc),
			len(acc.Daily),
			len(acc.Monthly),
			yearCell(acc),
			failuresCell(acc),
		})
	}
	for id, err := range res.Failed {
		t.AppendRow(table.Row{id, "", "", "", "", "", "", err.Error()})
	}
	for _, id := range res.Skipped {
		t.AppendRow(table.Row{id, "", "", "", "", "", "", "ignorada"})
	}
	t.Render()
}

func balanceCell(acc *model.Account) string {
	if acc.Balance == nil {
		return "-"
	}
	if acc.InArrears() {
		return acc.Balance.StringFixed(2) + " (欠费)"
	}
	return acc.Balance.StringFixed(2)
}

func lastDailyCell(acc *model.Account) string {
	if acc.LastDaily == nil {
		return "-"
	}
	return fmt.Sprintf("%s %.2f kWh", acc.LastDaily.Date.Format(time.DateOnly), acc.LastDaily.Usage)
}

func yearCell(acc *model.Account) string {
	if acc.Yearly == nil {
		return "-"
	}
	return fmt.Sprintf("%d: %.0f kWh / %s", acc.Yearly.Year, acc.Yearly.Usage, acc.Yearly.Charge.StringFixed(2))
}

func failuresCell(acc *model.Account) string {
	if acc.Complete() {
		return ""
	}
	fields := make([]string, 0, len(acc.Failures))
	for _, f := range acc.Failures {
		fields = append(fields, f.Field)
	}
	return strings.Join(fields, ", ")
}
