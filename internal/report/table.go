package report

import (
	"fmt"
	"io"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/rewired-gh/mftrend/internal/models"
)

// RenderTables writes the "Alpha Trend" and "MF-Trend" tables for results.
// With signalsOnly set, rows without an enter recommendation or buy signal
// are left out.
func RenderTables(w io.Writer, results []models.SignalResult, signalsOnly bool) {
	rows := results
	if signalsOnly {
		rows = nil
		for _, r := range results {
			if r.HasSignal() {
				rows = append(rows, r)
			}
		}
	}

	alpha := newTable(w, "Alpha Trend")
	alpha.AppendHeader(table.Row{"Symbol", "Price", "Status", "Gap %", "Stoploss", "Recommendation"})
	for _, r := range rows {
		alpha.AppendRow(table.Row{
			r.Symbol,
			FormatPrice(r.Price),
			r.AlphaStatus,
			fmt.Sprintf("%+.1f", r.GapPct),
			FormatPrice(r.Stoploss),
			r.Recommendation,
		})
	}
	alpha.Render()

	fmt.Fprintln(w)

	flow := newTable(w, "MF-Trend")
	flow.AppendHeader(table.Row{"Symbol", "ADX", "MFI", "RSI", "Flow", "Signal"})
	for _, r := range rows {
		flow.AppendRow(table.Row{
			r.Symbol,
			fmt.Sprintf("%.1f", r.ADX),
			fmt.Sprintf("%.1f", r.MFI),
			fmt.Sprintf("%.1f", r.RSI),
			r.FlowState,
			r.MFSignal,
		})
	}
	flow.Render()
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return t
}

// FormatPrice renders a price rounded to whole units with thousands
// separators, the way every text surface shows prices.
func FormatPrice(p float64) string {
	return humanize.Comma(int64(math.Round(p)))
}
