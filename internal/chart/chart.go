// Package chart renders a symbol's derived frame as an interactive HTML page.
package chart

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/rewired-gh/mftrend/internal/indicator"
)

const (
	panelWidth  = "1100px"
	priceHeight = "420px"
	panelHeight = "220px"
	dateLayout  = "2006-01-02"
)

// Render writes a four-panel page for f: price with MA20, stop line and
// Alpha Trend plus convergence markers at the given bar indices, then
// MFI/RSI, ADX and ADL.
func Render(w io.Writer, f *indicator.Frame, markers []int) error {
	if f == nil || f.Len() == 0 {
		return errors.New("empty frame")
	}

	dates := make([]string, f.Len())
	closes := make(indicator.Series, f.Len())
	for i, b := range f.Bars {
		dates[i] = b.Date.Format(dateLayout)
		closes[i] = b.Close
	}

	price := newLine(fmt.Sprintf("%s price", f.Symbol), priceHeight, dates)
	price.AddSeries("Close", lineData(closes)).
		AddSeries("MA20", lineData(f.MA20)).
		AddSeries("Stop line", lineData(f.SLLine)).
		AddSeries("Alpha Trend", lineData(f.AlphaTrend))
	if len(markers) > 0 {
		price.Overlap(markerScatter(dates, closes, markers))
	}

	oscillators := newLine("MFI / RSI", panelHeight, dates)
	oscillators.AddSeries("MFI", lineData(f.MFI)).
		AddSeries("RSI", lineData(f.RSI))

	adx := newLine("ADX", panelHeight, dates)
	adx.AddSeries("ADX", lineData(f.ADX))

	adl := newLine("ADL", panelHeight, dates)
	adl.AddSeries("ADL", lineData(f.ADL))

	page := components.NewPage()
	page.PageTitle = f.Symbol + " MF-Trend"
	page.AddCharts(price, oscillators, adx, adl)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

func newLine(title, height string, dates []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: panelWidth, Height: height}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside", Start: 50, End: 100}),
	)
	line.SetXAxis(dates)
	return line
}

// lineData maps undefined values to nulls so the line shows a gap.
func lineData(s indicator.Series) []opts.LineData {
	out := make([]opts.LineData, len(s))
	for i := range s {
		if v, ok := s.At(i); ok {
			out[i] = opts.LineData{Value: v}
		}
	}
	return out
}

func markerScatter(dates []string, closes indicator.Series, markers []int) *charts.Scatter {
	data := make([]opts.ScatterData, len(dates))
	for _, i := range markers {
		if i < 0 || i >= len(dates) {
			continue
		}
		data[i] = opts.ScatterData{Value: closes[i], Symbol: "triangle", SymbolSize: 12}
	}
	sc := charts.NewScatter()
	sc.SetXAxis(dates)
	sc.AddSeries("Convergence", data, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#2e7d32"}))
	return sc
}
