// Package report exports scan results to spreadsheets and renders them as
// terminal tables.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/mftrend/internal/models"
	"github.com/rewired-gh/mftrend/internal/scanner"
)

const fileNameLayout = "20060102_150405"

// Columns is the fixed column order of an exported report.
var Columns = []string{
	"symbol", "price", "alpha_status", "gap_pct", "stoploss", "recommendation",
	"adx", "mfi", "rsi", "flow_state", "mf_signal",
}

var ErrMalformedReport = errors.New("malformed report")

// FileName returns the report file name for an export made at t.
func FileName(t time.Time) string {
	return "mftrend_report_" + t.Format(fileNameLayout) + ".xlsx"
}

// Export writes the scan's results to dir and returns the file path. The
// name is derived from the scan's finish time.
func Export(dir string, scan *scanner.Scan) (string, error) {
	if scan == nil {
		return "", errors.New("no scan to export")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	f, err := build(scan.Results)
	if err != nil {
		return "", err
	}
	defer f.Close()

	at := scan.FinishedAt
	if at.IsZero() {
		at = time.Now()
	}
	path := filepath.Join(dir, FileName(at))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	return path, nil
}

// Write streams a workbook holding results to w.
func Write(w io.Writer, results []models.SignalResult) error {
	f, err := build(results)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func build(results []models.SignalResult) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		f.SetCellStyle(sheet, "A1", "K1", style) //nolint:errcheck
	}

	for i, r := range results {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		row := []interface{}{
			r.Symbol, r.Price, string(r.AlphaStatus), r.GapPct, r.Stoploss,
			string(r.Recommendation), r.ADX, r.MFI, r.RSI,
			string(r.FlowState), string(r.MFSignal),
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	return f, nil
}

// Read loads the results of a report previously written by Export.
func Read(path string) ([]models.SignalResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty sheet", ErrMalformedReport)
	}

	idx := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range Columns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformedReport, c)
		}
	}

	results := make([]models.SignalResult, 0, len(rows)-1)
	for n, row := range rows[1:] {
		get := func(col string) string {
			i := idx[col]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		num := func(col string) (float64, error) {
			v := get(col)
			if v == "" {
				return 0, nil
			}
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: row %d column %s: %v", ErrMalformedReport, n+2, col, err)
			}
			return x, nil
		}

		r := models.SignalResult{
			Symbol:         get("symbol"),
			AlphaStatus:    models.AlphaStatus(get("alpha_status")),
			Recommendation: models.Recommendation(get("recommendation")),
			FlowState:      models.FlowState(get("flow_state")),
			MFSignal:       models.MFSignal(get("mf_signal")),
		}
		if r.Symbol == "" {
			continue
		}
		for _, field := range []struct {
			col string
			dst *float64
		}{
			{"price", &r.Price},
			{"gap_pct", &r.GapPct},
			{"stoploss", &r.Stoploss},
			{"adx", &r.ADX},
			{"mfi", &r.MFI},
			{"rsi", &r.RSI},
		} {
			if *field.dst, err = num(field.col); err != nil {
				return nil, err
			}
		}
		results = append(results, r)
	}
	return results, nil
}
