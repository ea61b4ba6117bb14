// Package params loads the per-symbol optimization parameter table from a
// spreadsheet or YAML file.
package params

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/rewired-gh/mftrend/internal/logger"
	"github.com/rewired-gh/mftrend/internal/models"
)

var ErrUnsupportedFormat = errors.New("unsupported parameter file format")

// Column headers of the spreadsheet layout, matched case-insensitively.
const (
	colSymbol    = "symbol"
	colADXMin    = "adx_min"
	colRSIBuy    = "rsi_buy"
	colMFIBuy    = "mfi_buy"
	colTolerance = "tolerance"
)

var headers = []string{colSymbol, colADXMin, colRSIBuy, colMFIBuy, colTolerance}

// Table maps upper-cased symbols to validated parameters. It is read-only
// once loaded.
type Table struct {
	rows map[string]models.OptimizationParams
}

func NewTable(rows map[string]models.OptimizationParams) *Table {
	t := &Table{rows: make(map[string]models.OptimizationParams, len(rows))}
	for sym, p := range rows {
		t.rows[normalizeSymbol(sym)] = p
	}
	return t
}

func (t *Table) Lookup(symbol string) (models.OptimizationParams, bool) {
	if t == nil {
		return models.OptimizationParams{}, false
	}
	p, ok := t.rows[normalizeSymbol(symbol)]
	return p, ok
}

// Get returns the symbol's parameters or the default tuple.
func (t *Table) Get(symbol string) models.OptimizationParams {
	if p, ok := t.Lookup(symbol); ok {
		return p
	}
	return models.DefaultOptimizationParams()
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Symbols returns the table's symbols in sorted order.
func (t *Table) Symbols() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.rows))
	for sym := range t.rows {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Load reads path by extension. The returned table is never nil: on error it
// is empty, and rows with missing or invalid fields are skipped with a
// warning. defaultTolerance fills rows that leave tolerance blank.
func Load(path string, defaultTolerance float64) (*Table, error) {
	var (
		raw []rawRow
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		raw, err = readXLSX(path)
	case ".yaml", ".yml":
		raw, err = readYAML(path)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return NewTable(nil), err
	}

	rows := make(map[string]models.OptimizationParams, len(raw))
	for _, r := range raw {
		p, err := r.params(defaultTolerance)
		if err != nil {
			logger.Warn("Skipping parameter row %d (%s): %v", r.line, r.symbol, err)
			continue
		}
		rows[normalizeSymbol(r.symbol)] = p
	}
	return NewTable(rows), nil
}

// rawRow keeps the textual cells so missing values stay distinguishable from
// zero.
type rawRow struct {
	line      int
	symbol    string
	adxMin    string
	rsiBuy    string
	mfiBuy    string
	tolerance string
}

func (r rawRow) params(defaultTolerance float64) (models.OptimizationParams, error) {
	if normalizeSymbol(r.symbol) == "" {
		return models.OptimizationParams{}, errors.New("missing symbol")
	}
	var p models.OptimizationParams
	var err error
	if p.ADXMin, err = requireFloat(colADXMin, r.adxMin); err != nil {
		return p, err
	}
	if p.RSIBuy, err = requireFloat(colRSIBuy, r.rsiBuy); err != nil {
		return p, err
	}
	if p.MFIBuy, err = requireFloat(colMFIBuy, r.mfiBuy); err != nil {
		return p, err
	}
	p.Tolerance = defaultTolerance
	if strings.TrimSpace(r.tolerance) != "" {
		if p.Tolerance, err = requireFloat(colTolerance, r.tolerance); err != nil {
			return p, err
		}
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func requireFloat(name, s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

func readXLSX(path string) ([]rawRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, errors.New("sheet is empty")
	}

	index := make(map[string]int)
	for i, h := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := index[colSymbol]; !ok {
		return nil, fmt.Errorf("missing %s column", colSymbol)
	}
	cell := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	out := make([]rawRow, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		out = append(out, rawRow{
			line:      i + 2,
			symbol:    cell(row, colSymbol),
			adxMin:    cell(row, colADXMin),
			rsiBuy:    cell(row, colRSIBuy),
			mfiBuy:    cell(row, colMFIBuy),
			tolerance: cell(row, colTolerance),
		})
	}
	return out, nil
}

// yamlRow uses pointers so an absent key is not read as zero.
type yamlRow struct {
	Symbol    string   `yaml:"symbol"`
	ADXMin    *float64 `yaml:"adx_min"`
	RSIBuy    *float64 `yaml:"rsi_buy"`
	MFIBuy    *float64 `yaml:"mfi_buy"`
	Tolerance *float64 `yaml:"tolerance"`
}

type yamlFile struct {
	Parameters []yamlRow `yaml:"parameters"`
}

func readYAML(path string) ([]rawRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file: %w", err)
	}
	var doc yamlFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse parameter file: %w", err)
	}
	out := make([]rawRow, 0, len(doc.Parameters))
	for i, r := range doc.Parameters {
		out = append(out, rawRow{
			line:      i + 1,
			symbol:    r.Symbol,
			adxMin:    formatOptional(r.ADXMin),
			rsiBuy:    formatOptional(r.RSIBuy),
			mfiBuy:    formatOptional(r.MFIBuy),
			tolerance: formatOptional(r.Tolerance),
		})
	}
	return out, nil
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// WriteXLSX writes t in the layout Load reads back.
func WriteXLSX(path string, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, sym := range t.Symbols() {
		p := t.rows[sym]
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{sym, p.ADXMin, p.RSIBuy, p.MFIBuy, p.Tolerance}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %s: %w", sym, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
