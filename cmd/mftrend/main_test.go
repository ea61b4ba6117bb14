package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/mftrend/internal/models"
	"github.com/rewired-gh/mftrend/internal/params"
	"github.com/rewired-gh/mftrend/internal/report"
	"github.com/rewired-gh/mftrend/internal/scanner"
	"github.com/rewired-gh/mftrend/internal/watchlist"
)

func TestWriteDefaultParams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.xlsx")
	lists := watchlist.NewStore(dir, nil)
	if err := lists.Save(models.ModeMarket, []string{"VNM", "SSI"}); err != nil {
		t.Fatal(err)
	}

	custom := models.DefaultOptimizationParams()
	custom.ADXMin = 35
	seed := params.NewTable(map[string]models.OptimizationParams{"SSI": custom, "ABC": custom})
	if err := params.WriteXLSX(path, seed); err != nil {
		t.Fatal(err)
	}

	if err := writeDefaultParams(path, models.DefaultTolerance, lists); err != nil {
		t.Fatalf("writeDefaultParams() error = %v", err)
	}
	table, err := params.Load(path, models.DefaultTolerance)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(table.Symbols(), ","); got != "ABC,FPT,HPG,SSI,VNM" {
		t.Errorf("symbols = %s", got)
	}
	if got := table.Get("SSI").ADXMin; got != 35 {
		t.Errorf("existing SSI row overwritten: adx_min = %v", got)
	}
	if got := table.Get("VNM"); got != models.DefaultOptimizationParams() {
		t.Errorf("VNM = %+v, want defaults", got)
	}
}

func TestWriteDefaultParams_RejectsYAML(t *testing.T) {
	dir := t.TempDir()
	err := writeDefaultParams(filepath.Join(dir, "params.yaml"), models.DefaultTolerance, watchlist.NewStore(dir, nil))
	if !errors.Is(err, params.ErrUnsupportedFormat) {
		t.Errorf("error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestPrintReport(t *testing.T) {
	scan := &scanner.Scan{
		FinishedAt: time.Date(2025, 3, 7, 15, 0, 0, 0, time.UTC),
		Results: []models.SignalResult{
			{Symbol: "SSI", Price: 31600, Recommendation: models.RecommendEnter, MFSignal: models.SignalMainBuy},
			{Symbol: "HPG", Price: 27150, Recommendation: models.RecommendBrokenTrend, MFSignal: models.SignalWatch},
		},
	}
	path, err := report.Export(t.TempDir(), scan)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := printReport(&buf, path, true); err != nil {
		t.Fatalf("printReport() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "SSI") || !strings.Contains(out, "31,600") {
		t.Errorf("output missing SSI row:\n%s", out)
	}
	if strings.Contains(out, "HPG") {
		t.Errorf("signals-only output kept HPG:\n%s", out)
	}

	if err := printReport(&buf, filepath.Join(t.TempDir(), "missing.xlsx"), false); err == nil {
		t.Error("expected error for missing report")
	}
}
