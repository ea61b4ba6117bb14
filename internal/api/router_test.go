package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/mftrend/internal/indicator"
	"github.com/rewired-gh/mftrend/internal/models"
	"github.com/rewired-gh/mftrend/internal/params"
	"github.com/rewired-gh/mftrend/internal/scanner"
	"github.com/rewired-gh/mftrend/internal/signal"
	"github.com/rewired-gh/mftrend/internal/storage"
	"github.com/rewired-gh/mftrend/internal/watchlist"
)

type fakeScans struct {
	latest *scanner.Scan
	frames map[string]*indicator.Frame
	status scanner.Status
}

func (f *fakeScans) Latest() *scanner.Scan { return f.latest }

func (f *fakeScans) Frame(symbol string) (*indicator.Frame, bool) {
	fr, ok := f.frames[symbol]
	return fr, ok
}

func (f *fakeScans) Status() scanner.Status { return f.status }

type fakeHistory struct {
	scans   []models.ScanSummary
	results map[string][]models.SignalResult
	skips   map[string][]models.Skip
	err     error
	limit   int
}

func (f *fakeHistory) RecentScans(_ context.Context, limit int) ([]models.ScanSummary, error) {
	f.limit = limit
	return f.scans, f.err
}

func (f *fakeHistory) GetScan(_ context.Context, scanID string) (models.ScanSummary, error) {
	if f.err != nil {
		return models.ScanSummary{}, f.err
	}
	for _, sc := range f.scans {
		if sc.ID == scanID {
			return sc, nil
		}
	}
	return models.ScanSummary{}, fmt.Errorf("%w: %s", storage.ErrScanNotFound, scanID)
}

func (f *fakeHistory) ScanResults(_ context.Context, scanID string) ([]models.SignalResult, error) {
	return f.results[scanID], nil
}

func (f *fakeHistory) ScanSkips(_ context.Context, scanID string) ([]models.Skip, error) {
	return f.skips[scanID], nil
}

type started struct {
	mode     models.WatchlistMode
	strategy models.Strategy
}

func testFrame(t *testing.T, symbol string) *indicator.Frame {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, 60)
	for i := range bars {
		c := 50 + 5*math.Sin(float64(i)/5) + float64(i)*0.2
		bars[i] = models.Bar{
			Date: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c,
			Volume: 1000 + float64(i%5)*200,
		}
	}
	f, err := indicator.Build(symbol, bars, indicator.Settings{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return f
}

func testScan() *scanner.Scan {
	return &scanner.Scan{
		ID:         "scan-1",
		Mode:       models.ModePersonal,
		Strategy:   models.StrategyFixed,
		Symbols:    []string{"SSI", "HPG", "XYZ"},
		StartedAt:  time.Date(2025, 3, 7, 14, 59, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 3, 7, 15, 0, 0, 0, time.UTC),
		Results: []models.SignalResult{
			{Symbol: "SSI", Price: 31600, Recommendation: models.RecommendEnter, MFSignal: models.SignalMainBuy},
			{Symbol: "HPG", Price: 27150, Recommendation: models.RecommendBrokenTrend, MFSignal: models.SignalWatch},
		},
		Skipped: []models.Skip{{Symbol: "XYZ", Reason: scanner.ReasonNoData}},
	}
}

type testEnv struct {
	router   http.Handler
	scans    *fakeScans
	history  *fakeHistory
	store    *watchlist.Store
	started  []started
	startErr error
	params   *params.Table
	paramErr error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		scans:   &fakeScans{frames: map[string]*indicator.Frame{"SSI": testFrame(t, "SSI")}},
		history: &fakeHistory{},
		store:   watchlist.NewStore(t.TempDir(), nil),
	}
	env.router = NewRouter(Deps{
		Scans:      env.scans,
		Watchlists: env.store,
		History:    env.history,
		StartScan: func(mode models.WatchlistMode, strategy models.Strategy) error {
			if env.startErr != nil {
				return env.startErr
			}
			env.started = append(env.started, started{mode, strategy})
			return nil
		},
		Params: func() (*params.Table, error) {
			return env.params, env.paramErr
		},
		Thresholds: signal.DefaultFixedThresholds(),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mftrend_scan_duration_seconds") {
		t.Error("metrics output missing scan duration histogram")
	}
}

func TestStartScan(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		want     *started
	}{
		{"defaults", "", http.StatusAccepted, &started{models.ModePersonal, models.StrategyFixed}},
		{"market optimized", `{"mode":"market","strategy":"optimized"}`, http.StatusAccepted, &started{models.ModeMarket, models.StrategyOptimized}},
		{"bad mode", `{"mode":"all"}`, http.StatusBadRequest, nil},
		{"bad strategy", `{"strategy":"magic"}`, http.StatusBadRequest, nil},
		{"bad json", `{`, http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/scans", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.want == nil {
				if len(env.started) != 0 {
					t.Errorf("scan started on invalid request: %+v", env.started)
				}
				return
			}
			if len(env.started) != 1 || env.started[0] != *tt.want {
				t.Errorf("started = %+v, want %+v", env.started, *tt.want)
			}
		})
	}
}

func TestStartScanErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{scanner.ErrNoParameters, http.StatusUnprocessableEntity},
		{fmt.Errorf("load watchlist: %w", scanner.ErrNoSymbols), http.StatusUnprocessableEntity},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		env := newTestEnv(t)
		env.startErr = tt.err
		rec := env.do(t, http.MethodPost, "/api/scans", `{"strategy":"optimized"}`)
		if rec.Code != tt.want {
			t.Errorf("error %v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestLatestScan(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/api/scans/latest", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status before any scan = %d, want 404", rec.Code)
	}

	env.scans.latest = testScan()

	var body struct {
		Scan    models.ScanSummary    `json:"scan"`
		Results []models.SignalResult `json:"results"`
		Skipped []models.Skip         `json:"skipped"`
	}
	rec := env.do(t, http.MethodGet, "/api/scans/latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	decode(t, rec, &body)
	if body.Scan.ID != "scan-1" || body.Scan.Signals != 1 || len(body.Results) != 2 || len(body.Skipped) != 1 {
		t.Errorf("unexpected body %+v", body)
	}

	body.Results = nil
	rec = env.do(t, http.MethodGet, "/api/scans/latest?filter=signals", "")
	decode(t, rec, &body)
	if len(body.Results) != 1 || body.Results[0].Symbol != "SSI" {
		t.Errorf("signals filter returned %+v", body.Results)
	}
}

func TestScanStatus(t *testing.T) {
	env := newTestEnv(t)
	env.scans.status = scanner.Status{Running: true, Done: 3, Total: 10}
	rec := env.do(t, http.MethodGet, "/api/scans/status", "")
	var st scanner.Status
	decode(t, rec, &st)
	if !st.Running || st.Done != 3 || st.Total != 10 {
		t.Errorf("status = %+v", st)
	}
}

func TestListScans(t *testing.T) {
	env := newTestEnv(t)
	env.history.scans = []models.ScanSummary{{ID: "a"}, {ID: "b"}}

	rec := env.do(t, http.MethodGet, "/api/scans?limit=5", "")
	var body struct {
		Scans []models.ScanSummary `json:"scans"`
	}
	decode(t, rec, &body)
	if len(body.Scans) != 2 || env.history.limit != 5 {
		t.Errorf("scans = %+v, limit = %d", body.Scans, env.history.limit)
	}

	if rec := env.do(t, http.MethodGet, "/api/scans?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}

	env.history.err = errors.New("db closed")
	if rec := env.do(t, http.MethodGet, "/api/scans", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("history error status = %d", rec.Code)
	}
}

func TestFrame(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/frames/ssi", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Symbol  string                `json:"symbol"`
		Dates   []string              `json:"dates"`
		Close   []float64             `json:"close"`
		Columns map[string][]*float64 `json:"columns"`
		Latest  map[string]*float64   `json:"latest"`
		Warmup  int                   `json:"warmup"`
	}
	decode(t, rec, &body)
	if body.Symbol != "SSI" || len(body.Dates) != 60 || len(body.Close) != 60 {
		t.Fatalf("unexpected frame body: symbol=%s dates=%d", body.Symbol, len(body.Dates))
	}
	ma, ok := body.Columns["ma20"]
	if !ok || len(ma) != 60 {
		t.Fatalf("ma20 column missing or misaligned: %v", body.Columns)
	}
	if ma[0] != nil || ma[19] == nil {
		t.Errorf("warm-up values should be null and later ones defined")
	}
	if body.Latest["ma20"] == nil || *body.Latest["ma20"] != *ma[59] {
		t.Errorf("latest ma20 = %v, want %v", body.Latest["ma20"], *ma[59])
	}
	if body.Warmup < 19 || body.Warmup >= 60 {
		t.Fatalf("warmup = %d, want within [19, 60)", body.Warmup)
	}
	for name, col := range body.Columns {
		if col[body.Warmup] == nil {
			t.Errorf("%s undefined at warmup row %d", name, body.Warmup)
		}
	}

	if rec := env.do(t, http.MethodGet, "/api/frames/XYZ", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown symbol status = %d", rec.Code)
	}
}

func TestChart(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/charts/SSI", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "SSI price") {
		t.Error("chart page missing price panel")
	}
}

func TestLatestReport(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/api/scans/latest/report", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status before any scan = %d, want 404", rec.Code)
	}

	env.scans.latest = testScan()
	rec := env.do(t, http.MethodGet, "/api/scans/latest/report", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "mftrend_report_20250307_150000.xlsx") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	f, err := excelize.OpenReader(rec.Body)
	if err != nil {
		t.Fatalf("response is not a workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("rows = %d, want 3", len(rows))
	}
}

func TestWatchlists(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/watchlists/personal", "")
	var body struct {
		Mode    string   `json:"mode"`
		Symbols []string `json:"symbols"`
	}
	decode(t, rec, &body)
	if strings.Join(body.Symbols, ",") != strings.Join(watchlist.DefaultSymbols, ",") {
		t.Errorf("default watchlist = %v", body.Symbols)
	}

	rec = env.do(t, http.MethodPut, "/api/watchlists/market", `{"symbols":[" vnm","VCB","vnm",""]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d (%s)", rec.Code, rec.Body.String())
	}
	got, err := env.store.Load(models.ModeMarket)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "VNM,VCB" {
		t.Errorf("saved watchlist = %v", got)
	}

	if rec := env.do(t, http.MethodPut, "/api/watchlists/market", `{"symbols":["bad symbol!"]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid symbol status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/watchlists/everything", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown mode status = %d", rec.Code)
	}
}

func TestGetScan(t *testing.T) {
	env := newTestEnv(t)
	sc := testScan()
	env.history.scans = []models.ScanSummary{sc.Summary()}
	env.history.results = map[string][]models.SignalResult{sc.ID: sc.Results}
	env.history.skips = map[string][]models.Skip{sc.ID: sc.Skipped}

	var body struct {
		Scan    models.ScanSummary    `json:"scan"`
		Results []models.SignalResult `json:"results"`
		Skipped []models.Skip         `json:"skipped"`
	}
	rec := env.do(t, http.MethodGet, "/api/scans/scan-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	decode(t, rec, &body)
	if body.Scan.ID != "scan-1" || len(body.Results) != 2 || len(body.Skipped) != 1 {
		t.Errorf("unexpected body %+v", body)
	}

	body.Results = nil
	decode(t, env.do(t, http.MethodGet, "/api/scans/scan-1?filter=signals", ""), &body)
	if len(body.Results) != 1 || body.Results[0].Symbol != "SSI" {
		t.Errorf("signals filter returned %+v", body.Results)
	}

	if rec := env.do(t, http.MethodGet, "/api/scans/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown scan status = %d", rec.Code)
	}
	// Static routes still win over the id parameter.
	if rec := env.do(t, http.MethodGet, "/api/scans/status", ""); rec.Code != http.StatusOK {
		t.Errorf("status route = %d", rec.Code)
	}

	env.history.err = errors.New("db closed")
	if rec := env.do(t, http.MethodGet, "/api/scans/scan-1", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("history error status = %d", rec.Code)
	}
}

func TestListParams(t *testing.T) {
	env := newTestEnv(t)
	env.paramErr = errors.New("open params.xlsx: no such file")
	if rec := env.do(t, http.MethodGet, "/api/params", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("missing table status = %d", rec.Code)
	}

	custom := models.DefaultOptimizationParams()
	custom.ADXMin = 30
	env.paramErr = nil
	env.params = params.NewTable(map[string]models.OptimizationParams{
		"SSI": custom,
		"HPG": models.DefaultOptimizationParams(),
	})
	rec := env.do(t, http.MethodGet, "/api/params", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Params []struct {
			Symbol string  `json:"symbol"`
			ADXMin float64 `json:"adx_min"`
		} `json:"params"`
	}
	decode(t, rec, &body)
	if len(body.Params) != 2 || body.Params[0].Symbol != "HPG" || body.Params[1].Symbol != "SSI" {
		t.Fatalf("params = %+v, want HPG then SSI", body.Params)
	}
	if body.Params[1].ADXMin != 30 {
		t.Errorf("SSI adx_min = %v, want 30", body.Params[1].ADXMin)
	}
}

func TestWatchlistSymbols(t *testing.T) {
	env := newTestEnv(t)
	var body struct {
		Symbols []string `json:"symbols"`
	}

	rec := env.do(t, http.MethodPost, "/api/watchlists/personal/symbols", `{"symbol":" vnm "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d (%s)", rec.Code, rec.Body.String())
	}
	decode(t, rec, &body)
	if strings.Join(body.Symbols, ",") != "SSI,HPG,FPT,VNM" {
		t.Errorf("after add = %v", body.Symbols)
	}

	rec = env.do(t, http.MethodDelete, "/api/watchlists/personal/symbols/hpg", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d (%s)", rec.Code, rec.Body.String())
	}
	got, err := env.store.Load(models.ModePersonal)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "SSI,FPT,VNM" {
		t.Errorf("saved watchlist = %v", got)
	}

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/api/watchlists/personal/symbols", `{"symbol":"bad symbol!"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/watchlists/personal/symbols", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/api/watchlists/everything/symbols", `{"symbol":"VNM"}`, http.StatusNotFound},
		{http.MethodDelete, "/api/watchlists/everything/symbols/VNM", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := env.do(t, tt.method, tt.path, tt.body); rec.Code != tt.want {
			t.Errorf("%s %s %s: status = %d, want %d", tt.method, tt.path, tt.body, rec.Code, tt.want)
		}
	}
}

func TestNewHandler_Defaults(t *testing.T) {
	h := newHandler(Deps{})
	if h.deps.Thresholds != signal.DefaultFixedThresholds() {
		t.Errorf("Thresholds = %+v, want defaults", h.deps.Thresholds)
	}
	if h.deps.DefaultStrategy != models.StrategyFixed {
		t.Errorf("DefaultStrategy = %q", h.deps.DefaultStrategy)
	}

	custom := signal.FixedThresholds{ADXMin: 30, MFILow: 20, MFIHigh: 80, RSILow: 30, RSIHigh: 70}
	if got := newHandler(Deps{Thresholds: custom}).deps.Thresholds; got != custom {
		t.Errorf("custom Thresholds replaced: %+v", got)
	}
}
