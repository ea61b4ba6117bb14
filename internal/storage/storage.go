// Package storage provides SQLite-backed persistence for the bar cache and
// scan history, plus a Redis alternative for the bar cache.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/mftrend/internal/models"
	_ "modernc.org/sqlite"
)

var ErrScanNotFound = errors.New("scan not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db       *sql.DB
	maxScans int
	now      func() time.Time
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/mftrend/data.db.
func New(maxScans int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "mftrend", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxScans: maxScans, now: time.Now}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bar_cache (
			symbol          TEXT NOT NULL,
			period          TEXT NOT NULL,
			bars            TEXT NOT NULL,
			fetched_at      INTEGER NOT NULL,
			PRIMARY KEY (symbol, period)
		)`,
		`CREATE TABLE IF NOT EXISTS scans (
			id              TEXT PRIMARY KEY,
			mode            TEXT NOT NULL,
			strategy        TEXT NOT NULL,
			started_at      INTEGER NOT NULL,
			finished_at     INTEGER NOT NULL,
			symbols         INTEGER NOT NULL,
			results         INTEGER NOT NULL,
			signals         INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS signal_results (
			scan_id         TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			position        INTEGER NOT NULL,
			symbol          TEXT NOT NULL,
			strategy        TEXT NOT NULL,
			price           REAL NOT NULL,
			alpha_status    TEXT NOT NULL,
			gap_pct         REAL NOT NULL,
			stoploss        REAL NOT NULL,
			recommendation  TEXT NOT NULL,
			adx             REAL NOT NULL,
			mfi             REAL NOT NULL,
			rsi             REAL NOT NULL,
			alpha_trend     REAL NOT NULL,
			flow_state      TEXT NOT NULL,
			mf_signal       TEXT NOT NULL,
			params          TEXT,
			bar_date        INTEGER NOT NULL,
			evaluated_at    INTEGER NOT NULL,
			PRIMARY KEY (scan_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS scan_skips (
			scan_id         TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			symbol          TEXT NOT NULL,
			reason          TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_finished_at ON scans(finished_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_results_symbol ON signal_results(symbol)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// LoadBars returns cached bars for (symbol, period) no older than maxAge.
// A miss is reported as ok=false with a nil error.
func (s *Storage) LoadBars(ctx context.Context, symbol, period string, maxAge time.Duration) ([]models.Bar, bool, error) {
	var (
		raw          string
		fetchedNanos int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT bars, fetched_at FROM bar_cache WHERE symbol = ? AND period = ?`,
		symbol, period,
	).Scan(&raw, &fetchedNanos)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load cached bars: %w", err)
	}
	if s.now().Sub(time.Unix(0, fetchedNanos)) > maxAge {
		return nil, false, nil
	}
	var bars []models.Bar
	if err := json.Unmarshal([]byte(raw), &bars); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached bars: %w", err)
	}
	return bars, true, nil
}

// SaveBars replaces the cached bars for (symbol, period).
func (s *Storage) SaveBars(ctx context.Context, symbol, period string, bars []models.Bar) error {
	raw, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("failed to encode bars: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO bar_cache (symbol, period, bars, fetched_at)
		VALUES (?,?,?,?)`,
		symbol, period, string(raw), s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save bars: %w", err)
	}
	return nil
}

// PurgeBars drops cache entries older than maxAge and returns how many went.
func (s *Storage) PurgeBars(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM bar_cache WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge bar cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SaveScan persists a completed scan with its ordered results and skips,
// then enforces the scan cap.
func (s *Storage) SaveScan(ctx context.Context, summary models.ScanSummary, results []models.SignalResult, skips []models.Skip) error {
	if summary.ID == "" {
		return fmt.Errorf("invalid scan: missing id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scans
			(id, mode, strategy, started_at, finished_at, symbols, results, signals)
		VALUES (?,?,?,?,?,?,?,?)`,
		summary.ID, string(summary.Mode), string(summary.Strategy),
		summary.StartedAt.UnixNano(), summary.FinishedAt.UnixNano(),
		summary.Symbols, summary.Results, summary.Signals,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}

	for i, r := range results {
		var params sql.NullString
		if r.Params != nil {
			raw, err := json.Marshal(r.Params)
			if err != nil {
				return fmt.Errorf("failed to encode params for %s: %w", r.Symbol, err)
			}
			params = sql.NullString{String: string(raw), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO signal_results
				(scan_id, position, symbol, strategy, price, alpha_status, gap_pct,
				 stoploss, recommendation, adx, mfi, rsi, alpha_trend, flow_state,
				 mf_signal, params, bar_date, evaluated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			summary.ID, i, r.Symbol, string(r.Strategy), r.Price, string(r.AlphaStatus), r.GapPct,
			r.Stoploss, string(r.Recommendation), r.ADX, r.MFI, r.RSI, r.AlphaTrend,
			string(r.FlowState), string(r.MFSignal), params,
			r.BarDate.UnixNano(), r.EvaluatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result %s: %w", r.Symbol, err)
		}
	}

	for _, sk := range skips {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO scan_skips (scan_id, symbol, reason) VALUES (?,?,?)`,
			summary.ID, sk.Symbol, sk.Reason,
		); err != nil {
			return fmt.Errorf("failed to insert skip %s: %w", sk.Symbol, err)
		}
	}

	if err := rotateScans(ctx, tx, s.maxScans); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentScans returns up to limit scan summaries, newest first.
func (s *Storage) RecentScans(ctx context.Context, limit int) ([]models.ScanSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, strategy, started_at, finished_at, symbols, results, signals
		FROM scans ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	scans := []models.ScanSummary{}
	for rows.Next() {
		sc, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, sc)
	}
	return scans, rows.Err()
}

// GetScan returns the summary of one stored scan.
func (s *Storage) GetScan(ctx context.Context, scanID string) (models.ScanSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mode, strategy, started_at, finished_at, symbols, results, signals
		FROM scans WHERE id = ?`, scanID)
	sc, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ScanSummary{}, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	return sc, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (models.ScanSummary, error) {
	var (
		sc                  models.ScanSummary
		mode, strategy      string
		startedAt, finished int64
	)
	if err := row.Scan(&sc.ID, &mode, &strategy, &startedAt, &finished,
		&sc.Symbols, &sc.Results, &sc.Signals); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sc, err
		}
		return sc, fmt.Errorf("failed to scan scan row: %w", err)
	}
	sc.Mode = models.WatchlistMode(mode)
	sc.Strategy = models.Strategy(strategy)
	sc.StartedAt = time.Unix(0, startedAt)
	sc.FinishedAt = time.Unix(0, finished)
	return sc, nil
}

// ScanResults returns the stored results of a scan in watchlist order.
func (s *Storage) ScanResults(ctx context.Context, scanID string) ([]models.SignalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, strategy, price, alpha_status, gap_pct, stoploss,
		       recommendation, adx, mfi, rsi, alpha_trend, flow_state, mf_signal,
		       params, bar_date, evaluated_at
		FROM signal_results WHERE scan_id = ? ORDER BY position`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	results := []models.SignalResult{}
	for rows.Next() {
		var (
			r                                models.SignalResult
			strategy, status, rec, flow, sig string
			params                           sql.NullString
			barDate, evaluatedAt             int64
		)
		err := rows.Scan(&r.Symbol, &strategy, &r.Price, &status, &r.GapPct, &r.Stoploss,
			&rec, &r.ADX, &r.MFI, &r.RSI, &r.AlphaTrend, &flow, &sig,
			&params, &barDate, &evaluatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if params.Valid {
			var p models.OptimizationParams
			if err := json.Unmarshal([]byte(params.String), &p); err != nil {
				return nil, fmt.Errorf("failed to decode params for %s: %w", r.Symbol, err)
			}
			r.Params = &p
		}
		r.ScanID = scanID
		r.Strategy = models.Strategy(strategy)
		r.AlphaStatus = models.AlphaStatus(status)
		r.Recommendation = models.Recommendation(rec)
		r.FlowState = models.FlowState(flow)
		r.MFSignal = models.MFSignal(sig)
		r.BarDate = time.Unix(0, barDate).UTC()
		r.EvaluatedAt = time.Unix(0, evaluatedAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

// ScanSkips returns the symbols a scan skipped and why.
func (s *Storage) ScanSkips(ctx context.Context, scanID string) ([]models.Skip, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, reason FROM scan_skips WHERE scan_id = ? ORDER BY rowid`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query skips: %w", err)
	}
	defer rows.Close()

	skips := []models.Skip{}
	for rows.Next() {
		var sk models.Skip
		if err := rows.Scan(&sk.Symbol, &sk.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan skip: %w", err)
		}
		skips = append(skips, sk)
	}
	return skips, rows.Err()
}

// RotateScans keeps at most maxScans newest scans by finished_at.
// Cascading deletes remove their results and skips.
func (s *Storage) RotateScans(ctx context.Context) error {
	return rotateScans(ctx, s.db, s.maxScans)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func rotateScans(ctx context.Context, db execer, maxScans int) error {
	if maxScans <= 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		DELETE FROM scans WHERE id NOT IN (
			SELECT id FROM scans ORDER BY finished_at DESC LIMIT ?
		)`, maxScans)
	if err != nil {
		return fmt.Errorf("failed to rotate scans: %w", err)
	}
	return nil
}
