// Package marketdata fetches daily bars from a Yahoo-chart-compatible
// endpoint and fronts it with a TTL cache.
package marketdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rewired-gh/mftrend/internal/logger"
	"github.com/rewired-gh/mftrend/internal/models"
)

type Config struct {
	BaseURL      string
	Suffix       string
	Timeout      time.Duration
	RequestGap   time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	UserAgent    string
}

func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://query1.finance.yahoo.com",
		Suffix:       ".VN",
		Timeout:      15 * time.Second,
		RequestGap:   500 * time.Millisecond,
		MaxRetries:   3,
		RetryBackoff: time.Second,
		UserAgent:    "Mozilla/5.0 (compatible; mftrend/1.0)",
	}
}

// Client fetches bars over HTTP. Requests from all goroutines share one
// pacing schedule.
type Client struct {
	config     Config
	httpClient *http.Client

	paceMu   sync.Mutex
	nextSlot time.Time
}

func NewClient(config Config) *Client {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// FetchBars returns daily bars for symbol over period (a range token such as
// "8mo" or "1y"). An unknown symbol or an empty chart yields no bars and no
// error.
func (c *Client) FetchBars(ctx context.Context, symbol, period string) ([]models.Bar, error) {
	u, err := url.Parse(c.config.BaseURL + "/v8/finance/chart/" + url.PathEscape(symbol+c.config.Suffix))
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("range", period)
	q.Set("interval", "1d")
	q.Set("events", "div,splits")
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", symbol, err)
	}

	if resp.StatusCode != http.StatusOK {
		code := gjson.GetBytes(body, "chart.error.code").String()
		if resp.StatusCode == http.StatusNotFound || code == "Not Found" {
			logger.Debug("No chart data for %s: %s", symbol, gjson.GetBytes(body, "chart.error.description").String())
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, symbol)
	}
	return parseChart(body)
}

func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.config.MaxRetries; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, time.Duration(i)*c.config.RetryBackoff); err != nil {
				return nil, err
			}
		}
		if err := c.pace(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.config.UserAgent != "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// pace reserves the next request slot and waits for it.
func (c *Client) pace(ctx context.Context) error {
	if c.config.RequestGap <= 0 {
		return nil
	}
	c.paceMu.Lock()
	now := time.Now()
	slot := c.nextSlot
	if slot.Before(now) {
		slot = now
	}
	c.nextSlot = slot.Add(c.config.RequestGap)
	c.paceMu.Unlock()

	return sleepCtx(ctx, time.Until(slot))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseChart converts a chart response into bars. Rows with a missing price
// are dropped. When adjusted closes are present, open, high and low are
// scaled by adjclose/close and close is replaced by adjclose. A repeated
// trading date keeps the later row.
func parseChart(body []byte) ([]models.Bar, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid chart json")
	}
	if msg := gjson.GetBytes(body, "chart.error.description"); msg.Exists() && msg.String() != "" {
		return nil, fmt.Errorf("chart error: %s", msg.String())
	}
	result := gjson.GetBytes(body, "chart.result.0")
	if !result.Exists() {
		return nil, nil
	}

	offset := time.Duration(result.Get("meta.gmtoffset").Int()) * time.Second
	stamps := result.Get("timestamp").Array()
	quote := result.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	volumes := quote.Get("volume").Array()
	adj := result.Get("indicators.adjclose.0.adjclose").Array()

	bars := make([]models.Bar, 0, len(stamps))
	for i, ts := range stamps {
		o, okO := floatAt(opens, i)
		h, okH := floatAt(highs, i)
		l, okL := floatAt(lows, i)
		cl, okC := floatAt(closes, i)
		if !okO || !okH || !okL || !okC {
			continue
		}
		v, _ := floatAt(volumes, i)

		if a, ok := floatAt(adj, i); ok && cl != 0 {
			ratio := a / cl
			o, h, l, cl = o*ratio, h*ratio, l*ratio, a
		}

		local := time.Unix(ts.Int(), 0).Add(offset).UTC()
		bar := models.Bar{
			Date:   time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  cl,
			Volume: v,
		}
		if err := bar.Validate(); err != nil {
			logger.Debug("Dropping bar %s: %v", bar.Date.Format("2006-01-02"), err)
			continue
		}
		if n := len(bars); n > 0 && !bars[n-1].Date.Before(bar.Date) {
			if bars[n-1].Date.Equal(bar.Date) {
				bars[n-1] = bar
			}
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func floatAt(values []gjson.Result, i int) (float64, bool) {
	if i >= len(values) {
		return 0, false
	}
	v := values[i]
	if v.Type != gjson.Number {
		return 0, false
	}
	return v.Float(), true
}
