// Package telegram provides a client for sending scan notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/mftrend/internal/logger"
	"github.com/rewired-gh/mftrend/internal/models"
	"github.com/rewired-gh/mftrend/internal/report"
)

// Commands wires bot commands to the application. Nil fields disable the
// matching command.
type Commands struct {
	// Scan starts a scan of the given watchlist mode.
	Scan func(mode models.WatchlistMode) error
	// Signals returns the buy signals of the latest scan.
	Signals func() []models.SignalResult
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	commands       Commands
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, commands Commands) {
	c.commands = commands
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "scan":
		text = c.runScanCommand(msg.CommandArguments())
	case "signals":
		if c.commands.Signals == nil {
			return
		}
		text = formatSignals(c.commands.Signals(), time.Now())
		reply := tgbotapi.NewMessage(msg.Chat.ID, text)
		reply.ParseMode = "MarkdownV2"
		c.bot.Send(reply) //nolint:errcheck
		return
	default:
		return
	}
	c.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, text)) //nolint:errcheck
}

func (c *Client) runScanCommand(args string) string {
	if c.commands.Scan == nil {
		return "Scanning is not available"
	}
	mode := models.ModePersonal
	if arg := strings.TrimSpace(args); arg != "" {
		m, ok := models.ParseWatchlistMode(strings.ToLower(arg))
		if !ok {
			return fmt.Sprintf("Unknown watchlist %q, use personal or market", arg)
		}
		mode = m
	}
	if err := c.commands.Scan(mode); err != nil {
		logger.Warn("Scan command failed: %v", err)
		return "Scan not started: " + err.Error()
	}
	return fmt.Sprintf("Scan of %s watchlist started", mode)
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a scan error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(scanErr error) error {
	text := fmt.Sprintf("⚠️ *Scan error*\n`%s`", escapeMarkdownV2(scanErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Scanning recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendSignals sends the buy signals of a scan. An empty list sends nothing.
func (c *Client) SendSignals(results []models.SignalResult, at time.Time) error {
	if len(results) == 0 {
		return nil
	}
	return c.sendMarkdownV2(formatSignals(results, at))
}

// formatSignals formats buy signals into a Telegram MarkdownV2 message.
func formatSignals(results []models.SignalResult, at time.Time) string {
	var b strings.Builder
	b.WriteString("🔥 *MF\\-Trend signals*\n")
	b.WriteString(fmt.Sprintf("📅 %s\n\n", escapeMarkdownV2(at.Format("2006-01-02 15:04"))))

	if len(results) == 0 {
		b.WriteString("No buy signals\n")
		return b.String()
	}

	for i, r := range results {
		rec := "🎖️ enter"
		if r.Recommendation != models.RecommendEnter {
			rec = "❌ broken trend"
		}
		b.WriteString(fmt.Sprintf("%d\\. *%s* %s  %s\n", i+1,
			escapeMarkdownV2(r.Symbol),
			escapeMarkdownV2(report.FormatPrice(r.Price)),
			escapeMarkdownV2(string(r.MFSignal))))
		b.WriteString(fmt.Sprintf("   %s \\| gap %s \\| SL %s\n",
			escapeMarkdownV2(rec),
			escapeMarkdownV2(fmt.Sprintf("%+.1f%%", r.GapPct)),
			escapeMarkdownV2(report.FormatPrice(r.Stoploss))))
		b.WriteString(fmt.Sprintf("   ADX %s · MFI %s · RSI %s\n",
			escapeMarkdownV2(fmt.Sprintf("%.1f", r.ADX)),
			escapeMarkdownV2(fmt.Sprintf("%.1f", r.MFI)),
			escapeMarkdownV2(fmt.Sprintf("%.1f", r.RSI))))
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
