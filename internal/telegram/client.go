// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rewired-gh/evforecast/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration

	nameA, nameB string
	latestRun    func() (*models.RunSummary, error)
	runByID      func(id string) (*models.RunSummary, error)
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
		nameA:          "A",
		nameB:          "B",
	}, nil
}

// SetCandidates sets the display names used in forecast messages.
func (c *Client) SetCandidates(nameA, nameB string) {
	c.nameA, c.nameB = nameA, nameB
}

// SetLatestRun registers the lookup answering the /forecast command.
func (c *Client) SetLatestRun(fn func() (*models.RunSummary, error)) {
	c.latestRun = fn
}

// SetRunLookup registers the lookup answering /forecast <id>.
func (c *Client) SetRunLookup(fn func(id string) (*models.RunSummary, error)) {
	c.runByID = fn
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
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
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "forecast":
		reply := tgbotapi.NewMessage(msg.Chat.ID, c.forecastReply(msg.CommandArguments()))
		reply.ParseMode = "MarkdownV2"
		c.bot.Send(reply) //nolint:errcheck
	}
}

// forecastReply answers /forecast with the latest run, or with the run
// named by the command argument.
func (c *Client) forecastReply(arg string) string {
	if id := strings.TrimSpace(arg); id != "" {
		if c.runByID == nil {
			return "Run lookup is not available"
		}
		run, err := c.runByID(id)
		if err != nil || run == nil {
			return escapeMarkdownV2(fmt.Sprintf("No run with id %s", id))
		}
		return c.formatRun(run)
	}
	if c.latestRun != nil {
		if run, err := c.latestRun(); err == nil && run != nil {
			return c.formatRun(run)
		}
	}
	return "No forecast yet"
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

// SendError sends a forecast cycle error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Forecast error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Forecast recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendForecast sends the result of a forecast run.
func (c *Client) SendForecast(run *models.RunSummary) error {
	return c.sendMarkdownV2(c.formatRun(run))
}

// formatRun formats a run summary as a Telegram MarkdownV2 message.
func (c *Client) formatRun(run *models.RunSummary) string {
	return formatRun(run, c.nameA, c.nameB)
}

func formatRun(run *models.RunSummary, nameA, nameB string) string {
	p := message.NewPrinter(language.English)
	s := run.Summary

	var b strings.Builder
	b.WriteString("🗳 *Election forecast*\n\n")
	if !run.StartedAt.IsZero() {
		b.WriteString(fmt.Sprintf("📅 Run: %s\n\n", escapeMarkdownV2(run.StartedAt.Format("2006-01-02 15:04:05"))))
	}

	line := func(label string, count int) {
		pct := 0.0
		if s.Total() > 0 {
			pct = float64(count) / float64(s.Total()) * 100
		}
		b.WriteString(fmt.Sprintf("%s: *%s* \\(%s\\)\n",
			escapeMarkdownV2(label),
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", pct)),
			escapeMarkdownV2(p.Sprintf("%d", count))))
	}
	line(nameA, s.A)
	line(nameB, s.B)
	line("No majority", s.Ties)

	b.WriteString(fmt.Sprintf("\n📊 %s electoral votes: %s\n",
		escapeMarkdownV2(nameA),
		escapeMarkdownV2(fmt.Sprintf("%.1f ± %.1f", run.MeanVotesA, run.StdDevVotesA))))
	b.WriteString(escapeMarkdownV2(p.Sprintf("%d trials, seed %s", run.Trials, strconv.FormatUint(run.Seed, 10))))
	b.WriteString("\n")

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
