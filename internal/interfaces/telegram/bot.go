package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/bsrbot/bsr/internal/application/usecase"
	"github.com/bsrbot/bsr/internal/infrastructure/config"
	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
	syncsvc "github.com/bsrbot/bsr/internal/sync"
	"github.com/bsrbot/bsr/pkg/safego"
)

// Bot is the Telegram ingress: it accepts URLs, runs them through the
// summarizer and replies with the stored summary. Sync can be triggered
// with commands.
type Bot struct {
	api        *tgbotapi.BotAPI
	allow      map[int64]bool
	summarizer *usecase.Summarizer
	sync       *syncsvc.Service
	logger     *zap.Logger
}

// NewBot connects to the Telegram API.
func NewBot(cfg config.TelegramConfig, summarizer *usecase.Summarizer, syncService *syncsvc.Service, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}

	allow := make(map[int64]bool, len(cfg.AllowIDs))
	for _, id := range cfg.AllowIDs {
		allow[id] = true
	}

	return &Bot{
		api:        api,
		allow:      allow,
		summarizer: summarizer,
		sync:       syncService,
		logger:     logger.With(zap.String("component", "telegram")),
	}, nil
}

// Start long-polls for updates until the context is cancelled.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("telegram bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			msg := update.Message
			if len(b.allow) > 0 && !b.allow[msg.From.ID] {
				b.logger.Warn("rejected message from unknown user", zap.Int64("user_id", msg.From.ID))
				continue
			}
			safego.Go(b.logger, "telegram-message", func() {
				b.handleMessage(ctx, msg)
			})
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	switch {
	case text == "/start":
		b.reply(msg, "Send me a link and I will summarize it. /sync pushes summaries to your bookmarks, /status shows sync state.")
	case text == "/sync":
		b.handleSync(ctx, msg)
	case text == "/status":
		b.handleStatus(ctx, msg)
	case strings.HasPrefix(text, "http://"), strings.HasPrefix(text, "https://"):
		b.handleURL(ctx, msg, text)
	default:
		b.reply(msg, "That does not look like a link. Send a URL to summarize.")
	}
}

func (b *Bot) handleURL(ctx context.Context, msg *tgbotapi.Message, url string) {
	b.reply(msg, "Working on it...")

	outcome, err := b.summarizer.SummarizeURL(ctx, url, msg.From.ID)
	if err != nil {
		b.logger.Warn("summarization failed", zap.String("url", url), zap.Error(err))
		b.reply(msg, "Could not summarize that link: "+err.Error())
		return
	}
	b.reply(msg, formatSummary(outcome))
}

func (b *Bot) handleSync(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	full := b.sync.RunFullSync(ctx, &userID, 0, false)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Sync finished.\nPushed: %d (skipped %d)\n",
		full.Outbound.Synced, full.Outbound.TotalSkipped())
	if !full.Inbound.Skipped {
		fmt.Fprintf(&sb, "Imported: %d (skipped %d)\n",
			full.Inbound.Synced, full.Inbound.TotalSkipped())
	}
	if n := len(full.Outbound.Errors) + len(full.Inbound.Errors); n > 0 {
		fmt.Fprintf(&sb, "Errors: %d\n", n)
	}
	b.reply(msg, sb.String())
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	stats, err := b.sync.GetSyncStatus(ctx)
	if err != nil {
		b.reply(msg, "Could not load sync status: "+err.Error())
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Synced items: %d\n", stats.Total)
	for direction, n := range stats.ByDirection {
		fmt.Fprintf(&sb, "  %s: %d\n", direction, n)
	}
	if stats.LastSyncedAt != nil {
		fmt.Fprintf(&sb, "Last sync: %s\n", stats.LastSyncedAt.Format("2006-01-02 15:04 MST"))
	}
	b.reply(msg, sb.String())
}

func formatSummary(outcome *usecase.Outcome) string {
	payload := parseSummaryFields(outcome.Payload)

	var sb strings.Builder
	if outcome.Title != "" {
		sb.WriteString(outcome.Title + "\n\n")
	}
	if payload.tldr != "" {
		sb.WriteString(payload.tldr + "\n\n")
	}
	if payload.summary != "" {
		sb.WriteString(payload.summary)
	}
	if outcome.Cached {
		sb.WriteString("\n\n(from cache)")
	}
	if sb.Len() == 0 {
		return outcome.Payload
	}
	return strings.TrimSpace(sb.String())
}

type summaryFields struct {
	tldr    string
	summary string
}

func parseSummaryFields(payload string) summaryFields {
	var parsed struct {
		TLDR        string `json:"tldr"`
		Summary1000 string `json:"summary_1000"`
		Summary250  string `json:"summary_250"`
	}
	if err := jsonx.Unmarshal([]byte(payload), &parsed); err != nil {
		return summaryFields{}
	}
	out := summaryFields{tldr: parsed.TLDR, summary: parsed.Summary1000}
	if out.summary == "" {
		out.summary = parsed.Summary250
	}
	return out
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(reply); err != nil {
		b.logger.Warn("failed to send reply", zap.Error(err))
	}
}
