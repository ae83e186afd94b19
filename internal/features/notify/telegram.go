package notify

// Run summary delivery to a Telegram chat.

import (
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	logging "holders-snapshot/internal/infra/log"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	bot    Sender
	chatID int64
}

// NewTelegram logs the bot in. It fails when the token is rejected.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logging.LogInfo("Telegram bot authorized", zap.String("username", bot.Self.UserName))
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func NewTelegramWithSender(bot Sender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

// Summary is what a run reports.
type Summary struct {
	Stage         string
	Token         string
	Proposal      string
	Space         string
	FromBlock     uint64
	ToBlock       uint64
	Holders       int
	SkippedChunks []string // "from-to"
	Malformed     int
	VotersQueried int
	Fallbacks     int
	TotalPower    string
	Top           []TopEntry
}

type TopEntry struct {
	Address string
	Value   string
}

// Format renders s as Telegram HTML.
func (s Summary) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Holders snapshot: %s</b>\n\n", html.EscapeString(s.Stage))
	b.WriteString("<blockquote>")
	if s.Token != "" {
		fmt.Fprintf(&b, "Token: <code>%s</code>\n", html.EscapeString(s.Token))
	}
	if s.ToBlock > 0 {
		fmt.Fprintf(&b, "Blocks: %d – %d\n", s.FromBlock, s.ToBlock)
	}
	if s.Proposal != "" {
		fmt.Fprintf(&b, "Proposal: <code>%s</code>\n", html.EscapeString(s.Proposal))
	}
	if s.Space != "" {
		fmt.Fprintf(&b, "Space: %s\n", html.EscapeString(s.Space))
	}
	fmt.Fprintf(&b, "Holders: %d", s.Holders)
	if s.Malformed > 0 {
		fmt.Fprintf(&b, "\nMalformed logs: %d", s.Malformed)
	}
	if s.VotersQueried > 0 {
		fmt.Fprintf(&b, "\nVoters queried: %d (fallbacks: %d)", s.VotersQueried, s.Fallbacks)
		if s.TotalPower != "" {
			fmt.Fprintf(&b, "\nTotal voting power: %s", html.EscapeString(s.TotalPower))
		}
	}
	b.WriteString("</blockquote>")

	if len(s.SkippedChunks) > 0 {
		fmt.Fprintf(&b, "\n\n⚠ Skipped chunks (%d): %s", len(s.SkippedChunks), html.EscapeString(strings.Join(s.SkippedChunks, ", ")))
	}

	if len(s.Top) > 0 {
		b.WriteString("\n\nTop:\n")
		for i, e := range s.Top {
			fmt.Fprintf(&b, "%d. <code>%s</code> %s\n", i+1, html.EscapeString(e.Address), html.EscapeString(e.Value))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// SendSummary posts the summary, attaching chart as a photo when given.
// Telegram caps captions at 1024 characters, so a long summary goes as its own message.
func (t *Telegram) SendSummary(s Summary, chart []byte) error {
	text := s.Format()

	if len(chart) > 0 {
		photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FileBytes{Name: "holders_chart.png", Bytes: chart})
		if len([]rune(text)) <= 1024 {
			photo.Caption = text
			photo.ParseMode = tgbotapi.ModeHTML
			if _, err := t.bot.Send(photo); err != nil {
				return fmt.Errorf("failed to send summary chart: %w", err)
			}
			logging.LogInfo("Sent summary with chart", zap.Int64("chat_id", t.chatID))
			return nil
		}
		if _, err := t.bot.Send(photo); err != nil {
			return fmt.Errorf("failed to send summary chart: %w", err)
		}
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send summary: %w", err)
	}
	logging.LogInfo("Sent summary", zap.Int64("chat_id", t.chatID))
	return nil
}
