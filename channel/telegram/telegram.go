// Package telegram provides a Telegram transport for counsel.
//
// Uses long polling, so no public URL or webhook is needed. Each chat is one
// session at a time.
package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/holdhq/counsel/channel"
	"github.com/holdhq/counsel/model"
)

// maxMessageLen is Telegram's limit on a single text message.
const maxMessageLen = 4096

// Bot is the Telegram bot for counsel.
type Bot struct {
	api    *tgbotapi.BotAPI
	router *channel.Router
}

var _ channel.Channel = (*Bot)(nil)

// NewBot creates a new Telegram bot.
func NewBot(token string, router *channel.Router) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}

	log.Printf("Telegram bot authorized as @%s", api.Self.UserName)

	return &Bot{api: api, router: router}, nil
}

// Name implements channel.Channel.
func (b *Bot) Name() string { return "telegram" }

// Run starts the long-polling loop. Blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	log.Println("Telegram bot listening for messages...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				go b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	chatID := msg.Chat.ID
	replyTo := msg.MessageID

	// Telegram clients send /start when a chat is opened.
	if text == "/start" {
		text = "help"
	}

	replies, err := b.router.Handle(ctx, conversationKey(chatID), text)
	if err != nil {
		log.Printf("Telegram: %q in chat %d: %v", model.Truncate(text, 60), chatID, err)
	}
	for _, r := range replies {
		b.post(chatID, replyTo, r)
	}
}

func (b *Bot) post(chatID int64, replyTo int, r channel.Reply) {
	switch {
	case r.Summary != nil:
		b.sendReply(chatID, replyTo, formatSummary(r.Summary))
		if r.Transcript != "" {
			b.uploadTranscript(chatID, replyTo, r.SessionID, r.Transcript)
		}
	case r.Speaker != "":
		b.sendReply(chatID, replyTo, formatTurn(r))
	default:
		b.sendReply(chatID, replyTo, escapeMarkdown(r.Text))
	}
}

// uploadTranscript sends the full session transcript as a document.
func (b *Bot) uploadTranscript(chatID int64, replyTo int, sessionID, transcript string) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Counsel Session Transcript: %s\n", sessionID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n", time.Now().UTC().Format(time.RFC3339)))
	sb.WriteString(strings.Repeat("=", 60))
	sb.WriteString("\n\n")
	sb.WriteString(transcript)
	content := sb.String()

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("counsel-session-%s.txt", sessionID),
		Bytes: []byte(content),
	})
	doc.ReplyToMessageID = replyTo
	doc.Caption = fmt.Sprintf("Transcript for session %s", sessionID)

	if _, err := b.api.Send(doc); err != nil {
		log.Printf("Telegram: failed to upload transcript: %v", err)
		truncated := content
		if len(truncated) > 3500 {
			truncated = "...(truncated)...\n" + truncated[len(truncated)-3500:]
		}
		b.sendReply(chatID, replyTo,
			fmt.Sprintf("*Transcript \\(truncated\\):*\n```\n%s\n```", escapeMarkdown(truncated)))
	}
}

// sendReply sends a MarkdownV2 message as a reply, splitting long text.
func (b *Bot) sendReply(chatID int64, replyTo int, text string) {
	for _, part := range split(text, maxMessageLen) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ReplyToMessageID = replyTo
		msg.ParseMode = "MarkdownV2"

		if _, err := b.api.Send(msg); err != nil {
			log.Printf("Telegram: failed to send message: %v", err)
			// Retry without markdown in case of parse errors.
			msg.ParseMode = ""
			msg.Text = stripMarkdown(part)
			b.api.Send(msg)
		}
	}
}

func conversationKey(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

func formatTurn(r channel.Reply) string {
	return fmt.Sprintf("*%s*\n%s", escapeMarkdown(r.Speaker), escapeMarkdown(r.Text))
}

func formatSummary(sum *model.Summary) string {
	var sb strings.Builder
	if sum.Degraded {
		sb.WriteString("⚠ *Session closed* \\(decisions could not be extracted\\)\n\n")
	} else {
		sb.WriteString("✅ *Session closed*\n\n")
	}
	sb.WriteString(escapeMarkdown(sum.Text))
	for i, d := range sum.Decisions {
		fmt.Fprintf(&sb, "\n%d\\. %s \\[%s\\]", i+1, escapeMarkdown(d.Text), d.Status)
	}
	return sb.String()
}

// split cuts s into chunks of at most n bytes, preferring line breaks and
// never cutting inside an escape sequence.
func split(s string, n int) []string {
	var parts []string
	for len(s) > n {
		cut := strings.LastIndex(s[:n], "\n")
		if cut <= 0 {
			cut = n
			for cut > 0 && s[cut-1] == '\\' {
				cut--
			}
			if cut == 0 {
				cut = n
			}
		}
		parts = append(parts, s[:cut])
		s = strings.TrimPrefix(s[cut:], "\n")
	}
	return append(parts, s)
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"(", "\\(",
		")", "\\)",
		"~", "\\~",
		"`", "\\`",
		">", "\\>",
		"#", "\\#",
		"+", "\\+",
		"-", "\\-",
		"=", "\\=",
		"|", "\\|",
		"{", "\\{",
		"}", "\\}",
		".", "\\.",
		"!", "\\!",
	)
	return replacer.Replace(s)
}

// stripMarkdown removes MarkdownV2 escape sequences for plain text fallback.
func stripMarkdown(s string) string {
	r := strings.NewReplacer(
		"\\*", "*",
		"\\_", "_",
		"\\[", "[",
		"\\]", "]",
		"\\(", "(",
		"\\)", ")",
		"\\~", "~",
		"\\`", "`",
		"\\>", ">",
		"\\#", "#",
		"\\+", "+",
		"\\-", "-",
		"\\=", "=",
		"\\|", "|",
		"\\{", "{",
		"\\}", "}",
		"\\.", ".",
		"\\!", "!",
	)
	return r.Replace(s)
}
