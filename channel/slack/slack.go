// Package slack provides a Slack transport for counsel using Socket Mode.
//
// Socket Mode connects to Slack via WebSocket, so no public URL is needed.
// Each thread that @mentions the bot is one session: counselor turns are
// posted as thread replies and the transcript is uploaded when it ends.
package slack

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/holdhq/counsel/channel"
	"github.com/holdhq/counsel/model"
)

// Bot is the Slack Socket Mode bot for counsel.
type Bot struct {
	api          *slack.Client
	socketClient *socketmode.Client
	router       *channel.Router
}

var _ channel.Channel = (*Bot)(nil)

// NewBot creates a new Slack Socket Mode bot.
func NewBot(botToken, appToken string, router *channel.Router) *Bot {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(log.New(log.Writer(), "slack-socketmode: ", log.LstdFlags)),
	)

	return &Bot{
		api:          api,
		socketClient: socketClient,
		router:       router,
	}
}

// Name implements channel.Channel.
func (b *Bot) Name() string { return "slack" }

// Run connects to Slack via Socket Mode and processes events.
// It blocks until the context is canceled or a fatal error occurs.
func (b *Bot) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	log.Println("Slack bot connecting via Socket Mode...")
	return b.socketClient.RunContext(ctx)
}

func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, evt)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("Slack: connecting...")
	case socketmode.EventTypeConnected:
		log.Println("Slack: connected")
	case socketmode.EventTypeConnectionError:
		log.Println("Slack: connection error, will retry...")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Slack requires an ack within 3 seconds.
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.AppMentionEvent); ok {
				go b.handleMention(ctx, ev)
			}
		}
	case socketmode.EventTypeInteractive:
		b.socketClient.Ack(*evt.Request)
	}
}

func (b *Bot) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	threadTS := ev.TimeStamp
	if ev.ThreadTimeStamp != "" {
		threadTS = ev.ThreadTimeStamp
	}
	text := stripMention(ev.Text)
	if text == "" {
		b.postThread(ev.Channel, threadTS, "```\n"+channel.HelpText+"\n```")
		return
	}

	replies, err := b.router.Handle(ctx, conversationKey(ev.Channel, threadTS), text)
	if err != nil {
		log.Printf("Slack: %q in %s: %v", model.Truncate(text, 60), ev.Channel, err)
	}
	for _, r := range replies {
		b.post(ev.Channel, threadTS, r)
	}
}

func (b *Bot) post(channelID, threadTS string, r channel.Reply) {
	switch {
	case r.Summary != nil:
		b.postSummary(channelID, threadTS, r.SessionID, r.Summary)
		if r.Transcript != "" {
			b.uploadTranscript(channelID, threadTS, r.SessionID, r.Transcript)
		}
	case r.Speaker != "":
		b.postThread(channelID, threadTS, formatTurn(r))
	default:
		b.postThread(channelID, threadTS, r.Text)
	}
}

// uploadTranscript uploads the full session transcript to the thread.
func (b *Bot) uploadTranscript(channelID, threadTS, sessionID, transcript string) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Counsel Session Transcript: %s\n", sessionID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n", time.Now().UTC().Format(time.RFC3339)))
	sb.WriteString(strings.Repeat("=", 60))
	sb.WriteString("\n\n")
	sb.WriteString(transcript)
	content := sb.String()

	_, err := b.api.UploadFileV2(slack.UploadFileV2Parameters{
		Content:         content,
		Filename:        fmt.Sprintf("counsel-session-%s.txt", sessionID),
		FileSize:        len(content),
		Title:           fmt.Sprintf("Transcript - Session %s", sessionID),
		Channel:         channelID,
		ThreadTimestamp: threadTS,
	})
	if err != nil {
		log.Printf("Slack: failed to upload transcript for session %s: %v", sessionID, err)
		truncated := content
		if len(truncated) > 3000 {
			truncated = "...(truncated)...\n" + truncated[len(truncated)-3000:]
		}
		b.postThread(channelID, threadTS, fmt.Sprintf("*Transcript (truncated):*\n```\n%s\n```", truncated))
	}
}

// postSummary posts the extracted decisions as a Block Kit message.
func (b *Bot) postSummary(channelID, threadTS, sessionID string, sum *model.Summary) {
	_, _, err := b.api.PostMessage(channelID,
		slack.MsgOptionBlocks(summaryBlocks(sessionID, sum)...),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("Slack: failed to post summary: %v", err)
		b.postThread(channelID, threadTS, channel.FormatSummary(sum))
	}
}

func summaryBlocks(sessionID string, sum *model.Summary) []slack.Block {
	header := ":white_check_mark: *Session closed*\n" + sum.Text
	if sum.Degraded {
		header = ":warning: *Session closed* (decisions could not be extracted)\n" + sum.Text
	}
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, header, false, false), nil, nil),
	}
	if len(sum.Decisions) > 0 {
		var sb strings.Builder
		for i, d := range sum.Decisions {
			mark := ":hourglass:"
			if d.Status == model.DecisionTaken {
				mark = ":heavy_check_mark:"
			}
			fmt.Fprintf(&sb, "%d. %s %s", i+1, mark, d.Text)
			if d.Context != "" {
				fmt.Fprintf(&sb, "\n    _%s_", d.Context)
			}
			sb.WriteString("\n")
		}
		blocks = append(blocks,
			slack.NewDividerBlock(),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, strings.TrimSuffix(sb.String(), "\n"), false, false), nil, nil),
		)
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("Session `%s` | %d decisions", sessionID, len(sum.Decisions)), false, false),
	))
	return blocks
}

func (b *Bot) postThread(channelID, threadTS, text string) {
	_, _, err := b.api.PostMessage(channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("Slack: failed to post message to %s: %v", channelID, err)
	}
}

var mentionRe = regexp.MustCompile(`<@[A-Z0-9]+>`)

// stripMention removes bot mentions (<@U12345>) from the text.
func stripMention(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}

func conversationKey(channelID, threadTS string) string {
	return "slack:" + channelID + ":" + threadTS
}

func formatTurn(r channel.Reply) string {
	return fmt.Sprintf("*%s*\n%s", r.Speaker, r.Text)
}
