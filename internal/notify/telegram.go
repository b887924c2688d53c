// Package notify posts run summaries to a Telegram chat. Delivery is
// fire-and-forget: a failed or slow send never blocks or fails a
// scheduling run.
package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"timeblock/internal/engine"
	"timeblock/pkg/logx"
)

type Config struct {
	Token       string
	ChatID      int64
	PollTimeout time.Duration // 0 means 10s
}

type Telegram struct {
	bot    *tele.Bot
	chatID int64
	log    logx.Logger
}

func NewTelegram(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{bot: b, chatID: cfg.ChatID, log: log}, nil
}

// RunFinished posts the aggregate counts of one completed run. The
// send happens on its own goroutine.
func (t *Telegram) RunFinished(sum engine.Summary) {
	if t == nil || t.bot == nil {
		return
	}
	msg := formatSummary(sum)
	go func() {
		if _, err := t.bot.Send(tele.ChatID(t.chatID), msg, tele.ModeMarkdown); err != nil {
			t.log.Warn("run summary notification failed", logx.Err(err))
		}
	}()
}

func formatSummary(sum engine.Summary) string {
	if !sum.OK {
		return fmt.Sprintf("*Scheduling run failed*\n`%s`", sum.Error)
	}
	return fmt.Sprintf(
		"*Scheduling run finished*\nscheduled: %d\nunscheduled: %d\nignored: %d\nplacements: %d",
		sum.Scheduled, sum.Unscheduled, sum.Ignored, sum.Placements,
	)
}
