package notify

import (
	"context"
	"time"

	"crypto-tracker/internal/types"
	"crypto-tracker/lib/helpers"
	"crypto-tracker/lib/translation"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const alertMessage = "🚨 PRICE ALERT: %s\nCurrent price: $%s\nThreshold (%s): $%s\nTimestamp: %s"

// FormatMessage renders the human readable alert text.
func FormatMessage(event types.TriggeredEvent) string {
	return translation.Translate(alertMessage,
		event.Symbol,
		helpers.FormatPriceUS(event.CurrentPrice, false),
		translation.Translate(string(event.Condition)),
		helpers.FormatPriceUS(event.TargetPrice, false),
		event.Timestamp.Format(time.RFC3339),
	)
}

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, event types.TriggeredEvent) error {
	log.WithFields(log.Fields{
		"alert_id":  event.AlertID,
		"symbol":    event.Symbol,
		"price":     event.CurrentPrice,
		"target":    event.TargetPrice,
		"condition": event.Condition,
		"change":    helpers.FormatPercentage(event.PercentChange24h),
	}).Warn(FormatMessage(event))
	return nil
}

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts alerts to one chat.
type TelegramSink struct {
	bot    telegramSender
	chatID int64
}

func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}
	return &TelegramSink{bot: bot, chatID: chatID}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(_ context.Context, event types.TriggeredEvent) error {
	text := "🚨 *Price Alert Triggered*\n\n" +
		"*" + helpers.EscapeMarkdownV2(event.Symbol) + "* is " +
		helpers.EscapeMarkdownV2(translation.Translate(string(event.Condition))) +
		" the target price of *$" + helpers.FormatPriceUS(event.TargetPrice, true) + "*\n" +
		"Current Price: *$" + helpers.FormatPriceUS(event.CurrentPrice, true) + "*\n" +
		"24h Change: *" + helpers.EscapeMarkdownV2(helpers.FormatPercentage(event.PercentChange24h)) + "*"
	if event.MarketCap > 0 {
		text += "\nMarket Cap: *$" + helpers.EscapeMarkdownV2(helpers.FormatMarketCap(event.MarketCap)) + "*"
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "MarkdownV2"
	msg.DisableWebPagePreview = true

	_, err := t.bot.Send(msg)
	return errors.Wrapf(err, "could not send telegram alert for %s", event.Symbol)
}
