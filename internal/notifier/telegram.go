package notifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"yugi/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the slice of tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier forwards booking lifecycle events to the ops chat.
type TelegramNotifier struct {
	sender Sender
	chatID int64
	logger *zerolog.Logger
}

func NewTelegramNotifier(sender Sender, chatID int64, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender: sender,
		chatID: chatID,
		logger: logger,
	}
}

// SubscribeAll registers the notifier for every booking event type.
func (n *TelegramNotifier) SubscribeAll(bus *events.EventBus) {
	types := []string{
		events.EventBookingCreated,
		events.EventBookingConfirmed,
		events.EventBookingCancelled,
		events.EventBookingCompleted,
		events.EventFundsReleased,
	}
	for _, eventType := range types {
		bus.Subscribe(eventType, n.HandleEvent)
	}
}

// HandleEvent formats and sends one event. Send failures are logged,
// not propagated: a flaky chat must not affect booking flow.
func (n *TelegramNotifier) HandleEvent(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		n.logger.Error().Err(err).Str("event_type", event.Type).Msg("decode event payload")
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, formatMessage(event.Type, &payload))
	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Error().Err(err).Str("event_type", event.Type).Str("booking", payload.BookingNumber).Msg("send notification")
		return err
	}
	return nil
}

func formatMessage(eventType string, p *events.BookingEventPayload) string {
	var b strings.Builder

	switch eventType {
	case events.EventBookingCreated:
		b.WriteString("🆕 New booking ")
	case events.EventBookingConfirmed:
		b.WriteString("✅ Payment confirmed for ")
	case events.EventBookingCancelled:
		b.WriteString("❌ Cancelled ")
	case events.EventBookingCompleted:
		b.WriteString("🏁 Completed ")
	case events.EventFundsReleased:
		b.WriteString("💸 Funds released for ")
	default:
		b.WriteString("Booking update ")
	}

	fmt.Fprintf(&b, "%s\n", p.BookingNumber)
	fmt.Fprintf(&b, "%s - %s\n", p.ClassName, p.ProviderName)
	fmt.Fprintf(&b, "Parent: %s\n", p.ParentName)
	if len(p.Children) > 0 {
		fmt.Fprintf(&b, "Children: %s\n", strings.Join(p.Children, ", "))
	}
	fmt.Fprintf(&b, "Session: %s\n", p.SessionStart.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Total: %s", formatAmount(p.Pricing.TotalCents, p.Currency))

	if eventType == events.EventBookingCancelled {
		if p.CancelReason != "" {
			fmt.Fprintf(&b, "\nReason: %s", p.CancelReason)
		}
		fmt.Fprintf(&b, "\nRefund: %s", formatAmount(p.RefundCents, p.Currency))
	}

	return b.String()
}

func formatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
