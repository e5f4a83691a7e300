package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const outboxSize = 64

var errOutboxFull = errors.New("telegram outbox full")

// Notifier posts booking and review events to the staff Telegram chats.
type Notifier struct {
	sender  domain.TelegramSender
	chatIDs []int64
	outbox  chan string
	logger  zerolog.Logger
}

func NewNotifier(sender domain.TelegramSender, chatIDs []int64, logger *zerolog.Logger) *Notifier {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "telegram").Logger()
	}
	return &Notifier{sender: sender, chatIDs: chatIDs, outbox: make(chan string, outboxSize), logger: l}
}

// Subscribe hooks the notifier into the bus for every staff-facing event.
// Events are only rendered and queued on the publishing goroutine; Run
// sends them.
func (n *Notifier) Subscribe(bus *events.EventBus) {
	for _, eventType := range []string{
		events.EventBookingCreated,
		events.EventBookingConfirmed,
		events.EventBookingCancelled,
		events.EventBookingPaid,
		events.EventReviewCreated,
	} {
		bus.Subscribe(eventType, n.enqueue)
	}
}

// Run delivers queued notifications until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if left := len(n.outbox); left > 0 {
				n.logger.Warn().Int("pending", left).Msg("telegram notifications dropped on shutdown")
			}
			return
		case text := <-n.outbox:
			_ = n.broadcast(text)
		}
	}
}

func (n *Notifier) enqueue(event *events.Event) error {
	text, err := n.render(event)
	if err != nil || text == "" {
		return err
	}
	select {
	case n.outbox <- text:
		return nil
	default:
		n.logger.Warn().Str("event", event.Type).Msg("telegram outbox full, notification dropped")
		return errOutboxFull
	}
}

// Handle renders one event and sends it right away.
func (n *Notifier) Handle(event *events.Event) error {
	text, err := n.render(event)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return n.broadcast(text)
}

func (n *Notifier) render(event *events.Event) (string, error) {
	if event.Type == events.EventReviewCreated {
		var p events.ReviewEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return "", fmt.Errorf("decode %s: %w", event.Type, err)
		}
		return formatReview(&p), nil
	}

	var p events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return "", fmt.Errorf("decode %s: %w", event.Type, err)
	}

	switch event.Type {
	case events.EventBookingCreated:
		return formatBooking("🆕 *New booking*", &p), nil
	case events.EventBookingConfirmed:
		return formatBooking("✅ *Booking confirmed*", &p), nil
	case events.EventBookingCancelled:
		return formatBooking("❌ *Booking cancelled*", &p), nil
	case events.EventBookingPaid:
		return formatBooking("💰 *Booking paid*", &p), nil
	default:
		return "", nil
	}
}

func (n *Notifier) broadcast(text string) error {
	var firstErr error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("telegram send failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func formatBooking(title string, p *events.BookingEventPayload) string {
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString(" #")
	sb.WriteString(p.ShortID)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "🗺 %s\n", escape(p.TourTitle))
	fmt.Fprintf(&sb, "📅 %s · 👥 %d\n", p.Date.Format("02/01/2006"), p.People)
	fmt.Fprintf(&sb, "👤 %s · 📞 %s\n", escape(p.Name), escape(p.Phone))
	fmt.Fprintf(&sb, "💵 %s", models.FormatVND(p.Total))
	if p.Method != "" {
		fmt.Fprintf(&sb, " (%s)", p.Method)
	}
	if p.Note != "" {
		fmt.Fprintf(&sb, "\n💬 %s", escape(p.Note))
	}
	if p.ChangedBy != "" {
		fmt.Fprintf(&sb, "\nby %s", escape(p.ChangedBy))
	}
	return sb.String()
}

func formatReview(p *events.ReviewEventPayload) string {
	return fmt.Sprintf("⭐ *New %s review* for %s\n%s rated %d/5 · average %.1f over %d",
		p.SubjectType, escape(p.SubjectID), escape(p.UserName), p.Rating, p.Average, p.Count)
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escape neutralizes legacy Markdown control characters in user text.
func escape(s string) string {
	return markdownEscaper.Replace(s)
}
