package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"time"

	"dwatson385/ticketwatcher/helpers"
	"dwatson385/ticketwatcher/logger"
	apperr "dwatson385/ticketwatcher/pkg/errors"
)

const telegramComponent = "telegram"

// TelegramNotifier delivers alerts through the Telegram bot API to one or
// more chats
type TelegramNotifier struct {
	apiBase string
	token   string
	chatIDs []string
	timeout time.Duration
	retries int
	log     *logger.Logger
}

var _ Notifier = (*TelegramNotifier)(nil)

// NewTelegramNotifier creates a Telegram notifier for the given bot token
// and chat ids
func NewTelegramNotifier(token string, chatIDs []string) *TelegramNotifier {
	return &TelegramNotifier{
		apiBase: "https://api.telegram.org",
		token:   token,
		chatIDs: chatIDs,
		timeout: 5 * time.Second,
		retries: 3,
		log:     logger.ForNotifier(telegramComponent),
	}
}

// Notify formats the listing as an HTML message and sends it to every
// configured chat. Delivery succeeds when at least one chat accepted the
// message; the cycle is never aborted for a partial delivery.
func (t *TelegramNotifier) Notify(ctx context.Context, alert Alert) error {
	return t.broadcast(ctx, formatAlert(alert))
}

// Announce sends an informational message to every configured chat
func (t *TelegramNotifier) Announce(ctx context.Context, text string) error {
	return t.broadcast(ctx, html.EscapeString(text))
}

// Close implements Notifier; the HTTP transport holds no state
func (t *TelegramNotifier) Close() error {
	return nil
}

func (t *TelegramNotifier) broadcast(ctx context.Context, text string) error {
	delivered := 0
	var lastErr error
	for _, chatID := range t.chatIDs {
		if err := t.sendToChat(ctx, chatID, text); err != nil {
			t.log.Error().Err(err).Str("chat_id", chatID).Msg("Failed to deliver message")
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return apperr.NewDelivery(telegramComponent, "no chat accepted the message", lastErr)
	}
	return nil
}

// sendToChat posts one message with bounded per-attempt timeouts and a
// linearly growing pause between attempts
func (t *TelegramNotifier) sendToChat(ctx context.Context, chatID, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	payload := url.Values{
		"chat_id":    {chatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	}

	var lastErr error
	for attempt := 1; attempt <= t.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		body, err := helpers.PostForm(endpoint, payload, t.timeout)
		if err == nil && telegramOK(body) {
			t.log.Debug().Str("chat_id", chatID).Int("attempt", attempt).Msg("Message delivered")
			return nil
		}
		if err == nil {
			err = fmt.Errorf("telegram API rejected the message: %s", string(body))
		}
		lastErr = err

		if attempt < t.retries {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func telegramOK(body []byte) bool {
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	return resp.OK
}

// formatAlert renders the alert in the HTML message layout
func formatAlert(a Alert) string {
	esc := html.EscapeString
	msg := fmt.Sprintf("🚨 <b>Ticket available for %s</b>\n", esc(orUnknown(a.EventName)))
	msg += fmt.Sprintf("📍 <b>Location</b>: %s\n", esc(orUnknown(a.Location)))
	msg += fmt.Sprintf("📅 <b>Date</b>: %s\n", esc(orUnknown(a.EventDate)))
	msg += fmt.Sprintf("🔗 <a href=\"%s\">Event Link</a>\n", esc(a.EventURL))
	msg += "----------------------------------------\n"
	msg += fmt.Sprintf("🎟️ <b>%s</b>\n", esc(orUnknown(a.Listing.Tier)))
	msg += fmt.Sprintf("   💷 <b>Price</b>: %s\n", esc(orUnknown(a.Listing.Price)))
	msg += fmt.Sprintf("   🔢 <b>Quantity</b>: %s\n", esc(orUnknown(a.Listing.Quantity)))
	return msg
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
