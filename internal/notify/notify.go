// Package notify delivers operator notifications with a severity colour.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/i18n"
)

// Colour is the notification severity.
type Colour string

const (
	ColourGreen  Colour = "GREEN"  // recovery, profit
	ColourYellow Colour = "YELLOW" // degraded, manual action suggested
	ColourRed    Colour = "RED"    // loss, protection lost, connectivity
)

// Notifier delivers one notification. Implementations must never block the
// caller on delivery failures; best effort only.
type Notifier interface {
	Notify(title, body string, colour Colour)
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(title, body string, colour Colour) {
	emoji := "🟡"
	switch colour {
	case ColourGreen:
		emoji = "🟢"
	case ColourRed:
		emoji = "🔴"
	}
	log.Printf("%s %s: %s", emoji, title, body)
}

// Multi fans a notification out to several sinks.
type Multi []Notifier

func (m Multi) Notify(title, body string, colour Colour) {
	for _, n := range m {
		n.Notify(title, body, colour)
	}
}

// TelegramNotifier pushes notifications through the Telegram bot API.
type TelegramNotifier struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramNotifier creates a TelegramNotifier. Token and chat id come from
// TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID.
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	log.Printf(i18n.Get("TelegramEnabled"), chatID)
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Notify(title, body string, colour Colour) {
	emoji := map[Colour]string{ColourGreen: "🟢", ColourYellow: "🟡", ColourRed: "🔴"}[colour]
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    fmt.Sprintf("%s *%s*\n%s", emoji, title, body),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "https://api.telegram.org/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Printf(i18n.Get("NotifySendFailed"), err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		log.Printf(i18n.Get("NotifySendFailed"), err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf(i18n.Get("NotifySendFailed"), fmt.Errorf("telegram status %d", resp.StatusCode))
	}
}
