package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"scalp-trading-bot/internal/events"
	"scalp-trading-bot/internal/logging"
)

// dedupeWindow suppresses repeats of the same (event, symbol) alert so a
// flapping condition does not flood the channel.
const dedupeWindow = 5 * time.Minute

// Notification is one operator-facing message.
type Notification struct {
	Event     events.EventType
	Title     string
	Message   string
	Symbol    string
	Timestamp time.Time
}

// Sink delivers notifications to one channel.
type Sink interface {
	Send(n *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to all configured sinks with per
// (event, symbol) deduplication.
type Manager struct {
	sinks  []Sink
	logger zerolog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		logger:   logging.Component("notify"),
		lastSent: make(map[string]time.Time),
	}
}

// AddSink registers a delivery channel.
func (m *Manager) AddSink(s Sink) {
	m.sinks = append(m.sinks, s)
}

// Notify sends an alert for an event on a symbol, deduplicated within the
// window. An empty symbol is a bot-wide alert.
func (m *Manager) Notify(eventType events.EventType, symbol, message string) {
	key := string(eventType) + "|" + symbol

	m.mu.Lock()
	if last, ok := m.lastSent[key]; ok && time.Since(last) < dedupeWindow {
		m.mu.Unlock()
		return
	}
	m.lastSent[key] = time.Now()
	m.mu.Unlock()

	title := string(eventType)
	if symbol != "" {
		title = fmt.Sprintf("%s: %s", eventType, symbol)
	}
	m.send(&Notification{
		Event:     eventType,
		Title:     title,
		Message:   message,
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
	})
}

// NotifyError sends an error alert for a symbol.
func (m *Manager) NotifyError(symbol, message string) {
	m.Notify(events.EventError, symbol, message)
}

func (m *Manager) send(n *Notification) {
	for _, s := range m.sinks {
		if !s.IsEnabled() {
			continue
		}
		if err := s.Send(n); err != nil {
			m.logger.Warn().Err(err).Str("sink", s.Name()).Msg("notification delivery failed")
		}
	}
}

// ============================================================================
// TELEGRAM SINK
// ============================================================================

// TelegramSink posts alerts to a Telegram chat via the bot API.
type TelegramSink struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramSink creates a Telegram sink. It stays disabled unless both
// token and chat id are set.
func NewTelegramSink(botToken, chatID string, enabled bool) *TelegramSink {
	return &TelegramSink{
		botToken: botToken,
		chatID:   chatID,
		enabled:  enabled && botToken != "" && chatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Sink.
func (t *TelegramSink) Name() string { return "telegram" }

// IsEnabled implements Sink.
func (t *TelegramSink) IsEnabled() bool { return t.enabled }

// Send implements Sink.
func (t *TelegramSink) Send(n *Notification) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message),
		"parse_mode": "Markdown",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// ============================================================================
// DISCORD SINK
// ============================================================================

// DiscordSink posts alerts to a Discord webhook as embeds.
type DiscordSink struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// NewDiscordSink creates a Discord sink. It stays disabled without a URL.
func NewDiscordSink(webhookURL string, enabled bool) *DiscordSink {
	return &DiscordSink{
		webhookURL: webhookURL,
		enabled:    enabled && webhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Sink.
func (d *DiscordSink) Name() string { return "discord" }

// IsEnabled implements Sink.
func (d *DiscordSink) IsEnabled() bool { return d.enabled }

// Send implements Sink.
func (d *DiscordSink) Send(n *Notification) error {
	color := 0x00FF00
	switch n.Event {
	case events.EventError, events.EventStopLossTriggered, events.EventDailyLossLimit, events.EventEmergencyPosition:
		color = 0xFF0000
	case events.EventExternalClose, events.EventReconcileMismatch, events.EventTimeLimitClose:
		color = 0xFFA500
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{{
			"title":       n.Title,
			"description": n.Message,
			"color":       color,
			"timestamp":   n.Timestamp.Format(time.RFC3339),
		}},
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
