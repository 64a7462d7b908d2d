package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"trade-guard/config"
	"trade-guard/internal/events"
	"trade-guard/internal/logging"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyGuardTrip    NotificationType = "guard_trip"
	NotifyGuardRecover NotificationType = "guard_recover"
	NotifyBreaker      NotificationType = "breaker"
	NotifyError        NotificationType = "error"
)

// Notification represents an operator alert
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Account   string
	Timestamp time.Time
	Fields    map[string]string
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans alerts out to every enabled provider
type Manager struct {
	account   string
	notifiers []Notifier
	log       *logging.Logger
}

// NewManager creates a new notification manager
func NewManager(account string) *Manager {
	return &Manager{
		account: account,
		log:     logging.WithComponent("notification"),
	}
}

// NewFromConfig builds a manager with the Telegram and Discord sinks the
// configuration enables
func NewFromConfig(account string, cfg config.NotificationConfig) *Manager {
	m := NewManager(account)
	m.AddNotifier(NewTelegramNotifier(TelegramConfig{
		BotToken: cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChatID,
		Timeout:  cfg.Timeout,
	}))
	m.AddNotifier(NewDiscordNotifier(DiscordConfig{
		WebhookURL: cfg.DiscordWebhookURL,
		Timeout:    cfg.Timeout,
	}))
	return m
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Enabled reports whether any provider would deliver
func (m *Manager) Enabled() bool {
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			return true
		}
	}
	return false
}

// Send delivers to all enabled providers and returns the last failure
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.Account == "" {
		n.Account = m.account
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	var lastErr error
	for _, p := range m.notifiers {
		if !p.IsEnabled() {
			continue
		}
		if err := p.Send(ctx, n); err != nil {
			m.log.WithError(err).Warn("alert delivery failed", "provider", p.Name(), "type", string(n.Type))
			lastErr = err
		}
	}
	return lastErr
}

// Attach subscribes the manager to guard transitions, breaker transitions
// and error events on the bus. Nothing is subscribed when no provider is
// enabled.
func (m *Manager) Attach(bus *events.EventBus) {
	if bus == nil || !m.Enabled() {
		return
	}
	handle := func(ev events.Event) {
		n := FromEvent(ev)
		if n == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = m.Send(ctx, n)
	}
	bus.Subscribe(events.EventSystemGuardUpdate, handle)
	bus.Subscribe(events.EventCircuitBreakerUpdate, handle)
	bus.Subscribe(events.EventError, handle)
}

// FromEvent maps a bus event to an alert, or nil when the event is not
// worth paging anyone for
func FromEvent(ev events.Event) *Notification {
	get := func(k string) string {
		if v, ok := ev.Data[k]; ok {
			return fmt.Sprint(v)
		}
		return ""
	}

	switch ev.Type {
	case events.EventSystemGuardUpdate:
		action := get("action")
		fields := map[string]string{"trigger": get("trigger"), "status": get("status")}
		switch action {
		case "hard_trip", "soft_trip":
			return &Notification{
				Type:      NotifyGuardTrip,
				Title:     fmt.Sprintf("Trading halted (%s)", strings.ReplaceAll(action, "_", " ")),
				Message:   get("reason"),
				Timestamp: ev.Timestamp,
				Fields:    fields,
			}
		case "recovered", "reset":
			return &Notification{
				Type:      NotifyGuardRecover,
				Title:     "Trading resumed (" + action + ")",
				Message:   get("reason"),
				Timestamp: ev.Timestamp,
				Fields:    fields,
			}
		}
	case events.EventCircuitBreakerUpdate:
		action := get("action")
		if action != "opened" && action != "reopened" && action != "closed" {
			return nil
		}
		return &Notification{
			Type:      NotifyBreaker,
			Title:     fmt.Sprintf("Circuit breaker %s: %s", action, get("channel")),
			Message:   fmt.Sprintf("%s consecutive failures, cool-down %s", get("consecutive_failures"), get("cooldown")),
			Timestamp: ev.Timestamp,
			Fields:    map[string]string{"channel": get("channel"), "status": get("status")},
		}
	case events.EventError:
		msg := get("message")
		if e := get("error"); e != "" {
			msg += ": " + e
		}
		return &Notification{
			Type:      NotifyError,
			Title:     "Guard error in " + get("source"),
			Message:   msg,
			Timestamp: ev.Timestamp,
		}
	}
	return nil
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *resty.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Timeout  time.Duration
	BaseURL  string // empty means the public Bot API
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	base := cfg.BaseURL
	if base == "" {
		base = telegramAPIBase
	}
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.BotToken != "" && cfg.ChatID != "",
		client:   newClient(base, cfg.Timeout),
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(ctx context.Context, n *Notification) error {
	if !t.enabled {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", n.Title)
	if n.Message != "" {
		b.WriteString(n.Message + "\n")
	}
	fmt.Fprintf(&b, "account: %s", n.Account)
	for k, v := range n.Fields {
		if v != "" {
			fmt.Fprintf(&b, "\n%s: %s", k, v)
		}
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"chat_id":    t.chatID,
			"text":       b.String(),
			"parse_mode": "Markdown",
		}).
		Post("/bot" + t.botToken + "/sendMessage")
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode())
	}
	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *resty.Client
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(cfg DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.WebhookURL != "",
		client:     newClient("", cfg.Timeout),
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(ctx context.Context, n *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x00FF00 // green
	switch n.Type {
	case NotifyGuardTrip, NotifyError:
		color = 0xFF0000
	case NotifyBreaker:
		color = 0xFFA500
	}

	fields := []map[string]interface{}{
		{"name": "Account", "value": n.Account, "inline": true},
	}
	for k, v := range n.Fields {
		if v != "" {
			fields = append(fields, map[string]interface{}{"name": k, "value": v, "inline": true})
		}
	}

	embed := map[string]interface{}{
		"title":       n.Title,
		"description": n.Message,
		"color":       color,
		"timestamp":   n.Timestamp.Format(time.RFC3339),
		"fields":      fields,
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"embeds": []map[string]interface{}{embed}}).
		Post(d.webhookURL)
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	if resp.StatusCode() != 200 && resp.StatusCode() != 204 {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode())
	}
	return nil
}

func newClient(base string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if base != "" {
		c.SetBaseURL(base)
	}
	return c
}
