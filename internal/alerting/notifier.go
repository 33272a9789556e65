package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装一次审计告警的上下文。
type Notification struct {
	Asset          string
	Reason         string
	ReferencePrice decimal.Decimal
	StreetPrice    decimal.Decimal
	FairValue      decimal.Decimal
	Deviation      decimal.Decimal
	Threshold      decimal.Decimal
	IsStale        bool
	ManifestHash   string
	Signer         string
	At             time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("asset", note.Asset).
		Str("reason", note.Reason).
		Str("manifest_hash", note.ManifestHash).
		Msg("alert sent (telegram)")
	return nil
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Feed Attestor] %s %s\n", note.Asset, note.Reason))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Reference: %s\n", note.ReferencePrice.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("Street: %s\n", note.StreetPrice.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("Fair value: %s\n", note.FairValue.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("Deviation: %s%% (threshold %s%%)\n",
		note.Deviation.Mul(decimal.NewFromInt(100)).StringFixed(3),
		note.Threshold.Mul(decimal.NewFromInt(100)).StringFixed(3)))
	if note.IsStale {
		builder.WriteString("Reference feed is stale\n")
	}
	if note.ManifestHash != "" {
		builder.WriteString(fmt.Sprintf("Manifest: %s\n", note.ManifestHash))
	}
	if note.Signer != "" {
		builder.WriteString(fmt.Sprintf("Signer: %s\n", note.Signer))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
