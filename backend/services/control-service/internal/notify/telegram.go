package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"prepaidgrid/backend/services/control-service/internal/models"
)

// DefaultTelegramURL is the Bot API endpoint.
const DefaultTelegramURL = "https://api.telegram.org"

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// TelegramTransport posts alerts to a chat through the Bot API.
type TelegramTransport struct {
	client *resty.Client
	token  string
	chatID string
}

// NewTelegramTransport builds a transport. An empty baseURL selects DefaultTelegramURL.
func NewTelegramTransport(baseURL, token, chatID string, timeout time.Duration) *TelegramTransport {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &TelegramTransport{client: client, token: token, chatID: chatID}
}

func (t *TelegramTransport) Name() string { return "telegram" }

func (t *TelegramTransport) Send(ctx context.Context, a models.Alert) error {
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram: bot token and chat id are required")
	}

	var result telegramResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(telegramRequest{ChatID: t.chatID, Text: formatAlert(a)}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if resp.IsError() || !result.OK {
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode(), result.Description)
	}
	return nil
}

func formatAlert(a models.Alert) string {
	return fmt.Sprintf("[%s] %s\n%s\n%s", strings.ToUpper(string(a.Severity)), a.EventClass, a.Message,
		a.RaisedAt.UTC().Format("2006-01-02 15:04:05 MST"))
}
