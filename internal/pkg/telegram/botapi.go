package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.telegram.org"

// BotAPI provides a direct Telegram Bot API client for channel reports.
type BotAPI struct {
	client *resty.Client
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// NewBotAPI creates a new direct Telegram Bot API client.
// baseURL may be empty to use the public endpoint.
func NewBotAPI(token, baseURL string) *BotAPI {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &BotAPI{
		client: resty.New().
			SetBaseURL(baseURL + "/bot" + token).
			SetTimeout(10 * time.Second),
	}
}

// WithTransport replaces the underlying round tripper.
func (b *BotAPI) WithTransport(rt http.RoundTripper) *BotAPI {
	b.client.SetTransport(rt)
	return b
}

// Call makes a raw API call to the Telegram Bot API.
func (b *BotAPI) Call(ctx context.Context, method string, params map[string]interface{}) error {
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(params).
		Post("/" + method)
	if err != nil {
		return fmt.Errorf("telegram API call %s failed: %w", method, err)
	}

	var out apiResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return fmt.Errorf("telegram API call %s: status %d: %w", method, resp.StatusCode(), err)
	}
	if !out.OK {
		return fmt.Errorf("telegram API call %s: %d %s", method, out.ErrorCode, out.Description)
	}
	return nil
}

// SendMessage sends an HTML text message.
func (b *BotAPI) SendMessage(ctx context.Context, chatID, text string) error {
	return b.Call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}
