package telegram

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// BotAPI is a minimal Telegram Bot API client used to push ops alerts.
type BotAPI struct {
	token  string
	client *resty.Client
}

// NewBotAPI creates a new direct Telegram Bot API client.
func NewBotAPI(token string) *BotAPI {
	return newBotAPI(token, "https://api.telegram.org")
}

func newBotAPI(token, baseURL string) *BotAPI {
	return &BotAPI{
		token:  token,
		client: resty.New().SetBaseURL(baseURL + "/bot" + token),
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Call makes a raw API call to the Telegram Bot API.
func (b *BotAPI) Call(ctx context.Context, method string, params map[string]interface{}) error {
	var out apiResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(params).
		SetResult(&out).
		SetError(&out).
		Post("/" + method)
	if err != nil {
		return fmt.Errorf("telegram API call %s failed: %w", method, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram API call %s: status %d: %s", method, resp.StatusCode(), out.Description)
	}
	return nil
}

// SendMessage sends a text message.
func (b *BotAPI) SendMessage(ctx context.Context, chatID string, text string) error {
	return b.Call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}
