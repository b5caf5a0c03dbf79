package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"optq/internal/pkg/backoff"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramConfig 配置 Telegram 推送通道。
type TelegramConfig struct {
	BotToken string
	ChatID   string
	// BaseURL 零值取官方 API 地址，测试时指向本地假服务。
	BaseURL string
	// Timeout 为单次 HTTP 调用超时，零值取 15s。
	Timeout time.Duration
	// Retry 为发送重试策略，零值取 backoff.DefaultPolicy。
	Retry backoff.Policy
}

// Telegram 把成交、拒单与自动暂停事件推送到指定群/频道。
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = telegramAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = backoff.DefaultPolicy
	}
	return &Telegram{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// SendText 发送 Markdown 文本，失败按退避策略重试。
func (t *Telegram) SendText(text string) error {
	if t == nil || t.cfg.BotToken == "" || t.cfg.ChatID == "" {
		return fmt.Errorf("telegram 未配置 bot_token/chat_id")
	}
	payload, err := json.Marshal(map[string]any{
		"chat_id":    t.cfg.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram marshal payload: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.BotToken)
	return backoff.Retry(context.Background(), t.cfg.Retry, nil, func() error {
		return t.post(url, payload)
	})
}

func (t *Telegram) post(url string, payload []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("telegram status=%d", resp.StatusCode)
	}
	return nil
}

var _ TextNotifier = (*Telegram)(nil)
