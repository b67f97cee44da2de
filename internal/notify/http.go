package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// httpEmailRequest 邮件 API 请求体
type httpEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// HTTPMailer 通过 HTTP 邮件 API（JSON POST）发送
type HTTPMailer struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewHTTPMailer 创建 HTTP 邮件发送器（不重试）
func NewHTTPMailer(url, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPMailer {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	return &HTTPMailer{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Send 发送纯文本邮件，非 2xx 视为失败
func (m *HTTPMailer) Send(ctx context.Context, email Email) error {
	if err := email.Validate(); err != nil {
		return err
	}

	resp, err := m.httpClient.R().
		SetContext(ctx).
		SetBody(httpEmailRequest{
			From:    email.From,
			To:      email.To,
			Subject: email.Subject,
			Text:    email.Body,
		}).
		Post(m.url)
	if err != nil {
		return fmt.Errorf("failed to call mail API: %w", err)
	}
	if resp.IsError() {
		m.logger.Error("Mail API returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return fmt.Errorf("mail API error: status %d", resp.StatusCode())
	}

	m.logger.Debug("Mail API accepted email", zap.Strings("to", email.To))
	return nil
}
