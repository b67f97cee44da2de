// Package notify 报警邮件发送：SES v2、HTTP 邮件 API 和仅记录日志三种实现。
// 每次 Send 是单次同步调用，不在内部重试。
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrNoRecipients 收件人为空
var ErrNoRecipients = errors.New("no recipients")

// Email 纯文本邮件
type Email struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Validate 发送前检查
func (e Email) Validate() error {
	if len(e.To) == 0 {
		return ErrNoRecipients
	}
	if strings.TrimSpace(e.From) == "" {
		return fmt.Errorf("missing sender address")
	}
	return nil
}

// Mailer 邮件发送接口
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// LogMailer 只记录日志，不发送（本地调试）
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer 创建日志邮件发送器
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send 记录邮件内容
func (m *LogMailer) Send(_ context.Context, email Email) error {
	if err := email.Validate(); err != nil {
		return err
	}
	m.logger.Info("Alert email (log only)",
		zap.String("from", email.From),
		zap.Strings("to", email.To),
		zap.String("subject", email.Subject),
		zap.String("body", email.Body),
	)
	return nil
}
