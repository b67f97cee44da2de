package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"
)

// SESAPI SES v2 客户端中用到的方法（*sesv2.Client 实现）
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer 通过 Amazon SES v2 发送
type SESMailer struct {
	client SESAPI
	logger *zap.Logger
}

// NewSESMailer 创建 SES 邮件发送器
func NewSESMailer(client SESAPI, logger *zap.Logger) *SESMailer {
	return &SESMailer{client: client, logger: logger}
}

// Send 发送纯文本邮件
func (m *SESMailer) Send(ctx context.Context, email Email) error {
	if err := email.Validate(); err != nil {
		return err
	}

	out, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(email.From),
		Destination: &types.Destination{
			ToAddresses: email.To,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(email.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(email.Body)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send email: %w", err)
	}

	m.logger.Debug("SES email sent",
		zap.Strings("to", email.To),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}
