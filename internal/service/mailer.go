package service

import (
	"context"
	"errors"
	"fmt"

	"brinetank-iot/internal/config"
	"brinetank-iot/internal/notify"
	"brinetank-iot/pkg/awsclient"

	"go.uber.org/zap"
)

// NewMailer 按 EMAIL_PROVIDER 创建邮件发送器
func NewMailer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notify.Mailer, error) {
	switch cfg.Email.Provider {
	case config.EmailProviderSES:
		awsCfg, err := awsclient.LoadConfig(ctx, &cfg.AWS)
		if err != nil {
			return nil, err
		}
		return notify.NewSESMailer(awsclient.NewSESClient(awsCfg, &cfg.AWS), logger), nil

	case config.EmailProviderHTTP:
		if cfg.Email.APIURL == "" {
			return nil, errors.New("MAIL_API_URL is required for the http email provider")
		}
		return notify.NewHTTPMailer(cfg.Email.APIURL, cfg.Email.APIKey, cfg.Email.Timeout, logger), nil

	case config.EmailProviderLog:
		return notify.NewLogMailer(logger), nil

	default:
		return nil, fmt.Errorf("unknown email provider: %q", cfg.Email.Provider)
	}
}
