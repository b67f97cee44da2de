package main

import (
	"context"
	"log"
	"time"

	"brinetank-iot/internal/config"
	"brinetank-iot/internal/dispatch"
	"brinetank-iot/internal/ingest"
	"brinetank-iot/internal/service"
	"brinetank-iot/pkg/awsclient"
	logpkg "brinetank-iot/pkg/logger"
	rediscommon "brinetank-iot/pkg/redis"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "brinetank-lambda-"+cfg.Lambda.Handler)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 冷启动时初始化，后续调用复用
	ctx := context.Background()
	backend, err := service.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store backend", zap.Error(err))
	}

	switch cfg.Lambda.Handler {
	case "ingest":
		notifier, err := newNotifier(ctx, cfg, backend, logger)
		if err != nil {
			logger.Fatal("Failed to create alert notifier", zap.Error(err))
		}
		pipeline := ingest.NewPipeline(backend.Stores.Readings, backend.Stores.Latest, notifier, service.PipelineOptions(cfg), logger)
		lambda.Start((&ingestHandler{pipeline: pipeline, logger: logger}).Handle)

	case "alert":
		mailer, err := service.NewMailer(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("Failed to create mailer", zap.Error(err))
		}
		evaluator := service.NewEvaluator(cfg, backend.Stores.Sensors, mailer, logger)
		lambda.Start((&alertHandler{evaluator: evaluator, logger: logger}).Handle)

	default:
		logger.Fatal("Unknown handler", zap.String("handler", cfg.Lambda.Handler))
	}
}

// newNotifier 按 LAMBDA_ALERT_DISPATCH 选择低液位触发的去向；
// Lambda 在返回后会被冻结，投递必须在本次调用内完成
func newNotifier(ctx context.Context, cfg *config.Config, backend *service.Backend, logger *zap.Logger) (ingest.AlertNotifier, error) {
	switch cfg.Lambda.AlertDispatch {
	case config.DispatchStream:
		client := rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, client); err != nil {
			return nil, err
		}
		return dispatch.NewBestEffortNotifier(dispatch.NewStreamDispatcher(client, cfg.Alert.Stream), cfg.Alert.NotifyTimeout, logger), nil

	case config.DispatchLocal:
		mailer, err := service.NewMailer(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		evaluator := service.NewEvaluator(cfg, backend.Stores.Sensors, mailer, logger)
		return dispatch.NewBestEffortNotifier(dispatch.NewLocalDispatcher(evaluator), localNotifyTimeout(cfg), logger), nil

	case config.DispatchNone:
		return nil, nil

	default:
		if cfg.Lambda.AlertFunction == "" {
			logger.Warn("ALERT_FN_NAME not set, low-level alerts disabled")
			return nil, nil
		}
		awsCfg, err := awsclient.LoadConfig(ctx, &cfg.AWS)
		if err != nil {
			return nil, err
		}
		d := dispatch.NewLambdaDispatcher(awsclient.NewLambdaClient(awsCfg, &cfg.AWS), cfg.Lambda.AlertFunction)
		return dispatch.NewBestEffortNotifier(d, cfg.Alert.NotifyTimeout, logger), nil
	}
}

// localNotifyTimeout 进程内评估包含读写状态和发信，超时不能短于发信超时
func localNotifyTimeout(cfg *config.Config) time.Duration {
	need := cfg.Email.Timeout + 2*cfg.Store.Timeout
	if cfg.Alert.NotifyTimeout > need {
		return cfg.Alert.NotifyTimeout
	}
	return need
}
