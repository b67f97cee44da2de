package config

import (
	"os"
	"strconv"
	"time"

	"brinetank-iot/pkg/config"
)

// 存储后端
const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// 邮件发送方式
const (
	EmailProviderSES  = "ses"
	EmailProviderHTTP = "http"
	EmailProviderLog  = "log"
)

// Lambda 低液位触发的投递方式
const (
	DispatchLambda = "lambda" // 异步调用 ALERT_FN_NAME 指向的 alert 函数
	DispatchLocal  = "local"  // 同一进程内直接评估
	DispatchStream = "stream" // 写入 Redis Stream，由 brinetank-alert 消费
	DispatchNone   = "none"
)

// Config 盐水罐服务配置（ingest / alert / lambda / ctl 共用）
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	AWS      config.AWSConfig

	Store struct {
		Backend      string // postgres | dynamodb | memory
		ReadingTable string // 历史表，如 "BrineTankReadings"
		LatestTable  string // 最新快照表，如 "BrineTankLatest"
		SensorTable  string // 传感器报警配置/状态表，如 "SensorAlerts"
		Timeout      time.Duration
	}

	Ingest struct {
		Topic             string  // 如 "pi/+/telemetry"
		EmptyDistanceCm   float64 // 空罐时的距离读数
		FullDistanceCm    float64 // 满罐时的距离读数
		RetentionDays     int     // 历史记录保留天数
		AlertPrefilterPct float64 // 低于该百分比才触发报警评估
		DefaultSensor     string
		DefaultUnit       string
		PurgeInterval     time.Duration // Postgres 过期记录清理间隔，0 表示不清理
	}

	Alert struct {
		Stream              string // 报警触发 Redis Stream
		ConsumerGroup       string
		ConsumerName        string
		BatchSize           int64
		Block               time.Duration
		DefaultThresholdPct float64
		DefaultHysteresis   float64
		DefaultCooldown     time.Duration
		RecipientCacheSize  int
		RecipientCacheTTL   time.Duration
		NotifyQueueSize     int
		NotifyWorkers       int
		NotifyTimeout       time.Duration
	}

	Email struct {
		Provider string // ses | http | log
		From     string
		APIURL   string
		APIKey   string
		Timeout  time.Duration
	}

	Lambda struct {
		Handler       string // ingest | alert
		AlertDispatch string // lambda | local | stream | none
		AlertFunction string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 连接配置：先设默认值，再由 pkg/config 按前缀读取环境变量
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "brinetank",
		SSLMode:  "disable",
	}
	cfg.Database.LoadFromEnv("DB")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 2)

	cfg.Redis = config.RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "brinetank-ingest",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.AWS = config.AWSConfig{Region: "us-east-1", Timeout: 5 * time.Second}
	cfg.AWS.LoadFromEnv("AWS")

	cfg.Store.Backend = getEnv("STORE_BACKEND", BackendPostgres)
	cfg.Store.ReadingTable = getEnv("TABLE_NAME", "BrineTankReadings")
	cfg.Store.LatestTable = getEnv("LATEST_TABLE_NAME", "BrineTankLatest")
	cfg.Store.SensorTable = getEnv("SENSOR_TABLE_NAME", "SensorAlerts")
	cfg.Store.Timeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)

	cfg.Ingest.Topic = getEnv("INGEST_TOPIC", "pi/+/telemetry")
	cfg.Ingest.EmptyDistanceCm = getEnvFloat("EMPTY_DISTANCE", 70)
	cfg.Ingest.FullDistanceCm = getEnvFloat("FULL_DISTANCE", 6)
	cfg.Ingest.RetentionDays = getEnvInt("TTL_DAYS", 7)
	cfg.Ingest.AlertPrefilterPct = getEnvFloat("INGEST_ALERT_PREFILTER_PCT", 10)
	cfg.Ingest.DefaultSensor = getEnv("INGEST_DEFAULT_SENSOR", "A02YYUW")
	cfg.Ingest.DefaultUnit = getEnv("INGEST_DEFAULT_UNIT", "cm")
	cfg.Ingest.PurgeInterval = getEnvDuration("INGEST_PURGE_INTERVAL", time.Hour)

	cfg.Alert.Stream = getEnv("ALERT_STREAM", "brinetank:alert:triggers")
	cfg.Alert.ConsumerGroup = getEnv("ALERT_CONSUMER_GROUP", "brinetank-alert")
	cfg.Alert.ConsumerName = getEnv("ALERT_CONSUMER_NAME", hostnameOr("brinetank-alert-1"))
	cfg.Alert.BatchSize = int64(getEnvInt("ALERT_BATCH_SIZE", 10))
	cfg.Alert.Block = getEnvDuration("ALERT_BLOCK", 5*time.Second)
	cfg.Alert.DefaultThresholdPct = getEnvFloat("ALERT_DEFAULT_THRESHOLD_PCT", 10.0)
	cfg.Alert.DefaultHysteresis = getEnvFloat("ALERT_DEFAULT_HYSTERESIS_PCT", 2.0)
	cfg.Alert.DefaultCooldown = getEnvDuration("ALERT_DEFAULT_COOLDOWN", 6*time.Hour)
	cfg.Alert.RecipientCacheSize = getEnvInt("ALERT_RECIPIENT_CACHE_SIZE", 128)
	cfg.Alert.RecipientCacheTTL = getEnvDuration("ALERT_RECIPIENT_CACHE_TTL", 30*time.Second)
	cfg.Alert.NotifyQueueSize = getEnvInt("ALERT_NOTIFY_QUEUE_SIZE", 256)
	cfg.Alert.NotifyWorkers = getEnvInt("ALERT_NOTIFY_WORKERS", 2)
	cfg.Alert.NotifyTimeout = getEnvDuration("ALERT_NOTIFY_TIMEOUT", 3*time.Second)

	cfg.Email.Provider = getEnv("EMAIL_PROVIDER", EmailProviderSES)
	cfg.Email.From = getEnv("SES_FROM", "alerts@salty-water.com")
	cfg.Email.APIURL = getEnv("MAIL_API_URL", "")
	cfg.Email.APIKey = getEnv("MAIL_API_KEY", "")
	cfg.Email.Timeout = getEnvDuration("EMAIL_TIMEOUT", 10*time.Second)

	cfg.Lambda.Handler = getEnv("HANDLER", "ingest")
	cfg.Lambda.AlertDispatch = getEnv("LAMBDA_ALERT_DISPATCH", DispatchLambda)
	cfg.Lambda.AlertFunction = getEnv("ALERT_FN_NAME", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func hostnameOr(fallback string) string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fallback
}
