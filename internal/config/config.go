package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN    string `env:"DATABASE_DSN,required=true"`
	RedisURL       string `env:"REDIS_URL,required=true"`
	JWTSecret      string `env:"JWT_SECRET,required=true"`
	RabbitMQURL    string `env:"RABBITMQ_URL"`
	APIPort        int    `env:"API_PORT,default=8080"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS,default=25"`

	EmailDefaultProvider string `env:"EMAIL_DEFAULT_PROVIDER,default=smtp"`
	SMSDefaultProvider   string `env:"SMS_DEFAULT_PROVIDER,default=twilio"`
	PushDefaultProvider  string `env:"PUSH_DEFAULT_PROVIDER,default=fcm"`

	SMTPHost        string `env:"SMTP_HOST"`
	SMTPPort        int    `env:"SMTP_PORT,default=587"`
	SMTPUsername    string `env:"SMTP_USERNAME"`
	SMTPPassword    string `env:"SMTP_PASSWORD"`
	SMTPFrom        string `env:"SMTP_FROM"`
	SMTPImplicitTLS bool   `env:"SMTP_IMPLICIT_TLS,default=false"`

	GmailUsername    string `env:"GMAIL_USERNAME"`
	GmailAppPassword string `env:"GMAIL_APP_PASSWORD"`
	GmailFrom        string `env:"GMAIL_FROM"`

	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	PostmarkFrom         string `env:"POSTMARK_FROM"`
	PostmarkTag          string `env:"POSTMARK_TAG"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `env:"TWILIO_FROM"`

	AliyunRegionID        string `env:"ALIYUN_REGION_ID,default=cn-hangzhou"`
	AliyunAccessKeyID     string `env:"ALIYUN_ACCESS_KEY_ID"`
	AliyunAccessKeySecret string `env:"ALIYUN_ACCESS_KEY_SECRET"`
	AliyunSignName        string `env:"ALIYUN_SIGN_NAME"`
	AliyunTemplateCode    string `env:"ALIYUN_TEMPLATE_CODE"`

	FCMProjectID       string `env:"FCM_PROJECT_ID"`
	FCMCredentialsJSON string `env:"FCM_CREDENTIALS_JSON"`

	EmailWebhookURL string `env:"EMAIL_WEBHOOK_URL"`
	SMSWebhookURL   string `env:"SMS_WEBHOOK_URL"`
	PushWebhookURL  string `env:"PUSH_WEBHOOK_URL"`

	BulkBatchSize         int `env:"BULK_BATCH_SIZE,default=10"`
	BulkInterBatchDelayMS int `env:"BULK_INTER_BATCH_DELAY_MS,default=1000"`
	RetryWindowHours      int `env:"RETRY_WINDOW_HOURS,default=24"`
	RetryLimit            int `env:"RETRY_LIMIT,default=50"`
	RetryMaxAttempts      int `env:"RETRY_MAX_ATTEMPTS,default=5"`
	RetrySweepIntervalSec int `env:"RETRY_SWEEP_INTERVAL_SEC,default=300"`
	RetentionDays         int `env:"RETENTION_DAYS,default=90"`
	CleanupIntervalHours  int `env:"CLEANUP_INTERVAL_HOURS,default=24"`

	VendorRateLimitPerSec int    `env:"VENDOR_RATE_LIMIT_PER_SEC,default=50"`
	VendorRateLimits      string `env:"VENDOR_RATE_LIMITS"`
	ClientRateLimit       int    `env:"CLIENT_RATE_LIMIT,default=120"`
	ClientRateWindowSec   int    `env:"CLIENT_RATE_WINDOW_SEC,default=60"`

	AlertWorkerConcurrency int `env:"ALERT_WORKER_CONCURRENCY,default=4"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.BulkBatchSize < 1 {
		return nil, fmt.Errorf("failed to load config: BULK_BATCH_SIZE must be >= 1")
	}
	if cfg.BulkInterBatchDelayMS < 0 {
		return nil, fmt.Errorf("failed to load config: BULK_INTER_BATCH_DELAY_MS must be >= 0")
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("failed to load config: RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if _, err := cfg.VendorRateOverrides(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) InterBatchDelay() time.Duration {
	return time.Duration(c.BulkInterBatchDelayMS) * time.Millisecond
}

func (c *Config) RetryWindow() time.Duration {
	return time.Duration(c.RetryWindowHours) * time.Hour
}

func (c *Config) RetrySweepInterval() time.Duration {
	return time.Duration(c.RetrySweepIntervalSec) * time.Second
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalHours) * time.Hour
}

func (c *Config) ClientRateWindow() time.Duration {
	return time.Duration(c.ClientRateWindowSec) * time.Second
}

// VendorRateOverrides parses VENDOR_RATE_LIMITS, a comma separated list of
// "<channel>:<provider>=<calls per second>" entries.
func (c *Config) VendorRateOverrides() (map[string]int, error) {
	out := make(map[string]int)
	for _, entry := range strings.Split(c.VendorRateLimits, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		scope, rawLimit, ok := strings.Cut(entry, "=")
		scope = strings.ToLower(strings.TrimSpace(scope))
		if !ok || !strings.Contains(scope, ":") {
			return nil, fmt.Errorf("VENDOR_RATE_LIMITS entry %q must look like channel:provider=limit", entry)
		}

		limit, err := strconv.Atoi(strings.TrimSpace(rawLimit))
		if err != nil || limit < 1 {
			return nil, fmt.Errorf("VENDOR_RATE_LIMITS entry %q needs a positive limit", entry)
		}
		out[scope] = limit
	}
	return out, nil
}
