package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	Env      string `yaml:"env"`

	// Database
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBSSLMode  string `yaml:"db_sslmode"`
	DBMaxConns int    `yaml:"db_max_conns"`

	// Redis config
	RedisHost     string `yaml:"redis_host"`
	RedisPort     int    `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Auth
	JWTSecret   string   `yaml:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins"`

	// Rate limiting per authenticated user
	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	// Delivery pipeline
	DefaultTimezone      string        `yaml:"default_timezone"`
	DeliveryTimeout      time.Duration `yaml:"delivery_timeout"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
	BroadcastConcurrency int           `yaml:"broadcast_concurrency"`
	RealtimeChannel      string        `yaml:"realtime_channel"`

	// Providers: log, ses, resend for email; log, sns for sms; log, expo, sns for push
	EmailProvider string `yaml:"email_provider"`
	SMSProvider   string `yaml:"sms_provider"`
	PushProvider  string `yaml:"push_provider"`

	// AWS Services
	AWSRegion    string `yaml:"aws_region"`
	SESFromEmail string `yaml:"ses_from_email"`
	SNSRegion    string `yaml:"sns_region"`
	PushTopicARN string `yaml:"push_topic_arn"`

	// Resend
	ResendAPIKey string `yaml:"resend_api_key"`
	FromEmail    string `yaml:"from_email"`

	// Expo push gateway
	ExpoPushURL string        `yaml:"expo_push_url"`
	PushTimeout time.Duration `yaml:"push_timeout"`

	// SQS hand-off for external channels, disabled when empty
	SQSRegion        string `yaml:"sqs_region"`
	DeliveryQueueURL string `yaml:"delivery_queue_url"`
}

// Load reads configuration from defaults, an optional YAML file named by
// CONFIG_FILE, then environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "beacon",
		DBPassword: "",
		DBName:     "beacon",
		DBSSLMode:  "disable",
		DBMaxConns: 20,

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		CORSOrigins: []string{"*"},

		RateLimit:       120,
		RateLimitWindow: time.Minute,

		DefaultTimezone:      "UTC",
		DeliveryTimeout:      10 * time.Second,
		CleanupInterval:      time.Hour,
		BroadcastConcurrency: 16,
		RealtimeChannel:      "beacon:notifications",

		EmailProvider: "log",
		SMSProvider:   "log",
		PushProvider:  "log",

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@beacon.local",
		FromEmail:    "noreply@beacon.local",

		ExpoPushURL: "https://exp.host/--/api/v2/push/send",
		PushTimeout: 10 * time.Second,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.SQSRegion == "" {
		cfg.SQSRegion = cfg.AWSRegion
	}
	if cfg.SNSRegion == "" {
		cfg.SNSRegion = cfg.AWSRegion
	}

	return cfg, nil
}

// Validate rejects combinations the gateway cannot start with
func (c *Config) Validate() error {
	if c.Env == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}

	switch c.EmailProvider {
	case "log", "ses", "resend":
	default:
		return fmt.Errorf("invalid EMAIL_PROVIDER: %q", c.EmailProvider)
	}
	switch c.SMSProvider {
	case "log", "sns":
	default:
		return fmt.Errorf("invalid SMS_PROVIDER: %q", c.SMSProvider)
	}
	switch c.PushProvider {
	case "log", "expo", "sns":
	default:
		return fmt.Errorf("invalid PUSH_PROVIDER: %q", c.PushProvider)
	}

	if c.EmailProvider == "resend" && c.ResendAPIKey == "" {
		return fmt.Errorf("RESEND_API_KEY is required when EMAIL_PROVIDER=resend")
	}
	if c.PushProvider == "sns" && c.PushTopicARN == "" {
		return fmt.Errorf("PUSH_TOPIC_ARN is required when PUSH_PROVIDER=sns")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid DEFAULT_TIMEZONE: %w", err)
	}

	return nil
}

// DatabaseURL renders the DB_* settings as a postgres URL
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	if c.DBPassword != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	} else {
		u.User = url.User(c.DBUser)
	}
	return u.String()
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var err error

	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}
	if cfg.DBPort, err = envInt("DB_PORT", cfg.DBPort); err != nil {
		return err
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}
	if cfg.DBMaxConns, err = envInt("DB_MAX_CONNS", cfg.DBMaxConns); err != nil {
		return err
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}
	if cfg.RedisPort, err = envInt("REDIS_PORT", cfg.RedisPort); err != nil {
		return err
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}
	if cfg.RedisDB, err = envInt("REDIS_DB", cfg.RedisDB); err != nil {
		return err
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if cfg.RateLimit, err = envInt("RATE_LIMIT", cfg.RateLimit); err != nil {
		return err
	}
	if cfg.RateLimitWindow, err = envDuration("RATE_LIMIT_WINDOW", cfg.RateLimitWindow); err != nil {
		return err
	}

	if tz := os.Getenv("DEFAULT_TIMEZONE"); tz != "" {
		cfg.DefaultTimezone = tz
	}
	if cfg.DeliveryTimeout, err = envDuration("DELIVERY_TIMEOUT", cfg.DeliveryTimeout); err != nil {
		return err
	}
	if cfg.CleanupInterval, err = envDuration("CLEANUP_INTERVAL", cfg.CleanupInterval); err != nil {
		return err
	}
	if cfg.BroadcastConcurrency, err = envInt("BROADCAST_CONCURRENCY", cfg.BroadcastConcurrency); err != nil {
		return err
	}
	if channel := os.Getenv("REALTIME_CHANNEL"); channel != "" {
		cfg.RealtimeChannel = channel
	}

	if p := os.Getenv("EMAIL_PROVIDER"); p != "" {
		cfg.EmailProvider = strings.ToLower(p)
	}
	if p := os.Getenv("SMS_PROVIDER"); p != "" {
		cfg.SMSProvider = strings.ToLower(p)
	}
	if p := os.Getenv("PUSH_PROVIDER"); p != "" {
		cfg.PushProvider = strings.ToLower(p)
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}
	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	}
	if arn := os.Getenv("PUSH_TOPIC_ARN"); arn != "" {
		cfg.PushTopicARN = arn
	}

	if key := os.Getenv("RESEND_API_KEY"); key != "" {
		cfg.ResendAPIKey = key
	}
	if from := os.Getenv("FROM_EMAIL"); from != "" {
		cfg.FromEmail = from
	}

	if url := os.Getenv("EXPO_PUSH_URL"); url != "" {
		cfg.ExpoPushURL = url
	}
	if cfg.PushTimeout, err = envDuration("PUSH_TIMEOUT", cfg.PushTimeout); err != nil {
		return err
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	}
	if url := os.Getenv("DELIVERY_QUEUE_URL"); url != "" {
		cfg.DeliveryQueueURL = url
	}

	return nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
