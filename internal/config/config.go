package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	JWTSigningKey string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	JWTTTL        time.Duration `mapstructure:"JWT_TTL"`

	BookingLeadTime time.Duration `mapstructure:"BOOKING_LEAD_TIME"`
	RescheduleLimit int           `mapstructure:"RESCHEDULE_LIMIT"`
	SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepGrace      time.Duration `mapstructure:"SWEEP_GRACE"`

	MeetingBaseURL string        `mapstructure:"MEETING_BASE_URL"`
	MeetingTimeout time.Duration `mapstructure:"MEETING_TIMEOUT"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"JWT_SIGNING_KEY", "JWT_ISSUER", "JWT_TTL",
	"BOOKING_LEAD_TIME", "RESCHEDULE_LIMIT", "SWEEP_INTERVAL", "SWEEP_GRACE",
	"MEETING_BASE_URL", "MEETING_TIMEOUT",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD", "SMTP_FROM",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("JWT_ISSUER", "therapyconnect")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("BOOKING_LEAD_TIME", "6h")
	v.SetDefault("RESCHEDULE_LIMIT", 2)
	v.SetDefault("SWEEP_INTERVAL", "10m")
	v.SetDefault("SWEEP_GRACE", "1h")
	v.SetDefault("MEETING_BASE_URL", "https://meet.therapyconnect.local")
	v.SetDefault("MEETING_TIMEOUT", "5s")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_FROM", "no-reply@therapyconnect.local")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// devSigningKey is used only when ENV=development and no key is configured.
const devSigningKey = "development-only-signing-key-change-me"

// SigningKey returns the HMAC key for access tokens.
func (c *Config) SigningKey() []byte {
	if c.JWTSigningKey == "" && c.IsDev() {
		return []byte(devSigningKey)
	}
	return []byte(c.JWTSigningKey)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes outside development (ENV=%q)", c.Env)
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive, got %s", c.JWTTTL)
	}
	if c.BookingLeadTime < 0 {
		return fmt.Errorf("BOOKING_LEAD_TIME must not be negative, got %s", c.BookingLeadTime)
	}
	if c.RescheduleLimit < 0 {
		return fmt.Errorf("RESCHEDULE_LIMIT must not be negative, got %d", c.RescheduleLimit)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative (0 disables), got %s", c.SweepInterval)
	}
	if c.SweepGrace < 0 {
		return fmt.Errorf("SWEEP_GRACE must not be negative, got %s", c.SweepGrace)
	}
	if c.MeetingTimeout <= 0 {
		return fmt.Errorf("MEETING_TIMEOUT must be positive, got %s", c.MeetingTimeout)
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	return nil
}
