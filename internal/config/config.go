// Package config は環境変数と任意の.envファイルからアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// Session
	SessionSecret    string `mapstructure:"SESSION_SECRET"`
	SessionMaxAge    int    `mapstructure:"SESSION_MAX_AGE"`
	SessionUpdateAge int    `mapstructure:"SESSION_UPDATE_AGE"`
	BcryptCost       int    `mapstructure:"BCRYPT_COST"`

	// Notification
	NotificationPollInterval  time.Duration `mapstructure:"NOTIFICATION_POLL_INTERVAL"`
	NotificationRetentionDays int           `mapstructure:"NOTIFICATION_RETENTION_DAYS"`

	// Locale
	SupportedLocales string `mapstructure:"SUPPORTED_LOCALES"`
	DefaultLocale    string `mapstructure:"DEFAULT_LOCALE"`

	// Rate Limit（req/min）
	RateLimitGeneral int `mapstructure:"RATE_LIMIT_GENERAL"`
	RateLimitLogin   int `mapstructure:"RATE_LIMIT_LOGIN"`

	// Logging
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Server
	ServerPort string `mapstructure:"SERVER_PORT"`
	BaseURL    string `mapstructure:"BASE_URL"`

	// Cookie（CookieSecureはBASE_URLのスキームから導出する）
	CookieSecure bool   `mapstructure:"-"`
	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `mapstructure:"CORS_ALLOWED_ORIGIN"`

	// 初期管理者（create-adminコマンドでのみ使用）
	AdminEmail    string `mapstructure:"ADMIN_EMAIL"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
	AdminName     string `mapstructure:"ADMIN_NAME"`
}

// Load は.env（存在する場合）と環境変数からConfigを読み込む。
// 環境変数は.envの値より優先される。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // .envが無い環境（CI・コンテナ）では無視する

	v.AutomaticEnv()

	// 必須項目もキーとして登録しておかないとUnmarshalで環境変数が反映されない
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SESSION_SECRET", "")
	v.SetDefault("BASE_URL", "")

	v.SetDefault("SESSION_MAX_AGE", 30*24*60*60)
	v.SetDefault("SESSION_UPDATE_AGE", 24*60*60)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("NOTIFICATION_POLL_INTERVAL", "5s")
	v.SetDefault("NOTIFICATION_RETENTION_DAYS", 90)
	v.SetDefault("SUPPORTED_LOCALES", "en,fr")
	v.SetDefault("DEFAULT_LOCALE", "en")
	v.SetDefault("RATE_LIMIT_GENERAL", 120)
	v.SetDefault("RATE_LIMIT_LOGIN", 10)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("ADMIN_NAME", "Administrator")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Required fields
	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", cfg.BcryptCost)
	}
	if cfg.NotificationPollInterval <= 0 {
		return nil, fmt.Errorf("NOTIFICATION_POLL_INTERVAL must be positive, got %s", cfg.NotificationPollInterval)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

// Locales はSUPPORTED_LOCALESをカンマで分割したロケール一覧を返す。
// DefaultLocaleは常に先頭に含まれる。
func (c *Config) Locales() []string {
	out := []string{c.DefaultLocale}
	for _, p := range strings.Split(c.SupportedLocales, ",") {
		s := strings.TrimSpace(p)
		if s == "" || s == c.DefaultLocale {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SessionMaxAgeDuration はセッション有効期間をtime.Durationで返す。
func (c *Config) SessionMaxAgeDuration() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// SessionUpdateAgeDuration はセッション延長の間隔をtime.Durationで返す。
func (c *Config) SessionUpdateAgeDuration() time.Duration {
	return time.Duration(c.SessionUpdateAge) * time.Second
}
