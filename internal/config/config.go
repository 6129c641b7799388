package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	DBConn        string
	LogLevel      string
	SessionSecret string
	AuthURL       string
	BaseURL       string
	FormbarURL    string
	APIKey        string
	LenderUserID  int64
	LenderPIN     string
	CheckLegDelay time.Duration
	EncryptionKey []byte

	// SMTP settings are optional; reconciliation alert mail is disabled
	// when AlertEmail is empty.
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
	AlertEmail   string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DBConn:        getEnv("DB_CONN", "host=localhost port=5432 user=formbank password=formbank dbname=formbank sslmode=disable"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		SessionSecret: getEnv("SESSION_SECRET", "your_secret_key"),
		AuthURL:       getEnv("AUTH_URL", "http://localhost:420"),
		FormbarURL:    getEnv("FORMBAR_URL", "http://localhost:420"),
		APIKey:        getEnv("API_KEY", "your_api_key"),
		LenderPIN:     getEnv("LENDER_PIN", "3639"),
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnv("SMTP_PORT", "587"),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SenderEmail:   getEnv("SENDER_EMAIL", "formbank@localhost"),
		AlertEmail:    getEnv("ALERT_EMAIL", ""),
	}
	cfg.BaseURL = getEnv("BASE_URL", fmt.Sprintf("http://localhost:%s", cfg.Port))

	lenderID, err := strconv.ParseInt(getEnv("LENDER_USER_ID", "1"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LENDER_USER_ID: %w", err)
	}
	cfg.LenderUserID = lenderID

	delay, err := time.ParseDuration(getEnv("CHECK_LEG_DELAY", "6s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHECK_LEG_DELAY: %w", err)
	}
	cfg.CheckLegDelay = delay

	key, err := hex.DecodeString(getEnv("ENCRYPTION_KEY", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"))
	if err != nil {
		return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
	}
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 16, 24, or 32 bytes, got %d", len(key))
	}
	cfg.EncryptionKey = key

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if cfg.LenderPIN == "" {
		return nil, fmt.Errorf("LENDER_PIN is required")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
