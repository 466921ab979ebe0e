package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"relay_server/core/domain"
)

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string

	// Mailbox accounts to poll
	Accounts []domain.Account

	// Forwarding
	TargetEmail    string
	SenderEmail    string
	SenderPassword string
	SMTPServer     string
	SMTPPort       int

	// Processing
	PollInterval    time.Duration
	LookbackDays    int
	BatchLimit      int
	LearningEnabled bool

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string

	// Security
	EncryptionKey     string
	JWTSecret         string
	DashboardPassword string
	SecretKey         string
	AppURL            string
}

// Load reads configuration from the environment. Accounts come from the
// EMAIL_ACCOUNTS JSON array; the legacy single-account variables
// (GMAIL_EMAIL / GMAIL_PASSWORD / IMAP_SERVER) are still honored when
// EMAIL_ACCOUNTS is unset.
func Load() (*Config, error) {
	accounts, err := loadAccounts()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		Accounts: accounts,

		// Forwarding
		TargetEmail:    getEnv("TARGET_EMAIL", ""),
		SenderEmail:    getEnv("SENDER_EMAIL", ""),
		SenderPassword: getEnv("SENDER_PASSWORD", ""),
		SMTPServer:     getEnv("SMTP_SERVER", "smtp.gmail.com"),
		SMTPPort:       getEnvInt("SMTP_PORT", 587),

		// Processing
		PollInterval:    time.Duration(getEnvInt("POLL_INTERVAL_MIN", 30)) * time.Minute,
		LookbackDays:    getEnvInt("EMAIL_LOOKBACK_DAYS", 3),
		BatchLimit:      getEnvInt("EMAIL_BATCH_LIMIT", 100),
		LearningEnabled: getEnvBool("LEARNING_ENABLED", true),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),

		// Security
		EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		DashboardPassword: getEnv("DASHBOARD_PASSWORD", ""),
		SecretKey:         getEnv("SECRET_KEY", ""),
		AppURL:            getEnv("APP_URL", "http://localhost:8080"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.TargetEmail == "" {
		return nil, fmt.Errorf("TARGET_EMAIL is required")
	}
	return cfg, nil
}

// accountJSON mirrors one entry of the EMAIL_ACCOUNTS variable.
type accountJSON struct {
	Email        string `json:"email"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	IMAPServer   string `json:"imap_server"`
	IMAPPort     int    `json:"imap_port"`
	AuthMethod   string `json:"auth_method"`
	RefreshToken string `json:"refresh_token"`
}

func loadAccounts() ([]domain.Account, error) {
	if raw := os.Getenv("EMAIL_ACCOUNTS"); raw != "" {
		var entries []accountJSON
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("failed to parse EMAIL_ACCOUNTS: %w", err)
		}
		accounts := make([]domain.Account, 0, len(entries))
		for _, e := range entries {
			acc := domain.Account{
				Email:        e.Email,
				Username:     e.Username,
				Password:     e.Password,
				IMAPServer:   e.IMAPServer,
				IMAPPort:     e.IMAPPort,
				AuthMethod:   domain.AuthMethod(e.AuthMethod),
				RefreshToken: e.RefreshToken,
			}
			if acc.IMAPServer == "" {
				acc.IMAPServer = "imap.gmail.com"
			}
			if acc.IMAPPort == 0 {
				acc.IMAPPort = 993
			}
			if acc.AuthMethod == "" {
				acc.AuthMethod = domain.AuthPassword
			}
			accounts = append(accounts, acc)
		}
		return accounts, nil
	}

	// Legacy single-account variables.
	email := os.Getenv("GMAIL_EMAIL")
	if email == "" {
		return nil, nil
	}
	return []domain.Account{{
		Email:      email,
		Password:   os.Getenv("GMAIL_PASSWORD"),
		IMAPServer: getEnv("IMAP_SERVER", "imap.gmail.com"),
		IMAPPort:   getEnvInt("IMAP_PORT", 993),
		AuthMethod: domain.AuthPassword,
	}}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// PollIntervalMinutes returns the poll interval in whole minutes, as
// recorded on processing runs.
func (c *Config) PollIntervalMinutes() int {
	return int(c.PollInterval / time.Minute)
}
