package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/kasia-im/kasiad/pkg/validation"
)

type Config struct {
	Development bool
	// API configuration
	APIPort int
	// Postgres configuration
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	// Node configuration
	NodeURL string
	// Network selects the chain and its address prefix: mainnet or testnet
	Network string
	// Tenant wallet configuration
	WalletAddress    string
	WalletPassphrase string
	// Handshake protocol configuration
	AliasLength      int
	AliasMaxAttempts int

	// Notification configuration
	TelegramBotToken string
	TelegramChatID   string
	NotifyEmail      string

	// SMTP configuration
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPSender   string
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Development:      getEnvAsBool("DEVELOPMENT", false),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnvAsInt("POSTGRES_PORT", 5432),
		PostgresDB:       getEnv("POSTGRES_DB", "kasiad"),
		NodeURL:          getEnv("NODE_URL", "ws://localhost:17110"),
		Network:          getEnv("NETWORK", "mainnet"),
		WalletAddress:    getEnv("WALLET_ADDRESS", ""),
		WalletPassphrase: getEnv("WALLET_PASSPHRASE", ""),
		AliasLength:      getEnvAsInt("ALIAS_LENGTH", 6),
		AliasMaxAttempts: getEnvAsInt("ALIAS_MAX_ATTEMPTS", 100),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		NotifyEmail:      getEnv("NOTIFY_EMAIL", ""),
		SMTPHost:         getEnv("SMTP_HOST", "smtp.example.com"),
		SMTPPort:         getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:         getEnv("SMTP_USER", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		SMTPSender:       getEnv("SMTP_SENDER", ""),

		APIPort: getEnvAsInt("API_PORT", 6590),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	if c.WalletAddress == "" {
		return fmt.Errorf("WALLET_ADDRESS is required")
	}

	if err := validation.ValidateAddress(c.WalletAddress); err != nil {
		return fmt.Errorf("invalid WALLET_ADDRESS format: %w", err)
	}

	switch c.Network {
	case "mainnet":
		if !strings.HasPrefix(c.WalletAddress, "kaspa:") {
			return fmt.Errorf("WALLET_ADDRESS does not match mainnet prefix")
		}
	case "testnet":
		if !strings.HasPrefix(c.WalletAddress, "kaspatest:") {
			return fmt.Errorf("WALLET_ADDRESS does not match testnet prefix")
		}
	default:
		return fmt.Errorf("NETWORK must be mainnet or testnet, got %q", c.Network)
	}

	if c.WalletPassphrase == "" {
		return fmt.Errorf("WALLET_PASSPHRASE is required")
	}

	if c.NodeURL == "" {
		return fmt.Errorf("NODE_URL is required")
	}

	if c.PostgresDB == "" {
		return fmt.Errorf("POSTGRES_DB is required")
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}

	if c.AliasLength <= 0 {
		return fmt.Errorf("ALIAS_LENGTH must be positive")
	}

	if c.AliasMaxAttempts <= 0 {
		return fmt.Errorf("ALIAS_MAX_ATTEMPTS must be positive")
	}

	return nil
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
