package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Network:          "mainnet",
		WalletAddress:    "kaspa:qz0k4p7xglplu2zkyn8r0cnqg20m0hzmxz",
		WalletPassphrase: "secret",
		NodeURL:          "ws://localhost:17110",
		PostgresHost:     "localhost",
		PostgresDB:       "kasiad",
		AliasLength:      6,
		AliasMaxAttempts: 100,
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing wallet address", func(t *testing.T) {
		cfg := validConfig()
		cfg.WalletAddress = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing passphrase", func(t *testing.T) {
		cfg := validConfig()
		cfg.WalletPassphrase = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("network prefix mismatch", func(t *testing.T) {
		cfg := validConfig()
		cfg.Network = "testnet"
		assert.Error(t, cfg.Validate())

		cfg.WalletAddress = "kaspatest:qz0k4p7xglplu2zkyn8r0cnqg20m0hzmxz"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown network", func(t *testing.T) {
		cfg := validConfig()
		cfg.Network = "devnet"
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive alias policy", func(t *testing.T) {
		cfg := validConfig()
		cfg.AliasLength = 0
		assert.Error(t, cfg.Validate())

		cfg = validConfig()
		cfg.AliasMaxAttempts = 0
		assert.Error(t, cfg.Validate())
	})
}
