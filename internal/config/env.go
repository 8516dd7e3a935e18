package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file into the process environment. Missing files are ignored
// and variables already set in the environment win.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func applyEnv(cfg *Config) {
	setString(&cfg.Aave.PrivateKey, "DN_PRIVATE_KEY")
	setString(&cfg.Aave.RPCURL, "DN_RPC_URL")
	cfg.Hyperliquid.PrivateKey = cfg.Aave.PrivateKey
	setString(&cfg.Hyperliquid.PrivateKey, "DN_HL_PRIVATE_KEY")
	setString(&cfg.Hyperliquid.AccountAddress, "DN_HL_ACCOUNT")
	setString(&cfg.Hyperliquid.VaultAddress, "DN_HL_VAULT")
	setString(&cfg.Telegram.Token, "DN_TELEGRAM_TOKEN")
	setString(&cfg.Telegram.ChatID, "DN_TELEGRAM_CHAT_ID")
	setString(&cfg.Timescale.DSN, "DN_TIMESCALE_DSN")
	setString(&cfg.NATS.URL, "DN_NATS_URL")
	setString(&cfg.Log.Level, "DN_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			*dst = trimmed
		}
	}
}
