package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port             int
	LogLevel         string
	NatsURL          string
	NatsToken        string
	NatsQueueGroup   string
	StateDSN         string
	ChatAPIURL       string
	ChatAccessToken  string
	PageSource       string
	ConnectionFile   string
	APIToken         string
	BatchConcurrency int
	SlackBotToken    string
	SlackChannel     string
}

func Load() Config {
	return Config{
		Port:             envInt("CHATSYNC_PORT", 8760),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		NatsURL:          envStr("NATS_URL", ""),
		NatsToken:        envStr("NATS_TOKEN", ""),
		NatsQueueGroup:   envStr("NATS_QUEUE_GROUP", "chatsync"),
		StateDSN:         envStr("STATE_DSN", "file://~/.chatsync/fingerprints.json"),
		ChatAPIURL:       envStr("CHAT_API_URL", "https://chatgpt.com"),
		ChatAccessToken:  envStr("CHAT_ACCESS_TOKEN", ""),
		PageSource:       envStr("CHAT_PAGE_SOURCE", "~/.chatsync/pages"),
		ConnectionFile:   envStr("CHATSYNC_CONFIG", "~/.config/chatsync/config.toml"),
		APIToken:         envStr("CHATSYNC_API_TOKEN", ""),
		BatchConcurrency: envInt("BATCH_CONCURRENCY", 4),
		SlackBotToken:    envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:     envStr("SLACK_CHANNEL", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
