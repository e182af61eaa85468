package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultRateLimit = 100
)

// Config holds everything the agent needs from the environment. It is
// built once at startup and passed into constructors; nothing reads the
// environment after Load.
type Config struct {
	Endpoint   string        // webhook URL
	Token      string        // bearer token for the webhook
	Timeout    time.Duration // webhook POST timeout
	Reader     string        // PC/SC reader name substring, empty for first reader
	StatusAddr string        // status API listen address, empty to disable
	RateLimit  int           // status API requests per minute
	SoundDir   string        // directory with feedback sounds, empty to disable

	NatsURL   string // NATS server URL, empty to disable publishing
	NatsToken string

	TelegramToken   string // Telegram bot token, empty to disable notifications
	TelegramChatIDs []int64
}

// Load reads and validates the environment. Missing required variables
// are fatal to the caller.
func Load() (*Config, error) {
	cfg := &Config{
		Endpoint:   os.Getenv("API_ENDPOINT"),
		Token:      os.Getenv("API_TOKEN"),
		Timeout:    defaultTimeout,
		Reader:     os.Getenv("READER"),
		StatusAddr: os.Getenv("STATUS_ADDR"),
		RateLimit:  defaultRateLimit,
		SoundDir:   os.Getenv("SOUND_DIR"),

		NatsURL:   os.Getenv("NATS_URL"),
		NatsToken: os.Getenv("NATS_TOKEN"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("API_ENDPOINT is not specified")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("API_TOKEN is not specified")
	}

	if v := os.Getenv("API_TIMEOUT"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("invalid API_TIMEOUT %q", v)
		}
		cfg.Timeout = time.Duration(seconds) * time.Second
	}

	if v := os.Getenv("RATE_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT %q", v)
		}
		cfg.RateLimit = limit
	}

	for i := 1; i <= 3; i++ {
		v := os.Getenv(fmt.Sprintf("TELEGRAM_CHAT_ID_%d", i))
		if v == "" {
			continue
		}
		chatID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID_%d %q", i, v)
		}
		cfg.TelegramChatIDs = append(cfg.TelegramChatIDs, chatID)
	}

	return cfg, nil
}
