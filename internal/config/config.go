package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AgentName       string `env:"AGENT_NAME"       envDefault:"SummaryAgent"`
	AgentSeed       string `env:"AGENT_SEED,required,notEmpty"`
	MailboxKey      string `env:"MAILBOX_KEY,required,notEmpty"`
	MailboxURL      string `env:"MAILBOX_URL"      envDefault:"https://agentverse.ai"`
	ProtocolName    string `env:"PROTOCOL_NAME"    envDefault:"Website Link Summarizer"`
	ProtocolVersion string `env:"PROTOCOL_VERSION" envDefault:"0.1.0"`
	PublishManifest bool   `env:"PUBLISH_MANIFEST" envDefault:"true"`

	OpenAIAPIKey      string  `env:"OPENAI_API_KEY,required,notEmpty"`
	OpenAIModel       string  `env:"OPENAI_MODEL"       envDefault:"gpt-3.5-turbo-1106"`
	OpenAITemperature float64 `env:"OPENAI_TEMPERATURE" envDefault:"0"`
	OpenAIBaseURL     string  `env:"OPENAI_BASE_URL"`

	LoaderFormat  string        `env:"LOADER_FORMAT"   envDefault:"text"`
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT"   envDefault:"30s"`
	FetchMaxBytes int64         `env:"FETCH_MAX_BYTES" envDefault:"5242880"`

	PollInterval     time.Duration `env:"POLL_INTERVAL"         envDefault:"5s"`
	HandlerTimeout   time.Duration `env:"HANDLER_TIMEOUT"       envDefault:"2m"`
	MaxConcurrency   int           `env:"AGENT_MAX_CONCURRENCY" envDefault:"8"`
	EnvelopeTTL      time.Duration `env:"ENVELOPE_TTL"          envDefault:"1h"`
	RegistrationSpec string        `env:"REGISTRATION_SPEC"     envDefault:"@every 1h"`
	PruneSpec        string        `env:"PRUNE_SPEC"            envDefault:"0 3 * * *"`

	DBPath           string        `env:"DB_PATH"            envDefault:"db.sqlite"`
	JournalRetention time.Duration `env:"JOURNAL_RETENTION"  envDefault:"720h"`
	SummaryCacheTTL  time.Duration `env:"SUMMARY_CACHE_TTL"  envDefault:"1h"`
	SummaryCacheSize int           `env:"SUMMARY_CACHE_SIZE" envDefault:"1024"`
	RedisAddr        string        `env:"REDIS_ADDR"`

	TelegramToken string  `env:"TELEGRAM_TOKEN"`
	AllowedUsers  []int64 `env:"ALLOWED_USERS"`

	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}
