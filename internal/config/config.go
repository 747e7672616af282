package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogDev          bool          `env:"LOG_DEV" envDefault:"true"`

	JWTSecret string `env:"JWT_SECRET,required"`
	JWTTTLMin int    `env:"JWT_TTL_MIN" envDefault:"1440"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLITEDsn     string `env:"SQLITE_DSN" envDefault:"file:chat.db?_pragma=foreign_keys(ON)"`
	PostgresDsn   string `env:"POSTGRES_DSN"`

	UploadDir   string `env:"UPLOAD_DIR" envDefault:"uploads"`
	MaxUploadMB int64  `env:"MAX_UPLOAD_MB" envDefault:"5"`

	TypingWindow   time.Duration `env:"TYPING_WINDOW" envDefault:"3s"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:","`

	AssistantEmail  string `env:"ASSISTANT_EMAIL" envDefault:"assistant@codecollab.local"`
	AssistantName   string `env:"ASSISTANT_NAME" envDefault:"AI Assistant"`
	AssistantAvatar string `env:"ASSISTANT_AVATAR"`

	// Optional collaborators, disabled when empty.
	RedisURL     string `env:"REDIS_URL"`
	RedisKey     string `env:"REDIS_PRESENCE_KEY" envDefault:"presence:online"`
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"codecollab"`
}

// Load reads an optional .env file and then parses the environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	switch cfg.StorageDriver {
	case "sqlite":
	case "postgres":
		if cfg.PostgresDsn == "" {
			return Config{}, errors.New("POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	return cfg, nil
}

func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
