package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppPort  int    `mapstructure:"APP_PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	StoreDriver   string `mapstructure:"STORE_DRIVER"`
	DatabasePath  string `mapstructure:"DATABASE_PATH"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	ProviderTimeout     time.Duration `mapstructure:"PROVIDER_TIMEOUT"`
	GracefulErrors      bool          `mapstructure:"GRACEFUL_PROVIDER_ERRORS"`
	StreamPatchInterval time.Duration `mapstructure:"STREAM_PATCH_INTERVAL"`
	DefaultProviders    string        `mapstructure:"DEFAULT_PROVIDERS"`

	OpenAIBaseURL     string `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModel       string `mapstructure:"OPENAI_MODEL"`
	OpenRouterBaseURL string `mapstructure:"OPENROUTER_BASE_URL"`
	OllamaURL         string `mapstructure:"OLLAMA_URL"`
	OllamaModel       string `mapstructure:"OLLAMA_MODEL"`

	OTLPEndpoint   string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure   bool    `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTLPSampleRate float64 `mapstructure:"OTEL_TRACES_SAMPLE_RATE"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("APP_PORT", 8000)
	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("STORE_DRIVER", "sqlite")
	viper.SetDefault("DATABASE_PATH", "/data/arena.db")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("PROVIDER_TIMEOUT", "30s")
	viper.SetDefault("GRACEFUL_PROVIDER_ERRORS", true)
	viper.SetDefault("STREAM_PATCH_INTERVAL", "0s")
	viper.SetDefault("DEFAULT_PROVIDERS", "")
	viper.SetDefault("OPENAI_BASE_URL", "https://api.openai.com")
	viper.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	viper.SetDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api")
	viper.SetDefault("OLLAMA_URL", "http://ollama:11434")
	viper.SetDefault("OLLAMA_MODEL", "llama3.2")
	viper.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	viper.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	viper.SetDefault("OTEL_TRACES_SAMPLE_RATE", 1.0)

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./backend")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultProviderIDs splits DEFAULT_PROVIDERS on commas. Empty means every registered provider.
func (c *Config) DefaultProviderIDs() []string {
	var ids []string
	for _, id := range strings.Split(c.DefaultProviders, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Credential reads a provider secret at call time, so a key set in .env or
// the environment after start-up is picked up without a restart.
func Credential(envKey string) string {
	return viper.GetString(envKey)
}
