package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config carries every runtime knob for the chat backend. Values come from
// the environment, optionally seeded from a local .env file.
type Config struct {
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// Inference endpoint. HFToken is the single credential the generation
	// path requires; when it is empty the server still runs, but every
	// generation request is refused with a "not configured" status.
	HFToken    string `env:"HF_TOKEN"`
	APIBaseURL string `env:"API_BASE_URL" envDefault:"https://router.huggingface.co/v1"`

	// Model selection. Candidates are probed in order at first use; the
	// fallback is used when none of them answer the probe.
	ModelCandidates []string `env:"MODEL_CANDIDATES" envSeparator:"," envDefault:"openai/gpt-oss-20b,openai/gpt-oss-120b"`
	ModelFallback   string   `env:"MODEL_FALLBACK" envDefault:"openai/gpt-oss-20b"`

	// Generation options.
	MaxTokens   int     `env:"MAX_TOKENS" envDefault:"1000"`
	Temperature float64 `env:"TEMPERATURE" envDefault:"0.7"`

	// Persistence. The JSON file is the default backend; setting MONGO_URI
	// switches the store to MongoDB.
	ConversationsFile string `env:"CONVERSATIONS_FILE" envDefault:"data/conversations.json"`
	MongoURI          string `env:"MONGO_URI"`
	MongoDatabase     string `env:"MONGO_DATABASE" envDefault:"osschat"`

	Logging LoggingConfig
}

type LoggingConfig struct {
	Level        string `env:"LOG_LEVEL" envDefault:"info"`
	Encoding     string `env:"LOG_ENCODING" envDefault:"console"`
	Development  bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
	EnableCaller bool   `env:"LOG_CALLER" envDefault:"false"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"osschat-server"`
}

var (
	cfg     *Config
	loadErr error
	once    sync.Once
)

// Load parses the configuration exactly once per process.
func Load() (*Config, error) {
	once.Do(func() {
		if err := loadEnvFiles(); err != nil {
			loadErr = fmt.Errorf("load env files: %w", err)
			return
		}

		c := &Config{}
		if err := env.Parse(c); err != nil {
			loadErr = fmt.Errorf("parse env: %w", err)
			return
		}

		c.Normalize()
		cfg = c
	})

	return cfg, loadErr
}

func loadEnvFiles() error {
	if err := godotenv.Load(); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			// no .env is fine, variables can be supplied externally
			return nil
		}
		return err
	}
	return nil
}

// Normalize trims and defaults the parsed values.
func (c *Config) Normalize() {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	c.HFToken = strings.TrimSpace(c.HFToken)
	c.ModelFallback = strings.TrimSpace(c.ModelFallback)
	c.MongoURI = strings.TrimSpace(c.MongoURI)

	candidates := make([]string, 0, len(c.ModelCandidates))
	for _, m := range c.ModelCandidates {
		if m = strings.TrimSpace(m); m != "" {
			candidates = append(candidates, m)
		}
	}
	c.ModelCandidates = candidates

	if c.MaxTokens <= 0 {
		c.MaxTokens = 1000
	}
	if c.Temperature < 0 {
		c.Temperature = 0.7
	}
}

// HasCredential reports whether the generation path is usable at all.
func (c *Config) HasCredential() bool {
	return c.HFToken != ""
}
