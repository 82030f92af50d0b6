// Package config loads service configuration from defaults, an optional TOML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileEnv names the environment variable pointing at an optional TOML file.
const FileEnv = "LLM4VC_CONFIG"

// Config holds all runtime configuration.
type Config struct {
	ServiceName string
	Port        string
	LogLevel    string
	CORSOrigins []string

	OllamaURL    string
	OllamaModel  string
	EmbedRate    float64 // requests per second to Ollama, 0 disables pacing
	EmbedBurst   int
	EmbedTimeout time.Duration

	QdrantURL  string
	Collection string

	DataDir         string
	IngestBatchSize int

	NATSURL string
}

// fileConfig mirrors Config with TOML keys. Zero values leave defaults alone.
type fileConfig struct {
	ServiceName string   `toml:"service_name"`
	Port        string   `toml:"port"`
	LogLevel    string   `toml:"log_level"`
	CORSOrigins []string `toml:"cors_origins"`
	Ollama      struct {
		URL     string  `toml:"url"`
		Model   string  `toml:"model"`
		Rate    float64 `toml:"rate"`
		Burst   int     `toml:"burst"`
		Timeout string  `toml:"timeout"`
	} `toml:"ollama"`
	Qdrant struct {
		URL        string `toml:"url"`
		Collection string `toml:"collection"`
	} `toml:"qdrant"`
	Ingest struct {
		DataDir   string `toml:"data_dir"`
		BatchSize int    `toml:"batch_size"`
	} `toml:"ingest"`
	NATS struct {
		URL string `toml:"url"`
	} `toml:"nats"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServiceName:     "llm4vc-backend",
		Port:            "8000",
		LogLevel:        "info",
		CORSOrigins:     []string{"http://localhost:3000", "https://llm-4-vc.onrender.com"},
		OllamaURL:       "http://localhost:11434",
		OllamaModel:     "nomic-embed-text",
		EmbedRate:       20,
		EmbedBurst:      5,
		EmbedTimeout:    30 * time.Second,
		QdrantURL:       "localhost:6334",
		Collection:      "welcome_collection",
		DataDir:         "/app/data",
		IngestBatchSize: 64,
	}
}

// Load builds the configuration. The TOML file named by LLM4VC_CONFIG is
// optional; a path that is set but unreadable is an error.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.applyTOML(data); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyTOML(data []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return err
	}
	setString(&c.ServiceName, fc.ServiceName)
	setString(&c.Port, fc.Port)
	setString(&c.LogLevel, fc.LogLevel)
	if len(fc.CORSOrigins) > 0 {
		c.CORSOrigins = fc.CORSOrigins
	}
	setString(&c.OllamaURL, fc.Ollama.URL)
	setString(&c.OllamaModel, fc.Ollama.Model)
	if fc.Ollama.Rate != 0 {
		c.EmbedRate = fc.Ollama.Rate
	}
	if fc.Ollama.Burst != 0 {
		c.EmbedBurst = fc.Ollama.Burst
	}
	if fc.Ollama.Timeout != "" {
		d, err := time.ParseDuration(fc.Ollama.Timeout)
		if err != nil {
			return fmt.Errorf("ollama.timeout: %w", err)
		}
		c.EmbedTimeout = d
	}
	setString(&c.QdrantURL, fc.Qdrant.URL)
	setString(&c.Collection, fc.Qdrant.Collection)
	setString(&c.DataDir, fc.Ingest.DataDir)
	if fc.Ingest.BatchSize != 0 {
		c.IngestBatchSize = fc.Ingest.BatchSize
	}
	setString(&c.NATSURL, fc.NATS.URL)
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString(&c.Port, getenv("PORT"))
	setString(&c.LogLevel, getenv("LOG_LEVEL"))
	if v := getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	setString(&c.OllamaURL, getenv("OLLAMA_BASE_URL"))
	setString(&c.OllamaModel, getenv("OLLAMA_EMBEDDING_MODEL"))
	setString(&c.QdrantURL, getenv("QDRANT_URL"))
	setString(&c.Collection, getenv("QDRANT_COLLECTION"))
	setString(&c.DataDir, getenv("DATA_DIR"))
	setString(&c.NATSURL, getenv("NATS_URL"))

	if v := getenv("EMBED_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: EMBED_RATE: %w", err)
		}
		c.EmbedRate = f
	}
	if v := getenv("EMBED_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: EMBED_BURST: %w", err)
		}
		c.EmbedBurst = n
	}
	if v := getenv("EMBED_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: EMBED_TIMEOUT: %w", err)
		}
		c.EmbedTimeout = d
	}
	if v := getenv("INGEST_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: INGEST_BATCH_SIZE: %w", err)
		}
		c.IngestBatchSize = n
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.OllamaURL == "" {
		errs = append(errs, errors.New("ollama url is required"))
	}
	if c.OllamaModel == "" {
		errs = append(errs, errors.New("ollama model is required"))
	}
	if c.QdrantURL == "" {
		errs = append(errs, errors.New("qdrant url is required"))
	}
	if c.Collection == "" {
		errs = append(errs, errors.New("collection name is required"))
	}
	if c.EmbedRate < 0 {
		errs = append(errs, errors.New("embed rate must not be negative"))
	}
	if c.EmbedBurst <= 0 {
		errs = append(errs, errors.New("embed burst must be positive"))
	}
	if c.EmbedTimeout <= 0 {
		errs = append(errs, errors.New("embed timeout must be positive"))
	}
	if c.IngestBatchSize <= 0 {
		errs = append(errs, errors.New("ingest batch size must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
