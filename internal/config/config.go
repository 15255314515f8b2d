package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	PageURL           string        `env:"PAGE_URL,required,notEmpty"`
	OllamaURL         string        `env:"OLLAMA_URL"          envDefault:"http://127.0.0.1:11434"`
	DefaultModel      string        `env:"DEFAULT_MODEL"       envDefault:"granite3.1-moe"`
	DBPath            string        `env:"DB_PATH"             envDefault:"db.sqlite"`
	ListenAddr        string        `env:"LISTEN_ADDR"         envDefault:"127.0.0.1:8080"`
	BlockSelector     string        `env:"BLOCK_SELECTOR"      envDefault:"shreddit-post-text-body"`
	FeedSelector      string        `env:"FEED_SELECTOR"       envDefault:"shreddit-feed"`
	DetailPathMarker  string        `env:"DETAIL_PATH_MARKER"  envDefault:"/comments/"`
	ModelsRefreshSpec string        `env:"MODELS_REFRESH_SPEC" envDefault:"@every 15m"`
	SummaryInterval   time.Duration `env:"SUMMARY_INTERVAL"    envDefault:"0s"`
	FetchTimeout      time.Duration `env:"FETCH_TIMEOUT"       envDefault:"20s"`
}

// Load reads an optional .env file and then parses the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}
