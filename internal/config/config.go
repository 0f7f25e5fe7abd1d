package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	CHP     CHPConfig
	Slack   SlackConfig
	Posts   PostsConfig
	Images  ImagesConfig
	Authors AuthorsConfig
	Media   MediaConfig
	Retry   RetryConfig
	Sweep   SweepConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// CHPConfig points at the content hub. URL is the CMIS repository root that
// "query" and "children" are appended to.
type CHPConfig struct {
	URL             string
	Token           string
	Users           []int64
	XMLTemplate     string
	XMLTemplateFile string
}

type SlackConfig struct {
	URL     string
	Channel string
}

type PostsConfig struct {
	EnabledTypes []string
}

type ImagesConfig struct {
	MetaKeys []string
}

type AuthorsConfig struct {
	CoAuthors bool
}

type MediaConfig struct {
	UploadAuthor int64
}

type RetryConfig struct {
	Max          int
	Delay        time.Duration
	PublishDelay time.Duration
}

type SweepConfig struct {
	Window   time.Duration
	PageSize int
	Throttle time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Images: ImagesConfig{
			MetaKeys: []string{
				"social-img-id",
				"leading-image-id",
				"_yoast_wpseo_opengraph-image-id",
				"_yoast_wpseo_twitter-image-id",
			},
		},
		Retry: RetryConfig{
			Max:          4,
			Delay:        30 * time.Minute,
			PublishDelay: 60 * time.Second,
		},
		Sweep: SweepConfig{
			Window:   72 * time.Hour,
			PageSize: 100,
			Throttle: 2 * time.Second,
		},
	}
}

// Load reads configuration from the JSON file backend, a .env file in the
// working directory, environment variables and the secrets file.
//
// The backend is a JSON file at $XDG_CONFIG_HOME/chpusage/config.json.
// Secrets (chp.token, slack.url, server.api_token) are never read from it:
// they come from CHPUSAGE_* environment variables or, failing that, from
// $XDG_DATA_HOME/chpusage/secrets.json.
//
// Environment variables (CHPUSAGE_*) override backend values. Variables
// already set in the process environment win over the .env file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env file: %v\n", err)
	}
	return loadWith(newPlatformBackend(), fileSecrets{})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

const secretService = "chpusage"

func loadWith(b ConfigBackend, sec secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range settings {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := sec.Get(secretService, s.account()); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if cfg.Retry.Max < 0 {
		return Config{}, fmt.Errorf("invalid config: retry.max must not be negative, got %d", cfg.Retry.Max)
	}
	if cfg.Sweep.PageSize <= 0 {
		return Config{}, fmt.Errorf("invalid config: sweep.page_size must be positive, got %d", cfg.Sweep.PageSize)
	}

	return cfg, nil
}

// Template returns the usage XML template: the inline value when set,
// otherwise the contents of the template file. An empty result means usage
// reporting is not configured.
func (c CHPConfig) Template() (string, error) {
	if strings.TrimSpace(c.XMLTemplate) != "" {
		return c.XMLTemplate, nil
	}
	if c.XMLTemplateFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.XMLTemplateFile)
	if err != nil {
		return "", fmt.Errorf("reading xml template: %w", err)
	}
	return string(data), nil
}

// fileSecrets reads secrets from the per-user secrets file.
type fileSecrets struct{}

func (fileSecrets) Get(service, account string) (string, error) {
	out, err := secretGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
