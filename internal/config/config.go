package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rohankatakam/harvest/internal/errors"
)

// Config holds all configuration settings
type Config struct {
	// Repository is the URL of the repository to mine
	Repository string `yaml:"repository" mapstructure:"repository"`

	// Repositories lists additional repositories mined in the same run
	Repositories []string `yaml:"repositories" mapstructure:"repositories"`

	GitHub  GitHubConfig  `yaml:"github" mapstructure:"github"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Extract ExtractConfig `yaml:"extract" mapstructure:"extract"`
	Neo4j   Neo4jConfig   `yaml:"neo4j" mapstructure:"neo4j"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

type GitHubConfig struct {
	Token  string   `yaml:"token" mapstructure:"token"`
	Tokens []string `yaml:"tokens,omitempty" mapstructure:"tokens"`

	// TokensConfigured records whether github.tokens was present at all,
	// so an explicitly empty list can be told apart from an absent one.
	TokensConfigured bool `yaml:"-" mapstructure:"-"`

	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`           // GitHub Enterprise API root
	RateLimit    float64       `yaml:"rate_limit" mapstructure:"rate_limit"`       // Requests per second per token
	MinRemaining int           `yaml:"min_remaining" mapstructure:"min_remaining"` // Skip a token below this quota until its reset
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`             // 0 = no timeout
}

type StorageConfig struct {
	Type        string `yaml:"type" mapstructure:"type"` // "sqlite", "postgres"
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	LocalPath   string `yaml:"local_path" mapstructure:"local_path"`
}

type CacheConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

type ExtractConfig struct {
	Backend         string   `yaml:"backend" mapstructure:"backend"` // "github", "local"
	CloneDir        string   `yaml:"clone_dir" mapstructure:"clone_dir"`
	Include         []string `yaml:"include" mapstructure:"include"`
	Exclude         []string `yaml:"exclude" mapstructure:"exclude"`
	StrictParents   bool     `yaml:"strict_parents" mapstructure:"strict_parents"`
	ParallelSources int      `yaml:"parallel_sources" mapstructure:"parallel_sources"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		GitHub: GitHubConfig{
			RateLimit:    1, // per token; GitHub allows 5,000 requests/hour per token, about 1.4 req/sec
			MinRemaining: 50,
		},
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(homeDir, ".harvest", "harvest.db"),
		},
		Cache: CacheConfig{
			Enabled: false,
			Path:    filepath.Join(homeDir, ".harvest", "compare-cache.db"),
		},
		Extract: ExtractConfig{
			Backend:         "github",
			CloneDir:        filepath.Join(homeDir, ".harvest", "clones"),
			ParallelSources: 1,
		},
		Neo4j: Neo4jConfig{
			Database: "neo4j",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from file, .env files and the environment
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	// Leaf defaults so HARVEST_* environment variables resolve for every key.
	// github.tokens has no default: IsSet must only see an explicit list.
	cfg := Default()
	for key, val := range map[string]interface{}{
		"repository":               cfg.Repository,
		"github.token":             cfg.GitHub.Token,
		"github.base_url":          cfg.GitHub.BaseURL,
		"github.rate_limit":        cfg.GitHub.RateLimit,
		"github.min_remaining":     cfg.GitHub.MinRemaining,
		"github.timeout":           cfg.GitHub.Timeout,
		"storage.type":             cfg.Storage.Type,
		"storage.postgres_dsn":     cfg.Storage.PostgresDSN,
		"storage.local_path":       cfg.Storage.LocalPath,
		"cache.enabled":            cfg.Cache.Enabled,
		"cache.path":               cfg.Cache.Path,
		"extract.backend":          cfg.Extract.Backend,
		"extract.clone_dir":        cfg.Extract.CloneDir,
		"extract.strict_parents":   cfg.Extract.StrictParents,
		"extract.parallel_sources": cfg.Extract.ParallelSources,
		"neo4j.uri":                cfg.Neo4j.URI,
		"neo4j.user":               cfg.Neo4j.User,
		"neo4j.password":           cfg.Neo4j.Password,
		"neo4j.database":           cfg.Neo4j.Database,
		"metrics.addr":             cfg.Metrics.Addr,
		"logging.level":            cfg.Logging.Level,
		"logging.file":             cfg.Logging.File,
		"logging.json":             cfg.Logging.JSON,
	} {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".harvest")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".harvest"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityCritical, "failed to read config")
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityCritical, "failed to unmarshal config")
	}
	cfg.GitHub.TokensConfigured = v.IsSet("github.tokens")

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies well-known environment variables
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if list, ok := os.LookupEnv("GITHUB_TOKENS"); ok {
		cfg.GitHub.Tokens = splitList(list)
		cfg.GitHub.TokensConfigured = true
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rate, err := strconv.ParseFloat(rateLimit, 64); err == nil {
			cfg.GitHub.RateLimit = rate
		}
	}
	if repo := os.Getenv("HARVEST_REPOSITORY"); repo != "" {
		cfg.Repository = repo
	}

	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if path := os.Getenv("LOCAL_DB_PATH"); path != "" {
		cfg.Storage.LocalPath = expandPath(path)
	}

	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Neo4j.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Neo4j.User = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		cfg.Neo4j.Password = pass
	}

	cfg.Storage.LocalPath = expandPath(cfg.Storage.LocalPath)
	cfg.Cache.Path = expandPath(cfg.Cache.Path)
	cfg.Extract.CloneDir = expandPath(cfg.Extract.CloneDir)
}

// Tokens resolves the ordered credential list used for rotation.
// A configured github.tokens list wins and must not be empty; otherwise the
// single token (config, GITHUB_TOKEN, then the OS keychain) is used.
func (c *Config) Tokens() ([]string, error) {
	if c.GitHub.TokensConfigured {
		if len(c.GitHub.Tokens) == 0 {
			return nil, errors.ConfigError("github.tokens is present but empty, check your source configuration")
		}
		return c.GitHub.Tokens, nil
	}

	if c.GitHub.Token != "" {
		return []string{c.GitHub.Token}, nil
	}

	km := NewKeyringManager()
	if km.IsAvailable() {
		if token, err := km.GetGitHubToken(); err == nil && token != "" {
			return []string{token}, nil
		}
	}

	return nil, errors.ConfigError("no GitHub token configured: set GITHUB_TOKEN, github.token, github.tokens or run 'harvest token set'")
}

// RepositoryURLs returns the repository plus any additional repositories, deduplicated
func (c *Config) RepositoryURLs() []string {
	seen := make(map[string]bool)
	var urls []string
	for _, u := range append([]string{c.Repository}, c.Repositories...) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

// ParseRepositoryURL derives owner and name from the last two path segments
// of a repository URL. Trailing slashes and a ".git" suffix are ignored, and
// scp-style "git@host:owner/name" addresses are accepted.
func ParseRepositoryURL(raw string) (owner, name string, err error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, "/")
	s = strings.TrimSuffix(s, ".git")
	s = strings.ReplaceAll(s, ":", "/")

	parts := strings.Split(s, "/")
	var segs []string
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	if len(segs) < 2 {
		return "", "", errors.ConfigErrorf("repository URL %q must end with <owner>/<name>", raw)
	}
	return segs[len(segs)-2], segs[len(segs)-1], nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("repository", c.Repository)
	v.Set("repositories", c.Repositories)
	v.Set("github", c.GitHub)
	v.Set("storage", c.Storage)
	v.Set("cache", c.Cache)
	v.Set("extract", c.Extract)
	v.Set("neo4j", c.Neo4j)
	v.Set("metrics", c.Metrics)
	v.Set("logging", c.Logging)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
