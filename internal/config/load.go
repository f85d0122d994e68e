package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.baseDir = filepath.Dir(absPath)

	return &cfg, nil
}

// FromEnv loads path when it is set, or starts from an empty version 1
// config otherwise, then applies environment overrides and defaults.
func FromEnv(path string) (*Config, error) {
	cfg := &Config{ConfigVersion: 1}
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyEnv overrides file values with the environment variables the
// deployment scripts set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	set("GITHUB_TOKEN", &c.GitHub.Token)
	set("GITHUB_OWNER", &c.GitHub.Owner)
	set("GITHUB_REPO", &c.GitHub.Repo)
	set("GITHUB_BRANCH", &c.GitHub.Branch)
	set("GITHUB_API_URL", &c.GitHub.APIURL)
	set("GITHUB_PATH_PROXY", &c.Files.Proxy)
	set("GITHUB_PATH_DIRECT", &c.Files.Direct)
	set("LOG_LEVEL", &c.Logging.Level)
	set("LOG_FORMAT", &c.Logging.Format)
	set("AUDIT_LOG", &c.Logging.AuditLog)

	if v, ok := lookup("METRICS_ADDR"); ok && strings.TrimSpace(v) != "" {
		c.Metrics.Enabled = true
		c.Metrics.Listen = strings.TrimSpace(v)
	}
	if v, ok := lookup("ALLOWED_USERS"); ok && strings.TrimSpace(v) != "" {
		c.Access.AllowedUsers = splitList(v)
	}
}

func (c *Config) ApplyDefaults() {
	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = DefaultAPIURL
	}
	if c.GitHub.Branch == "" {
		c.GitHub.Branch = DefaultBranch
	}
	if c.GitHub.Committer.Name == "" {
		c.GitHub.Committer.Name = "Rulekeeper Bot"
	}
	if c.GitHub.Committer.Email == "" {
		c.GitHub.Committer.Email = "bot@users.noreply.github.com"
	}
	if c.Store.Backoff == 0 {
		c.Store.Backoff = DefaultBackoff
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = DefaultTimeout
	}
	if c.Store.UserAgent == "" {
		c.Store.UserAgent = DefaultUserAgent
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.RPS == 0 {
			c.Server.RateLimit.RPS = 1
		}
		if c.Server.RateLimit.Burst == 0 {
			c.Server.RateLimit.Burst = 5
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetrics
	}
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (c *Config) resolvePath(p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	base := c.baseDir
	if base == "" {
		base = "."
	}
	return filepath.Join(base, p)
}
