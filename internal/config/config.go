package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	ConfigVersion int             `yaml:"configVersion"`
	GitHub        GitHubConfig    `yaml:"github"`
	Files         FilesConfig     `yaml:"files"`
	Store         StoreConfig     `yaml:"store"`
	Normalize     NormalizeConfig `yaml:"normalize"`
	Server        ServerConfig    `yaml:"server"`
	Access        AccessConfig    `yaml:"access"`
	Logging       LoggingConfig   `yaml:"logging"`
	Metrics       MetricsConfig   `yaml:"metrics"`

	baseDir string `yaml:"-"`
}

type GitHubConfig struct {
	Owner     string          `yaml:"owner"`
	Repo      string          `yaml:"repo"`
	Branch    string          `yaml:"branch"`
	Token     string          `yaml:"token"`
	APIURL    string          `yaml:"apiURL"`
	Committer CommitterConfig `yaml:"committer"`
}

type CommitterConfig struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// FilesConfig maps rule file names to repository paths.
type FilesConfig struct {
	Proxy  string `yaml:"proxy"`
	Direct string `yaml:"direct"`
}

type StoreConfig struct {
	MaxRetries *int          `yaml:"maxRetries"`
	Backoff    time.Duration `yaml:"backoff"`
	Timeout    time.Duration `yaml:"timeout"`
	UserAgent  string        `yaml:"userAgent"`
}

type NormalizeConfig struct {
	PublicSuffix bool `yaml:"publicSuffix"`
}

type ServerConfig struct {
	Listen    string          `yaml:"listen"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type AccessConfig struct {
	AllowedUsers []string `yaml:"allowedUsers"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	AuditLog string `yaml:"auditLog"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

const (
	FileProxy  = "proxy"
	FileDirect = "direct"
)

const (
	DefaultAPIURL     = "https://api.github.com"
	DefaultBranch     = "main"
	DefaultMaxRetries = 2
	DefaultBackoff    = 500 * time.Millisecond
	DefaultTimeout    = 30 * time.Second
	DefaultUserAgent  = "rulekeeper"
	DefaultListen     = "127.0.0.1:8080"
	DefaultMetrics    = "127.0.0.1:9090"
)

func (c *Config) BaseDir() string {
	return c.baseDir
}

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}

// Names lists the configured rule files in a stable order.
func (f FilesConfig) Names() []string {
	var names []string
	if f.Proxy != "" {
		names = append(names, FileProxy)
	}
	if f.Direct != "" {
		names = append(names, FileDirect)
	}
	return names
}

// Path returns the repository path of the named rule file.
func (f FilesConfig) Path(name string) (string, error) {
	var p string
	switch name {
	case FileProxy:
		p = f.Proxy
	case FileDirect:
		p = f.Direct
	default:
		return "", fmt.Errorf("unknown rule file %q", name)
	}
	if p == "" {
		return "", fmt.Errorf("rule file %q is not configured", name)
	}
	return p, nil
}

// FileForPolicy maps a legacy policy token to the rule file holding it.
// PROXY and REJECT share the proxy list.
func FileForPolicy(policy string) string {
	if policy == "DIRECT" {
		return FileDirect
	}
	return FileProxy
}

// PathForPolicy returns the repository path for a legacy policy token.
func (f FilesConfig) PathForPolicy(policy string) (string, error) {
	return f.Path(FileForPolicy(policy))
}

// Retries returns the configured retry budget.
func (s StoreConfig) Retries() int {
	if s.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *s.MaxRetries
}

// Allowed reports whether user may edit rules. An empty allow-list admits everyone.
func (a AccessConfig) Allowed(user string) bool {
	if len(a.AllowedUsers) == 0 {
		return true
	}
	user = userKey(user)
	if user == "" {
		return false
	}
	for _, u := range a.AllowedUsers {
		if userKey(u) == user {
			return true
		}
	}
	return false
}

func userKey(u string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))
}
