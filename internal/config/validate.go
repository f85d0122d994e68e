package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

// Validate checks the whole config and reports every problem at once.
// serving enables the checks that only matter for the long-running server.
func (c *Config) Validate(serving bool) error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	if c.GitHub.Owner == "" {
		v.Add("github.owner is required")
	}
	if c.GitHub.Repo == "" {
		v.Add("github.repo is required")
	}
	if c.GitHub.Token == "" {
		v.Add("github.token is required (or set GITHUB_TOKEN)")
	}
	if strings.ContainsAny(c.GitHub.Branch, " \t") {
		v.Add("github.branch must not contain whitespace")
	}
	if c.GitHub.APIURL != "" {
		if err := validateURL(c.GitHub.APIURL); err != nil {
			v.Add("github.apiURL invalid: %v", err)
		}
	}

	if c.Files.Proxy == "" && c.Files.Direct == "" {
		v.Add("files: at least one of proxy or direct is required")
	}
	for name, p := range map[string]string{FileProxy: c.Files.Proxy, FileDirect: c.Files.Direct} {
		if p == "" {
			continue
		}
		if err := validateRepoPath(p); err != nil {
			v.Add("files.%s invalid: %v", name, err)
		}
	}
	if c.Files.Proxy != "" && c.Files.Proxy == c.Files.Direct {
		v.Add("files.proxy and files.direct must differ")
	}

	if retries := c.Store.Retries(); retries < 0 || retries > 10 {
		v.Add("store.maxRetries must be between 0 and 10")
	}
	if c.Store.Backoff < 0 {
		v.Add("store.backoff must be >= 0")
	}
	if c.Store.Timeout <= 0 {
		v.Add("store.timeout must be > 0")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.Add("logging.level must be debug|info|warn|error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		v.Add("logging.format must be json|text")
	}

	if serving {
		if err := validateListen(c.Server.Listen); err != nil {
			v.Add("server.listen invalid: %v", err)
		}
		if c.Server.RateLimit.Enabled {
			if c.Server.RateLimit.RPS <= 0 {
				v.Add("server.rateLimit.rps must be > 0")
			}
			if c.Server.RateLimit.Burst <= 0 {
				v.Add("server.rateLimit.burst must be > 0")
			}
		}
		if c.Metrics.Enabled {
			if err := validateListen(c.Metrics.Listen); err != nil {
				v.Add("metrics.listen invalid: %v", err)
			}
		}
	}

	if c.Logging.AuditLog != "" {
		if err := ensureWritable(c.resolvePath(c.Logging.AuditLog)); err != nil {
			v.Add("logging.auditLog invalid: %v", err)
		}
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func validateListen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("address is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("must include scheme and host")
	}
	return nil
}

func validateRepoPath(p string) error {
	if strings.HasPrefix(p, "/") {
		return errors.New("must be relative to the repository root")
	}
	if path.Clean(p) != p || strings.HasPrefix(p, "../") || p == ".." {
		return errors.New("must be a clean path inside the repository")
	}
	return nil
}

func ensureWritable(path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	file, err := os.CreateTemp(dir, "rulekeeper-validate-*")
	if err != nil {
		return err
	}
	name := file.Name()
	if err := file.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
