package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `configVersion: 1
github:
  owner: acme
  repo: routing
  token: file-token
files:
  proxy: rules/proxy.list
  direct: rules/direct.list
store:
  maxRetries: 0
  backoff: 250ms
logging:
  auditLog: audit.jsonl
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rulekeeper.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadAndDefaults(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.ApplyDefaults()

	if cfg.GitHub.Branch != DefaultBranch || cfg.GitHub.APIURL != DefaultAPIURL {
		t.Fatalf("expected github defaults, got %+v", cfg.GitHub)
	}
	if cfg.Store.Retries() != 0 {
		t.Fatalf("expected explicit zero retries, got %d", cfg.Store.Retries())
	}
	if cfg.Store.Backoff != 250*time.Millisecond || cfg.Store.Timeout != DefaultTimeout {
		t.Fatalf("unexpected store config %+v", cfg.Store)
	}
	if got := cfg.ResolvePath(cfg.Logging.AuditLog); got != filepath.Join(filepath.Dir(path), "audit.jsonl") {
		t.Fatalf("expected audit log next to config, got %s", got)
	}
	if err := cfg.Validate(true); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestRetriesDefault(t *testing.T) {
	var s StoreConfig
	if s.Retries() != DefaultMaxRetries {
		t.Fatalf("expected default retries, got %d", s.Retries())
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.ApplyEnv(env(map[string]string{
		"GITHUB_TOKEN":      "env-token",
		"GITHUB_BRANCH":     "rules",
		"GITHUB_PATH_PROXY": "lists/proxy.list",
		"ALLOWED_USERS":     "@alice, bob;carol",
		"METRICS_ADDR":      "127.0.0.1:9100",
		"LOG_FORMAT":        " ",
	}))
	cfg.ApplyDefaults()

	if cfg.GitHub.Token != "env-token" || cfg.GitHub.Branch != "rules" {
		t.Fatalf("expected env github values, got %+v", cfg.GitHub)
	}
	if cfg.Files.Proxy != "lists/proxy.list" || cfg.Files.Direct != "rules/direct.list" {
		t.Fatalf("unexpected files %+v", cfg.Files)
	}
	if strings.Join(cfg.Access.AllowedUsers, "|") != "@alice|bob|carol" {
		t.Fatalf("unexpected allowed users %v", cfg.Access.AllowedUsers)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9100" {
		t.Fatalf("expected metrics enabled from env, got %+v", cfg.Metrics)
	}
	if cfg.Logging.Format != "text" {
		t.Fatalf("blank env must not override, got %q", cfg.Logging.Format)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := &Config{
		ConfigVersion: 2,
		Files:         FilesConfig{Proxy: "/abs.list", Direct: "/abs.list"},
		Server:        ServerConfig{RateLimit: RateLimitConfig{Enabled: true, RPS: -1, Burst: 1}},
		Logging:       LoggingConfig{Level: "loud", Format: "xml"},
	}
	cfg.Server.Listen = "bad"
	err := cfg.Validate(true)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	expected := []string{
		"configVersion must be 1",
		"github.owner is required",
		"github.repo is required",
		"github.token is required (or set GITHUB_TOKEN)",
		"files.proxy and files.direct must differ",
		"logging.level must be debug|info|warn|error",
		"logging.format must be json|text",
		"server.rateLimit.rps must be > 0",
		"store.timeout must be > 0",
	}
	joined := strings.Join(verr.Problems, "\n")
	for _, want := range expected {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected problem %q in:\n%s", want, joined)
		}
	}
	for i := 1; i < len(verr.Problems); i++ {
		if verr.Problems[i-1] > verr.Problems[i] {
			t.Fatalf("problems are not sorted: %v", verr.Problems)
		}
	}
}

func TestValidateSkipsServerChecksForCLI(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.ApplyDefaults()
	cfg.Server.Listen = "not an address"
	if err := cfg.Validate(false); err != nil {
		t.Fatalf("expected CLI validation to ignore server.listen, got %v", err)
	}
	if err := cfg.Validate(true); err == nil {
		t.Fatalf("expected serve validation to reject server.listen")
	}
}

func TestFilesPaths(t *testing.T) {
	files := FilesConfig{Proxy: "p.list"}
	if p, err := files.PathForPolicy("REJECT"); err != nil || p != "p.list" {
		t.Fatalf("expected REJECT to map to the proxy file, got %q (%v)", p, err)
	}
	if _, err := files.PathForPolicy("DIRECT"); err == nil {
		t.Fatalf("expected error for unconfigured direct file")
	}
	if _, err := files.Path("other"); err == nil {
		t.Fatalf("expected error for unknown file")
	}
	if names := files.Names(); len(names) != 1 || names[0] != FileProxy {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestAccessAllowed(t *testing.T) {
	open := AccessConfig{}
	if !open.Allowed("anyone") {
		t.Fatalf("expected empty allow-list to admit everyone")
	}
	list := AccessConfig{AllowedUsers: []string{"@Alice", "bob"}}
	cases := map[string]bool{"alice": true, "@bob": true, "carol": false, "": false}
	for user, want := range cases {
		if got := list.Allowed(user); got != want {
			t.Fatalf("Allowed(%q) expected %v, got %v", user, want, got)
		}
	}
}

func TestExampleConfigValidates(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "rulekeeper.example.yaml"))
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	cfg.ApplyEnv(env(map[string]string{"GITHUB_TOKEN": "example", "AUDIT_LOG": filepath.Join(t.TempDir(), "audit.jsonl")}))
	cfg.ApplyDefaults()
	if err := cfg.Validate(true); err != nil {
		t.Fatalf("example config invalid: %v", err)
	}
	if !cfg.Normalize.PublicSuffix || cfg.Server.RateLimit.RPS != 0.5 {
		t.Fatalf("unexpected example values: %+v", cfg)
	}
}
