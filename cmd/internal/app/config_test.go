package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.ReadTimeout != 15*time.Second {
		t.Fatalf("ReadTimeout = %v", cfg.ReadTimeout)
	}
	if !cfg.WS.OriginRequired {
		t.Fatalf("WS.OriginRequired = false, want true by default")
	}
	if cfg.SMTP.Port != 587 {
		t.Fatalf("SMTP.Port = %d", cfg.SMTP.Port)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, strings.TrimSpace(`
http_addr: "127.0.0.1:9000"
log_level: debug
read_timeout: 30s
database_url: "postgres://relay@localhost/relay"
db_schema: custom
ws:
  origin_required: false
  allowed_origins: ["http://a.test", "http://b.test"]
  read_idle_timeout: 90s
smtp:
  host: mail.test
  from: relay@mail.test
bootstrap:
  operator_email: ops@mail.test
`))
	t.Setenv("RELAY_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("ReadTimeout = %v", cfg.ReadTimeout)
	}
	// Untouched fields keep their defaults.
	if cfg.WriteTimeout != 15*time.Second {
		t.Fatalf("WriteTimeout = %v", cfg.WriteTimeout)
	}
	if cfg.DBSchema != "custom" {
		t.Fatalf("DBSchema = %q", cfg.DBSchema)
	}
	if cfg.WS.OriginRequired {
		t.Fatalf("WS.OriginRequired = true, file says false")
	}
	if len(cfg.WS.AllowedOrigins) != 2 || cfg.WS.AllowedOrigins[0] != "http://a.test" {
		t.Fatalf("WS.AllowedOrigins = %v", cfg.WS.AllowedOrigins)
	}
	if cfg.WS.ReadIdleTimeout != 90*time.Second {
		t.Fatalf("WS.ReadIdleTimeout = %v", cfg.WS.ReadIdleTimeout)
	}
	if cfg.SMTP.Host != "mail.test" || cfg.SMTP.From != "relay@mail.test" {
		t.Fatalf("SMTP = %+v", cfg.SMTP)
	}
	if cfg.Bootstrap.OperatorEmail != "ops@mail.test" {
		t.Fatalf("OperatorEmail = %q", cfg.Bootstrap.OperatorEmail)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "http_addr: \"127.0.0.1:9000\"\nlog_level: debug\n")
	t.Setenv("RELAY_CONFIG_FILE", path)
	t.Setenv("RELAY_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("RELAY_WS_ALLOWED_ORIGINS", "http://x.test, http://y.test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr = %q, env must win over file", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, file value must survive", cfg.LogLevel)
	}
	want := []string{"http://x.test", "http://y.test"}
	if len(cfg.WS.AllowedOrigins) != 2 || cfg.WS.AllowedOrigins[1] != want[1] {
		t.Fatalf("WS.AllowedOrigins = %v, want %v", cfg.WS.AllowedOrigins, want)
	}
}

func TestLoadConfigRejectsBadFile(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"not yaml", "{{{"},
		{"unknown field", "htpp_addr: oops\n"},
		{"bad duration", "read_timeout: fast\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.contents)
			t.Setenv("RELAY_CONFIG_FILE", path)

			if _, err := LoadConfig(); err == nil {
				t.Fatalf("LoadConfig accepted %s", tc.name)
			}
		})
	}
}

func TestLoadConfigMissingNamedFileIsError(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("LoadConfig accepted a missing config file")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("T_STR", " hello ")
	t.Setenv("T_BOOL", "true")
	t.Setenv("T_INT", "42")
	t.Setenv("T_DUR", "250ms")
	t.Setenv("T_LIST", "a, b ,,c")

	if got := EnvString("T_STR", "def"); got != "hello" {
		t.Fatalf("EnvString = %q", got)
	}
	if got := EnvString("T_ABSENT", "def"); got != "def" {
		t.Fatalf("EnvString absent = %q", got)
	}
	if !EnvBool("T_BOOL", false) {
		t.Fatalf("EnvBool = false")
	}
	if got := EnvInt("T_INT", 1); got != 42 {
		t.Fatalf("EnvInt = %d", got)
	}
	if got := EnvDuration("T_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration = %v", got)
	}
	if got := EnvStrings("T_LIST", nil); len(got) != 3 || got[2] != "c" {
		t.Fatalf("EnvStrings = %v", got)
	}
}
