package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"golang.org/x/crypto/bcrypt"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "prod" {
		t.Errorf("expected Env=prod, got %q", cfg.Env)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected Log.Level=info, got %q", cfg.Log.Level)
	}
	if cfg.SquidGuard.Conf != "/etc/squidguard/squidGuard.conf" {
		t.Errorf("expected SquidGuard.Conf default, got %q", cfg.SquidGuard.Conf)
	}
	if cfg.SquidGuard.Key != "dbhome" {
		t.Errorf("expected SquidGuard.Key=dbhome, got %q", cfg.SquidGuard.Key)
	}
	if cfg.SquidGuard.Blacklist != "" {
		t.Errorf("expected no direct blacklist by default, got %q", cfg.SquidGuard.Blacklist)
	}
	if len(cfg.SquidGuard.Exclude) != 0 {
		t.Errorf("expected no exclude patterns, got %v", cfg.SquidGuard.Exclude)
	}
	if !cfg.Append.Lock || cfg.Append.Sync {
		t.Errorf("expected Append lock=true sync=false, got %+v", cfg.Append)
	}
	if cfg.Journal.DB != "" {
		t.Errorf("expected no journal by default, got %q", cfg.Journal.DB)
	}
	if cfg.HTTP.Addr() != "127.0.0.1:8080" {
		t.Errorf("expected HTTP addr 127.0.0.1:8080, got %q", cfg.HTTP.Addr())
	}
	if cfg.HTTP.Rate != (RateConfig{RPS: 5, Burst: 10, Clients: 1024}) {
		t.Errorf("unexpected rate defaults %+v", cfg.HTTP.Rate)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("SGBLOCK_ENV", "dev")
	t.Setenv("SGBLOCK_LOG_LEVEL", "debug")
	t.Setenv("SGBLOCK_SQUIDGUARD_CONF", "/srv/squid/squidGuard.conf")
	t.Setenv("SGBLOCK_SQUIDGUARD_KEY", "DBHOME")
	t.Setenv("SGBLOCK_SQUIDGUARD_BLACKLIST", "/srv/squid/blocked")
	t.Setenv("SGBLOCK_SQUIDGUARD_EXCLUDE", "*.db, *.diff")
	t.Setenv("SGBLOCK_APPEND_LOCK", "false")
	t.Setenv("SGBLOCK_APPEND_SYNC", "true")
	t.Setenv("SGBLOCK_JOURNAL_DB", "/var/lib/sgblock/journal.db")
	t.Setenv("SGBLOCK_HTTP_HOST", "::1")
	t.Setenv("SGBLOCK_HTTP_PORT", "9090")
	t.Setenv("SGBLOCK_HTTP_ADMIN_TOKEN_HASH", string(hash))
	t.Setenv("SGBLOCK_HTTP_RATE_RPS", "2.5")
	t.Setenv("SGBLOCK_HTTP_RATE_BURST", "4")
	t.Setenv("SGBLOCK_HTTP_RATE_CLIENTS", "16")
	t.Setenv("SGBLOCK_UNKNOWN_SETTING", "ignored")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "dev" || cfg.Log.Level != "debug" {
		t.Errorf("env/log not applied: %q %q", cfg.Env, cfg.Log.Level)
	}
	if cfg.SquidGuard.Conf != "/srv/squid/squidGuard.conf" || cfg.SquidGuard.Key != "DBHOME" {
		t.Errorf("squidguard not applied: %+v", cfg.SquidGuard)
	}
	if cfg.SquidGuard.Blacklist != "/srv/squid/blocked" {
		t.Errorf("expected blacklist override, got %q", cfg.SquidGuard.Blacklist)
	}
	wantExclude := []string{"*.db", "*.diff"}
	if len(cfg.SquidGuard.Exclude) != len(wantExclude) {
		t.Fatalf("expected Exclude %v, got %v", wantExclude, cfg.SquidGuard.Exclude)
	}
	for i, v := range wantExclude {
		if cfg.SquidGuard.Exclude[i] != v {
			t.Errorf("expected Exclude[%d]=%q, got %q", i, v, cfg.SquidGuard.Exclude[i])
		}
	}
	if cfg.Append.Lock || !cfg.Append.Sync {
		t.Errorf("append not applied: %+v", cfg.Append)
	}
	if cfg.Journal.DB != "/var/lib/sgblock/journal.db" {
		t.Errorf("journal not applied: %q", cfg.Journal.DB)
	}
	if cfg.HTTP.Addr() != "[::1]:9090" {
		t.Errorf("expected [::1]:9090, got %q", cfg.HTTP.Addr())
	}
	if cfg.HTTP.AdminTokenHash != string(hash) {
		t.Errorf("admin hash not applied")
	}
	if cfg.HTTP.Rate != (RateConfig{RPS: 2.5, Burst: 4, Clients: 16}) {
		t.Errorf("rate not applied: %+v", cfg.HTTP.Rate)
	}
}

func TestLoad_FileFormats(t *testing.T) {
	cases := map[string]string{
		"sgblock.yaml": "env: dev\nsquidguard:\n  conf: /opt/sg/squidGuard.conf\n  exclude: [\"*.db\"]\nhttp:\n  port: 8181\n",
		"sgblock.json": `{"env":"dev","squidguard":{"conf":"/opt/sg/squidGuard.conf","exclude":["*.db"]},"http":{"port":8181}}`,
		"sgblock.toml": "env = \"dev\"\n[squidguard]\nconf = \"/opt/sg/squidGuard.conf\"\nexclude = [\"*.db\"]\n[http]\nport = 8181\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, name, body))
			if err != nil {
				t.Fatalf("Load(%s): %v", name, err)
			}
			if cfg.Env != "dev" || cfg.SquidGuard.Conf != "/opt/sg/squidGuard.conf" || cfg.HTTP.Port != 8181 {
				t.Errorf("file values not applied: %+v", cfg)
			}
			if len(cfg.SquidGuard.Exclude) != 1 || cfg.SquidGuard.Exclude[0] != "*.db" {
				t.Errorf("exclude not applied: %v", cfg.SquidGuard.Exclude)
			}
			// defaults survive where the file is silent
			if cfg.SquidGuard.Key != "dbhome" || cfg.HTTP.Host != "127.0.0.1" {
				t.Errorf("defaults lost: %+v", cfg)
			}
		})
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := writeFile(t, "sgblock.yaml", "http:\n  port: 8181\n")
	t.Setenv("SGBLOCK_HTTP_PORT", "9191")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 9191 {
		t.Errorf("expected env to win, got port %d", cfg.HTTP.Port)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	if _, err := Load(writeFile(t, "sgblock.ini", "env=dev\n")); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "broken.json", "{not json")); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestLoad_WhenKoanfDefaultLoadFails(t *testing.T) {
	orig := defaultLoader
	defaultLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { defaultLoader = orig }()

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatal("expected error when loading defaults, got nil")
	}
}

func TestLoad_WhenKoanfEnvLoadFails(t *testing.T) {
	orig := envLoader
	envLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { envLoader = orig }()

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatal("expected error when loading env, got nil")
	}
}

func TestLoad_WhenFileLoadFails(t *testing.T) {
	orig := fileLoader
	fileLoader = func(k *koanf.Koanf, path string) error { return errors.New("mocked file error") }
	defer func() { fileLoader = orig }()

	_, err := Load("/etc/sgblock/sgblock.yaml")
	if err == nil || !strings.Contains(err.Error(), "mocked file error") {
		t.Fatalf("expected file error, got %v", err)
	}
}

func TestLoad_RegisterValidationFails(t *testing.T) {
	orig := registerValidation
	registerValidation = func(v *validator.Validate) error { return errors.New("mocked validation error") }
	defer func() { registerValidation = orig }()

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "mocked validation error") {
		t.Fatal("expected error when registering validation, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"env", "SGBLOCK_ENV", "staging"},
		{"log level", "SGBLOCK_LOG_LEVEL", "trace"},
		{"relative conf", "SGBLOCK_SQUIDGUARD_CONF", "squidGuard.conf"},
		{"empty conf", "SGBLOCK_SQUIDGUARD_CONF", ""},
		{"key with space", "SGBLOCK_SQUIDGUARD_KEY", "db home"},
		{"relative blacklist", "SGBLOCK_SQUIDGUARD_BLACKLIST", "blocked"},
		{"relative journal", "SGBLOCK_JOURNAL_DB", "journal.db"},
		{"port range", "SGBLOCK_HTTP_PORT", "99999"},
		{"port NaN", "SGBLOCK_HTTP_PORT", "not_a_number"},
		{"host", "SGBLOCK_HTTP_HOST", "localhost"},
		{"hash", "SGBLOCK_HTTP_ADMIN_TOKEN_HASH", "plaintext-token"},
		{"negative rps", "SGBLOCK_HTTP_RATE_RPS", "-1"},
		{"zero clients", "SGBLOCK_HTTP_RATE_CLIENTS", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}

func TestValidAbsPath(t *testing.T) {
	cases := []struct {
		input    string
		expected bool
	}{
		{"/etc/squidguard/squidGuard.conf", true},
		{"/", true},
		{"etc/squidGuard.conf", false},
		{"./squidGuard.conf", false},
		{"", false},
	}

	validate := validator.New()
	_ = validate.RegisterValidation("abs_path", validAbsPath)

	type S struct {
		Path string `validate:"abs_path"`
	}
	for _, tc := range cases {
		err := validate.Struct(S{Path: tc.input})
		if tc.expected && err != nil {
			t.Errorf("validAbsPath(%q) = false, want true", tc.input)
		}
		if !tc.expected && err == nil {
			t.Errorf("validAbsPath(%q) = true, want false", tc.input)
		}
	}
}

func TestValidBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("token"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	validate := validator.New()
	_ = validate.RegisterValidation("bcrypt_hash", validBcryptHash)

	type S struct {
		Hash string `validate:"bcrypt_hash"`
	}
	if err := validate.Struct(S{Hash: string(hash)}); err != nil {
		t.Errorf("generated hash rejected: %v", err)
	}
	for _, bad := range []string{"", "token", "$2a$", "$9z$10$abcdefghijklmnopqrstuv"} {
		if err := validate.Struct(S{Hash: bad}); err == nil {
			t.Errorf("validBcryptHash(%q) = true, want false", bad)
		}
	}
}

func TestEnvTransform(t *testing.T) {
	key, val := envTransform("SGBLOCK_HTTP_PORT", " 8080 ")
	if key != "http.port" || val != "8080" {
		t.Errorf("got %q=%v", key, val)
	}
	key, _ = envTransform("SGBLOCK_NOPE", "x")
	if key != "" {
		t.Errorf("unknown variable mapped to %q", key)
	}
	key, val = envTransform("SGBLOCK_SQUIDGUARD_EXCLUDE", "")
	if key != "squidguard.exclude" {
		t.Errorf("got key %q", key)
	}
	if parts, ok := val.([]string); !ok || len(parts) != 0 {
		t.Errorf("expected empty list, got %#v", val)
	}
}

func TestDefaultLoader_InvalidDefault_ValidationFails(t *testing.T) {
	orig := DEFAULT_APP_CONFIG
	defer func() { DEFAULT_APP_CONFIG = orig }()

	DEFAULT_APP_CONFIG.SquidGuard.Conf = "relative/squidGuard.conf"
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for relative default conf path")
	}
}
