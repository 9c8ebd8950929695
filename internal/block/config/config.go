package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix is stripped from environment variables before mapping them to keys.
const EnvPrefix = "SGBLOCK_"

// AppConfig is the complete runtime configuration for sgblock.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log        LoggingConfig    `koanf:"log" validate:"required"`
	SquidGuard SquidGuardConfig `koanf:"squidguard" validate:"required"`
	Append     AppendConfig     `koanf:"append"`
	Journal    JournalConfig    `koanf:"journal"`
	HTTP       HTTPConfig       `koanf:"http" validate:"required"`
}

// LoggingConfig controls log verbosity: "debug", "info", "warn", or "error".
type LoggingConfig struct {
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

// SquidGuardConfig locates the squidGuard configuration and blacklists.
type SquidGuardConfig struct {
	// Conf is the squidGuard configuration file holding the rule-set root.
	Conf string `koanf:"conf" validate:"required,abs_path"`
	// Key is the setting in Conf that names the rule-set root.
	Key string `koanf:"key" validate:"required,alphanum"`
	// Blacklist is the fixed file used for direct appends. Empty disables them.
	Blacklist string `koanf:"blacklist" validate:"omitempty,abs_path"`
	// Exclude lists glob patterns for category names hidden from listings.
	Exclude []string `koanf:"exclude" validate:"dive,required"`
}

// AppendConfig tunes blacklist writes.
type AppendConfig struct {
	Lock bool `koanf:"lock"`
	Sync bool `koanf:"sync"`
}

// JournalConfig locates the append journal. An empty DB disables it.
type JournalConfig struct {
	DB string `koanf:"db" validate:"omitempty,abs_path"`
}

// HTTPConfig configures the JSON API server.
type HTTPConfig struct {
	Host string `koanf:"host" validate:"omitempty,ip"`
	Port int    `koanf:"port" validate:"required,gte=1,lt=65536"`
	// AdminTokenHash is a bcrypt hash of the admin token. Empty makes the API read-only.
	AdminTokenHash string     `koanf:"admin_token_hash" validate:"omitempty,bcrypt_hash"`
	Rate           RateConfig `koanf:"rate" validate:"required"`
}

// RateConfig bounds per-client request rates. RPS zero disables limiting.
type RateConfig struct {
	RPS     float64 `koanf:"rps" validate:"gte=0"`
	Burst   int     `koanf:"burst" validate:"gte=0"`
	Clients int     `koanf:"clients" validate:"required,gte=1"`
}

// DEFAULT_APP_CONFIG is loaded before any file or environment override.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LoggingConfig{Level: "info"},
	SquidGuard: SquidGuardConfig{
		Conf: "/etc/squidguard/squidGuard.conf",
		Key:  "dbhome",
	},
	Append: AppendConfig{Lock: true},
	HTTP: HTTPConfig{
		Host: "127.0.0.1",
		Port: 8080,
		Rate: RateConfig{RPS: 5, Burst: 10, Clients: 1024},
	},
}

// envKeys maps environment suffixes (after EnvPrefix) to config keys.
// Unlisted variables are ignored.
var envKeys = map[string]string{
	"ENV":                   "env",
	"LOG_LEVEL":             "log.level",
	"SQUIDGUARD_CONF":       "squidguard.conf",
	"SQUIDGUARD_KEY":        "squidguard.key",
	"SQUIDGUARD_BLACKLIST":  "squidguard.blacklist",
	"SQUIDGUARD_EXCLUDE":    "squidguard.exclude",
	"APPEND_LOCK":           "append.lock",
	"APPEND_SYNC":           "append.sync",
	"JOURNAL_DB":            "journal.db",
	"HTTP_HOST":             "http.host",
	"HTTP_PORT":             "http.port",
	"HTTP_ADMIN_TOKEN_HASH": "http.admin_token_hash",
	"HTTP_RATE_RPS":         "http.rate.rps",
	"HTTP_RATE_BURST":       "http.rate.burst",
	"HTTP_RATE_CLIENTS":     "http.rate.clients",
}

// listKeys hold values split on spaces and commas.
var listKeys = map[string]bool{
	"squidguard.exclude": true,
}

func envTransform(key, value string) (string, any) {
	mapped, ok := envKeys[strings.ToUpper(strings.TrimPrefix(key, EnvPrefix))]
	if !ok {
		return "", nil
	}
	value = strings.TrimSpace(value)
	if listKeys[mapped] {
		return mapped, strings.FieldsFunc(value, func(r rune) bool {
			return r == ' ' || r == ','
		})
	}
	return mapped, value
}

// envLoader loads SGBLOCK_ environment variables and can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envTransform,
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader loads path with a parser chosen by its extension.
var fileLoader = func(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	return k.Load(file.Provider(path), parser)
}

// validAbsPath accepts absolute filesystem paths.
func validAbsPath(fl validator.FieldLevel) bool {
	return filepath.IsAbs(fl.Field().String())
}

// validBcryptHash accepts strings that bcrypt can parse as a hash.
func validBcryptHash(fl validator.FieldLevel) bool {
	_, err := bcrypt.Cost([]byte(fl.Field().String()))
	return err == nil
}

// registerValidation registers the abs_path and bcrypt_hash tags.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("abs_path", validAbsPath); err != nil {
		return err
	}
	return v.RegisterValidation("bcrypt_hash", validBcryptHash)
}

// Load builds an AppConfig from defaults, the optional file at path, and the
// environment, in that order, then validates it.
func Load(path string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if path != "" {
		if err := fileLoader(k, path); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}

// Addr returns the host:port the HTTP server listens on.
func (c HTTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
