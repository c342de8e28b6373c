package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/renameio/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds the pac-server configuration. Values come from defaults,
// then an optional config file, then PAC_* environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log     LogConfig     `koanf:"log"`
	Server  ServerConfig  `koanf:"server"`
	PAC     PACConfig     `koanf:"pac"`
	Refresh RefreshConfig `koanf:"refresh"`
	Storage StorageConfig `koanf:"storage"`
	Index   IndexConfig   `koanf:"index"`
}

type LogConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `koanf:"host" validate:"required,hostname|ip"`
	Port int    `koanf:"port" validate:"required,gte=1,lt=65536"`
	// Path is the URL path the PAC script is served under, e.g. "/pac".
	Path string `koanf:"path" validate:"required,pacpath"`
}

// PACConfig describes what gets compiled.
type PACConfig struct {
	// Proxy is copied verbatim into the script, e.g. "PROXY 127.0.0.1:8118;".
	Proxy string `koanf:"proxy" validate:"required,proxy_directive"`
	// Source is the gfwlist path or URL.
	Source string `koanf:"source" validate:"required"`
	// Precise selects the pattern-matching template over the domain set.
	Precise string `koanf:"precise" validate:"required,boolword"`
	// Builtin appends the bundled rule set after the fetched list.
	Builtin string `koanf:"builtin" validate:"required,boolword"`
	// UserRules are literal rules appended last.
	UserRules []string `koanf:"user_rules"`
	// UserRuleSource is an optional path or URL with more user rules.
	UserRuleSource string `koanf:"user_rule_source"`
	// SuffixSource is "embedded", "publicsuffix" or a path to a suffix list.
	SuffixSource string `koanf:"suffix_source" validate:"required"`
}

type RefreshConfig struct {
	Interval     time.Duration `koanf:"interval" validate:"required,gte=1s"`
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"required,gte=100ms"`
	// TriggerEvery is the minimum spacing of manual refreshes.
	TriggerEvery time.Duration `koanf:"trigger_every" validate:"gte=0"`
}

type StorageConfig struct {
	// CacheDir holds rendered artifacts.
	CacheDir string `koanf:"cache_dir" validate:"required"`
	// DB is the bbolt snapshot database path.
	DB string `koanf:"db" validate:"required"`
}

type IndexConfig struct {
	CacheSize int     `koanf:"cache_size" validate:"gte=0"`
	FPRate    float64 `koanf:"fp_rate" validate:"gt=0,lt=1"`
}

// DefaultUserRules mirror the list a fresh install starts with.
var DefaultUserRules = []string{
	"google.com",
	"google.co.jp",
	"google.co.hk",
	"bbc.co.uk",
	"googleapis.com",
	"googlesyndication.com",
	"github.com",
	"wikipedia.org",
}

// DEFAULT_APP_CONFIG defines the default application configuration.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LogConfig{
		Level: "info",
	},
	Server: ServerConfig{
		Host: "127.0.0.1",
		Port: 1091,
		Path: "/pac",
	},
	PAC: PACConfig{
		Proxy:        "PROXY 127.0.0.1:8118;",
		Source:       "https://github.com/gfwlist/gfwlist/raw/master/gfwlist.txt",
		Precise:      "no",
		Builtin:      "yes",
		UserRules:    DefaultUserRules,
		SuffixSource: "embedded",
	},
	Refresh: RefreshConfig{
		Interval:     60 * time.Second,
		FetchTimeout: 10 * time.Second,
		TriggerEvery: 10 * time.Second,
	},
	Storage: StorageConfig{
		CacheDir: "~/.cache/pac-server",
		DB:       "~/.local/state/pac-server/snapshot.db",
	},
	Index: IndexConfig{
		CacheSize: 4096,
		FPRate:    0.01,
	},
}

// envKeys maps PAC_* variables (prefix stripped, lowercased) to koanf paths.
// Variables not listed here are ignored.
var envKeys = map[string]string{
	"env":              "env",
	"log_level":        "log.level",
	"server_host":      "server.host",
	"server_port":      "server.port",
	"server_path":      "server.path",
	"proxy":            "pac.proxy",
	"source":           "pac.source",
	"precise":          "pac.precise",
	"builtin":          "pac.builtin",
	"user_rules":       "pac.user_rules",
	"user_rule_source": "pac.user_rule_source",
	"suffix_source":    "pac.suffix_source",
	"refresh_interval": "refresh.interval",
	"refresh_timeout":  "refresh.fetch_timeout",
	"refresh_trigger":  "refresh.trigger_every",
	"cache_dir":        "storage.cache_dir",
	"db":               "storage.db",
	"index_cache_size": "index.cache_size",
	"index_fp_rate":    "index.fp_rate",
}

// listKeys are split on commas and whitespace.
var listKeys = map[string]bool{
	"pac.user_rules": true,
}

// ErrUnsupportedFormat is returned for config files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported config file format")

// ParseBool parses the boolean words accepted in configuration:
// yes/no, true/false, on/off and 1/0, case-insensitive.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "on", "1":
		return true, nil
	case "no", "false", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// IsPrecise reports whether the precise template is selected.
func (c *AppConfig) IsPrecise() bool {
	b, _ := ParseBool(c.PAC.Precise)
	return b
}

// UseBuiltin reports whether the bundled rules are appended.
func (c *AppConfig) UseBuiltin() bool {
	b, _ := ParseBool(c.PAC.Builtin)
	return b
}

// Addr returns the host:port listen address.
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ArtifactName is the file name the PAC script is stored under.
func (c *AppConfig) ArtifactName() string {
	return strings.TrimPrefix(c.Server.Path, "/")
}

// validBoolWord validates that the field is one of the words ParseBool accepts.
func validBoolWord(fl validator.FieldLevel) bool {
	_, err := ParseBool(fl.Field().String())
	return err == nil
}

// validPACPath validates a serving path of exactly one segment, e.g. "/pac".
// The segment becomes the artifact file name, so it may not be hidden.
func validPACPath(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	if !strings.HasPrefix(v, "/") {
		return false
	}
	name := v[1:]
	return name != "" && !strings.HasPrefix(name, ".") && !strings.ContainsAny(name, "/\\")
}

// validProxyDirective validates a PAC return value such as
// "PROXY host:port;", "SOCKS5 host:port; DIRECT" or "DIRECT".
func validProxyDirective(fl validator.FieldLevel) bool {
	v := strings.TrimSpace(fl.Field().String())
	if v == "" || strings.ContainsAny(v, "\"\\\n\r") {
		return false
	}
	for _, part := range strings.Split(v, ";") {
		fields := strings.Fields(part)
		switch len(fields) {
		case 0:
			continue
		case 1:
			if strings.ToUpper(fields[0]) != "DIRECT" {
				return false
			}
		case 2:
			switch strings.ToUpper(fields[0]) {
			case "PROXY", "SOCKS", "SOCKS4", "SOCKS5", "HTTP", "HTTPS":
			default:
				return false
			}
			if !strings.Contains(fields[1], ":") {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// within reports whether path lies under dir.
func within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// parserFor picks the koanf parser for a config file by extension.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
}

// envLoader loads PAC_* environment variables through envKeys.
// It can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "PAC_",
		TransformFunc: func(key, value string) (string, any) {
			name := strings.ToLower(strings.TrimPrefix(key, "PAC_"))
			path, ok := envKeys[name]
			if !ok {
				return "", nil
			}
			value = strings.TrimSpace(value)

			if listKeys[path] {
				return path, strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
			}
			return path, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG using the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader merges the config file at path. An empty path is a no-op.
var fileLoader = func(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}
	p, err := parserFor(path)
	if err != nil {
		return err
	}
	return k.Load(file.Provider(expandHome(path)), p)
}

// registerValidation registers the custom "proxy_directive", "pacpath" and "boolword" tags.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("proxy_directive", validProxyDirective); err != nil {
		return err
	}
	if err := v.RegisterValidation("pacpath", validPACPath); err != nil {
		return err
	}
	return v.RegisterValidation("boolword", validBoolWord)
}

// Load builds an AppConfig from defaults, the optional file at path, and the
// environment, then validates it. Paths have "~" expanded.
func Load(path string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := fileLoader(k, path); err != nil {
		return nil, fmt.Errorf("error loading config file: %w", err)
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

	cfg.Storage.CacheDir = expandHome(cfg.Storage.CacheDir)
	cfg.Storage.DB = expandHome(cfg.Storage.DB)
	if within(cfg.Storage.CacheDir, cfg.Storage.DB) {
		return nil, fmt.Errorf("validation failed: storage.db %q is inside the served cache_dir %q", cfg.Storage.DB, cfg.Storage.CacheDir)
	}
	return &cfg, nil
}

// EnsureFile writes the default configuration to path when no file exists
// there yet. It reports whether a file was created.
func EnsureFile(path string) (bool, error) {
	path = expandHome(path)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	p, err := parserFor(path)
	if err != nil {
		return false, err
	}
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return false, fmt.Errorf("error loading default config: %w", err)
	}
	// durations read back from any format as strings
	for key, d := range map[string]time.Duration{
		"refresh.interval":      DEFAULT_APP_CONFIG.Refresh.Interval,
		"refresh.fetch_timeout": DEFAULT_APP_CONFIG.Refresh.FetchTimeout,
		"refresh.trigger_every": DEFAULT_APP_CONFIG.Refresh.TriggerEvery,
	} {
		if err := k.Set(key, d.String()); err != nil {
			return false, err
		}
	}
	data, err := k.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("error encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("error writing config file: %w", err)
	}
	return true, nil
}
