package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for Wandabot. It is constructed once
// at startup and passed into the relay and its collaborators; no
// component reads environment state directly.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Webhook   WebhookConfig             `json:"webhook"`
	Channels  ChannelsConfig            `json:"channels"`
	Persona   PersonaConfig             `json:"persona"`
	Store     StoreConfig               `json:"store"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel             string   `json:"logLevel"`
	LogFile              string   `json:"logFile,omitempty"`
	DefaultProvider      string   `json:"defaultProvider"`
	FailoverChain        []string `json:"failoverChain,omitempty"` // provider failover order
	OracleTimeoutSeconds int      `json:"oracleTimeoutSeconds"`    // per oracle call
	SendTimeoutSeconds   int      `json:"sendTimeoutSeconds"`      // per outbound send
	MaxTokens            int      `json:"maxTokens,omitempty"`
	Temperature          float64  `json:"temperature,omitempty"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// WebhookConfig configures the inbound webhook HTTP server.
type WebhookConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Path        string `json:"path"`
	VerifyToken string `json:"verifyToken,omitempty"` // provider subscription handshake
	Secret      string `json:"secret,omitempty"`      // HMAC secret for signed deliveries
}

type ChannelsConfig struct {
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Evolution EvolutionConfig `json:"evolution"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
}

// WhatsAppConfig configures the WhatsApp Business Cloud API connector.
type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
}

// EvolutionConfig configures the Evolution API outbound sender.
type EvolutionConfig struct {
	Enabled  bool   `json:"enabled"`
	APIBase  string `json:"apiBase,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Instance string `json:"instance,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

// PersonaConfig points at an optional YAML persona file overriding the
// built-in persona text.
type PersonaConfig struct {
	File string `json:"file,omitempty"`
}

// StoreConfig configures the SQLite action ledger.
type StoreConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.wandabot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wandabot"
	}
	return filepath.Join(home, ".wandabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Persona.File = ExpandPath(cfg.Persona.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.OracleTimeoutSeconds < 1 {
		errs = append(errs, "general.oracleTimeoutSeconds must be >= 1")
	}
	if cfg.General.SendTimeoutSeconds < 1 {
		errs = append(errs, "general.sendTimeoutSeconds must be >= 1")
	}
	if cfg.General.Temperature < 0 || cfg.General.Temperature > 2 {
		errs = append(errs, "general.temperature must be between 0 and 2")
	}

	if cfg.Webhook.Port < 0 || cfg.Webhook.Port > 65535 {
		errs = append(errs, "webhook.port must be between 0 and 65535")
	}
	if cfg.Webhook.Path != "" && !strings.HasPrefix(cfg.Webhook.Path, "/") {
		errs = append(errs, "webhook.path must start with /")
	}

	// Validate failover chain references exist in providers.
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	for name, pc := range cfg.Providers {
		if pc.Enabled && name == "gemini" && pc.APIKey == "" {
			errs = append(errs, "providers.gemini: apiKey is required")
		}
	}

	if cfg.Channels.Evolution.Enabled {
		if cfg.Channels.Evolution.APIBase == "" {
			errs = append(errs, "channels.evolution: apiBase is required")
		}
		if cfg.Channels.Evolution.Instance == "" {
			errs = append(errs, "channels.evolution: instance is required")
		}
	}
	if cfg.Channels.WhatsApp.Enabled {
		if cfg.Channels.WhatsApp.AccessToken == "" {
			errs = append(errs, "channels.whatsapp: accessToken is required")
		}
		if cfg.Channels.WhatsApp.PhoneNumberID == "" {
			errs = append(errs, "channels.whatsapp: phoneNumberId is required")
		}
	}

	if cfg.Store.Enabled && cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required when the store is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
