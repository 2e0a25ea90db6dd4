package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential and connection fields so they can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)
	cfg.LLM.BaseURL = expandEnvVars(cfg.LLM.BaseURL)
	for name, p := range cfg.LLM.Providers {
		p.APIKey = expandEnvVars(p.APIKey)
		p.BaseURL = expandEnvVars(p.BaseURL)
		cfg.LLM.Providers[name] = p
	}
	cfg.Documents.URI = expandEnvVars(cfg.Documents.URI)
	cfg.SQL.DSN = expandEnvVars(cfg.SQL.DSN)
	cfg.Export.RedisPassword = expandEnvVars(cfg.Export.RedisPassword)
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return &ConfigError{Message: "failed to load " + f + ": " + err.Error()}
		}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = d.Gateway.Auth.Mode
	}
	if cfg.Gateway.UserHeader == "" {
		cfg.Gateway.UserHeader = d.Gateway.UserHeader
	}
	if cfg.Gateway.RolesHeader == "" {
		cfg.Gateway.RolesHeader = d.Gateway.RolesHeader
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = d.LLM.Provider
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = d.LLM.TimeoutSeconds
	}

	o := &cfg.Orchestrator
	if o.MaxIterations == 0 {
		o.MaxIterations = d.Orchestrator.MaxIterations
	}
	if o.HistoryWindow == 0 {
		o.HistoryWindow = d.Orchestrator.HistoryWindow
	}
	if o.Temperature == nil {
		o.Temperature = d.Orchestrator.Temperature
	}
	if o.PreviewRows == 0 {
		o.PreviewRows = d.Orchestrator.PreviewRows
	}
	if o.MaxConcurrentTools == 0 {
		o.MaxConcurrentTools = d.Orchestrator.MaxConcurrentTools
	}

	if cfg.Documents.Driver == "" {
		cfg.Documents.Driver = d.Documents.Driver
	}
	if cfg.Documents.MaxLimit == 0 {
		cfg.Documents.MaxLimit = d.Documents.MaxLimit
	}
	if cfg.SQL.Driver == "" {
		cfg.SQL.Driver = d.SQL.Driver
	}
	if cfg.SQL.MaxRows == 0 {
		cfg.SQL.MaxRows = d.SQL.MaxRows
	}
	if cfg.SQL.TimeoutSeconds == 0 {
		cfg.SQL.TimeoutSeconds = d.SQL.TimeoutSeconds
	}

	if cfg.Export.Store == "" {
		cfg.Export.Store = d.Export.Store
	}
	if cfg.Export.RetentionMinutes == 0 {
		cfg.Export.RetentionMinutes = d.Export.RetentionMinutes
	}
	if cfg.Export.SweepSeconds == 0 {
		cfg.Export.SweepSeconds = d.Export.SweepSeconds
	}
	if cfg.Export.MaxRows == 0 {
		cfg.Export.MaxRows = d.Export.MaxRows
	}

	if cfg.Session.SweepSeconds == 0 {
		cfg.Session.SweepSeconds = d.Session.SweepSeconds
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = d.Tracing.Exporter
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = d.Tracing.ServiceName
	}
}

// applyEnvOverrides reads QUERYDESK_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUERYDESK_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("QUERYDESK_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("QUERYDESK_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("QUERYDESK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("QUERYDESK_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("QUERYDESK_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("QUERYDESK_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("QUERYDESK_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	} else if cfg.LLM.APIKey == "" && cfg.LLM.Provider == "openai" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("QUERYDESK_MONGO_URI"); v != "" {
		cfg.Documents.URI = v
	}
	if v := os.Getenv("QUERYDESK_SQL_DRIVER"); v != "" {
		cfg.SQL.Driver = v
	}
	if v := os.Getenv("QUERYDESK_SQL_DSN"); v != "" {
		cfg.SQL.DSN = v
	}
	if v := os.Getenv("QUERYDESK_REDIS_ADDR"); v != "" {
		cfg.Export.RedisAddr = v
	}
}
