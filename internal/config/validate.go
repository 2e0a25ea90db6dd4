package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			add(path, "must be one of %v, got %q", valid, value)
		}
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	oneOf("gateway.bind", cfg.Gateway.Bind, []string{"loopback", "lan", "custom"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	oneOf("gateway.auth.mode", cfg.Gateway.Auth.Mode, []string{"none", "token", "password"})

	// LLM
	validProviders := []string{"openai", "azure", "ollama"}
	oneOf("llm.provider", cfg.LLM.Provider, validProviders)
	if cfg.LLM.Provider == "azure" && cfg.LLM.Deployment == "" {
		add("llm.deployment", "required when provider is azure")
	}
	if cfg.LLM.MaxRetries < 0 {
		add("llm.maxRetries", "must not be negative, got %d", cfg.LLM.MaxRetries)
	}
	for name, p := range cfg.LLM.Providers {
		oneOf("llm.providers."+name+".kind", p.Kind, validProviders)
	}
	for _, fb := range cfg.LLM.Fallbacks {
		if _, ok := cfg.LLM.Providers[fb]; !ok && fb != cfg.LLM.Provider {
			add("llm.fallbacks", "unknown provider %q", fb)
		}
	}

	// Orchestrator
	o := cfg.Orchestrator
	if o.MaxIterations < 1 {
		add("orchestrator.maxIterations", "must be at least 1, got %d", o.MaxIterations)
	}
	if o.HistoryWindow < 0 {
		add("orchestrator.historyWindow", "must not be negative, got %d", o.HistoryWindow)
	}
	if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 2) {
		add("orchestrator.temperature", "must be between 0 and 2, got %g", *o.Temperature)
	}
	if o.PreviewRows < 1 {
		add("orchestrator.previewRows", "must be at least 1, got %d", o.PreviewRows)
	}

	// Backends
	if !cfg.Documents.Enabled && !cfg.SQL.Enabled {
		add("documents.enabled", "at least one of documents or sql must be enabled")
	}
	if cfg.Documents.Enabled {
		oneOf("documents.driver", cfg.Documents.Driver, []string{"mongo", "memory"})
		if cfg.Documents.Driver == "mongo" && cfg.Documents.URI == "" {
			add("documents.uri", "required when driver is mongo")
		}
		if cfg.Documents.Collection == "" {
			add("documents.collection", "collection is required")
		}
		if cfg.Documents.MaxLimit < 1 {
			add("documents.maxLimit", "must be at least 1, got %d", cfg.Documents.MaxLimit)
		}
	}
	if cfg.SQL.Enabled {
		oneOf("sql.driver", cfg.SQL.Driver, []string{"mssql", "sqlite"})
		if cfg.SQL.DSN == "" {
			add("sql.dsn", "dsn is required")
		}
		if cfg.SQL.MaxRows < 1 {
			add("sql.maxRows", "must be at least 1, got %d", cfg.SQL.MaxRows)
		}
	}

	// Export
	oneOf("export.store", cfg.Export.Store, []string{"memory", "redis"})
	if cfg.Export.Store == "redis" && cfg.Export.RedisAddr == "" {
		add("export.redisAddr", "required when store is redis")
	}
	if cfg.Export.RetentionMinutes < 1 {
		add("export.retentionMinutes", "must be at least 1, got %d", cfg.Export.RetentionMinutes)
	}

	// Session
	if cfg.Session.IdleMinutes < 0 {
		add("session.idleMinutes", "must not be negative, got %d", cfg.Session.IdleMinutes)
	}

	// Logging
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	oneOf("logging.level", cfg.Logging.Level, validLogLevels)
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "compact", "json"})

	// Tracing
	if cfg.Tracing.Enabled {
		oneOf("tracing.exporter", cfg.Tracing.Exporter, []string{"stdout", "otlp"})
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			add("tracing.sampleRatio", "must be between 0 and 1, got %g", cfg.Tracing.SampleRatio)
		}
	}

	return issues
}
