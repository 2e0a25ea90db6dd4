package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// DefaultTemperature keeps tool selection close to deterministic.
const DefaultTemperature = 0.1

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	temp := DefaultTemperature
	return Config{
		Gateway: GatewayConfig{
			Port:        18790,
			Bind:        "loopback",
			UserHeader:  "X-User-Id",
			RolesHeader: "X-User-Roles",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 120,
			MaxRetries:     2,
		},
		Orchestrator: OrchestratorConfig{
			MaxIterations:      5,
			HistoryWindow:      10,
			Temperature:        &temp,
			MaxTokens:          1500,
			PreviewRows:        20,
			MaxConcurrentTools: 4,
		},
		Documents: DocumentsConfig{
			Enabled:          true,
			Driver:           "memory",
			Database:         "sample_mflix",
			Collection:       "movies",
			NormalizedFields: []string{"year"},
			MaxLimit:         100,
		},
		SQL: SQLConfig{
			Driver:         "mssql",
			MaxRows:        500,
			TimeoutSeconds: 30,
			MaxOpenConns:   10,
		},
		Export: ExportConfig{
			Store:            "memory",
			RetentionMinutes: 30,
			SweepSeconds:     60,
			MaxRows:          50000,
		},
		Session: SessionConfig{
			SweepSeconds: 300,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			SampleRatio: 0.1,
			ServiceName: "querydesk",
		},
	}
}
