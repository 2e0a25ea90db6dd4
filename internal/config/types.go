package config

// Config is the root configuration for querydesk.
type Config struct {
	Gateway      GatewayConfig      `yaml:"gateway,omitempty"`
	LLM          LLMConfig          `yaml:"llm,omitempty"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Documents    DocumentsConfig    `yaml:"documents,omitempty"`
	SQL          SQLConfig          `yaml:"sql,omitempty"`
	Export       ExportConfig       `yaml:"export,omitempty"`
	Session      SessionConfig      `yaml:"session,omitempty"`
	Logging      LoggingConfig      `yaml:"logging,omitempty"`
	Audit        AuditConfig        `yaml:"audit,omitempty"`
	Tracing      TracingConfig      `yaml:"tracing,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	PublicURL      string      `yaml:"publicUrl,omitempty"` // prefix for export download links
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
	UserHeader     string      `yaml:"userHeader,omitempty"`
	RolesHeader    string      `yaml:"rolesHeader,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "none" | "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// LLMConfig selects the chat-completions provider.
type LLMConfig struct {
	Provider       string                      `yaml:"provider,omitempty"` // "openai" | "azure" | "ollama"
	Model          string                      `yaml:"model,omitempty"`
	BaseURL        string                      `yaml:"baseUrl,omitempty"`
	APIKey         string                      `yaml:"apiKey,omitempty"`
	Deployment     string                      `yaml:"deployment,omitempty"`
	APIVersion     string                      `yaml:"apiVersion,omitempty"`
	Headers        map[string]string           `yaml:"headers,omitempty"`
	TimeoutSeconds int                         `yaml:"timeoutSeconds,omitempty"`
	MaxRetries     int                         `yaml:"maxRetries,omitempty"`
	Fallbacks      []string                    `yaml:"fallbacks,omitempty"`
	Providers      map[string]LLMProviderEntry `yaml:"providers,omitempty"`
}

// LLMProviderEntry defines an additional named provider used for failover.
type LLMProviderEntry struct {
	Kind       string            `yaml:"kind"`
	Model      string            `yaml:"model,omitempty"`
	BaseURL    string            `yaml:"baseUrl,omitempty"`
	APIKey     string            `yaml:"apiKey,omitempty"`
	Deployment string            `yaml:"deployment,omitempty"`
	APIVersion string            `yaml:"apiVersion,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
}

// OrchestratorConfig bounds the tool-calling loop.
type OrchestratorConfig struct {
	MaxIterations      int      `yaml:"maxIterations,omitempty"`
	HistoryWindow      int      `yaml:"historyWindow,omitempty"`
	Temperature        *float64 `yaml:"temperature,omitempty"`
	MaxTokens          int      `yaml:"maxTokens,omitempty"`
	PreviewRows        int      `yaml:"previewRows,omitempty"`
	MaxConcurrentTools int      `yaml:"maxConcurrentTools,omitempty"`
	ForceSummary       bool     `yaml:"forceSummary,omitempty"`
}

// DocumentsConfig configures the document-store backend.
type DocumentsConfig struct {
	Enabled          bool     `yaml:"enabled,omitempty"`
	Driver           string   `yaml:"driver,omitempty"` // "mongo" | "memory"
	URI              string   `yaml:"uri,omitempty"`
	Database         string   `yaml:"database,omitempty"`
	Collection       string   `yaml:"collection,omitempty"`
	NormalizedFields []string `yaml:"normalizedFields,omitempty"`
	MaxLimit         int      `yaml:"maxLimit,omitempty"`
	FixedShapeTools  bool     `yaml:"fixedShapeTools,omitempty"`
	SeedFile         string   `yaml:"seedFile,omitempty"` // JSON array loaded into the memory driver
}

// SQLConfig configures the relational backend.
type SQLConfig struct {
	Enabled        bool   `yaml:"enabled,omitempty"`
	Driver         string `yaml:"driver,omitempty"` // "mssql" | "sqlite"
	DSN            string `yaml:"dsn,omitempty"`
	MaxRows        int    `yaml:"maxRows,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
	MaxOpenConns   int    `yaml:"maxOpenConns,omitempty"`
}

// ExportConfig configures the export sink.
type ExportConfig struct {
	Store            string `yaml:"store,omitempty"` // "memory" | "redis"
	RedisAddr        string `yaml:"redisAddr,omitempty"`
	RedisPassword    string `yaml:"redisPassword,omitempty"`
	RedisDB          int    `yaml:"redisDb,omitempty"`
	RetentionMinutes int    `yaml:"retentionMinutes,omitempty"`
	SweepSeconds     int    `yaml:"sweepSeconds,omitempty"`
	MaxRows          int    `yaml:"maxRows,omitempty"`
}

// SessionConfig defines session behavior.
type SessionConfig struct {
	IdleMinutes  int `yaml:"idleMinutes,omitempty"` // 0 keeps sessions for the process lifetime
	SweepSeconds int `yaml:"sweepSeconds,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
	MaxSizeMB    int    `yaml:"maxSizeMb,omitempty"`
	MaxBackups   int    `yaml:"maxBackups,omitempty"`
}

// AuditConfig controls the sqlite audit log of orchestration runs.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled,omitempty"`
	Exporter    string  `yaml:"exporter,omitempty"` // "stdout" | "otlp"
	Endpoint    string  `yaml:"endpoint,omitempty"`
	SampleRatio float64 `yaml:"sampleRatio,omitempty"`
	ServiceName string  `yaml:"serviceName,omitempty"`
}
