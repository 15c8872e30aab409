package models

import "time"

// Config represents the application configuration
type Config struct {
	ProjectName string
	Database    DatabaseConfig
	AI          AIConfig
	Billing     BillingConfig
	Reconciler  ReconcilerConfig
	Redis       RedisConfig
	Formance    FormanceConfig
	Server      ServerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// AIConfig holds completion provider and prompt-budget settings
type AIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float64
	TopP              float64
	PresencePenalty   float64
	FrequencyPenalty  float64
	MaxResponseTokens int
	ContextMessages   int
	HardInputLimit    int
	SafetyMargin      int
	MinResponseTokens int
	RequestTimeout    time.Duration
	AgentMode         bool
	MetaInstructions  string
	ModelsFile        string
}

// BillingConfig holds the credit policy and default persona
type BillingConfig struct {
	WelcomeBonus      int64
	UsageCost         int64
	DefaultRoleName   string
	DefaultRolePrompt string
	AdminIds          []string
	ResponsesFile     string
	RenderMode        string
}

// ReconcilerConfig holds stale-hold sweep settings
type ReconcilerConfig struct {
	HoldTimeout   time.Duration
	SweepInterval time.Duration
}

// RedisConfig holds session store settings. An empty Addr disables sessions.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	SessionTTL time.Duration
}

// FormanceConfig holds connection settings for the Formance ledger mirror.
// An empty StackURL disables mirroring.
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}
