package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/feedback-annotator/internal/platform/envutil"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

type WarehouseDriver string

const (
	DriverBigQuery WarehouseDriver = "bigquery"
	DriverPostgres WarehouseDriver = "postgres"
	DriverSQLite   WarehouseDriver = "sqlite"
)

type BackendKind string

const (
	BackendNLP    BackendKind = "nlp"
	BackendOpenAI BackendKind = "openai"
	BackendOllama BackendKind = "ollama"
)

const (
	DefaultRowLimit       = 100
	DefaultBatchSize      = 1000
	DefaultConcurrency    = 4
	DefaultScoringTimeout = 30
	DefaultMaxRetries     = 3
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultOllamaBaseURL  = "http://localhost:11434"
	DefaultOllamaModel    = "phi3:medium-128k"
)

type GCPConfig struct {
	ProjectID   string `yaml:"project_id"`
	Credentials string `yaml:"credentials"`
	BucketName  string `yaml:"bucket_name"`
	BlobName    string `yaml:"blob_name"`
}

type WarehouseConfig struct {
	Driver         WarehouseDriver `yaml:"driver"`
	DSN            string          `yaml:"dsn"`
	Dataset        string          `yaml:"dataset"`
	Location       string          `yaml:"location"`
	FeedbackTable  string          `yaml:"feedback_table"`
	SentimentTable string          `yaml:"sentiment_table"`
}

type AnnotationConfig struct {
	DefaultRowLimit         int     `yaml:"default_row_limit"`
	BatchSize               int     `yaml:"batch_size"`
	Concurrency             int     `yaml:"concurrency"`
	ScoringTimeoutSeconds   int     `yaml:"scoring_timeout_seconds"`
	RatePerSecond           float64 `yaml:"rate_per_second"`
	BreakerFailureThreshold int     `yaml:"breaker_failure_threshold"`
	BreakerCooldownSeconds  int     `yaml:"breaker_cooldown_seconds"`
	RunDeadlineSeconds      int     `yaml:"run_deadline_seconds"`
	SelectAttempts          int     `yaml:"select_attempts"`
	MaxRetries              int     `yaml:"max_retries"`
}

func (a AnnotationConfig) ScoringTimeout() time.Duration {
	return time.Duration(a.ScoringTimeoutSeconds) * time.Second
}

func (a AnnotationConfig) RunDeadline() time.Duration {
	return time.Duration(a.RunDeadlineSeconds) * time.Second
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type BackendConfig struct {
	Kind   BackendKind  `yaml:"kind"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Ollama OllamaConfig `yaml:"ollama"`
}

type LockConfig struct {
	RedisAddr  string `yaml:"redis_addr"`
	Key        string `yaml:"key"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

func (l LockConfig) Enabled() bool { return strings.TrimSpace(l.RedisAddr) != "" }

func (l LockConfig) TTL() time.Duration { return time.Duration(l.TTLSeconds) * time.Second }

type ScheduleConfig struct {
	ID   string `yaml:"id"`
	Cron string `yaml:"cron"`
}

// Config is resolved once per process and treated as read-only afterwards.
type Config struct {
	LogMode    string           `yaml:"log_mode"`
	GCP        GCPConfig        `yaml:"gcp"`
	Warehouse  WarehouseConfig  `yaml:"warehouse"`
	Annotation AnnotationConfig `yaml:"annotation"`
	Backend    BackendConfig    `yaml:"backend"`
	Lock       LockConfig       `yaml:"lock"`
	LedgerDSN  string           `yaml:"ledger_dsn"`
	HTTPAddr   string           `yaml:"http_addr"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
}

func Defaults() Config {
	return Config{
		LogMode: "development",
		Warehouse: WarehouseConfig{
			Driver:         DriverBigQuery,
			FeedbackTable:  "feedback",
			SentimentTable: "sentiment",
		},
		Annotation: AnnotationConfig{
			DefaultRowLimit:         DefaultRowLimit,
			BatchSize:               DefaultBatchSize,
			Concurrency:             DefaultConcurrency,
			ScoringTimeoutSeconds:   DefaultScoringTimeout,
			BreakerFailureThreshold: 5,
			BreakerCooldownSeconds:  30,
			SelectAttempts:          5,
			MaxRetries:              DefaultMaxRetries,
		},
		Backend: BackendConfig{
			Kind:   BackendNLP,
			OpenAI: OpenAIConfig{Model: DefaultOpenAIModel},
			Ollama: OllamaConfig{BaseURL: DefaultOllamaBaseURL, Model: DefaultOllamaModel},
		},
		Lock: LockConfig{
			Key:        "annotator:run-lock",
			TTLSeconds: 300,
		},
		HTTPAddr: ":8080",
		Schedule: ScheduleConfig{ID: "feedback-annotation-daily", Cron: "@daily"},
	}
}

// Load resolves configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and the environment, in increasing precedence.
func Load(log *logger.Logger) (Config, error) {
	cfg := Defaults()
	if path, ok := envutil.Lookup("CONFIG_FILE"); ok {
		if err := cfg.overlayFile(path); err != nil {
			return cfg, err
		}
		if log != nil {
			log.Info("Loaded configuration file", "path", path)
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if log != nil {
		log.Info("Configuration resolved",
			"warehouse_driver", cfg.Warehouse.Driver,
			"feedback_table", cfg.Warehouse.FeedbackTable,
			"sentiment_table", cfg.Warehouse.SentimentTable,
			"backend", cfg.Backend.Kind,
			"concurrency", cfg.Annotation.Concurrency,
			"default_row_limit", cfg.Annotation.DefaultRowLimit,
			"run_lock", cfg.Lock.Enabled(),
		)
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Code: ConfigUnreadable, Key: "CONFIG_FILE", Value: path, Cause: err}
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return &ConfigError{Code: ConfigUnreadable, Key: "CONFIG_FILE", Value: path, Cause: err}
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.LogMode, "LOG_MODE")

	setString(&c.GCP.ProjectID, "PROJECT_ID")
	setString(&c.GCP.BucketName, "BUCKET_NAME")
	setString(&c.GCP.BlobName, "BLOB_NAME")
	setString(&c.GCP.Credentials, "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&c.GCP.Credentials, "GOOGLE_APPLICATION_CREDENTIALS_JSON")
	setString(&c.GCP.Credentials, "SERVICE_ACCOUNT_FILE")

	if v, ok := envutil.Lookup("WAREHOUSE_DRIVER"); ok {
		c.Warehouse.Driver = WarehouseDriver(strings.ToLower(v))
	}
	setString(&c.Warehouse.DSN, "WAREHOUSE_DSN")
	setString(&c.Warehouse.Dataset, "DATASET_NAME")
	setString(&c.Warehouse.Location, "DATASET_LOCATION")
	setString(&c.Warehouse.FeedbackTable, "FEEDBACK_TABLE_NAME")
	setString(&c.Warehouse.SentimentTable, "SENTIMENT_TABLE_NAME")

	setInt(&c.Annotation.DefaultRowLimit, "DEFAULT_ROW_LIMIT")
	setInt(&c.Annotation.BatchSize, "SENTIMENT_BATCH_SIZE")
	setInt(&c.Annotation.Concurrency, "SCORING_CONCURRENCY")
	setInt(&c.Annotation.ScoringTimeoutSeconds, "SCORING_TIMEOUT_SECONDS")
	if _, ok := envutil.Lookup("SCORING_RATE_PER_SECOND"); ok {
		c.Annotation.RatePerSecond = envutil.Float("SCORING_RATE_PER_SECOND", c.Annotation.RatePerSecond)
	}
	setInt(&c.Annotation.BreakerFailureThreshold, "BREAKER_FAILURE_THRESHOLD")
	setInt(&c.Annotation.BreakerCooldownSeconds, "BREAKER_COOLDOWN_SECONDS")
	setInt(&c.Annotation.RunDeadlineSeconds, "RUN_DEADLINE_SECONDS")
	setInt(&c.Annotation.SelectAttempts, "SELECT_ATTEMPTS")
	setInt(&c.Annotation.MaxRetries, "SENTIMENT_MAX_RETRIES")

	if v, ok := envutil.Lookup("SENTIMENT_BACKEND"); ok {
		c.Backend.Kind = BackendKind(strings.ToLower(v))
	}
	setString(&c.Backend.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.Backend.OpenAI.Model, "OPENAI_MODEL")
	setString(&c.Backend.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.Backend.Ollama.BaseURL, "OLLAMA_BASE_URL")
	setString(&c.Backend.Ollama.Model, "OLLAMA_MODEL")

	setString(&c.Lock.RedisAddr, "REDIS_ADDR")
	setString(&c.Lock.Key, "RUN_LOCK_KEY")
	setInt(&c.Lock.TTLSeconds, "RUN_LOCK_TTL_SECONDS")

	setString(&c.LedgerDSN, "LEDGER_DSN")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.Schedule.ID, "ANNOTATION_SCHEDULE_ID")
	setString(&c.Schedule.Cron, "ANNOTATION_SCHEDULE_CRON")
}

func (c *Config) normalize() {
	c.Warehouse.Driver = WarehouseDriver(strings.ToLower(strings.TrimSpace(string(c.Warehouse.Driver))))
	c.Backend.Kind = BackendKind(strings.ToLower(strings.TrimSpace(string(c.Backend.Kind))))
	c.Backend.Ollama.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.Ollama.BaseURL), "/")
	c.Backend.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.OpenAI.BaseURL), "/")
}

var (
	identPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	projectPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-.:]{0,62}$`)
)

// maxIdentLen is the BigQuery limit for dataset and table names.
const maxIdentLen = 1024

func validIdent(s string) bool {
	return len(s) <= maxIdentLen && identPattern.MatchString(s)
}

// Validate checks cross-field requirements and identifier syntax. Table and
// dataset names are interpolated into SQL, so they must be plain identifiers.
func (c Config) Validate() error {
	switch c.Warehouse.Driver {
	case DriverBigQuery:
		if c.GCP.ProjectID == "" {
			return missing("PROJECT_ID")
		}
		if !projectPattern.MatchString(c.GCP.ProjectID) {
			return invalid("PROJECT_ID", c.GCP.ProjectID, "not a valid project id")
		}
		if c.Warehouse.Dataset == "" {
			return missing("DATASET_NAME")
		}
		if !validIdent(c.Warehouse.Dataset) {
			return invalid("DATASET_NAME", c.Warehouse.Dataset, "not a valid identifier")
		}
	case DriverPostgres, DriverSQLite:
		if c.Warehouse.DSN == "" {
			return missing("WAREHOUSE_DSN")
		}
	default:
		return invalid("WAREHOUSE_DRIVER", string(c.Warehouse.Driver), "allowed: bigquery, postgres, sqlite")
	}
	if !validIdent(c.Warehouse.FeedbackTable) {
		return invalid("FEEDBACK_TABLE_NAME", c.Warehouse.FeedbackTable, "not a valid identifier")
	}
	if !validIdent(c.Warehouse.SentimentTable) {
		return invalid("SENTIMENT_TABLE_NAME", c.Warehouse.SentimentTable, "not a valid identifier")
	}
	if c.Warehouse.FeedbackTable == c.Warehouse.SentimentTable {
		return invalid("SENTIMENT_TABLE_NAME", c.Warehouse.SentimentTable, "must differ from FEEDBACK_TABLE_NAME")
	}

	switch c.Backend.Kind {
	case BackendNLP:
	case BackendOpenAI:
		if c.Backend.OpenAI.APIKey == "" {
			return missing("OPENAI_API_KEY")
		}
		if c.Backend.OpenAI.Model == "" {
			return missing("OPENAI_MODEL")
		}
		if c.Backend.OpenAI.BaseURL != "" && !absoluteURL(c.Backend.OpenAI.BaseURL) {
			return invalid("OPENAI_BASE_URL", c.Backend.OpenAI.BaseURL, "expected absolute URL")
		}
	case BackendOllama:
		if !absoluteURL(c.Backend.Ollama.BaseURL) {
			return invalid("OLLAMA_BASE_URL", c.Backend.Ollama.BaseURL, "expected absolute URL like http://localhost:11434")
		}
		if c.Backend.Ollama.Model == "" {
			return missing("OLLAMA_MODEL")
		}
	default:
		return invalid("SENTIMENT_BACKEND", string(c.Backend.Kind), "allowed: nlp, openai, ollama")
	}

	a := c.Annotation
	if a.DefaultRowLimit < 0 {
		return invalid("DEFAULT_ROW_LIMIT", fmt.Sprint(a.DefaultRowLimit), "must be >= 0")
	}
	if a.BatchSize < 1 {
		return invalid("SENTIMENT_BATCH_SIZE", fmt.Sprint(a.BatchSize), "must be >= 1")
	}
	if a.Concurrency < 1 {
		return invalid("SCORING_CONCURRENCY", fmt.Sprint(a.Concurrency), "must be >= 1")
	}
	if a.ScoringTimeoutSeconds < 1 {
		return invalid("SCORING_TIMEOUT_SECONDS", fmt.Sprint(a.ScoringTimeoutSeconds), "must be >= 1")
	}
	if a.MaxRetries < 0 {
		return invalid("SENTIMENT_MAX_RETRIES", fmt.Sprint(a.MaxRetries), "must be >= 0")
	}
	if a.RatePerSecond < 0 {
		return invalid("SCORING_RATE_PER_SECOND", fmt.Sprint(a.RatePerSecond), "must be >= 0")
	}
	if c.Lock.Enabled() && c.Lock.TTLSeconds < 1 {
		return invalid("RUN_LOCK_TTL_SECONDS", fmt.Sprint(c.Lock.TTLSeconds), "must be >= 1")
	}
	return nil
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func setString(dst *string, key string) {
	if v, ok := envutil.Lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if _, ok := envutil.Lookup(key); ok {
		*dst = envutil.Int(key, *dst)
	}
}
