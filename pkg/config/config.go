package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Models     ModelsConfig     `mapstructure:"models"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Prompt     PromptConfig     `mapstructure:"prompt"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type AppConfig struct {
	Name             string `mapstructure:"name"`
	Environment      string `mapstructure:"environment"`
	DefaultProjectID string `mapstructure:"default_project_id"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ModelsConfig points at the model artifacts. Empty paths select the embedded defaults.
type ModelsConfig struct {
	IntentPath string `mapstructure:"intent_path"`
	NERPath    string `mapstructure:"ner_path"`
}

type ClassifierConfig struct {
	// Backend is "lexicon" or "llm"
	Backend             string  `mapstructure:"backend"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

type ExtractorConfig struct {
	// ClipTypePolicy is "verbatim" or "catalog"
	ClipTypePolicy   string   `mapstructure:"clip_type_policy"`
	GenericClipTerms []string `mapstructure:"generic_clip_terms"`
	Strict           bool     `mapstructure:"strict"`
}

type LLMConfig struct {
	// Provider is one of ollama, openai, groq, mock
	Provider       string        `mapstructure:"provider"`
	Model          string        `mapstructure:"model"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	KeepAlive      string        `mapstructure:"keep_alive"`
	JSONResponse   bool          `mapstructure:"json_response"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
}

type PromptConfig struct {
	IncludeContext bool `mapstructure:"include_context"`
}

type WorkflowConfig struct {
	// RejectInvalid skips generation for queries classified only as INVALID_QUERY
	RejectInvalid bool `mapstructure:"reject_invalid"`
}

type CatalogConfig struct {
	// Source is "memory", "file" or "postgres"
	Source   string        `mapstructure:"source"`
	FilePath string        `mapstructure:"file_path"`
	Watch    bool          `mapstructure:"watch"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig enables the catalog cache when Address is set
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// DefaultOllamaURL is the llm.base_url default
const DefaultOllamaURL = "http://localhost:11434"

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432
	if u.Port() != "" {
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q", u.Port())
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tanooki-copilot")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.default_project_id", "default")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("models.intent_path", "")
	v.SetDefault("models.ner_path", "")
	v.SetDefault("classifier.backend", "lexicon")
	v.SetDefault("classifier.confidence_threshold", 0.6)
	v.SetDefault("extractor.clip_type_policy", "verbatim")
	v.SetDefault("extractor.generic_clip_terms", []string{"clips"})
	v.SetDefault("extractor.strict", false)
	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.model", "tv_model2:latest")
	v.SetDefault("llm.base_url", DefaultOllamaURL)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", 5*time.Minute)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.initial_backoff", 500*time.Millisecond)
	v.SetDefault("llm.keep_alive", "24h")
	v.SetDefault("llm.json_response", true)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("prompt.include_context", false)
	v.SetDefault("workflow.reject_invalid", false)
	v.SetDefault("catalog.source", "memory")
	v.SetDefault("catalog.file_path", "")
	v.SetDefault("catalog.watch", false)
	v.SetDefault("catalog.cache_ttl", 5*time.Minute)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("telegram.token", "")
	v.SetDefault("metrics.address", ":9090")
}

// LoadConfig reads path (if not empty), the environment and an optional .env file
func LoadConfig(path string) (*Config, error) {
	return LoadConfigWithOverrides(path, nil)
}

// LoadConfigWithOverrides is LoadConfig with explicit values, keyed like
// "llm.provider", that take precedence over the file and the environment.
func LoadConfigWithOverrides(path string, overrides map[string]any) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func applyEnvOverrides(config *Config) error {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if config.LLM.APIKey == "" {
		switch config.LLM.Provider {
		case "openai":
			config.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			config.LLM.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}

	if addr := os.Getenv("REDIS_URL"); addr != "" && config.Redis.Address == "" {
		config.Redis.Address = strings.TrimPrefix(addr, "redis://")
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	var problems []error

	if c.Classifier.ConfidenceThreshold < 0 || c.Classifier.ConfidenceThreshold >= 1 {
		problems = append(problems, fmt.Errorf("classifier.confidence_threshold must be in [0,1), got %v", c.Classifier.ConfidenceThreshold))
	}
	switch c.Classifier.Backend {
	case "lexicon", "llm":
	default:
		problems = append(problems, fmt.Errorf("classifier.backend %q is not supported", c.Classifier.Backend))
	}
	switch c.Extractor.ClipTypePolicy {
	case "verbatim", "catalog":
	default:
		problems = append(problems, fmt.Errorf("extractor.clip_type_policy %q is not supported", c.Extractor.ClipTypePolicy))
	}
	switch c.LLM.Provider {
	case "ollama", "mock":
	case "openai", "groq":
		if c.LLM.APIKey == "" {
			problems = append(problems, fmt.Errorf("llm.api_key is required for provider %s", c.LLM.Provider))
		}
	default:
		problems = append(problems, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.MaxRetries < 0 {
		problems = append(problems, fmt.Errorf("llm.max_retries must not be negative"))
	}
	switch c.Catalog.Source {
	case "memory":
	case "file":
		if c.Catalog.FilePath == "" {
			problems = append(problems, fmt.Errorf("catalog.file_path is required for the file source"))
		}
	case "postgres":
		if c.Database.DBName == "" {
			problems = append(problems, fmt.Errorf("database.dbname is required for the postgres source"))
		}
	default:
		problems = append(problems, fmt.Errorf("catalog.source %q is not supported", c.Catalog.Source))
	}

	return errors.Join(problems...)
}
