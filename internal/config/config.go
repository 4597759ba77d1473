package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the evaluation service.
type Config struct {
	AppName  string
	AppEnv   string
	AppPort  string
	LogLevel string

	// CORSOrigins is a comma separated list passed to the CORS middleware.
	CORSOrigins string

	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	NATSURL         string
	NATSSubjectBase string

	Sandbox SandboxConfig
	AI      AIConfig
	Reports ReportsConfig

	EvaluationMaxConcurrent int
	EvaluationRateLimit     int
	TextWeights             TextWeights
	OralWeights             OralWeights
}

// SandboxConfig configures the code execution backend.
type SandboxConfig struct {
	Backend          string
	PistonURL        string
	DockerHost       string
	MinInterval      time.Duration
	CompileTimeout   time.Duration
	RunTimeout       time.Duration
	RequestTimeout   time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	RuntimeTTL       time.Duration
	CodeRunMemoryMB  int
	CodeRunCPUShares int
}

// AIConfig selects and tunes the judging model.
type AIConfig struct {
	Provider        string
	Model           string
	Temperature     float32
	Timeout         time.Duration
	MaxTokens       int
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
}

// ReportsConfig controls where finished reports are stored.
type ReportsConfig struct {
	Store    string
	Dir      string
	CacheTTL time.Duration
}

// TextWeights weighs the text-track sub-scores.
type TextWeights struct {
	QCM       float64
	Technical float64
	Grammar   float64
}

// OralWeights weighs the oral-track sub-scores.
type OralWeights struct {
	Technical float64
	Coherence float64
	Relevance float64
	Clarity   float64
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// CompletedSubject is the subject carrying finished interviews.
func (c Config) CompletedSubject() string {
	return c.NATSSubjectBase + ".interview.completed"
}

// ProgressSubject is the subject receiving question stage events.
func (c Config) ProgressSubject() string {
	return c.NATSSubjectBase + ".evaluation.progress"
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	cfg := Config{
		AppName:  v.GetString("app.name"),
		AppEnv:   v.GetString("app.env"),
		AppPort:  v.GetString("app.port"),
		LogLevel: strings.ToLower(v.GetString("app.log_level")),

		CORSOrigins: v.GetString("app.cors_origins"),

		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		JWTSecret:   v.GetString("jwt.secret"),

		NATSURL:         v.GetString("nats.url"),
		NATSSubjectBase: v.GetString("nats.subject_base"),

		Sandbox: SandboxConfig{
			Backend:          strings.ToLower(v.GetString("sandbox.backend")),
			PistonURL:        strings.TrimRight(v.GetString("sandbox.piston_url"), "/"),
			DockerHost:       v.GetString("docker_host"),
			MaxRetries:       v.GetInt("sandbox.max_retries"),
			CodeRunMemoryMB:  v.GetInt("code_run_memory_mb"),
			CodeRunCPUShares: v.GetInt("code_run_cpu_shares"),
		},
		AI: AIConfig{
			Provider:        strings.ToLower(v.GetString("ai.provider")),
			Model:           v.GetString("ai.model"),
			Temperature:     float32(v.GetFloat64("ai.temperature")),
			MaxTokens:       v.GetInt("ai.max_tokens"),
			OpenAIAPIKey:    v.GetString("openai_api_key"),
			OpenAIBaseURL:   v.GetString("openai_base_url"),
			AnthropicAPIKey: v.GetString("anthropic_api_key"),
		},
		Reports: ReportsConfig{
			Store: strings.ToLower(v.GetString("reports.store")),
			Dir:   v.GetString("reports.dir"),
		},

		EvaluationMaxConcurrent: v.GetInt("evaluation.max_concurrent"),
		EvaluationRateLimit:     v.GetInt("evaluation.rate_limit"),
		TextWeights: TextWeights{
			QCM:       v.GetFloat64("weights.text.qcm"),
			Technical: v.GetFloat64("weights.text.technical"),
			Grammar:   v.GetFloat64("weights.text.grammar"),
		},
		OralWeights: OralWeights{
			Technical: v.GetFloat64("weights.oral.technical"),
			Coherence: v.GetFloat64("weights.oral.coherence"),
			Relevance: v.GetFloat64("weights.oral.relevance"),
			Clarity:   v.GetFloat64("weights.oral.clarity"),
		},
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"sandbox.min_interval", &cfg.Sandbox.MinInterval},
		{"sandbox.compile_timeout", &cfg.Sandbox.CompileTimeout},
		{"sandbox.run_timeout", &cfg.Sandbox.RunTimeout},
		{"sandbox.request_timeout", &cfg.Sandbox.RequestTimeout},
		{"sandbox.retry_backoff", &cfg.Sandbox.RetryBackoff},
		{"sandbox.runtime_ttl", &cfg.Sandbox.RuntimeTTL},
		{"ai.timeout", &cfg.AI.Timeout},
		{"reports.cache_ttl", &cfg.Reports.CacheTTL},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.target = parsed
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "GEMA Evaluation API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.cors_origins", "*")
	v.SetDefault("nats.subject_base", "gema")

	v.SetDefault("sandbox.backend", "piston")
	v.SetDefault("sandbox.piston_url", "https://emkc.org/api/v2/piston")
	v.SetDefault("sandbox.min_interval", "300ms")
	v.SetDefault("sandbox.compile_timeout", "10s")
	v.SetDefault("sandbox.run_timeout", "5s")
	v.SetDefault("sandbox.request_timeout", "10s")
	v.SetDefault("sandbox.max_retries", 3)
	v.SetDefault("sandbox.retry_backoff", "1s")
	v.SetDefault("sandbox.runtime_ttl", "1h")
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)

	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("ai.timeout", "45s")
	v.SetDefault("ai.max_tokens", 1024)

	v.SetDefault("reports.store", "database")
	v.SetDefault("reports.dir", "reports")
	v.SetDefault("reports.cache_ttl", "10m")

	v.SetDefault("evaluation.max_concurrent", 2)
	v.SetDefault("evaluation.rate_limit", 30)

	v.SetDefault("weights.text.qcm", 0.3)
	v.SetDefault("weights.text.technical", 0.4)
	v.SetDefault("weights.text.grammar", 0.3)
	v.SetDefault("weights.oral.technical", 0.30)
	v.SetDefault("weights.oral.coherence", 0.30)
	v.SetDefault("weights.oral.relevance", 0.25)
	v.SetDefault("weights.oral.clarity", 0.15)
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret must be provided")
	}

	switch c.Sandbox.Backend {
	case "piston":
		if c.Sandbox.PistonURL == "" {
			return fmt.Errorf("sandbox piston url must be provided")
		}
	case "docker":
	default:
		return fmt.Errorf("unsupported sandbox backend %q", c.Sandbox.Backend)
	}

	switch c.AI.Provider {
	case "openai", "anthropic", "none":
	default:
		return fmt.Errorf("unsupported ai provider %q", c.AI.Provider)
	}

	switch c.Reports.Store {
	case "database":
	case "file":
		if c.Reports.Dir == "" {
			return fmt.Errorf("reports dir must be provided for the file store")
		}
	default:
		return fmt.Errorf("unsupported reports store %q", c.Reports.Store)
	}

	if c.Sandbox.MaxRetries < 0 {
		return fmt.Errorf("sandbox max retries must not be negative")
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("ai temperature must be between 0 and 2")
	}

	if c.EvaluationMaxConcurrent <= 0 {
		c.EvaluationMaxConcurrent = 2
	}
	if c.EvaluationRateLimit <= 0 {
		c.EvaluationRateLimit = 30
	}
	if c.Sandbox.CodeRunMemoryMB <= 0 {
		c.Sandbox.CodeRunMemoryMB = 256
	}
	if c.Sandbox.CodeRunCPUShares <= 0 {
		c.Sandbox.CodeRunCPUShares = 512
	}

	if !sumsToOne(c.TextWeights.QCM, c.TextWeights.Technical, c.TextWeights.Grammar) {
		return fmt.Errorf("text weights must sum to 1")
	}
	if !sumsToOne(c.OralWeights.Technical, c.OralWeights.Coherence, c.OralWeights.Relevance, c.OralWeights.Clarity) {
		return fmt.Errorf("oral weights must sum to 1")
	}

	return nil
}

func sumsToOne(weights ...float64) bool {
	total := 0.0
	for _, w := range weights {
		if w < 0 {
			return false
		}
		total += w
	}
	return math.Abs(total-1) < 1e-6
}
