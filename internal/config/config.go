// Package config provides environment configuration for the API server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/capitalize-ai/cost-estimator/internal/llm"
	"github.com/capitalize-ai/cost-estimator/internal/service"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	MaxUploadBytes     int

	// Sessions
	SessionIdleTimeout time.Duration
	SessionSweepEvery  time.Duration

	// LLM settings
	LLMProvider       string
	LLMMaxTokens      int
	LLMRequestTimeout time.Duration

	AzureOpenAIAPIKey     string
	AzureOpenAIAPIVersion string
	AzureOpenAIEndpoint   string
	AzureOpenAIDeployment string

	OpenAIAPIKey string
	OpenAIModel  string

	AnthropicAPIKey string
	AnthropicModel  string

	// Prompt behaviour
	EstimateStructured bool
	InjectSelection    bool

	// NATS settings; an empty URL disables event publishing.
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	AuthEnabled bool
	JWTSecret   string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment variables
// win over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 5*time.Minute),
		MaxUploadBytes:     getIntEnv("MAX_UPLOAD_BYTES", 10<<20),

		// Sessions
		SessionIdleTimeout: getDurationEnv("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionSweepEvery:  getDurationEnv("SESSION_SWEEP_INTERVAL", time.Minute),

		// LLM
		LLMProvider:       getEnv("LLM_PROVIDER", string(llm.ProviderAzure)),
		LLMMaxTokens:      getIntEnv("LLM_MAX_TOKENS", 4096),
		LLMRequestTimeout: getDurationEnv("LLM_REQUEST_TIMEOUT", 2*time.Minute),

		AzureOpenAIAPIKey:     getEnv("AZURE_OPENAI_API_KEY", ""),
		AzureOpenAIAPIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-02-15-preview"),
		AzureOpenAIEndpoint:   getEnv("AZURE_OPENAI_API_ENDPOINT", ""),
		AzureOpenAIDeployment: getEnv("AZURE_OPENAI_API_DEPLOYMENT", ""),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o"),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", ""),

		EstimateStructured: getBoolEnv("ESTIMATE_STRUCTURED", true),
		InjectSelection:    getBoolEnv("INJECT_SELECTION", true),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		AuthEnabled: getBoolEnv("AUTH_ENABLED", false),
		JWTSecret:   getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// LLM returns the backend configuration for the selected provider.
func (c *Config) LLM() (llm.Config, error) {
	p := llm.Provider(c.LLMProvider)
	switch p {
	case llm.ProviderAzure:
		if c.AzureOpenAIAPIKey == "" || c.AzureOpenAIEndpoint == "" || c.AzureOpenAIDeployment == "" {
			return llm.Config{}, fmt.Errorf("azure provider requires AZURE_OPENAI_API_KEY, AZURE_OPENAI_API_ENDPOINT and AZURE_OPENAI_API_DEPLOYMENT")
		}
		return llm.Config{
			Provider:   p,
			APIKey:     c.AzureOpenAIAPIKey,
			Model:      c.AzureOpenAIDeployment,
			Endpoint:   c.AzureOpenAIEndpoint,
			APIVersion: c.AzureOpenAIAPIVersion,
		}, nil
	case llm.ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return llm.Config{}, fmt.Errorf("openai provider requires OPENAI_API_KEY")
		}
		return llm.Config{Provider: p, APIKey: c.OpenAIAPIKey, Model: c.OpenAIModel}, nil
	case llm.ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return llm.Config{}, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY")
		}
		return llm.Config{Provider: p, APIKey: c.AnthropicAPIKey, Model: c.AnthropicModel}, nil
	default:
		return llm.Config{}, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
}

// Orchestrator returns the prompt orchestration settings.
func (c *Config) Orchestrator() service.OrchestratorConfig {
	return service.OrchestratorConfig{
		StructuredEstimate: c.EstimateStructured,
		InjectSelection:    c.InjectSelection,
		MaxUploadBytes:     c.MaxUploadBytes,
		MaxTokens:          c.LLMMaxTokens,
		RequestTimeout:     c.LLMRequestTimeout,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
