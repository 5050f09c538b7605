package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingCredentials is returned by Validate when a required API key is absent.
var ErrMissingCredentials = errors.New("missing required environment variables")

const (
	ProviderExa   = "exa"
	ProviderArxiv = "arxiv"
)

type Config struct {
	GoogleApiKey string
	ExaApiKey    string
	DatabaseURL  string

	SearchProvider  string
	MaxURLsPerQuery int
	ExcludedDomains []string
	SearchNotBefore time.Time
	SearchTimeout   time.Duration
	ContentSnippet  int
	PreviewLength   int
	FanOutLimit     int
	MinRelevance    int
	MaxIterations   int
	StopConfidence  int
	GeminiModel     string
	Temperature     float64
	MaxTokens       int
	LLMMaxRetries   int
	EmbeddingModel  string
	CollectionName  string
	ChunkSize       int
	ChunkOverlap    int
	EmbeddingDims   int
}

// Load reads configuration from the environment, after loading a .env
// file if one is present.
func Load() *Config {
	// A missing .env is fine as long as the variables are set
	_ = godotenv.Load()

	return &Config{
		GoogleApiKey: getEnv("GOOGLE_API_KEY", ""),
		ExaApiKey:    getEnv("EXA_API_KEY", ""),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		SearchProvider:  strings.ToLower(getEnv("SEARCH_PROVIDER", ProviderExa)),
		MaxURLsPerQuery: getEnvAsInt("MAX_URLS_PER_QUERY", 20),
		ExcludedDomains: getEnvAsList("EXCLUDED_DOMAINS", []string{"reddit.com", "twitter.com", "facebook.com"}),
		SearchNotBefore: getEnvAsDate("SEARCH_NOT_BEFORE", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
		SearchTimeout:   getEnvAsDuration("SEARCH_TIMEOUT", 30*time.Second),
		ContentSnippet:  getEnvAsInt("CONTENT_SNIPPET_LENGTH", 2000),
		PreviewLength:   getEnvAsInt("REPORT_PREVIEW_LENGTH", 500),
		FanOutLimit:     getEnvAsInt("FANOUT_LIMIT", 0),
		MinRelevance:    getEnvAsInt("MIN_RELEVANCE_SCORE", 6),
		MaxIterations:   getEnvAsInt("MAX_RESEARCH_ITERATIONS", 3),
		StopConfidence:  getEnvAsInt("STOP_CONFIDENCE_THRESHOLD", 7),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		Temperature:     getEnvAsFloat("LLM_TEMPERATURE", 0.7),
		MaxTokens:       getEnvAsInt("LLM_MAX_TOKENS", 8192),
		LLMMaxRetries:   getEnvAsInt("LLM_MAX_RETRIES", 3),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		CollectionName:  getEnv("COLLECTION_NAME", "research_archive"),
		ChunkSize:       getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:    getEnvAsInt("CHUNK_OVERLAP", 200),
		EmbeddingDims:   getEnvAsInt("EMBEDDING_DIMENSIONS", 1536),
	}
}

// Validate reports every credential the configured collaborators need but
// do not have. It must be called before a run starts.
func (c *Config) Validate() error {
	var missing []string
	if c.GoogleApiKey == "" {
		missing = append(missing, "GOOGLE_API_KEY")
	}

	switch c.SearchProvider {
	case ProviderExa:
		if c.ExaApiKey == "" {
			missing = append(missing, "EXA_API_KEY")
		}
	case ProviderArxiv:
	default:
		return fmt.Errorf("unknown SEARCH_PROVIDER %q (want %s or %s)", c.SearchProvider, ProviderExa, ProviderArxiv)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// ValidateArchive checks the settings needed to persist and index runs.
func (c *Config) ValidateArchive() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.GoogleApiKey == "" {
		missing = append(missing, "GOOGLE_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDate accepts YYYY-MM-DD.
func getEnvAsDate(key string, defaultValue time.Time) time.Time {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.Parse(time.DateOnly, valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
