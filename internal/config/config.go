package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                string
	APIBaseURL          string
	PostgresURL         string
	TemporalAddress     string
	TemporalTaskQueue   string
	GeminiAPIKey        string
	TavilyAPIKey        string
	Model               string
	MaxResearchSteps    int
	SearchMaxResults    int
	PageContentMaxChars int
	SearchBaseURL       string
	ReaderBaseURL       string
}

func Load() Config {
	// Local development keeps secrets in .env, same as the web client.
	_ = godotenv.Load()

	port := getEnv("AXIOM_PORT", "8080")
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		Port:                port,
		APIBaseURL:          getEnv("AXIOM_API_URL", "http://localhost:"+port),
		PostgresURL:         postgresURL,
		TemporalAddress:     getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue:   getEnv("TEMPORAL_TASK_QUEUE", "axiom-research"),
		GeminiAPIKey:        getEnv("GOOGLE_GENERATIVE_AI_API_KEY", ""),
		TavilyAPIKey:        getEnv("TAVILY_API_KEY", ""),
		Model:               getEnv("AXIOM_MODEL", "gemini-3-flash-preview"),
		MaxResearchSteps:    getEnvInt("AXIOM_MAX_STEPS", 5),
		SearchMaxResults:    getEnvInt("AXIOM_SEARCH_MAX_RESULTS", 5),
		PageContentMaxChars: getEnvInt("AXIOM_PAGE_MAX_CHARS", 15000),
		SearchBaseURL:       getEnv("AXIOM_SEARCH_BASE_URL", "https://api.tavily.com"),
		ReaderBaseURL:       getEnv("AXIOM_READER_BASE_URL", "https://r.jina.ai"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "axiom")
	password := getEnv("POSTGRES_PASSWORD", "axiom")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "axiom")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
