package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultInitialStartDate is used when INITIAL_START_DATE is missing or malformed.
const DefaultInitialStartDate = "2020-01-01"

type Config struct {
	Port        string
	Environment string

	MongoURI              string
	MongoDB               string
	MongoCollection       string
	MongoPricesCollection string

	Scheduler SchedulerConfig
}

// SchedulerConfig holds all scheduler tuning knobs. It is loaded once at
// startup and treated as immutable afterwards.
type SchedulerConfig struct {
	RunFrequency          time.Duration // how often a full cycle runs
	SymbolRefreshInterval time.Duration // how often each symbol's snapshot is refreshed
	MaxSymbolsPerRun      int
	RateLimitDelay        time.Duration // minimum spacing between provider calls
	Jitter                time.Duration // random extra delay added on top of RateLimitDelay
	MaxRetries            int
	RetryDelay            time.Duration
	InitialStartDate      time.Time // backfill start when a symbol has no price history yet
	ChunkDays             int       // days of history downloaded per provider call
	ChunkDelay            time.Duration
}

var AppConfig *Config

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		MongoURI:              getEnv("MONGODB_URI", "mongodb://localhost:27017/"),
		MongoDB:               getEnv("MONGODB_DB", "finance-scraper"),
		MongoCollection:       getEnv("MONGODB_COLLECTION", "stock-info"),
		MongoPricesCollection: getEnv("MONGODB_PRICES_COLLECTION", "stock-prices"),

		Scheduler: SchedulerConfig{
			RunFrequency:          time.Duration(getEnvInt("SCHEDULER_FREQUENCY_HOURS", 24)) * time.Hour,
			SymbolRefreshInterval: time.Duration(getEnvInt("SYMBOL_FREQUENCY_HOURS", 24)) * time.Hour,
			MaxSymbolsPerRun:      getEnvInt("MAX_SYMBOLS_PER_RUN", 50),
			RateLimitDelay:        getEnvSeconds("RATE_LIMIT_DELAY_SECONDS", 1.0),
			Jitter:                getEnvSeconds("JITTER_SECONDS", 0.5),
			MaxRetries:            getEnvInt("MAX_RETRIES", 3),
			RetryDelay:            getEnvSeconds("RETRY_DELAY_SECONDS", 5.0),
			InitialStartDate:      getEnvDate("INITIAL_START_DATE", DefaultInitialStartDate),
			ChunkDays:             getEnvInt("DOWNLOAD_CHUNK_DAYS", 365),
			ChunkDelay:            getEnvSeconds("DOWNLOAD_CHUNK_DELAY_SECONDS", 600),
		},
	}

	AppConfig = config
	return config, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvSeconds reads a float number of seconds and converts it to a duration.
func getEnvSeconds(key string, defaultValue float64) time.Duration {
	value := os.Getenv(key)
	seconds := defaultValue
	if value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.Printf("Invalid value for %s: %q, using default %.1f", key, value, defaultValue)
		} else {
			seconds = parsed
		}
	}
	return time.Duration(seconds * float64(time.Second))
}

// getEnvDate reads a YYYY-MM-DD date. A malformed value falls back to the
// provided default rather than failing startup.
func getEnvDate(key, defaultValue string) time.Time {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		log.Printf("Invalid date format for %s: %q. Expected YYYY-MM-DD. Using default %s", key, value, defaultValue)
		parsed, _ = time.Parse("2006-01-02", defaultValue)
	}
	return parsed.UTC()
}
