package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string
	FirebaseProject string
	StorageBucket   string
	Environment     string

	// Chat engine tuning. Defaults match the mobile client's behavior.
	ChatPageSize     int
	ChatLiveWindow   int
	TypingTTL        time.Duration
	RecencyThreshold time.Duration
	MaxDocumentBytes int64
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		FirebaseProject:  getEnv("FIREBASE_PROJECT_ID", ""),
		StorageBucket:    getEnv("STORAGE_BUCKET", ""),
		Environment:      getEnv("ENVIRONMENT", "development"),
		ChatPageSize:     getEnvAsInt("CHAT_PAGE_SIZE", 20),
		ChatLiveWindow:   getEnvAsInt("CHAT_LIVE_WINDOW", 10),
		TypingTTL:        getEnvAsDuration("CHAT_TYPING_TTL", 3*time.Second),
		RecencyThreshold: getEnvAsDuration("CHAT_RECENCY_THRESHOLD", 60*time.Second),
		MaxDocumentBytes: getEnvAsInt64("CHAT_MAX_DOCUMENT_BYTES", 5*1024*1024),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
