package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL       string
	WebsocketURL     string
	UserID           string
	CachePath        string
	Environment      string
	RoomRefreshDelay time.Duration
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		APIBaseURL:       getEnv("UMBRA_API_URL", "http://localhost:8080"),
		WebsocketURL:     getEnv("UMBRA_WS_URL", "ws://localhost:8080/ws/chat"),
		UserID:           getEnv("UMBRA_USER_ID", ""),
		CachePath:        getEnv("UMBRA_CACHE_PATH", "./umbra-cache.db"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		RoomRefreshDelay: time.Duration(getEnvAsInt64("UMBRA_ROOM_REFRESH_DELAY_SECONDS", 3)) * time.Second,
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
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
