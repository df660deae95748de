package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NewRelic   NewRelicConfig
	Log        LogConfig
	Dispatch   DispatchConfig
	Corridor   CorridorConfig
	Kafka      KafkaConfig
	Background BackgroundConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Store backends.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// StoreConfig selects where rides, drivers and positions live.
type StoreConfig struct {
	Backend string // postgres (with Redis) or memory
	Migrate bool   // apply embedded migrations at startup
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string
}

// DispatchConfig holds driver search and offer settings.
type DispatchConfig struct {
	RadiusKm          float64
	EmergencyRadiusKm float64
	OfferFanout       int
	OfferTTL          time.Duration
}

// CorridorConfig holds emergency corridor settings.
type CorridorConfig struct {
	RadiusKm      float64
	ConeDegrees   float64
	Debounce      time.Duration
	MaxCandidates int
}

// KafkaConfig holds the notification topic. An empty broker list selects
// the log gateway.
type KafkaConfig struct {
	Brokers           []string
	NotificationTopic string
}

// BackgroundConfig bounds fire-and-forget work.
type BackgroundConfig struct {
	Workers     int
	TaskTimeout time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
			Migrate: getBoolEnv("DB_MIGRATE", true),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ride_dispatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "ride-dispatch-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Dispatch: DispatchConfig{
			RadiusKm:          getFloatEnv("DISPATCH_RADIUS_KM", 5.0),
			EmergencyRadiusKm: getFloatEnv("DISPATCH_EMERGENCY_RADIUS_KM", 10.0),
			OfferFanout:       getIntEnv("DISPATCH_OFFER_FANOUT", 5),
			OfferTTL:          getDurationEnv("DISPATCH_OFFER_TTL", 30*time.Second),
		},
		Corridor: CorridorConfig{
			RadiusKm:      getFloatEnv("CORRIDOR_RADIUS_KM", 1.0),
			ConeDegrees:   getFloatEnv("CORRIDOR_CONE_DEGREES", 45),
			Debounce:      getDurationEnv("CORRIDOR_DEBOUNCE", 30*time.Second),
			MaxCandidates: getIntEnv("CORRIDOR_MAX_CANDIDATES", 200),
		},
		Kafka: KafkaConfig{
			Brokers:           getListEnv("KAFKA_BROKERS"),
			NotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", "ride.notifications"),
		},
		Background: BackgroundConfig{
			Workers:     getIntEnv("BACKGROUND_WORKERS", 64),
			TaskTimeout: getDurationEnv("BACKGROUND_TASK_TIMEOUT", 30*time.Second),
		},
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.NewRelic.Enabled && c.NewRelic.LicenseKey == "" {
		return fmt.Errorf("NEW_RELIC_ENABLED requires NEW_RELIC_LICENSE_KEY")
	}
	if c.Corridor.ConeDegrees <= 0 || c.Corridor.ConeDegrees > 180 {
		return fmt.Errorf("CORRIDOR_CONE_DEGREES must be in (0, 180], got %v", c.Corridor.ConeDegrees)
	}
	if c.Dispatch.OfferFanout <= 0 {
		return fmt.Errorf("DISPATCH_OFFER_FANOUT must be positive, got %d", c.Dispatch.OfferFanout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
