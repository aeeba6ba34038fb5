package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Logging   LoggingConfig
	Geofence  GeofenceConfig
	Push      PushConfig
	Kafka     KafkaConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// URL returns the CouchDB address with credentials embedded.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", d.User, d.Password, d.Host, d.Port)
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int64
	WriteWait         time.Duration
	PongWait          time.Duration
	HeartbeatInterval time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute       int
	DeviceRequestsPerMinute int
	Enabled                 bool
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type GeofenceConfig struct {
	NotifyTimeout     time.Duration
	NotifyConcurrency int
}

type PushConfig struct {
	// GatewayURL is empty when push delivery is disabled.
	GatewayURL string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

type KafkaConfig struct {
	// Brokers is empty when event publishing is disabled.
	Brokers []string
	Topic   string
}

func Load() (*Config, error) {
	godotenv.Load()

	shutdown, err := getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	writeWait, err := getEnvAsDuration("WS_WRITE_WAIT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	pongWait, err := getEnvAsDuration("WS_PONG_WAIT", 70*time.Second)
	if err != nil {
		return nil, err
	}
	heartbeat, err := getEnvAsDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	notifyTimeout, err := getEnvAsDuration("GEOFENCE_NOTIFY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	pushTimeout, err := getEnvAsDuration("PUSH_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	if heartbeat >= pongWait {
		return nil, fmt.Errorf("WS_HEARTBEAT_INTERVAL (%s) must be shorter than WS_PONG_WAIT (%s)", heartbeat, pongWait)
	}

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Host:            getEnv("HOST", "0.0.0.0"),
			Env:             getEnv("ENV", "development"),
			ShutdownTimeout: shutdown,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "findsafe"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:    getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize:   getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:    int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 65536)),
			WriteWait:         writeWait,
			PongWait:          pongWait,
			HeartbeatInterval: heartbeat,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute:       getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
			DeviceRequestsPerMinute: getEnvAsInt("RATE_LIMIT_DEVICE_REQUESTS_PER_MINUTE", 120),
			Enabled:                 getEnvAsBool("RATE_LIMIT_ENABLED", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Geofence: GeofenceConfig{
			NotifyTimeout:     notifyTimeout,
			NotifyConcurrency: getEnvAsInt("GEOFENCE_NOTIFY_CONCURRENCY", 4),
		},
		Push: PushConfig{
			GatewayURL: getEnv("PUSH_GATEWAY_URL", ""),
			APIKey:     getEnv("PUSH_API_KEY", ""),
			Timeout:    pushTimeout,
			MaxRetries: getEnvAsInt("PUSH_MAX_RETRIES", 2),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_GEOFENCE_TOPIC", "geofence.events"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getEnvAsList splits a comma-separated value, dropping empty items.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
