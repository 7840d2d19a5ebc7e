package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP Configuration
	HTTPAddr           string
	CORSAllowedOrigins []string

	// Artifacts produced by the trainer
	ArtifactDir string

	// Simulation defaults for new sessions
	DefaultNoiseLevel     float64
	DefaultAlertThreshold float64

	// Anomaly scorer
	AnomalyContamination float64
	AnomalyTrees         int
	AnomalySeed          uint64

	// Buffer for events headed to optional sinks
	EventChannelSize int

	// Logging
	LogLevel  string
	LogFormat string

	// ClickHouse Configuration (empty address disables persistence)
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// MQTT Configuration (empty broker disables alert publishing)
	MQTTBroker     string
	MQTTClientID   string
	MQTTUsername   string
	MQTTPassword   string
	MQTTTopicAlert string

	MQTTConnectTimeoutSec int
	MQTTKeepAliveSec      int
	MQTTAutoReconnect     bool
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		// HTTP Configuration
		HTTPAddr:           getEnv("HTTP_ADDR", ":8000"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		ArtifactDir: getEnv("ARTIFACT_DIR", "./artifacts"),

		// Simulation defaults
		DefaultNoiseLevel:     getEnvNonNegativeFloat("DEFAULT_NOISE_LEVEL", 2.0),
		DefaultAlertThreshold: getEnvFloat("DEFAULT_ALERT_THRESHOLD", 13.0),

		// Anomaly scorer
		AnomalyContamination: getEnvFloat("ANOMALY_CONTAMINATION", 0.02),
		AnomalyTrees:         getEnvInt("ANOMALY_TREES", 100),
		AnomalySeed:          uint64(getEnvInt("ANOMALY_SEED", 42)),

		EventChannelSize: getEnvInt("EVENT_CHANNEL_SIZE", 256),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		// ClickHouse Configuration
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "nir"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		// MQTT Configuration
		MQTTBroker:     getEnv("MQTT_BROKER", ""),
		MQTTClientID:   getEnv("MQTT_CLIENT_ID", "nir-backend"),
		MQTTUsername:   getEnv("MQTT_USERNAME", ""),
		MQTTPassword:   getEnv("MQTT_PASSWORD", ""),
		MQTTTopicAlert: getEnv("MQTT_TOPIC_ALERT", "nir/{session_id}/alert"),

		MQTTConnectTimeoutSec: getEnvInt("MQTT_CONNECT_TIMEOUT", 10),
		MQTTKeepAliveSec:      getEnvInt("MQTT_KEEPALIVE", 60),
		MQTTAutoReconnect:     getEnvBool("MQTT_AUTO_RECONNECT", true),
	}
}

// PersistenceEnabled reports whether a ClickHouse address is configured
func (c *Config) PersistenceEnabled() bool {
	return c.ClickHouseAddr != ""
}

// AlertsEnabled reports whether an MQTT broker is configured
func (c *Config) AlertsEnabled() bool {
	return c.MQTTBroker != ""
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	if math.IsNaN(floatValue) || math.IsInf(floatValue, 0) {
		log.Printf("Warning: %s must be finite, using default %g", key, defaultValue)
		return defaultValue
	}
	return floatValue
}

func getEnvNonNegativeFloat(key string, defaultValue float64) float64 {
	floatValue := getEnvFloat(key, defaultValue)
	if floatValue < 0 {
		log.Printf("Warning: %s must be >= 0, using default %g", key, defaultValue)
		return defaultValue
	}
	return floatValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil || intValue < 0 {
		log.Printf("Warning: failed to parse %s as non-negative int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
