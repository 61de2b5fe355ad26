package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Model backends selectable with MODEL_BACKEND.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
	BackendStub   = "stub"
)

type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	HTTP        HTTPConfig
	Model       ModelConfig
	S3          S3Config
	Alarm       AlarmConfig
	Aggregation AggregationConfig
	SMTP        SMTPConfig
	Simulator   SimulatorConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers          []string
	TopicPredictions string
	TopicAlarms      string
	TopicRetrain     string
	NumPartitions    int
}

type HTTPConfig struct {
	Port            int
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the listen address for the HTTP server.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", h.Port)
}

type ModelConfig struct {
	Backend      string
	ArtifactPath string
	ArtifactKey  string // object key in S3; takes precedence over ArtifactPath when set
	Schema       []string
	Threshold    float64
	EndpointURL  string
	Timeout      time.Duration
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type AlarmConfig struct {
	Consecutive  int
	MinDuration  time.Duration
	RuleCacheTTL time.Duration
}

type AggregationConfig struct {
	HourlyDelay time.Duration
	DailyTime   string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type SimulatorConfig struct {
	TargetURL string
	FleetFile string
	Interval  time.Duration
	LeakRate  float64
	Seed      int64
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "leak_user"),
			Password: getEnv("DB_PASSWORD", "leak_pass"),
			DBName:   getEnv("DB_NAME", "leak_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:          getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicPredictions: getEnv("KAFKA_TOPIC_PREDICTIONS", "leak.predictions"),
			TopicAlarms:      getEnv("KAFKA_TOPIC_ALARMS", "leak.alarms"),
			TopicRetrain:     getEnv("KAFKA_TOPIC_RETRAIN", "leak.retrain"),
			NumPartitions:    getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
		},
		HTTP: HTTPConfig{
			Port:            getEnvAsInt("HTTP_PORT", 8000),
			CORSOrigins:     getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000"}),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 5*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Model: ModelConfig{
			Backend:      strings.ToLower(getEnv("MODEL_BACKEND", BackendLocal)),
			ArtifactPath: getEnv("MODEL_ARTIFACT_PATH", "models/leak_model.json"),
			ArtifactKey:  getEnv("MODEL_ARTIFACT_KEY", ""),
			Schema:       getEnvAsList("MODEL_SCHEMA", nil),
			Threshold:    getEnvAsFloat("LEAK_THRESHOLD", 0.7),
			EndpointURL:  getEnv("MODEL_ENDPOINT_URL", ""),
			Timeout:      getEnvAsDuration("MODEL_TIMEOUT", 10*time.Second),
		},
		S3: S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:    getEnv("S3_BUCKET", "leak-models"),
			UseSSL:    getEnvAsBool("S3_USE_SSL", false),
		},
		Alarm: AlarmConfig{
			Consecutive:  getEnvAsInt("ALARM_CONSECUTIVE", 3),
			MinDuration:  getEnvAsDuration("ALARM_MIN_DURATION", 0),
			RuleCacheTTL: getEnvAsDuration("ALARM_RULE_CACHE_TTL", 5*time.Minute),
		},
		Aggregation: AggregationConfig{
			HourlyDelay: getEnvAsDuration("AGGREGATION_HOURLY_DELAY", 5*time.Minute),
			DailyTime:   getEnv("AGGREGATION_DAILY_TIME", "00:05"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "leak-server@example.com"),
			To:       getEnv("SMTP_TO", "operations@example.com"),
		},
		Simulator: SimulatorConfig{
			TargetURL: getEnv("SIMULATOR_TARGET_URL", "http://localhost:8000/api/predict"),
			FleetFile: getEnv("SIMULATOR_FLEET_FILE", ""),
			Interval:  getEnvAsDuration("SIMULATOR_INTERVAL", 10*time.Second),
			LeakRate:  getEnvAsFloat("SIMULATOR_LEAK_RATE", 0.2),
			Seed:      int64(getEnvAsInt("SIMULATOR_SEED", 0)),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail later at request time.
func (c *Config) Validate() error {
	switch c.Model.Backend {
	case BackendLocal, BackendRemote, BackendStub:
	default:
		return fmt.Errorf("unknown MODEL_BACKEND %q (want local, remote or stub)", c.Model.Backend)
	}
	if c.Model.Threshold <= 0 || c.Model.Threshold >= 1 {
		return fmt.Errorf("LEAK_THRESHOLD must be in (0, 1), got %v", c.Model.Threshold)
	}
	if c.Model.Backend == BackendRemote && c.Model.EndpointURL == "" {
		return fmt.Errorf("MODEL_ENDPOINT_URL is required for the remote backend")
	}
	if c.Alarm.Consecutive < 1 {
		return fmt.Errorf("ALARM_CONSECUTIVE must be at least 1, got %d", c.Alarm.Consecutive)
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
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
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
