package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App           AppSettings          `mapstructure:"app"`
	Postgres      PostgresSettings     `mapstructure:"postgres"`
	Redis         RedisSettings        `mapstructure:"redis"`
	Kafka         KafkaSettings        `mapstructure:"kafka"`
	Notifications NotificationSettings `mapstructure:"notifications"`
	AWS           AWSSettings          `mapstructure:"aws"`
	Auth          AuthSettings         `mapstructure:"auth"`
	GRPC          GRPCSettings         `mapstructure:"grpc"`
	Telemetry     TelemetrySettings    `mapstructure:"telemetry"`
	RateLimit     RateLimitSettings    `mapstructure:"rate_limit"`
	Workflow      WorkflowSettings     `mapstructure:"workflow"`
}

type AppSettings struct {
	Name        string   `mapstructure:"name"`
	Env         string   `mapstructure:"env"`
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type GRPCSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection, TLS and key prefixes.
type RedisSettings struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	DB                int    `mapstructure:"db"`
	Password          string `mapstructure:"password"`
	TLSEnabled        bool   `mapstructure:"tls_enabled"`
	PoolSize          int    `mapstructure:"pool_size"`
	MinIdleConns      int    `mapstructure:"min_idle_conns"`
	LockPrefix        string `mapstructure:"lock_prefix"`
	ReportCachePrefix string `mapstructure:"report_cache_prefix"`
	RateLimitPrefix   string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the Kafka producer and the candidate consumer.
type KafkaSettings struct {
	Brokers         []string `mapstructure:"brokers"`
	TopicPrefix     string   `mapstructure:"topic_prefix"`
	Async           bool     `mapstructure:"async"`
	ConsumerGroup   string   `mapstructure:"consumer_group"`
	CandidateTopic  string   `mapstructure:"candidate_topic"`
	ConsumerEnabled bool     `mapstructure:"consumer_enabled"`
}

// NotificationSettings selects the delivery driver and outbox relay cadence.
type NotificationSettings struct {
	Driver            string        `mapstructure:"driver"`
	OutboxEnabled     bool          `mapstructure:"outbox_enabled"`
	RelayInterval     time.Duration `mapstructure:"relay_interval"`
	RelayBatchSize    int           `mapstructure:"relay_batch_size"`
	OutboxMaxAttempts int           `mapstructure:"outbox_max_attempts"`
}

// AWSSettings configures the SNS notification driver.
type AWSSettings struct {
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// AuthSettings configures bearer token verification.
type AuthSettings struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	Issuer     string `mapstructure:"issuer"`
	SystemRole string `mapstructure:"system_role"`
}

// RateLimitSettings bounds security answer submissions per user and match.
type RateLimitSettings struct {
	WindowDuration    time.Duration `mapstructure:"window_duration"`
	AnswerMaxAttempts int           `mapstructure:"answer_max_attempts"`
}

// WorkflowSettings tunes the match workflow.
type WorkflowSettings struct {
	HandoverWindow    time.Duration `mapstructure:"handover_window"`
	AttestationMode   string        `mapstructure:"attestation_mode"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	ReportCacheTTL    time.Duration `mapstructure:"report_cache_ttl"`
	DegradationPolicy string        `mapstructure:"degradation_policy"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("MATCH")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.cors_origins",
		"grpc.host",
		"grpc.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.pool_size",
		"redis.min_idle_conns",
		"redis.lock_prefix",
		"redis.report_cache_prefix",
		"redis.rate_limit_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"kafka.consumer_group",
		"kafka.candidate_topic",
		"kafka.consumer_enabled",
		"notifications.driver",
		"notifications.outbox_enabled",
		"notifications.relay_interval",
		"notifications.relay_batch_size",
		"notifications.outbox_max_attempts",
		"aws.region",
		"aws.sns_topic_arn",
		"auth.jwt_secret",
		"auth.issuer",
		"auth.system_role",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.answer_max_attempts",
		"workflow.handover_window",
		"workflow.attestation_mode",
		"workflow.lock_ttl",
		"workflow.report_cache_ttl",
		"workflow.degradation_policy",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "match-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_origins", []string{"*"})

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "matching")
	v.SetDefault("postgres.password", "matching_password")
	v.SetDefault("postgres.database", "resqhub")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.lock_prefix", "matching:lock")
	v.SetDefault("redis.report_cache_prefix", "matching:report")
	v.SetDefault("redis.rate_limit_prefix", "matching:ratelimit")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "resqhub")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.consumer_group", "match-service")
	v.SetDefault("kafka.candidate_topic", "resqhub.match.candidate_proposed")
	v.SetDefault("kafka.consumer_enabled", false)

	// kafka | sns | log
	v.SetDefault("notifications.driver", "kafka")
	v.SetDefault("notifications.outbox_enabled", false)
	v.SetDefault("notifications.relay_interval", "5s")
	v.SetDefault("notifications.relay_batch_size", 50)
	v.SetDefault("notifications.outbox_max_attempts", 10)

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "resqhub")
	v.SetDefault("auth.system_role", "system")

	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "match-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.answer_max_attempts", 5)

	v.SetDefault("workflow.handover_window", "48h")
	v.SetDefault("workflow.attestation_mode", "single_party")
	v.SetDefault("workflow.lock_ttl", "5s")
	v.SetDefault("workflow.report_cache_ttl", "5m")
	v.SetDefault("workflow.degradation_policy", "lenient")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "MATCH_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
