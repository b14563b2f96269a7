package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Redis struct {
	Addr     string // e.g. redis:6379; empty disables the distributed limiter
	Password string
	DB       int
}

type NSQ struct {
	NsqdTCPAddr string // e.g. nsqd:4150
	DLQTopic    string // dead letter topic
	PublishDLQ  bool   // whether to mirror dead letters onto the DLQ topic
}

type Signing struct {
	Algorithm        string // sha256 or sha512
	SignatureHeader  string // HTTP header carrying the hex HMAC
	TimestampHeader  string // HTTP header carrying unix seconds
	ToleranceSeconds int    // replay window accepted by verifiers
}

type Engine struct {
	Workers        int           // bounded fan-out pool size
	AttemptTimeout time.Duration // per HTTP attempt, not per delivery
	MaxAttempts    int
	InitialDelay   time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	AlertThreshold int     // attempts before the alerter fires
	EgressRPS      float64 // engine-wide outbound request cap, 0 disables
	EgressBurst    int

	RateLimitWindow time.Duration // default per-subscription window
	RateLimitMax    int           // default max requests per window

	BreakerThreshold    int
	BreakerResetTimeout time.Duration

	ReplayCron string // cron spec for policy-driven DLQ replay, empty disables
}

type FakeReceiver struct {
	FailFirstN           int
	EndpointSecret       string
	SigningLeewaySeconds int
	ResponseDelayMS      int
	Port                 string
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
}

type Config struct {
	AppName      string
	HTTPPort     string // ops/metrics server, e.g. :8082
	Storage      string // "postgres" or "memory"
	DB           DB
	Redis        Redis
	NSQ          NSQ
	Signing      Signing
	Engine       Engine
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "tidehook"),
		HTTPPort: getenv("HTTP_PORT", ":8082"),
		Storage:  getenv("STORAGE_BACKEND", "memory"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "tidehook"),
		},
		Redis: Redis{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		NSQ: NSQ{
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			DLQTopic:    getenv("NSQ_DLQ_TOPIC", "deliveries_dlq"),
			PublishDLQ:  getenvBool("PUBLISH_DLQ_TOPIC", false),
		},
		Signing: Signing{
			Algorithm:        getenv("WEBHOOK_SIGNATURE_ALGORITHM", "sha256"),
			SignatureHeader:  getenv("WEBHOOK_SIGNATURE_HEADER", "X-Webhook-Signature"),
			TimestampHeader:  getenv("WEBHOOK_TIMESTAMP_HEADER", "X-Webhook-Timestamp"),
			ToleranceSeconds: getenvInt("WEBHOOK_TOLERANCE_SECONDS", 300),
		},
		Engine: Engine{
			Workers:        getenvInt("ENGINE_WORKERS", 32),
			AttemptTimeout: getenvDuration("ATTEMPT_TIMEOUT", 30*time.Second),
			MaxAttempts:    getenvInt("MAX_ATTEMPTS", 5),
			InitialDelay:   getenvDuration("RETRY_INITIAL_DELAY", time.Second),
			Multiplier:     getenvFloat("RETRY_MULTIPLIER", 2.0),
			MaxDelay:       getenvDuration("RETRY_MAX_DELAY", 5*time.Minute),
			AlertThreshold: getenvInt("ALERT_THRESHOLD", 3),
			EgressRPS:      getenvFloat("EGRESS_RPS", 0),
			EgressBurst:    getenvInt("EGRESS_BURST", 64),

			RateLimitWindow: getenvDuration("RATE_LIMIT_WINDOW", time.Minute),
			RateLimitMax:    getenvInt("RATE_LIMIT_MAX", 1000),

			BreakerThreshold:    getenvInt("BREAKER_THRESHOLD", 5),
			BreakerResetTimeout: getenvDuration("BREAKER_RESET_TIMEOUT", 60*time.Second),

			ReplayCron: getenv("DLQ_REPLAY_CRON", ""),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:           getenvInt("FAIL_FIRST_N", 0),
			EndpointSecret:       getenv("ENDPOINT_SECRET", ""),
			SigningLeewaySeconds: getenvInt("SIGNING_LEEWAY_SECONDS", 300),
			ResponseDelayMS:      getenvInt("RESPONSE_DELAY_MS", 0),
			Port:                 getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:          getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:          getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
