package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type ManagerAPIConfig struct {
	Addr         string        `envconfig:"API_ADDR"          default:":8081"`
	ReadTimeout  time.Duration `envconfig:"API_READ_TIMEOUT"  default:"10s"`
	WriteTimeout time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"40s"` // query_sm waits on the SMSC
	IdleTimeout  time.Duration `envconfig:"API_IDLE_TIMEOUT"  default:"60s"`
	KeyHash      string        `envconfig:"API_KEY_HASH"` // bcrypt hash; empty leaves /api/v1 open
}

// Config holds the overall application configuration.
type Config struct {
	DatabaseURL          string `envconfig:"DATABASE_URL"          required:"true"`
	LogLevel             string `envconfig:"LOG_LEVEL"                             default:"info"`
	OperatorNotifyTarget string `envconfig:"OPERATOR_NOTIFY_TARGET"                default:"ops"`
	SessionConfig        SessionConfig
	QueueConfig          QueueConfig
	WorkerConfig         WorkerConfig
	RetentionConfig      RetentionConfig
	Bootstrap            BootstrapConfig
	ManagerAPI           ManagerAPIConfig
}

// SessionConfig holds SMPP client session defaults and pool behaviour.
type SessionConfig struct {
	UnbindTimeout           time.Duration `envconfig:"SMPP_UNBIND_TIMEOUT"            default:"5s"`
	MaxPDULength            uint32        `envconfig:"SMPP_MAX_PDU_LENGTH"            default:"65536"`
	CircuitFailureThreshold int           `envconfig:"SMPP_CIRCUIT_FAILURE_THRESHOLD" default:"5"`
	CircuitOpenTimeout      time.Duration `envconfig:"SMPP_CIRCUIT_OPEN_TIMEOUT"      default:"30s"`
}

// QueueConfig holds defaults applied to new queue entries.
type QueueConfig struct {
	MaxAttempts    int           `envconfig:"QUEUE_MAX_ATTEMPTS"    default:"3"`
	RetryInterval  time.Duration `envconfig:"QUEUE_RETRY_INTERVAL"  default:"300s"`
	SubmitTimeout  time.Duration `envconfig:"QUEUE_SUBMIT_TIMEOUT"  default:"30s"`
	MaxMessageSize int           `envconfig:"QUEUE_MAX_MESSAGE_LEN" default:"1600"`
	SubmitRate     float64       `envconfig:"QUEUE_SUBMIT_RATE"     default:"0"` // submits per second per configuration, 0 = unlimited
	SubmitBurst    int           `envconfig:"QUEUE_SUBMIT_BURST"    default:"10"`
}

// WorkerConfig holds intervals and batch sizes for the background loops.
type WorkerConfig struct {
	QueueInterval      time.Duration `envconfig:"WORKER_QUEUE_INTERVAL"       default:"5s"`
	QueueBatchSize     int           `envconfig:"WORKER_QUEUE_BATCH_SIZE"     default:"100"`
	HealthInterval     time.Duration `envconfig:"WORKER_HEALTH_INTERVAL"      default:"1m"`
	CleanupInterval    time.Duration `envconfig:"WORKER_CLEANUP_INTERVAL"     default:"24h"`
	RunTimeout         time.Duration `envconfig:"WORKER_RUN_TIMEOUT"          default:"1m"`
	StaleClaimAfter    time.Duration `envconfig:"WORKER_STALE_CLAIM_AFTER"    default:"10m"`
	StaleClaimInterval time.Duration `envconfig:"WORKER_STALE_CLAIM_INTERVAL" default:"1m"`
	MetricsInterval    time.Duration `envconfig:"WORKER_METRICS_INTERVAL"     default:"30s"`
}

// RetentionConfig controls how long housekeeping keeps historical rows.
type RetentionConfig struct {
	ConnectionLogs   time.Duration `envconfig:"RETENTION_CONNECTION_LOGS"   default:"720h"`
	Receipts         time.Duration `envconfig:"RETENTION_RECEIPTS"          default:"2160h"`
	CompletedQueue   time.Duration `envconfig:"RETENTION_COMPLETED_QUEUE"   default:"168h"`
	ConnectionLogCap int           `envconfig:"RETENTION_CONNECTION_LOG_CAP" default:"1000"`
}

// BootstrapConfig optionally seeds one SMPP configuration at startup.
type BootstrapConfig struct {
	Name                string        `envconfig:"SMPP_NAME"              default:"default"`
	Host                string        `envconfig:"SMPP_HOST"`
	Port                int           `envconfig:"SMPP_PORT"              default:"2775"`
	SystemID            string        `envconfig:"SMPP_SYSTEM_ID"`
	Password            string        `envconfig:"SMPP_PASSWORD"`
	SystemType          string        `envconfig:"SMPP_SYSTEM_TYPE"`
	BindType            string        `envconfig:"SMPP_BIND_TYPE"         default:"transceiver"`
	DefaultSenderID     string        `envconfig:"SMPP_DEFAULT_SENDER_ID"`
	ConnectionTimeout   time.Duration `envconfig:"SMPP_CONNECT_TIMEOUT"   default:"30s"`
	EnquireLinkInterval time.Duration `envconfig:"SMPP_ENQUIRE_LINK"      default:"30s"`
}

// Enabled reports whether enough was provided to seed a configuration.
func (b BootstrapConfig) Enabled() bool {
	return b.Host != "" && b.SystemID != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	log.Println("Loading configuration from environment variables...")

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	} else {
		log.Println(".env loaded")
	}

	err := envconfig.Process("", &cfg) // Use "" prefix for env vars
	if err != nil {
		return nil, err
	}
	log.Printf("Configuration loaded successfully (API Addr: %s)", cfg.ManagerAPI.Addr)
	return &cfg, nil
}
