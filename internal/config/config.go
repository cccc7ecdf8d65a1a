package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the overall application configuration.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisAddr   string `envconfig:"REDIS_ADDR"   default:""`
	LogLevel    string `envconfig:"LOG_LEVEL"    default:"info"`

	// SecretKey is the hex-encoded 32-byte key for the credential cipher.
	SecretKey string `envconfig:"SECRET_KEY" required:"true"`

	API      APIConfig
	Carrier  CarrierConfig
	Listener ListenerConfig
	Pools    PoolsConfig
	Sweeper  SweeperConfig
}

// APIConfig holds the management HTTP server settings.
type APIConfig struct {
	Addr         string        `envconfig:"API_ADDR"          default:":8080"`
	ReadTimeout  time.Duration `envconfig:"API_READ_TIMEOUT"  default:"10s"`
	WriteTimeout time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"API_IDLE_TIMEOUT"  default:"60s"`
}

// CarrierConfig holds the SMPP link parameters shared by the gateway's
// sessions. Per-tenant system id / password come from channel_configs.
type CarrierConfig struct {
	Host            string        `envconfig:"CARRIER_HOST"             default:"127.0.0.1"`
	Port            int           `envconfig:"CARRIER_PORT"             default:"2775"`
	SystemID        string        `envconfig:"CARRIER_SYSTEM_ID"        default:""`
	Password        string        `envconfig:"CARRIER_PASSWORD"         default:""`
	SystemType      string        `envconfig:"CARRIER_SYSTEM_TYPE"      default:""`
	BindType        string        `envconfig:"CARRIER_BIND_TYPE"        default:"trx"`
	EnquireLink     time.Duration `envconfig:"CARRIER_ENQUIRE_LINK"     default:"30s"`
	RequestTimeout  time.Duration `envconfig:"CARRIER_REQUEST_TIMEOUT"  default:"10s"`
	ConnectTimeout  time.Duration `envconfig:"CARRIER_CONNECT_TIMEOUT"  default:"5s"`
	MaxWindowSize   uint          `envconfig:"CARRIER_MAX_WINDOW_SIZE"  default:"32"`
	CallbackBaseURL string        `envconfig:"DLR_CALLBACK_BASE_URL"    default:""`
}

// ListenerConfig controls the delivery-receipt listener. Disabled by default:
// no listener resources are started unless explicitly enabled.
type ListenerConfig struct {
	Enabled      bool          `envconfig:"DLR_LISTENER_ENABLED" default:"false"`
	DrainTimeout time.Duration `envconfig:"DLR_DRAIN_TIMEOUT"    default:"15s"`
}

// PoolsConfig sizes the five workload-class pools.
type PoolsConfig struct {
	InteractiveWorkers int     `envconfig:"POOL_INTERACTIVE_WORKERS"  default:"8"`
	InteractiveQueue   int     `envconfig:"POOL_INTERACTIVE_QUEUE"    default:"32"`
	BulkSendWorkers    int     `envconfig:"POOL_BULK_SEND_WORKERS"    default:"16"`
	BulkSendQueue      int     `envconfig:"POOL_BULK_SEND_QUEUE"      default:"64"`
	BulkInsertWorkers  int     `envconfig:"POOL_BULK_INSERT_WORKERS"  default:"8"`
	BulkInsertQueue    int     `envconfig:"POOL_BULK_INSERT_QUEUE"    default:"64"`
	ReceiptWorkers     int     `envconfig:"POOL_RECEIPT_WORKERS"      default:"8"`
	ReceiptQueue       int     `envconfig:"POOL_RECEIPT_QUEUE"        default:"256"`
	RateLimitedWorkers int     `envconfig:"POOL_RATE_LIMITED_WORKERS" default:"2"`
	RateLimitedQueue   int     `envconfig:"POOL_RATE_LIMITED_QUEUE"   default:"4"`
	RateLimitPerSec    float64 `envconfig:"POOL_RATE_LIMIT_PER_SEC"   default:"50"`
	RateLimitBurst     int     `envconfig:"POOL_RATE_LIMIT_BURST"     default:"100"`
}

// SweeperConfig controls the stale-submission maintenance job.
type SweeperConfig struct {
	Interval time.Duration `envconfig:"SWEEPER_INTERVAL"  default:"24h"`
	StaleAge time.Duration `envconfig:"SWEEPER_STALE_AGE" default:"24h"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
