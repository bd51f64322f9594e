package mongo

import "time"

// Config contains MongoDB connection settings loaded from environment.
type Config struct {
	ConnectionURL  string        `env:"MONGODB_URL,required"`
	DatabaseName   string        `env:"MONGODB_DATABASE,required"`
	ConnectTimeout time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s"`
	MaxPoolSize    uint64        `env:"MONGODB_MAX_POOL_SIZE" envDefault:"100"`
	MinPoolSize    uint64        `env:"MONGODB_MIN_POOL_SIZE" envDefault:"0"`
	RetryAttempts  uint64        `env:"MONGODB_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"MONGODB_RETRY_INTERVAL" envDefault:"5s"`
}
