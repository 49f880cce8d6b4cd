// Package config loads the service configuration from environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full environment surface of the service. Backend clients
// are only connected for the applications whose endpoint is set.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":5000"`

	// Generational cache layout and rotation trigger.
	CacheRoot    string `env:"CACHE_ROOT" envDefault:"./cache-data"`
	Timezone     string `env:"ROTATION_TZ" envDefault:"Africa/Lagos"`
	RotateHour   int    `env:"ROTATION_HOUR" envDefault:"22"`
	RotateMinute int    `env:"ROTATION_MINUTE" envDefault:"30"`

	// Background work.
	SyncSchedule   string        `env:"SYNC_SCHEDULE" envDefault:"0 23 * * *"`
	DriftInterval  time.Duration `env:"DRIFT_INTERVAL" envDefault:"10m"`
	SyncBatchSize  int           `env:"SYNC_BATCH_SIZE" envDefault:"100"`
	SyncLogPath    string        `env:"SYNC_LOG_PATH" envDefault:"sync_logs.txt"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"5s"`

	// Record serialization: msgpack (default), cbor, or json.
	Codec string `env:"CACHE_CODEC" envDefault:"msgpack"`

	// Document store (app "rivas").
	MongoURI        string `env:"MONGO_URI"`
	MongoDatabase   string `env:"MONGO_DB" envDefault:"rivas_db"`
	MongoCollection string `env:"MONGO_COLLECTION" envDefault:"users"`

	// Relational store (app "ecommerce").
	MySQLDSN string `env:"MYSQL_DSN"`

	// Distributed SQL store (app "fast-store").
	YugabyteURL string `env:"YUGABYTE_URL"`

	// Wide-column store (app "scyllaapp").
	ScyllaHosts      []string `env:"SCYLLA_HOSTS" envSeparator:","`
	ScyllaKeyspace   string   `env:"SCYLLA_KEYSPACE" envDefault:"identity"`
	ScyllaDatacenter string   `env:"SCYLLA_DATACENTER"`

	// Key-value store (app "aerostore").
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Load parses the environment and resolves the rotation timezone.
func Load() (Config, *time.Location, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, nil, fmt.Errorf("parse env: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return cfg, loc, nil
}
