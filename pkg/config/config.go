// Package config assembles SDK configuration from three layers with fixed
// precedence: environment variables, then an optional YAML profile for
// fields the environment left unset, then built-in defaults.
package config

import "os"

// Config holds SDK configuration.
type Config struct {
	// LedgerDriver selects the checkpoint ledger backend: "postgres",
	// "sqlite", or "memory".
	LedgerDriver string
	LedgerDSN    string

	// StoreKind selects the blob store backend: "mem", "fs", "s3", "gcs",
	// or "http".
	StoreKind  string
	StoreDir   string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	GCSBucket  string

	// GatewayURL and GatewayAPIKey configure the HTTP blob gateway client.
	GatewayURL    string
	GatewayAPIKey string

	// RedisAddr enables the redis envelope index when set.
	RedisAddr string

	KeystorePath string
	Collection   string

	// OTLPEndpoint enables telemetry export when set.
	OTLPEndpoint string
	LogLevel     string
}

// FromEnv reads configuration from environment variables only. Fields with
// no corresponding variable stay empty so a profile can fill them.
func FromEnv() *Config {
	return &Config{
		LedgerDriver:  os.Getenv("MINDSTATE_LEDGER_DRIVER"),
		LedgerDSN:     os.Getenv("MINDSTATE_LEDGER_DSN"),
		StoreKind:     os.Getenv("MINDSTATE_STORAGE_TYPE"),
		StoreDir:      os.Getenv("MINDSTATE_DATA_DIR"),
		S3Bucket:      os.Getenv("MINDSTATE_S3_BUCKET"),
		S3Region:      os.Getenv("MINDSTATE_S3_REGION"),
		S3Endpoint:    os.Getenv("MINDSTATE_S3_ENDPOINT"),
		GCSBucket:     os.Getenv("MINDSTATE_GCS_BUCKET"),
		GatewayURL:    os.Getenv("MINDSTATE_GATEWAY_URL"),
		GatewayAPIKey: os.Getenv("MINDSTATE_GATEWAY_TOKEN"),
		RedisAddr:     os.Getenv("MINDSTATE_REDIS_ADDR"),
		KeystorePath:  os.Getenv("MINDSTATE_KEYSTORE_PATH"),
		Collection:    os.Getenv("MINDSTATE_COLLECTION"),
		OTLPEndpoint:  os.Getenv("MINDSTATE_OTLP_ENDPOINT"),
		LogLevel:      os.Getenv("MINDSTATE_LOG_LEVEL"),
	}
}

// ApplyDefaults fills every still-unset field with its built-in default.
// Backends that are off by default (S3, GCS, gateway, redis, telemetry)
// stay empty.
func (c *Config) ApplyDefaults() {
	if c.LedgerDriver == "" {
		c.LedgerDriver = "sqlite"
	}
	if c.LedgerDSN == "" {
		c.LedgerDSN = "mindstate.db"
	}
	if c.StoreKind == "" {
		c.StoreKind = "fs"
	}
	if c.StoreDir == "" {
		c.StoreDir = "data"
	}
	if c.S3Region == "" {
		c.S3Region = os.Getenv("AWS_REGION")
	}
	if c.KeystorePath == "" {
		c.KeystorePath = "data/keystore.json"
	}
	if c.Collection == "" {
		c.Collection = "default"
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
}

// Load loads configuration from environment variables with defaults applied.
func Load() *Config {
	c := FromEnv()
	c.ApplyDefaults()
	return c
}

// LoadWithProfile loads configuration with a YAML profile between the
// environment and the defaults: environment wins, the profile fills what the
// environment left unset, defaults fill the rest.
func LoadWithProfile(path string) (*Config, error) {
	c := FromEnv()
	p, err := LoadProfile(path)
	if err != nil {
		return nil, err
	}
	c.Merge(p)
	c.ApplyDefaults()
	return c, nil
}
