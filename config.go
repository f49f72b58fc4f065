package runes

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by the client
const (
	// EnvMasterToken, when set, fixes the master token for the process
	// lifetime; SetToken calls are logged and ignored.
	EnvMasterToken = "RUNES_CLIENT_TOKEN"
	// EnvAPIBaseURL overrides the hosted service base URL
	EnvAPIBaseURL = "RUNES_CLIENT_API_BASE_URL"
	// EnvStorageBucket overrides the public storage bucket prefix
	EnvStorageBucket = "RUNES_CLIENT_STORAGE_BUCKET"
)

// Production defaults
const (
	DefaultAPIBaseURL       = "https://signalsandsorceryapi.com"
	DefaultStorageBucketURL = "https://storage.googleapis.com/byoc-file-transfer/"
	DefaultConnectionType   = "compute"

	DefaultHeartbeatInterval = 2 * time.Second
	DefaultPollInterval      = 2 * time.Second
)

// Config holds the client's service endpoints and loop intervals
type Config struct {
	APIBaseURL        string        `yaml:"api_base_url"`
	StorageBucketURL  string        `yaml:"storage_bucket_url"`
	ConnectionType    string        `yaml:"connection_type"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns the production configuration, honoring environment
// overrides for the base URL and storage bucket.
func DefaultConfig() Config {
	cfg := Config{
		APIBaseURL:        DefaultAPIBaseURL,
		StorageBucketURL:  DefaultStorageBucketURL,
		ConnectionType:    DefaultConnectionType,
		HeartbeatInterval: DefaultHeartbeatInterval,
		PollInterval:      DefaultPollInterval,
	}
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv(EnvStorageBucket); v != "" {
		cfg.StorageBucketURL = v
	}
	return cfg
}

// LoadConfig reads a YAML config file over the defaults. Fields absent from
// the file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return cfg, nil
}
