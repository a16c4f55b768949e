// Package config loads livyctl's layered configuration.
package config

import "time"

// Config is the fully resolved configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Health     HealthConfig     `mapstructure:"health"`
	Debug      DebugConfig      `mapstructure:"debug"`
	Livy       LivyConfig       `mapstructure:"livy"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Deploy     DeployConfig     `mapstructure:"deploy"`
	Store      StoreConfig      `mapstructure:"store"`
	Azure      AzureConfig      `mapstructure:"azure"`
}

// ServerConfig configures the Livy emulator server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// StepDelay is how long an emulated batch stays in each state.
	StepDelay time.Duration `mapstructure:"step_delay"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Prefix  string `mapstructure:"prefix"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// LivyConfig tunes the REST client.
type LivyConfig struct {
	RetriesMax      int           `mapstructure:"retries_max"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	LogPollInterval time.Duration `mapstructure:"log_poll_interval"`
	LogChunkSize    int           `mapstructure:"log_chunk_size"`
}

type SubmissionConfig struct {
	BusyRetryDelay time.Duration `mapstructure:"busy_retry_delay"`
}

// DeployConfig selects and configures the artifact store.
type DeployConfig struct {
	// Backend is s3, azblob, ftp or file. Empty falls back to the
	// cluster's storage URI.
	Backend  string        `mapstructure:"backend"`
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
	Folder   string        `mapstructure:"folder"`

	S3     S3Config     `mapstructure:"s3"`
	AzBlob AzBlobConfig `mapstructure:"azblob"`
	FTP    FTPConfig    `mapstructure:"ftp"`
	File   FileConfig   `mapstructure:"file"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

type AzBlobConfig struct {
	Account    string `mapstructure:"account"`
	ServiceURL string `mapstructure:"service_url"`
	Container  string `mapstructure:"container"`
	AccountKey string `mapstructure:"account_key"`
}

type FTPConfig struct {
	Addr     string        `mapstructure:"addr"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	BaseDir  string        `mapstructure:"base_dir"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type FileConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// StoreConfig selects the property store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type AzureConfig struct {
	TenantID        string   `mapstructure:"tenant_id"`
	SubscriptionIDs []string `mapstructure:"subscription_ids"`
}
