package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults applied by ApplyDefaults when a field is left zero.
const (
	DefaultUploadConcurrency   = 4
	DefaultQuarantineContainer = "pv-quarantine"
	DefaultShardCapacity       = 1 << 30 // 1 GiB
	DefaultMaxBatchSize        = 100
	DefaultRetryMaxAttempts    = 5
	DefaultRetryMaxBackoff     = 20 // seconds
	DefaultPartSize            = 8 << 20
	DefaultMaxResumes          = 3
)

// Config represents the main configuration for pv.
type Config struct {
	RootAlbumID string           `toml:"root_album_id"`
	BaseDir     string           `toml:"base_dir"`
	LogDir      string           `toml:"log_dir"`
	Shards      []ShardConfig    `toml:"shards"`
	Accounts    []AccountConfig  `toml:"accounts"`
	Encryption  EncryptionConfig `toml:"encryption"`
	Filesystem  FilesystemConfig `toml:"filesystem"`
	Backup      BackupConfig     `toml:"backup"`
	Retry       RetryConfig      `toml:"retry"`
}

// ShardConfig represents one metadata shard.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ShardConfig struct {
	ID            string `toml:"id"`
	Type          string `toml:"type"`               // "sqlite", "memory" or "mysql"
	DataDir       string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN           string `toml:"dsn,omitempty"`      // only used for type=mysql
	CapacityBytes int64  `toml:"capacity_bytes"`
}

// AccountConfig represents one external blob account.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type AccountConfig struct {
	ID            string `toml:"id"`
	Type          string `toml:"type"` // "memory", "filesystem" or "s3"
	CapacityBytes int64  `toml:"capacity_bytes"`
	MaxBatchSize  int    `toml:"max_batch_size"`
	Encrypted     bool   `toml:"encrypted"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for encrypted accounts.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "fake"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// FilesystemConfig holds local scanning settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// BackupConfig tunes the backup engine and the sweep.
type BackupConfig struct {
	UploadConcurrency   int    `toml:"upload_concurrency"`
	QuarantineContainer string `toml:"quarantine_container"`
}

// RetryConfig tunes the resilient blob client of remote accounts.
type RetryConfig struct {
	MaxAttempts       int   `toml:"max_attempts"`
	MaxBackoffSeconds int   `toml:"max_backoff_seconds"`
	PartSize          int64 `toml:"part_size"`
	MaxResumes        int   `toml:"max_resumes"`
}

// NewConfig creates a new Config with default paths under baseDir and one
// sqlite shard and one filesystem account.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Shards: []ShardConfig{
			{ID: "local", Type: "sqlite", DataDir: filepath.Join(baseDir, "db"), CapacityBytes: DefaultShardCapacity},
		},
		Accounts: []AccountConfig{
			{ID: "local", Type: "filesystem", FSRoot: filepath.Join(baseDir, "blobs"), CapacityBytes: 100 << 30},
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "pv.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "pv.key"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued tuning fields.
func (c *Config) ApplyDefaults() {
	if c.Backup.UploadConcurrency <= 0 {
		c.Backup.UploadConcurrency = DefaultUploadConcurrency
	}
	if c.Backup.QuarantineContainer == "" {
		c.Backup.QuarantineContainer = DefaultQuarantineContainer
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if c.Retry.MaxBackoffSeconds <= 0 {
		c.Retry.MaxBackoffSeconds = DefaultRetryMaxBackoff
	}
	if c.Retry.PartSize <= 0 {
		c.Retry.PartSize = DefaultPartSize
	}
	if c.Retry.MaxResumes <= 0 {
		c.Retry.MaxResumes = DefaultMaxResumes
	}
	for i := range c.Shards {
		if c.Shards[i].CapacityBytes <= 0 {
			c.Shards[i].CapacityBytes = DefaultShardCapacity
		}
	}
	for i := range c.Accounts {
		if c.Accounts[i].MaxBatchSize <= 0 {
			c.Accounts[i].MaxBatchSize = DefaultMaxBatchSize
		}
	}
}

// Validate checks that shard and account ids are present and unique.
func (c *Config) Validate() error {
	if len(c.Shards) == 0 {
		return fmt.Errorf("no shards configured")
	}
	seen := make(map[string]bool)
	for _, s := range c.Shards {
		if s.ID == "" {
			return fmt.Errorf("shard with type %q has no id", s.Type)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate shard id %q", s.ID)
		}
		seen[s.ID] = true
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}
	seen = make(map[string]bool)
	for _, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("account with type %q has no id", a.Type)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate account id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes cfg to a temporary file next to path and renames it into
// place.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".pv-config-*")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		f.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// Save overwrites the config file at path.
func Save(path string, cfg *Config) error {
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}
