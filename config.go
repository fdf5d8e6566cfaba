package tinkv

import "go.uber.org/zap"

type ConfOption func(*Config)

// Config is the configuration for a Store instance.
type Config struct {
	MaxKeySize          uint64
	MaxValueSize        uint64
	MaxFileSize         uint64
	SyncWrites          bool
	CompactionThreshold uint64
	CompressData        bool
	Logger              *zap.SugaredLogger
}

const (
	// DefaultMaxKeySize is the default maximum key length in bytes.
	DefaultMaxKeySize = 1024
	// DefaultMaxValueSize is the default maximum value length in bytes.
	DefaultMaxValueSize = 64 * 1024
	// DefaultMaxDatafileSize is the default maximum size of a data file.
	DefaultMaxDatafileSize = 2 * 1024 * 1024 * 1024
	// DefaultCompactionThreshold is the default amount of stale bytes
	// that triggers an automatic compaction.
	DefaultCompactionThreshold = 2 * 1024 * 1024 * 1024
)

// MaxKeySize sets the maximum key length.
func MaxKeySize(size uint64) ConfOption {
	return func(c *Config) {
		c.MaxKeySize = size
	}
}

// MaxValueSize sets the maximum value length.
func MaxValueSize(size uint64) ConfOption {
	return func(c *Config) {
		c.MaxValueSize = size
	}
}

// MaxDatafileSize sets the rotation threshold for data files.
func MaxDatafileSize(size uint64) ConfOption {
	return func(c *Config) {
		c.MaxFileSize = size
	}
}

// SyncWrites sets whether every Set/Remove fsyncs before returning.
func SyncWrites(sync bool) ConfOption {
	return func(c *Config) {
		c.SyncWrites = sync
	}
}

// CompactionThreshold sets the stale-byte count that triggers an
// automatic compaction after Set/Remove.
func CompactionThreshold(size uint64) ConfOption {
	return func(c *Config) {
		c.CompactionThreshold = size
	}
}

// CompressData sets whether values are transparently compressed on disk.
func CompressData(compress bool) ConfOption {
	return func(c *Config) {
		c.CompressData = compress
	}
}

// Logger sets the logger used by the store.
func Logger(logger *zap.SugaredLogger) ConfOption {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxKeySize:          DefaultMaxKeySize,
		MaxValueSize:        DefaultMaxValueSize,
		MaxFileSize:         DefaultMaxDatafileSize,
		SyncWrites:          false,
		CompactionThreshold: DefaultCompactionThreshold,
		CompressData:        false,
		Logger:              zap.NewNop().Sugar(),
	}
}
