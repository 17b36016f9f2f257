package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for lpcodec
type Config struct {
	Log    LogConfig
	Input  InputConfig
	Output OutputConfig
	Server ServerConfig
	Buffer BufferConfig
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

type InputConfig struct {
	Compression  string // auto, none, gzip, zstd
	Precision    string // ns, us, ms, s
	SanitizeUTF8 bool   // Replace invalid UTF-8 in keys and string values
	Strict       bool   // Fail on the first malformed line instead of dropping it
	MaxSize      int64  // Maximum decompressed input size in bytes (0 = unlimited)
}

type OutputConfig struct {
	Compression  string // none, gzip, zstd
	Precision    string // ns, us, ms, s
	Dir          string // serve: directory flushed batches are written to
	Format       string // serve: parquet or msgpack
	ParquetCodec string // snappy, gzip, zstd, none

	// serve: consecutive write failures before the output is considered
	// down, and how long it stays down before being probed again
	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxPayloadSize  int64 // Maximum request body in bytes, as sent
}

type BufferConfig struct {
	MaxPoints     int
	FlushInterval time.Duration
	Workers       int
}

// Load loads configuration from environment and config file
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("LPCODEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("lpcodec")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/lpcodec/")
	v.AddConfigPath("$HOME/.lpcodec/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	return fromViper(v)
}

// LoadFile loads configuration from an explicit path. Environment
// variables still take precedence over the file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("LPCODEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	maxSize, err := ParseSize(v.GetString("input.max_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid input.max_size: %w", err)
	}

	maxPayloadSize, err := ParseSize(v.GetString("server.max_payload_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid server.max_payload_size: %w", err)
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Input: InputConfig{
			Compression:  v.GetString("input.compression"),
			Precision:    v.GetString("input.precision"),
			SanitizeUTF8: v.GetBool("input.sanitize_utf8"),
			Strict:       v.GetBool("input.strict"),
			MaxSize:      maxSize,
		},
		Output: OutputConfig{
			Compression:  v.GetString("output.compression"),
			Precision:    v.GetString("output.precision"),
			Dir:          v.GetString("output.dir"),
			Format:       v.GetString("output.format"),
			ParquetCodec: v.GetString("output.parquet_codec"),

			BreakerMaxFailures: v.GetInt("output.breaker_max_failures"),
			BreakerTimeout:     v.GetDuration("output.breaker_timeout"),
		},
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			MaxPayloadSize:  maxPayloadSize,
		},
		Buffer: BufferConfig{
			MaxPoints:     v.GetInt("buffer.max_points"),
			FlushInterval: v.GetDuration("buffer.flush_interval"),
			Workers:       v.GetInt("buffer.workers"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Input defaults - sniff compression, nanosecond timestamps
	v.SetDefault("input.compression", "auto")
	v.SetDefault("input.precision", "ns")
	v.SetDefault("input.sanitize_utf8", false)
	v.SetDefault("input.strict", false)
	// Decompressed input cap, "0" disables it
	v.SetDefault("input.max_size", "1GB")

	// Output defaults
	v.SetDefault("output.compression", "none")
	v.SetDefault("output.precision", "ns")
	v.SetDefault("output.dir", "./data")
	v.SetDefault("output.format", "parquet")
	v.SetDefault("output.parquet_codec", "snappy")
	v.SetDefault("output.breaker_max_failures", 5)
	v.SetDefault("output.breaker_timeout", "30s")

	// Server defaults - the InfluxDB port so existing clients work unchanged
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_payload_size", "100MB")

	// Buffer defaults
	v.SetDefault("buffer.max_points", 50000)
	v.SetDefault("buffer.flush_interval", "5s")
	v.SetDefault("buffer.workers", 4)
}

// ParseSize parses a human-readable size string (e.g., "1GB", "500MB", "100KB") to bytes.
// Supports: B, KB, MB, GB (case-insensitive).
// Returns the size in bytes or an error if the format is invalid.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	// Longer suffixes first so "MB" is not read as "M" + "B"
	for _, unit := range units {
		if !strings.HasSuffix(sizeStr, unit.suffix) {
			continue
		}
		numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))

		var num float64
		var trailing string
		n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
		if n == 0 {
			return 0, fmt.Errorf("invalid size number: %s", numStr)
		}
		if trailing != "" {
			// e.g. the "T" in "1TB"
			return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
		}
		if num < 0 {
			return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
		}
		return int64(num * float64(unit.multiplier)), nil
	}

	// Plain number of bytes
	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
