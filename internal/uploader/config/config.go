package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
)

// Config holds uploader configuration
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Upload    UploadConfig    `json:"upload" yaml:"upload"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	IDGen     IDGenConfig     `json:"idgen" yaml:"idgen"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Sink      SinkConfig      `json:"sink" yaml:"sink"`
	Logger    logger.Config   `json:"logger" yaml:"logger"`
}

// ServerConfig is the roster API listener.
type ServerConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	BodyLimit int64  `json:"body_limit" yaml:"body_limit"`
}

type UploadConfig struct {
	Action          string            `json:"action" yaml:"action"`
	FieldName       string            `json:"field_name" yaml:"field_name"`
	Data            map[string]string `json:"data" yaml:"data"`
	Headers         map[string]string `json:"headers" yaml:"headers"`
	WithCredentials bool              `json:"with_credentials" yaml:"with_credentials"`
	Accept          []string          `json:"accept" yaml:"accept"`
	MaxFileSize     int64             `json:"max_file_size" yaml:"max_file_size"`
	MaxConcurrent   int               `json:"max_concurrent" yaml:"max_concurrent"`   // 0 = unbounded
	AbortOnRemove   bool              `json:"abort_on_remove" yaml:"abort_on_remove"` // cancel transfer when its record is removed
	InsertPosition  string            `json:"insert_position" yaml:"insert_position"` // "head", "tail"
	TimeoutMS       int               `json:"timeout_ms" yaml:"timeout_ms"`
}

type TransportConfig struct {
	Kind    string        `json:"kind" yaml:"kind"` // "http", "s3"
	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
	S3      S3Config      `json:"s3" yaml:"s3"`
}

// BreakerConfig guards one upload host or bucket. A zero FailureThreshold
// disables the breaker, so every file reaches the transport.
type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
	OpenTimeoutMS    int `json:"open_timeout_ms" yaml:"open_timeout_ms"`
}

type S3Config struct {
	Region         string `json:"region" yaml:"region"`
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	ForcePathStyle bool   `json:"force_path_style" yaml:"force_path_style"`
}

type IDGenConfig struct {
	NodeID int64  `json:"node_id" yaml:"node_id"` // negative = derive from hostname
	Clock  string `json:"clock" yaml:"clock"`     // "system", "redis"
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// SinkConfig is the local multipart receiver.
type SinkConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Dir       string `json:"dir" yaml:"dir"`
	BodyLimit int64  `json:"body_limit" yaml:"body_limit"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8070",
			BodyLimit: 512 * 1024 * 1024, // 512MB
		},
		Upload: UploadConfig{
			Action:         "http://localhost:8071/upload",
			FieldName:      "file",
			MaxFileSize:    2 * 1024 * 1024 * 1024, // 2GB
			InsertPosition: "head",
		},
		Transport: TransportConfig{
			Kind: "http",
			Breaker: BreakerConfig{
				SuccessThreshold: 1,
				OpenTimeoutMS:    10000,
			},
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		IDGen: IDGenConfig{
			NodeID: 1,
			Clock:  "system",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Sink: SinkConfig{
			Addr:      ":8071",
			Dir:       "./uploads",
			BodyLimit: 512 * 1024 * 1024,
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Timeout returns the per-transfer timeout, zero meaning none.
func (c UploadConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// FieldNameOrDefault returns the multipart field name, "file" when unset.
func (c UploadConfig) FieldNameOrDefault() string {
	if c.FieldName == "" {
		return "file"
	}
	return c.FieldName
}

func (c BreakerConfig) Enabled() bool {
	return c.FailureThreshold > 0
}

// OpenTimeout returns the breaker open timeout with a safe default.
func (c BreakerConfig) OpenTimeout() time.Duration {
	if c.OpenTimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.OpenTimeoutMS) * time.Millisecond
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "uploader", "config", env+".yaml")
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		// The logger is configured from this file, so report through the std logger.
		log.Printf("Config file not found or failed to parse, using defaults if file not specified. Path: %s, Error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		return cfg, nil
	}

	return parsedCfg, nil
}
