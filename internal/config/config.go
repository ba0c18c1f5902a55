package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	S3       S3Config       `yaml:"s3"`
	ML       MLConfig       `yaml:"ml"`
	APNS     APNSConfig     `yaml:"apns"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Hardened bool   `yaml:"hardened"` // suppress internal error detail in responses
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// S3Config holds media store configuration
type S3Config struct {
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"` // custom endpoint for S3-compatible stores
	PublicURL string `yaml:"public_url"`
}

// MLConfig holds inference service configuration
type MLConfig struct {
	BaseURL             string        `yaml:"base_url"`
	APIKey              string        `yaml:"api_key"`
	Timeout             time.Duration `yaml:"timeout"`
	BatchTimeout        time.Duration `yaml:"batch_timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
}

// APNSConfig holds push notification configuration
type APNSConfig struct {
	KeyFile    string `yaml:"key_file"` // .p8 auth key
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// AuthConfig holds JWT configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.ML.Timeout == 0 {
		cfg.ML.Timeout = 5 * time.Second
	}
	if cfg.ML.BatchTimeout == 0 {
		cfg.ML.BatchTimeout = 30 * time.Second
	}
	if cfg.ML.ConfidenceThreshold == 0 {
		cfg.ML.ConfidenceThreshold = 0.5
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 168 * time.Hour
	}

	return &cfg, nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
