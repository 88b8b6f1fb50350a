package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Catalog struct {
		URI       string `yaml:"uri"`
		Warehouse string `yaml:"warehouse"`
	} `yaml:"catalog"`

	S3 struct {
		Endpoint  string `yaml:"endpoint"`
		Region    string `yaml:"region"`
		Bucket    string `yaml:"bucket"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		PathStyle bool   `yaml:"path_style"`
	} `yaml:"s3"`

	Ingest struct {
		DefaultNamespace string        `yaml:"default_namespace"`
		RequestTimeout   time.Duration `yaml:"request_timeout"`
		CommitRetries    int           `yaml:"commit_retries"`
		CommitBackoff    time.Duration `yaml:"commit_backoff"`
		WriteRetries     int           `yaml:"write_retries"`
	} `yaml:"ingest"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Ingest.DefaultNamespace == "" {
		c.Ingest.DefaultNamespace = "default"
	}
	if c.Ingest.RequestTimeout == 0 {
		c.Ingest.RequestTimeout = 30 * time.Second
	}
	if c.Ingest.CommitRetries == 0 {
		c.Ingest.CommitRetries = 5
	}
	if c.Ingest.CommitBackoff == 0 {
		c.Ingest.CommitBackoff = 50 * time.Millisecond
	}
	if c.Ingest.WriteRetries == 0 {
		c.Ingest.WriteRetries = 2
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
}

func (c *Config) validate() error {
	if c.Catalog.URI == "" {
		return fmt.Errorf("catalog.uri is required")
	}
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	return nil
}
