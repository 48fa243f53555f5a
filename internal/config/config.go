package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "10s" style values.
type Duration time.Duration

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Health      HealthConfig      `yaml:"health"`
	Failover    FailoverConfig    `yaml:"failover"`
	Backup      BackupConfig      `yaml:"backup"`
	Replication ReplicationConfig `yaml:"replication"`
	DRTest      DRTestConfig      `yaml:"drtest"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Storage     StorageConfig     `yaml:"storage"`
}

type ServerConfig struct {
	Port     int    `yaml:"port" default:"8080"`
	LogLevel string `yaml:"log_level" default:"info"`
}

type HealthConfig struct {
	Interval  Duration         `yaml:"interval" default:"10s"`
	Timeout   Duration         `yaml:"timeout" default:"5s"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

type EndpointConfig struct {
	Name       string `yaml:"name"`
	Address    string `yaml:"address"`
	HealthPath string `yaml:"health_path" default:"/health"`
	Priority   int    `yaml:"priority"`
}

type FailoverConfig struct {
	FailureThreshold int `yaml:"failure_threshold" default:"3"`
}

type BackupConfig struct {
	Strategy    string `yaml:"strategy" default:"full"`
	Source      string `yaml:"source"`
	Destination string `yaml:"destination" default:"backups"`
}

type ReplicationConfig struct {
	PollInterval Duration       `yaml:"poll_interval" default:"1s"`
	Regions      []RegionConfig `yaml:"regions"`
}

type RegionConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Primary bool   `yaml:"primary"`
}

type DRTestConfig struct {
	RTO Duration `yaml:"rto" default:"15m"`
	RPO Duration `yaml:"rpo" default:"5m"`
}

type CatalogConfig struct {
	DSN string `yaml:"dsn"`
}

type StorageConfig struct {
	Type     string `yaml:"type" default:"local"` // "local" or "s3"
	BasePath string `yaml:"base_path" default:"/var/lib/failsafe"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region" default:"us-east-1"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
}

// Default returns the baseline configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
		},
		Health: HealthConfig{
			Interval: Duration(10 * time.Second),
			Timeout:  Duration(5 * time.Second),
		},
		Failover: FailoverConfig{
			FailureThreshold: 3,
		},
		Backup: BackupConfig{
			Strategy:    "full",
			Destination: "backups",
		},
		Replication: ReplicationConfig{
			PollInterval: Duration(time.Second),
		},
		DRTest: DRTestConfig{
			RTO: Duration(15 * time.Minute),
			RPO: Duration(5 * time.Minute),
		},
		Storage: StorageConfig{
			Type:     "local",
			BasePath: "/var/lib/failsafe",
			Region:   "us-east-1",
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	LoadFromEnv(cfg)

	return cfg, nil
}
