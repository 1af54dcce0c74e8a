package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CaptureConfig controls the packet capture source.
type CaptureConfig struct {
	Interface   string `yaml:"interface"`
	SnapshotLen int32  `yaml:"snapshot_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	BPF         string `yaml:"bpf"`
	PcapFile    string `yaml:"pcap_file"`
}

// NATSConfig holds the packet/alert transport settings.
type NATSConfig struct {
	URL           string `yaml:"url"`
	PacketSubject string `yaml:"packet_subject"`
	AlertSubject  string `yaml:"alert_subject"`
}

// AggregatorConfig controls the flow aggregation worker.
type AggregatorConfig struct {
	QueueSize    int    `yaml:"queue_size"`
	MaxRetries   uint64 `yaml:"max_retries"`
	RetryBackoff string `yaml:"retry_backoff"`
	MaxWindowAge string `yaml:"max_window_age"`
}

// ClickHouseConfig holds connection details for the durable store.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RulesConfig controls the signature rule engine.
type RulesConfig struct {
	Path           string `yaml:"path"`
	ReloadInterval string `yaml:"reload_interval"`
}

// AnomalyConfig controls the anomaly scoring pipeline.
type AnomalyConfig struct {
	ModelPath string `yaml:"model_path"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
}

// ProviderConfig is the shared shape for a single intelligence provider.
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// EnrichConfig controls the threat-enrichment coordinator.
type EnrichConfig struct {
	ProviderTimeout string  `yaml:"provider_timeout"`
	OverallTimeout  string  `yaml:"overall_timeout"`
	CacheSize       int     `yaml:"cache_size"`
	RatePerSecond   float64 `yaml:"rate_per_second"`

	AbuseIPDB  ProviderConfig `yaml:"abuseipdb"`
	OTX        ProviderConfig `yaml:"otx"`
	MISP       ProviderConfig `yaml:"misp"`
	GeoIP      ProviderConfig `yaml:"geoip"`
	Whois      ProviderConfig `yaml:"whois"`
	VirusTotal ProviderConfig `yaml:"virustotal"`
}

// DedupConfig controls alert cooldown.
type DedupConfig struct {
	Backend   string `yaml:"backend"` // "memory" or "redis"
	RedisAddr string `yaml:"redis_addr"`
}

// AIConfig holds settings for the optional AI analysis of alert digests.
type AIConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// SMTPConfig holds settings for the email notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// AlerterConfig controls the periodic alert digest.
type AlerterConfig struct {
	Enabled       bool     `yaml:"enabled"`
	CheckInterval string   `yaml:"check_interval"`
	AIAnalysis    AIConfig `yaml:"ai_analysis"`
}

// APIConfig holds settings for the HTTP query API.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture     CaptureConfig    `yaml:"capture"`
	NATS        NATSConfig       `yaml:"nats"`
	Aggregator  AggregatorConfig `yaml:"aggregator"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Rules       RulesConfig      `yaml:"rules"`
	Anomaly     AnomalyConfig    `yaml:"anomaly"`
	Enrich      EnrichConfig     `yaml:"enrich"`
	Dedup       DedupConfig      `yaml:"dedup"`
	Alerter     AlerterConfig    `yaml:"alerter"`
	SMTP        SMTPConfig       `yaml:"smtp"`
	API         APIConfig        `yaml:"api"`
	MetricsAddr string           `yaml:"metrics_addr"`
}

// Load reads the configuration from a YAML file and returns a Config struct
// with defaults applied.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// SetDefaults fills in defaults for fields left empty in the file.
func (c *Config) SetDefaults() {
	if c.Capture.SnapshotLen == 0 {
		c.Capture.SnapshotLen = 1600
	}
	if c.NATS.PacketSubject == "" {
		c.NATS.PacketSubject = "flowsentry.packets.raw"
	}
	if c.NATS.AlertSubject == "" {
		c.NATS.AlertSubject = "flowsentry.alerts"
	}
	if c.Aggregator.QueueSize == 0 {
		c.Aggregator.QueueSize = 10000
	}
	if c.Aggregator.MaxRetries == 0 {
		c.Aggregator.MaxRetries = 5
	}
	if c.Aggregator.RetryBackoff == "" {
		c.Aggregator.RetryBackoff = "50ms"
	}
	if c.Aggregator.MaxWindowAge == "" {
		c.Aggregator.MaxWindowAge = "10m"
	}
	if c.Rules.Path == "" {
		c.Rules.Path = "configs/rules.yaml"
	}
	if c.Rules.ReloadInterval == "" {
		c.Rules.ReloadInterval = "30s"
	}
	if c.Anomaly.Workers == 0 {
		c.Anomaly.Workers = 2
	}
	if c.Anomaly.QueueSize == 0 {
		c.Anomaly.QueueSize = 4096
	}
	if c.Enrich.ProviderTimeout == "" {
		c.Enrich.ProviderTimeout = "3s"
	}
	if c.Enrich.OverallTimeout == "" {
		c.Enrich.OverallTimeout = "5s"
	}
	if c.Enrich.CacheSize == 0 {
		c.Enrich.CacheSize = 4096
	}
	if c.Enrich.RatePerSecond == 0 {
		c.Enrich.RatePerSecond = 5
	}
	if c.Dedup.Backend == "" {
		c.Dedup.Backend = "memory"
	}
	if c.Alerter.CheckInterval == "" {
		c.Alerter.CheckInterval = "5m"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9100"
	}
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"aggregator.retry_backoff":  c.Aggregator.RetryBackoff,
		"aggregator.max_window_age": c.Aggregator.MaxWindowAge,
		"rules.reload_interval":     c.Rules.ReloadInterval,
		"enrich.provider_timeout":   c.Enrich.ProviderTimeout,
		"enrich.overall_timeout":    c.Enrich.OverallTimeout,
		"alerter.check_interval":    c.Alerter.CheckInterval,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Aggregator.QueueSize < 1 {
		return fmt.Errorf("aggregator.queue_size must be at least 1")
	}
	if c.Anomaly.Workers < 1 {
		return fmt.Errorf("anomaly.workers must be at least 1")
	}
	if c.Dedup.Backend != "memory" && c.Dedup.Backend != "redis" {
		return fmt.Errorf("dedup.backend must be \"memory\" or \"redis\"")
	}
	if c.Dedup.Backend == "redis" && c.Dedup.RedisAddr == "" {
		return fmt.Errorf("dedup.redis_addr is required for the redis backend")
	}
	return nil
}

// Duration parses a duration field that was already validated.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
