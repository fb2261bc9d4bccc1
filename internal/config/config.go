// Package config provides configuration loading and validation for versiongc.
// Supports YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/versiongc/versiongc/internal/retention"
)

// Role selects which job a process runs. Environment names shared by both
// jobs (ddb_table_name, hash_key, range_key) apply to the active role only.
type Role string

const (
	RolePlanner Role = "planner"
	RoleCleaner Role = "cleaner"
)

// Queue backends.
const (
	QueueBackendSQS   = "sqs"
	QueueBackendKafka = "kafka"
)

// Report formats.
const (
	ReportFormatParquet = "parquet"
	ReportFormatJSON    = "json"
)

// ConfigPathEnv names the environment variable holding the config file path.
const ConfigPathEnv = "VERSIONGC_CONFIG"

// Config holds all configuration for the planner and cleaner jobs.
type Config struct {
	AWS           AWSConfig           `yaml:"aws"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Planner       PlannerConfig       `yaml:"planner"`
	Cleaner       CleanerConfig       `yaml:"cleaner"`
	Queue         QueueConfig         `yaml:"queue"`
	Lease         LeaseConfig         `yaml:"lease"`
	Report        ReportConfig        `yaml:"report"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type AWSConfig struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

type CatalogConfig struct {
	// CatalogID is the Glue catalog (account) id. Resolved through STS when empty.
	CatalogID string `yaml:"catalogId"`
}

// TrackingTableConfig names a DynamoDB tracking table and its key attributes.
type TrackingTableConfig struct {
	TableName string `yaml:"tableName"`
	HashKey   string `yaml:"hashKey"`
	RangeKey  string `yaml:"rangeKey"`
}

type PlannerConfig struct {
	// DatabaseNames is a Separator-delimited list. Empty means every database.
	DatabaseNames string              `yaml:"databaseNames"`
	Separator     string              `yaml:"separator"`
	Tracking      TrackingTableConfig `yaml:"tracking"`
	// ScheduleIntervalMs is the planner interval for `versiongcd schedule`.
	ScheduleIntervalMs int64 `yaml:"scheduleIntervalMs"`
}

type CleanerConfig struct {
	VersionsToRetain int                 `yaml:"versionsToRetain"`
	Tracking         TrackingTableConfig `yaml:"tracking"`
	// PollIntervalMs is the idle delay between empty receives in daemon mode.
	PollIntervalMs int64 `yaml:"pollIntervalMs"`
}

type QueueConfig struct {
	Backend string      `yaml:"backend"`
	SQS     SQSConfig   `yaml:"sqs"`
	Kafka   KafkaConfig `yaml:"kafka"`
}

type SQSConfig struct {
	QueueURL                 string `yaml:"queueUrl"`
	WaitTimeSeconds          int32  `yaml:"waitTimeSeconds"`
	MaxMessages              int32  `yaml:"maxMessages"`
	VisibilityTimeoutSeconds int32  `yaml:"visibilityTimeoutSeconds"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	ConsumerGroup     string   `yaml:"consumerGroup"`
	Partitions        int32    `yaml:"partitions"`
	ReplicationFactor int16    `yaml:"replicationFactor"`
}

type LeaseConfig struct {
	Enabled   bool   `yaml:"enabled"`
	TableName string `yaml:"tableName"`
	TTLMs     int64  `yaml:"ttlMs"`
}

type ReportConfig struct {
	// Bucket enables failure reports when set.
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Format       string `yaml:"format"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
}

// Default returns a Config matching the stock Lambda deployment.
func Default() *Config {
	return &Config{
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Planner: PlannerConfig{
			Separator: "$",
			Tracking: TrackingTableConfig{
				TableName: "glue_table_version_cleanup_planner",
				HashKey:   "execution_batch_id",
				RangeKey:  "database_name_table_name",
			},
			ScheduleIntervalMs: 86400000, // 24 hours
		},
		Cleaner: CleanerConfig{
			VersionsToRetain: 100,
			Tracking: TrackingTableConfig{
				TableName: "glue_table_version_cleanup_statistics",
				HashKey:   "execution_id",
				RangeKey:  "execution_batch_id",
			},
			PollIntervalMs: 1000,
		},
		Queue: QueueConfig{
			Backend: QueueBackendSQS,
			SQS: SQSConfig{
				WaitTimeSeconds:          20,
				MaxMessages:              10,
				VisibilityTimeoutSeconds: 900,
			},
			Kafka: KafkaConfig{
				Topic:             "glue-table-versions-cleanup",
				ConsumerGroup:     "versiongc-cleaner",
				Partitions:        16,
				ReplicationFactor: 3,
			},
		},
		Lease: LeaseConfig{
			TableName: "glue_table_version_cleanup_leases",
			TTLMs:     900000, // 15 minutes
		},
		Report: ReportConfig{
			Prefix: "version-deletion-failures",
			Format: ReportFormatParquet,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load builds the configuration for role from defaults, the file named by
// VERSIONGC_CONFIG (if any) and the process environment, then validates it.
func Load(role Role) (*Config, error) {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		return LoadFromPath(path, role)
	}
	cfg := Default()
	if err := cfg.ApplyEnv(role, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(role); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath is like Load but reads the YAML file at path.
func LoadFromPath(path string, role Role) (*Config, error) {
	cfg, err := LoadFromPathNoValidate(path, role)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(role); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPathNoValidate reads and overrides the configuration without
// validating it. Used by read-only admin commands.
func LoadFromPathNoValidate(path string, role Role) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(role, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from the environment. The lowercase names used
// by the Lambda functions are honored first, then VERSIONGC_*
// names. Empty values are ignored.
func (c *Config) ApplyEnv(role Role, lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return "", false
		}
		return v, true
	}

	tracking := &c.Cleaner.Tracking
	if role == RolePlanner {
		tracking = &c.Planner.Tracking
	}

	if v, ok := get("region"); ok {
		c.AWS.Region = v
	}
	if v, ok := get("ddb_table_name"); ok {
		tracking.TableName = v
	}
	if v, ok := get("hash_key"); ok {
		tracking.HashKey = v
	}
	if v, ok := get("range_key"); ok {
		tracking.RangeKey = v
	}
	if v, ok := get("number_of_versions_to_retain"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: number_of_versions_to_retain %q: %w", v, err)
		}
		c.Cleaner.VersionsToRetain = n
	}
	if v, ok := get("database_names_string_literal"); ok {
		c.Planner.DatabaseNames = v
	}
	if v, ok := get("separator"); ok {
		c.Planner.Separator = v
	}
	if v, ok := get("sqs_queue_url"); ok {
		c.Queue.SQS.QueueURL = v
	}

	strs := map[string]*string{
		"VERSIONGC_REGION":         &c.AWS.Region,
		"VERSIONGC_AWS_ENDPOINT":   &c.AWS.Endpoint,
		"VERSIONGC_CATALOG_ID":     &c.Catalog.CatalogID,
		"VERSIONGC_DATABASE_NAMES": &c.Planner.DatabaseNames,
		"VERSIONGC_QUEUE_BACKEND":  &c.Queue.Backend,
		"VERSIONGC_SQS_QUEUE_URL":  &c.Queue.SQS.QueueURL,
		"VERSIONGC_KAFKA_TOPIC":    &c.Queue.Kafka.Topic,
		"VERSIONGC_KAFKA_GROUP":    &c.Queue.Kafka.ConsumerGroup,
		"VERSIONGC_LEASE_TABLE":    &c.Lease.TableName,
		"VERSIONGC_REPORT_BUCKET":  &c.Report.Bucket,
		"VERSIONGC_REPORT_PREFIX":  &c.Report.Prefix,
		"VERSIONGC_REPORT_FORMAT":  &c.Report.Format,
		"VERSIONGC_METRICS_ADDR":   &c.Observability.MetricsAddr,
		"VERSIONGC_LOG_LEVEL":      &c.Observability.LogLevel,
		"VERSIONGC_LOG_FORMAT":     &c.Observability.LogFormat,
	}
	for key, dst := range strs {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	if v, ok := get("VERSIONGC_KAFKA_BROKERS"); ok {
		c.Queue.Kafka.Brokers = splitList(v, ",")
	}
	if v, ok := get("VERSIONGC_LEASE_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: VERSIONGC_LEASE_ENABLED %q: %w", v, err)
		}
		c.Lease.Enabled = b
	}
	return nil
}

// Validate checks the fields the given role depends on.
func (c *Config) Validate(role Role) error {
	var errs []error

	if c.AWS.Region == "" {
		errs = append(errs, errors.New("aws.region is required"))
	}

	switch c.Queue.Backend {
	case QueueBackendSQS:
		if c.Queue.SQS.QueueURL == "" {
			errs = append(errs, errors.New("queue.sqs.queueUrl is required for the sqs backend"))
		}
	case QueueBackendKafka:
		if len(c.Queue.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("queue.kafka.brokers is required for the kafka backend"))
		}
		if c.Queue.Kafka.Topic == "" {
			errs = append(errs, errors.New("queue.kafka.topic is required for the kafka backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.backend %q is not one of sqs, kafka", c.Queue.Backend))
	}

	switch role {
	case RolePlanner:
		errs = append(errs, c.Planner.Tracking.validate("planner.tracking")...)
		if c.Planner.DatabaseNames != "" && c.Planner.Separator == "" {
			errs = append(errs, errors.New("planner.separator is required with planner.databaseNames"))
		}
	case RoleCleaner:
		errs = append(errs, c.Cleaner.Tracking.validate("cleaner.tracking")...)
		if c.Cleaner.VersionsToRetain < retention.MinVersionsToRetain {
			errs = append(errs, fmt.Errorf("cleaner.versionsToRetain %d is below the minimum of %d",
				c.Cleaner.VersionsToRetain, retention.MinVersionsToRetain))
		}
		if c.Lease.Enabled && c.Lease.TableName == "" {
			errs = append(errs, errors.New("lease.tableName is required when leases are enabled"))
		}
		if c.Report.Format != ReportFormatParquet && c.Report.Format != ReportFormatJSON {
			errs = append(errs, fmt.Errorf("report.format %q is not one of parquet, json", c.Report.Format))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown role %q", role))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (t TrackingTableConfig) validate(prefix string) []error {
	var errs []error
	if t.TableName == "" {
		errs = append(errs, fmt.Errorf("%s.tableName is required", prefix))
	}
	if t.HashKey == "" {
		errs = append(errs, fmt.Errorf("%s.hashKey is required", prefix))
	}
	if t.RangeKey == "" {
		errs = append(errs, fmt.Errorf("%s.rangeKey is required", prefix))
	}
	return errs
}

// DatabaseList splits DatabaseNames on Separator, dropping blank entries.
func (p PlannerConfig) DatabaseList() []string {
	if p.DatabaseNames == "" {
		return nil
	}
	return splitList(p.DatabaseNames, p.Separator)
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
