package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"

	"github.com/versiongc/versiongc/internal/awsconfig"
	"github.com/versiongc/versiongc/internal/catalog"
	"github.com/versiongc/versiongc/internal/cleaner"
	"github.com/versiongc/versiongc/internal/config"
	"github.com/versiongc/versiongc/internal/lease"
	"github.com/versiongc/versiongc/internal/logging"
	"github.com/versiongc/versiongc/internal/metrics"
	"github.com/versiongc/versiongc/internal/objectstore"
	s3store "github.com/versiongc/versiongc/internal/objectstore/s3"
	"github.com/versiongc/versiongc/internal/planner"
	"github.com/versiongc/versiongc/internal/queue"
	"github.com/versiongc/versiongc/internal/queue/kafka"
	sqsqueue "github.com/versiongc/versiongc/internal/queue/sqs"
	"github.com/versiongc/versiongc/internal/report"
	"github.com/versiongc/versiongc/internal/tracking"
)

// loadConfig reads the configuration for role from --config, then
// $VERSIONGC_CONFIG, then the environment alone.
func loadConfig(role config.Role) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath, role)
	}
	return config.Load(role)
}

// setupLogger configures the global logger, applying the --log-* overrides.
func setupLogger(cfg *config.Config) *logging.Logger {
	level, format := cfg.Observability.LogLevel, cfg.Observability.LogFormat
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	return logging.Configure(level, format)
}

// deps lazily builds the AWS clients and adapters a job needs. Close
// releases everything that was opened.
type deps struct {
	cfg    *config.Config
	logger *logging.Logger
	aws    aws.Config

	ddb         *dynamodb.Client
	reportStore objectstore.Store
	// depth is set when the opened queue backend can report its backlog.
	depth metrics.DepthProvider

	closers []func() error
}

func newDeps(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*deps, error) {
	awsCfg, err := awsconfig.Load(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	return &deps{cfg: cfg, logger: logger, aws: awsCfg}, nil
}

func (d *deps) dynamo() *dynamodb.Client {
	if d.ddb == nil {
		d.ddb = dynamodb.NewFromConfig(d.aws)
	}
	return d.ddb
}

// catalog resolves the catalog id through STS when it is not configured.
func (d *deps) catalog(ctx context.Context) (*catalog.Catalog, error) {
	catalogID, err := catalog.ResolveCatalogID(ctx, sts.NewFromConfig(d.aws), d.cfg.Catalog.CatalogID)
	if err != nil {
		return nil, err
	}
	cat := catalog.New(glue.NewFromConfig(d.aws), catalog.Options{
		CatalogID: catalogID,
		Logger:    d.logger,
		Metrics:   metrics.NewCatalogMetrics(),
	})
	d.logger.Infof("using glue catalog", map[string]any{"catalogId": cat.CatalogID(), "region": d.aws.Region})
	return cat, nil
}

func trackingTable(c config.TrackingTableConfig) tracking.Table {
	return tracking.Table{Name: c.TableName, HashKey: c.HashKey, RangeKey: c.RangeKey}
}

func (d *deps) tracking() *tracking.Store {
	return tracking.New(d.dynamo(), trackingTable(d.cfg.Planner.Tracking), trackingTable(d.cfg.Cleaner.Tracking))
}

func (d *deps) sqsQueue() (*sqsqueue.Queue, error) {
	c := d.cfg.Queue.SQS
	q, err := sqsqueue.New(awssqs.NewFromConfig(d.aws), sqsqueue.Config{
		QueueURL:                 c.QueueURL,
		WaitTimeSeconds:          c.WaitTimeSeconds,
		MaxMessages:              c.MaxMessages,
		VisibilityTimeoutSeconds: c.VisibilityTimeoutSeconds,
	})
	if err != nil {
		return nil, err
	}
	d.depth = q
	return q, nil
}

func (d *deps) kafkaConfig() kafka.Config {
	k := d.cfg.Queue.Kafka
	return kafka.Config{
		Brokers:           k.Brokers,
		Topic:             k.Topic,
		ConsumerGroup:     k.ConsumerGroup,
		Partitions:        k.Partitions,
		ReplicationFactor: k.ReplicationFactor,
	}
}

// sender opens the configured queue backend for publishing. The Kafka topic
// is created when missing.
func (d *deps) sender(ctx context.Context) (queue.Sender, error) {
	var s queue.Sender
	switch d.cfg.Queue.Backend {
	case config.QueueBackendKafka:
		p, err := kafka.NewProducer(ctx, d.kafkaConfig())
		if err != nil {
			return nil, err
		}
		s = p
	default:
		q, err := d.sqsQueue()
		if err != nil {
			return nil, err
		}
		s = q
	}
	d.closers = append(d.closers, s.Close)
	return s, nil
}

// receiver opens the configured queue backend for consuming.
func (d *deps) receiver() (queue.Receiver, error) {
	var r queue.Receiver
	switch d.cfg.Queue.Backend {
	case config.QueueBackendKafka:
		c, err := kafka.NewConsumer(d.kafkaConfig())
		if err != nil {
			return nil, err
		}
		r = c
	default:
		q, err := d.sqsQueue()
		if err != nil {
			return nil, err
		}
		r = q
	}
	d.closers = append(d.closers, r.Close)
	return r, nil
}

// reports returns the failure report writer, or nil when no bucket is set.
func (d *deps) reports() (*report.Writer, error) {
	rc := d.cfg.Report
	if rc.Bucket == "" {
		return nil, nil
	}
	store, err := s3store.New(d.aws, s3store.Config{Bucket: rc.Bucket, UsePathStyle: rc.UsePathStyle})
	if err != nil {
		return nil, err
	}
	d.reportStore = objectstore.NewInstrumentedStore(store, metrics.NewObjectStoreMetrics())
	d.closers = append(d.closers, d.reportStore.Close)
	return report.NewWriter(d.reportStore, report.Options{Prefix: rc.Prefix, Format: rc.Format})
}

func (d *deps) planner(ctx context.Context) (*planner.Planner, error) {
	cat, err := d.catalog(ctx)
	if err != nil {
		return nil, err
	}
	sender, err := d.sender(ctx)
	if err != nil {
		return nil, err
	}
	return planner.New(cat, sender, d.tracking(), planner.Options{
		Databases: d.cfg.Planner.DatabaseList(),
		Logger:    d.logger,
		Metrics:   metrics.NewPlannerMetrics(),
	}), nil
}

func (d *deps) cleaner(ctx context.Context) (*cleaner.Cleaner, error) {
	cat, err := d.catalog(ctx)
	if err != nil {
		return nil, err
	}

	opts := cleaner.Options{
		VersionsToRetain: d.cfg.Cleaner.VersionsToRetain,
		Logger:           d.logger,
		Tracker:          d.tracking(),
		Metrics:          metrics.NewCleanerMetrics(),
	}
	if d.cfg.Lease.Enabled {
		m := lease.NewManager(d.dynamo(), lease.Options{
			TableName: d.cfg.Lease.TableName,
			OwnerID:   ownerID(),
			TTL:       time.Duration(d.cfg.Lease.TTLMs) * time.Millisecond,
		})
		d.closers = append(d.closers, func() error { return m.ReleaseAll(context.Background()) })
		opts.Lease = m
	}
	w, err := d.reports()
	if err != nil {
		return nil, err
	}
	if w != nil {
		opts.Reports = w
	}
	return cleaner.New(cat, opts)
}

// Close releases opened clients in reverse order.
func (d *deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// fail logs err and returns it so RunE can report a non-zero exit.
func fail(logger *logging.Logger, msg string, err error) error {
	logger.Errorf(msg, map[string]any{"error": err.Error()})
	return fmt.Errorf("%s: %w", msg, err)
}

// ownerID names this process in leases: the hostname plus a random suffix,
// so two processes on one host never share a lease.
func ownerID() string {
	h, err := os.Hostname()
	if err != nil {
		h = "versiongcd"
	}
	return h + "-" + uuid.NewString()[:8]
}
