// Package awsconfig builds the shared aws.Config used by every AWS client.
package awsconfig

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/versiongc/versiongc/internal/config"
)

// Load resolves region and credentials. Static keys are used when both are
// set; otherwise the default credential chain applies (environment, shared
// config, container or instance role). A non-empty endpoint is applied to
// every service, which is how LocalStack-style test stacks are reached.
func Load(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awscfg.LoadOptions) error{}

	if cfg.Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.Region))
	} else {
		opts = append(opts, awscfg.WithRegion("us-east-1"))
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("awsconfig: load: %w", err)
	}

	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return awsCfg, nil
}
