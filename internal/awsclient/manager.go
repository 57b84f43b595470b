// Package awsclient builds instrumented AWS SDK clients from one shared
// configuration.
package awsclient

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// Config selects the region, endpoint and credentials of every client.
type Config struct {
	Region string

	// Endpoint overrides the service endpoint (LocalStack, MinIO).
	Endpoint string

	// PathStyle uses path-style S3 addressing instead of virtual hosts.
	PathStyle bool

	// AccessKeyID and SecretAccessKey select static credentials. When empty
	// the default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// RoleARN is assumed through STS when set.
	RoleARN     string
	SessionName string
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	pathStyle, _ := strconv.ParseBool(os.Getenv("S3_PATH_STYLE"))
	return Config{
		Region:          getEnvOrDefault("AWS_REGION", "us-east-1"),
		Endpoint:        os.Getenv("AWS_ENDPOINT_URL"),
		PathStyle:       pathStyle,
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		RoleARN:         os.Getenv("AWS_ROLE_ARN"),
		SessionName:     getEnvOrDefault("AWS_ROLE_SESSION_NAME", "readlater-export"),
	}
}

// Manager owns the base AWS configuration and hands out clients built from it.
type Manager struct {
	cfg     Config
	baseCfg aws.Config
}

// NewManager loads the AWS configuration and installs the OpenTelemetry
// middleware on every client built from it.
// Extra SDK load options are applied after the ones derived from cfg.
func NewManager(ctx context.Context, cfg Config, opts ...func(*config.LoadOptions) error) (*Manager, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	loadOpts = append(loadOpts, opts...)

	baseCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if cfg.RoleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(baseCfg), cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = cfg.SessionName
		})
		baseCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	otelaws.AppendMiddlewares(&baseCfg.APIOptions)

	return &Manager{cfg: cfg, baseCfg: baseCfg}, nil
}

// Region returns the resolved region.
func (m *Manager) Region() string {
	return m.baseCfg.Region
}

// S3 returns an S3 client honouring the endpoint and path-style settings.
func (m *Manager) S3(optFns ...func(*s3.Options)) *s3.Client {
	opts := []func(*s3.Options){func(o *s3.Options) {
		if m.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(m.cfg.Endpoint)
		}
		o.UsePathStyle = m.cfg.PathStyle
	}}
	return s3.NewFromConfig(m.baseCfg.Copy(), append(opts, optFns...)...)
}

// Presigner returns a presign client for s3.
func (m *Manager) Presigner(client *s3.Client) *s3.PresignClient {
	return s3.NewPresignClient(client)
}

// SQS returns an SQS client honouring the endpoint setting.
func (m *Manager) SQS(optFns ...func(*sqs.Options)) *sqs.Client {
	opts := []func(*sqs.Options){func(o *sqs.Options) {
		if m.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(m.cfg.Endpoint)
		}
	}}
	return sqs.NewFromConfig(m.baseCfg.Copy(), append(opts, optFns...)...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
