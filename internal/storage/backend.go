package storage

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3fs "github.com/looplj/afero-s3"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"backoffice/internal/platform/config"
)

// NewFs builds the filesystem selected by STORAGE_DRIVER.
func NewFs(ctx context.Context, cfg config.StorageConfig) (afero.Fs, error) {
	switch cfg.Driver {
	case "", "memory":
		return afero.NewMemMapFs(), nil
	case "local":
		osFs := afero.NewOsFs()
		if err := osFs.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir %s: %w", cfg.Dir, err)
		}
		return afero.NewBasePathFs(osFs, cfg.Dir), nil
	case "s3":
		return newS3Fs(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newS3Fs(ctx context.Context, cfg config.StorageConfig) (afero.Fs, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires a bucket")
	}
	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			awscredentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = lo.ToPtr(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return s3fs.NewFsFromClient(cfg.S3Bucket, client), nil
}
