package datasource

import (
	"context"
	"io"

	"github.com/kelseyhightower/envconfig"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// S3Config addresses an S3-compatible store.
type S3Config struct {
	Endpoint  string `envconfig:"S3_ENDPOINT" default:"s3.amazonaws.com" yaml:"endpoint" json:"endpoint"`
	AccessKey string `envconfig:"S3_ACCESS_KEY" yaml:"access_key" json:"access_key"`
	SecretKey string `envconfig:"S3_SECRET_KEY" yaml:"secret_key" json:"secret_key"`
	Region    string `envconfig:"S3_REGION" yaml:"region" json:"region"`
	Secure    bool   `envconfig:"S3_SECURE" default:"true" yaml:"secure" json:"secure"`
}

// S3FromEnv reads S3Config from prefix_S3_ENDPOINT, prefix_S3_ACCESS_KEY
// and friends.
func S3FromEnv(prefix string) (S3Config, error) {
	var cfg S3Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return cfg, errors.Wrap(err, "datasource: s3 env")
	}
	return cfg, nil
}

func newS3Client(cfg S3Config) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
}

func openS3(ctx context.Context, cfg S3Config, bucket, key string) (io.ReadCloser, error) {
	if bucket == "" || key == "" {
		return nil, errors.Errorf("datasource: s3 uri needs bucket and key, got %q/%q", bucket, key)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "s3.amazonaws.com"
	}
	client, err := newS3Client(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "datasource: s3 client")
	}
	if _, err := client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return nil, errors.Errorf("datasource: s3://%s/%s not found", bucket, key)
		}
		return nil, errors.Wrapf(err, "datasource: stat s3://%s/%s", bucket, key)
	}
	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "datasource: get s3://%s/%s", bucket, key)
	}
	return obj, nil
}
