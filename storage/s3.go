package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"rentwatch/config"
)

// S3Uploader copies failure snapshots to S3-compatible storage.
type S3Uploader struct {
	client *s3.Client
	cfg    config.S3Config
}

func NewS3Uploader(ctx context.Context, cfg config.S3Config) (*S3Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Uploader{client: client, cfg: cfg}, nil
}

// Key prefixes name with the configured prefix.
func (u *S3Uploader) Key(name string) string {
	return objectKey(u.cfg.Prefix, name)
}

func objectKey(prefix, name string) string {
	name = strings.TrimLeft(name, "/")
	if prefix == "" {
		return name
	}
	return path.Join(strings.Trim(prefix, "/"), name)
}

func (u *S3Uploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(u.Key(key)),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
