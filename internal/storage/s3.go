package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vidfriends/streamgate/internal/config"
)

// NewS3Client builds an S3 client for the configured object store. A custom
// endpoint switches to path-style addressing for MinIO and similar services.
func NewS3Client(ctx context.Context, cfg config.ObjectStoreConfig) (*s3.Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// VideoUploader writes course videos into the bucket so they can later be served
// through issued capability URLs. Objects are always private.
type VideoUploader struct {
	uploader *manager.Uploader
	bucket   string
}

// NewVideoUploader configures a multipart uploader over client.
func NewVideoUploader(client manager.UploadAPIClient, bucket string) *VideoUploader {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 16 * 1024 * 1024
		u.LeavePartsOnError = false
	})
	return &VideoUploader{uploader: uploader, bucket: bucket}
}

// Upload stores r under videoKey and returns the key actually written.
func (u *VideoUploader) Upload(ctx context.Context, videoKey, contentType string, r io.Reader) (string, error) {
	key := strings.TrimLeft(strings.TrimSpace(videoKey), "/")
	if key == "" {
		return "", fmt.Errorf("s3 storage: empty key")
	}
	if contentType == "" {
		contentType = "video/mp4"
	}

	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("s3 storage upload %s: %w", key, err)
	}
	return key, nil
}
