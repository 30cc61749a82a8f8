package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/mobiledetail/backend/internal/config"
	"github.com/mobiledetail/backend/internal/logging"
)

// S3Service talks to two buckets: the optional image mirror and the backup bucket.
type S3Service struct {
	mediaClient  *s3.Client
	backupClient *s3.Client
	cfg          *config.Config
}

// NewS3Service builds a client for each configured bucket. Unconfigured
// buckets leave their client nil.
func NewS3Service(cfg *config.Config, log zerolog.Logger) (*S3Service, error) {
	svc := &S3Service{cfg: cfg}
	awsLog := logging.NewAWSLogger(log)

	if cfg.MediaMirrorEnabled() {
		media, err := buildClient(cfg.MediaS3Endpoint, cfg.MediaS3Region, cfg.MediaS3AccessKeyID, cfg.MediaS3SecretAccessKey, cfg.MediaS3UsePathStyle, awsLog)
		if err != nil {
			return nil, fmt.Errorf("media s3 client: %w", err)
		}
		svc.mediaClient = media
	}
	if cfg.BackupEnabled() {
		backup, err := buildClient(cfg.BackupS3Endpoint, cfg.BackupS3Region, cfg.BackupS3AccessKeyID, cfg.BackupS3SecretAccessKey, cfg.BackupS3UsePathStyle, awsLog)
		if err != nil {
			return nil, fmt.Errorf("backup s3 client: %w", err)
		}
		svc.backupClient = backup
	}
	return svc, nil
}

func buildClient(endpoint, region, key, secret string, pathStyle bool, log *logging.AWSLogger) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithLogger(log),
	}
	if key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return client, nil
}

// MediaEnabled reports whether the image mirror is configured.
func (s *S3Service) MediaEnabled() bool { return s != nil && s.mediaClient != nil }

// BackupEnabled reports whether the backup bucket is configured.
func (s *S3Service) BackupEnabled() bool { return s != nil && s.backupClient != nil }

// UploadMedia copies an image into the mirror bucket.
func (s *S3Service) UploadMedia(ctx context.Context, key string, body io.Reader, ctype string) error {
	if !s.MediaEnabled() {
		return errors.New("media s3 client not configured")
	}
	uploader := manager.NewUploader(s.mediaClient)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.MediaImagesBucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(ctype),
		ACL:         s3types.ObjectCannedACLPrivate,
	}, func(u *manager.Uploader) { u.PartSize = 10 * 1024 * 1024 })
	return err
}

// DeleteMedia removes an image from the mirror bucket.
func (s *S3Service) DeleteMedia(ctx context.Context, key string) error {
	if !s.MediaEnabled() {
		return errors.New("media s3 client not configured")
	}
	_, err := s.mediaClient.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.MediaImagesBucket),
		Key:    aws.String(key),
	})
	return err
}

// UploadBackup stores a snapshot object in the backup bucket.
func (s *S3Service) UploadBackup(ctx context.Context, key string, body io.Reader, ctype string) error {
	if !s.BackupEnabled() {
		return errors.New("backup s3 client not configured")
	}
	uploader := manager.NewUploader(s.backupClient)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.BackupBucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(ctype),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	return err
}

// BackupObject is a listed snapshot in the backup bucket.
type BackupObject struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ListBackups lists snapshot objects under prefix.
func (s *S3Service) ListBackups(ctx context.Context, prefix string) ([]BackupObject, error) {
	if !s.BackupEnabled() {
		return nil, errors.New("backup s3 client not configured")
	}
	var out []BackupObject
	paginator := s3.NewListObjectsV2Paginator(s.backupClient, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.BackupBucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, o := range page.Contents {
			out = append(out, BackupObject{Key: aws.ToString(o.Key), Size: aws.ToInt64(o.Size)})
		}
	}
	return out, nil
}
