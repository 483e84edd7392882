package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gearhead-backend/internal/apperr"
	appconfig "gearhead-backend/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
)

const uploadTicketTTL = 2 * time.Hour

// S3Storage talks to an S3-compatible endpoint, such as Supabase's
// /storage/v1/s3 gateway.
type S3Storage struct {
	client     *s3.Client
	presign    *s3.PresignClient
	publicBase string
	http       *http.Client
}

func NewS3Storage(ctx context.Context, cfg appconfig.StorageConfig, projectURL string) (*S3Storage, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	endpoint := cfg.S3Endpoint
	if endpoint == "" && projectURL != "" {
		endpoint = strings.TrimRight(projectURL, "/") + "/storage/v1/s3"
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	publicBase := cfg.PublicBaseURL
	if publicBase == "" && projectURL != "" {
		publicBase = strings.TrimRight(projectURL, "/") + "/storage/v1/object/public"
	}

	return &S3Storage{
		client:     client,
		presign:    s3.NewPresignClient(client),
		publicBase: strings.TrimRight(publicBase, "/"),
		http:       &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func s3Error(op string, err error) error {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	switch {
	case errors.As(err, &nf), errors.As(err, &nsk), errors.As(err, &nsb):
		return apperr.Wrap(err, apperr.KindNotFound, op, "object not found")
	}
	return apperr.Wrap(err, apperr.KindTransient, op, "object storage request failed")
}

func (s *S3Storage) Upload(ctx context.Context, bucket, path string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(path),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("max-age=3600"),
	})
	if err != nil {
		return s3Error("s3.put_object", err)
	}
	return nil
}

// CreateSignedUpload presigns a PUT; the ticket's SignedURL carries the grant.
func (s *S3Storage) CreateSignedUpload(ctx context.Context, bucket, path string) (*UploadTicket, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(uploadTicketTTL))
	if err != nil {
		return nil, s3Error("s3.presign_put", err)
	}
	return &UploadTicket{Bucket: bucket, Path: path, Token: req.URL, SignedURL: req.URL}, nil
}

func (s *S3Storage) UploadWithTicket(ctx context.Context, t UploadTicket, body []byte, contentType string) error {
	const op = "s3.upload_presigned"
	target := t.SignedURL
	if target == "" {
		target = t.Token
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(err, apperr.KindInternal, op, "failed to create request")
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.http.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.KindTransient, op, "object storage unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return apperr.New(apperr.KindTransient, op, fmt.Sprintf("presigned upload failed with status %d: %s", resp.StatusCode, string(raw)))
	}
	return nil
}

func (s *S3Storage) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", s3Error("s3.presign_get", err)
	}
	return req.URL, nil
}

func (s *S3Storage) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBase, bucket, escapePath(path))
}

func (s *S3Storage) Delete(ctx context.Context, bucket, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return s3Error("s3.delete_object", err)
	}
	return nil
}

func (s *S3Storage) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}
	if apperr.IsKind(s3Error("s3.head_bucket", err), apperr.KindNotFound) {
		return false, nil
	}
	return false, s3Error("s3.head_bucket", err)
}
