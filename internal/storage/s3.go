package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 implements ObjectStore on top of the AWS SDK.
type S3 struct {
	client    *s3.Client
	presigner *s3.PresignClient
	urlExpiry time.Duration
}

var _ ObjectStore = (*S3)(nil)

// NewS3 builds an S3 store using the ambient AWS credential chain.
func NewS3(ctx context.Context, region string, urlExpiry time.Duration) (*S3, error) {
	cfg, errLoad := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if errLoad != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", errLoad)
	}
	client := s3.NewFromConfig(cfg)
	return &S3{
		client:    client,
		presigner: s3.NewPresignClient(client),
		urlExpiry: urlExpiry,
	}, nil
}

// GetJSON fetches an object and decodes it as JSON into out.
func (s *S3) GetJSON(ctx context.Context, bucket, key string, out any) error {
	res, errGet := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if errGet != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(errGet, &noSuchKey) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: get s3://%s/%s: %w", bucket, key, errGet)
	}
	defer func() { _ = res.Body.Close() }()

	data, errRead := io.ReadAll(res.Body)
	if errRead != nil {
		return fmt.Errorf("storage: read s3://%s/%s: %w", bucket, key, errRead)
	}
	if errDecode := json.Unmarshal(data, out); errDecode != nil {
		return fmt.Errorf("storage: decode s3://%s/%s: %w", bucket, key, errDecode)
	}
	return nil
}

// Put writes body to the given object key.
func (s *S3) Put(ctx context.Context, bucket, key string, body []byte) error {
	if _, errPut := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}); errPut != nil {
		return fmt.Errorf("storage: put s3://%s/%s: %w", bucket, key, errPut)
	}
	return nil
}

// ListPrefixes lists the immediate child prefixes under prefix.
func (s *S3) ListPrefixes(ctx context.Context, bucket, prefix string) ([]string, error) {
	var prefixes []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, errPage := paginator.NextPage(ctx)
		if errPage != nil {
			return nil, fmt.Errorf("storage: list s3://%s/%s: %w", bucket, prefix, errPage)
		}
		for _, common := range page.CommonPrefixes {
			if common.Prefix != nil {
				prefixes = append(prefixes, *common.Prefix)
			}
		}
	}
	return prefixes, nil
}

// PresignGet builds a time-limited download URL for an object.
func (s *S3) PresignGet(ctx context.Context, bucket, key string, forceDownload bool) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if forceDownload {
		input.ResponseContentType = aws.String("application/force-download")
	}
	req, errPresign := s.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(s.urlExpiry))
	if errPresign != nil {
		return "", fmt.Errorf("storage: presign s3://%s/%s: %w", bucket, key, errPresign)
	}
	return req.URL, nil
}
