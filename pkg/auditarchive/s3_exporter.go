package auditarchive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Exporter uploads sealed segments to an S3 bucket under the segment's
// ObjectKey (derived from its id and seal time). Every seal mints a fresh
// segment id, so re-sealing the same entries after a failed export or a
// restart writes a new object rather than overwriting the earlier one.
type S3Exporter struct {
	client *s3.Client
	bucket string
}

// S3ExporterConfig configures an S3Exporter.
type S3ExporterConfig struct {
	Bucket   string
	Region   string
	Endpoint string // custom endpoint for MinIO/LocalStack-compatible backends
}

// NewS3Exporter builds an exporter backed by AWS S3.
func NewS3Exporter(ctx context.Context, cfg S3ExporterConfig) (*S3Exporter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("auditarchive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Exporter{client: client, bucket: cfg.Bucket}, nil
}

// Export uploads segment as a JSON object.
func (e *S3Exporter) Export(ctx context.Context, segment Segment) error {
	data, err := json.Marshal(segment)
	if err != nil {
		return fmt.Errorf("auditarchive: marshal segment: %w", err)
	}

	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(segment.ObjectKey()),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("auditarchive: s3 put failed: %w", err)
	}
	return nil
}
