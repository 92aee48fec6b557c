package auditarchive

import (
	"context"
	"fmt"
	"os"
)

// NewExporterFromConfig builds the Exporter named by backend ("s3" or
// "gcs"), reading backend-specific connection details from the process
// environment.
func NewExporterFromConfig(ctx context.Context, backend, bucket string) (Exporter, error) {
	switch backend {
	case "s3":
		region := os.Getenv("AUDIT_ARCHIVE_S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Exporter(ctx, S3ExporterConfig{
			Bucket:   bucket,
			Region:   region,
			Endpoint: os.Getenv("AUDIT_ARCHIVE_S3_ENDPOINT"),
		})
	case "gcs":
		return newGCSExporter(ctx, bucket)
	default:
		return nil, fmt.Errorf("auditarchive: unsupported backend %q", backend)
	}
}
