//go:build gcp

package auditarchive

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSExporter uploads sealed segments to a Google Cloud Storage bucket.
type GCSExporter struct {
	client *storage.Client
	bucket string
}

// GCSExporterConfig configures a GCSExporter.
type GCSExporterConfig struct {
	Bucket string
}

// NewGCSExporter builds an exporter backed by GCS, using application
// default credentials.
func NewGCSExporter(ctx context.Context, cfg GCSExporterConfig) (*GCSExporter, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("auditarchive: create gcs client: %w", err)
	}
	return &GCSExporter{client: client, bucket: cfg.Bucket}, nil
}

// Export uploads segment as a JSON object.
func (e *GCSExporter) Export(ctx context.Context, segment Segment) error {
	data, err := json.Marshal(segment)
	if err != nil {
		return fmt.Errorf("auditarchive: marshal segment: %w", err)
	}

	w := e.client.Bucket(e.bucket).Object(segment.ObjectKey()).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("auditarchive: gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("auditarchive: gcs close failed: %w", err)
	}
	return nil
}

// Close closes the underlying GCS client.
func (e *GCSExporter) Close() error {
	return e.client.Close()
}
