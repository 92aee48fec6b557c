//go:build gcp

package auditarchive

import "context"

func newGCSExporter(ctx context.Context, bucket string) (Exporter, error) {
	return NewGCSExporter(ctx, GCSExporterConfig{Bucket: bucket})
}
