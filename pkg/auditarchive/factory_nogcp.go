//go:build !gcp

package auditarchive

import (
	"context"
	"fmt"
)

func newGCSExporter(ctx context.Context, bucket string) (Exporter, error) {
	return nil, fmt.Errorf("auditarchive: GCS backend not enabled in this build (use -tags gcp)")
}
