// Package upload publishes rendered report files to S3-compatible
// storage.
package upload

import "context"

// Uploader publishes report artifacts to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and
	// writable. Writes a small test object to the bucket to fail fast
	// on misconfiguration, before the audit spends time rendering.
	Preflight(ctx context.Context) error

	// UploadFiles uploads the given local files under the configured
	// prefix and the audit period sub-prefix, e.g.
	// reports/2023-06-01_2023-06-30/tat_audit.html.
	UploadFiles(ctx context.Context, period string, paths []string) error
}
