// Package storage implements streamed download of the previous zKey
// artifact and resumable multipart upload of the next one, against
// whatever object store sits behind Adapter.
package storage

import (
	"context"

	"github.com/zkceremony/contributor/internal/ceremony"
	"github.com/zkceremony/contributor/internal/status"
)

// ProgressFunc reports cumulative bytes transferred so the caller can emit
// periodic sink updates.
type ProgressFunc func(transferred, total int64)

// PartRecorder persists one acknowledged upload part via the server
// callable that backs tempContributionData, so a later resumption can skip
// parts already uploaded.
type PartRecorder func(ctx context.Context, part ceremony.UploadedPart) error

// Adapter is the full surface the pipeline needs from object storage.
type Adapter interface {
	// DownloadArtifact streams the object at bucket/path into memory,
	// reporting progress, and retries the whole transfer on a transient
	// transport failure.
	DownloadArtifact(ctx context.Context, bucket, path string, progress ProgressFunc) ([]byte, error)

	// MultipartUpload uploads data to bucket/path in fixed-size parts.
	// existingParts lists parts a prior, interrupted attempt already
	// completed (keyed by PartNumber); those are skipped. Parts may upload
	// concurrently; each newly completed part is persisted through record as
	// soon as it completes, so a crash mid-upload leaves tempContributionData
	// listing only parts that are actually durable in the object store.
	MultipartUpload(ctx context.Context, bucket, path string, data []byte, existingParts []ceremony.UploadedPart, record PartRecorder, progress ProgressFunc) error
}

// ProgressSink wraps a status.Sink as a ProgressFunc so pipeline steps can
// report "downloading/uploading N/M bytes" without depending on a storage
// backend's own progress type.
func ProgressSink(sink status.Sink, label string) ProgressFunc {
	return func(transferred, total int64) {
		status.Busy(sink, "%s: %d/%d bytes", label, transferred, total)
	}
}
