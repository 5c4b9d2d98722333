package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zkceremony/contributor/internal/ceremony"
)

// partSize is the fixed chunk size used when splitting a zKey for multipart
// upload, chosen well above the service minimum part size of 5 MiB.
const partSize = 16 * 1024 * 1024

// concurrency bounds how many parts are in flight at once.
const concurrency = 4

// s3API is the subset of *s3.Client that S3Adapter depends on, narrowed so
// the resume logic can be exercised against a hand-written fake instead of
// a live bucket.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, opts ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
	ListParts(ctx context.Context, in *s3.ListPartsInput, opts ...func(*s3.Options)) (*s3.ListPartsOutput, error)
}

// S3Adapter implements Adapter against an S3-compatible object store. Parts
// upload concurrently through a bounded errgroup so a failed part cancels
// the rest promptly, while completed parts are still recorded one at a time
// under a mutex for crash-safe bookkeeping.
type S3Adapter struct {
	Client s3API
}

func NewS3Adapter(client *s3.Client) *S3Adapter {
	return &S3Adapter{Client: client}
}

var _ Adapter = (*S3Adapter)(nil)

// DownloadArtifact streams bucket/path into memory, retrying the whole
// object on a transient transport failure.
func (a *S3Adapter) DownloadArtifact(ctx context.Context, bucket, path string, progress ProgressFunc) ([]byte, error) {
	var out []byte

	operation := func() error {
		resp, err := a.Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(path),
		})
		if err != nil {
			return trace.Wrap(err, "downloading %s/%s", bucket, path)
		}
		defer resp.Body.Close()

		total := int64(0)
		if resp.ContentLength != nil {
			total = *resp.ContentLength
		}

		buf := &bytes.Buffer{}
		counter := &countingWriter{w: buf, progress: progress, total: total}
		if _, err := io.Copy(counter, resp.Body); err != nil {
			return trace.Wrap(err, "streaming %s/%s", bucket, path)
		}
		out = buf.Bytes()
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

// MultipartUpload splits data into fixed-size parts and uploads each,
// skipping parts already present in existingParts. After every successful
// part, record is invoked so a subsequent resumption can skip it too.
// Completion finalizes the object.
func (a *S3Adapter) MultipartUpload(ctx context.Context, bucket, path string, data []byte, existingParts []ceremony.UploadedPart, record PartRecorder, progress ProgressFunc) error {
	uploadID, done, err := a.resolveUploadID(ctx, bucket, path, existingParts)
	if err != nil {
		return err
	}

	chunks := splitChunks(data, partSize)

	var (
		mu        sync.Mutex
		completed = int64(0)
	)
	for _, c := range chunks {
		if _, ok := done[c.num]; ok {
			completed += int64(len(c.data))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, c := range chunks {
		if _, ok := done[c.num]; ok {
			continue // already uploaded in a prior attempt
		}

		c := c
		g.Go(func() error {
			part, err := a.uploadPart(gctx, bucket, path, uploadID, c)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			done[c.num] = part
			completed += int64(len(c.data))

			if progress != nil {
				progress(completed, int64(len(data)))
			}
			if record != nil {
				if err := record(gctx, ceremony.UploadedPart{PartNumber: c.num, ETag: aws.ToString(part.ETag)}); err != nil {
					return trace.Wrap(err, "recording uploaded part %d", c.num)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	parts := make([]types.CompletedPart, 0, len(done))
	for _, p := range done {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return *parts[i].PartNumber < *parts[j].PartNumber })

	_, err = a.Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(path),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return trace.Wrap(err, "completing multipart upload of %s/%s", bucket, path)
	}
	return nil
}

// resolveUploadID returns the multipart upload id to append to, plus the
// subset of existingParts it was able to verify are actually present under
// that upload id, keyed by part number.
//
// existingParts comes from the coordination store (tempContributionData),
// which survives a process restart; the S3 upload id itself does not. So
// when existingParts is non-empty this discovers the still-open upload for
// bucket/path via ListMultipartUploads rather than blindly creating a new
// one, since CompleteMultipartUpload rejects any part whose ETag was not
// issued under the exact upload id being completed. Each candidate part is
// cross-checked against ListParts before being trusted: a part recorded in
// the coordination store but absent (or re-issued with a different ETag) in
// the live upload is dropped and re-uploaded rather than assumed good.
//
// If no matching open upload is found (it expired, or this is genuinely the
// first attempt), a fresh upload is created and every part re-uploads.
func (a *S3Adapter) resolveUploadID(ctx context.Context, bucket, path string, existingParts []ceremony.UploadedPart) (string, map[int]types.CompletedPart, error) {
	if len(existingParts) > 0 {
		uploadID, err := a.findOpenUpload(ctx, bucket, path)
		if err != nil {
			return "", nil, err
		}
		if uploadID != "" {
			done, err := a.verifyUploadedParts(ctx, bucket, path, uploadID, existingParts)
			if err != nil {
				return "", nil, err
			}
			return uploadID, done, nil
		}
	}

	out, err := a.Client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return "", nil, trace.Wrap(err, "creating multipart upload for %s/%s", bucket, path)
	}
	return aws.ToString(out.UploadId), map[int]types.CompletedPart{}, nil
}

// findOpenUpload returns the upload id of the still-open multipart upload
// for bucket/path, or "" if there is none. If more than one is open (a
// prior attempt was abandoned without completing or aborting), the most
// recently initiated one is preferred.
func (a *S3Adapter) findOpenUpload(ctx context.Context, bucket, path string) (string, error) {
	out, err := a.Client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
		Bucket: aws.String(bucket),
		Prefix: aws.String(path),
	})
	if err != nil {
		return "", trace.Wrap(err, "listing open multipart uploads for %s/%s", bucket, path)
	}

	var best types.MultipartUpload
	for _, u := range out.Uploads {
		if aws.ToString(u.Key) != path {
			continue
		}
		if best.UploadId == nil || (u.Initiated != nil && best.Initiated != nil && u.Initiated.After(*best.Initiated)) {
			best = u
		}
	}
	return aws.ToString(best.UploadId), nil
}

// verifyUploadedParts cross-checks existingParts against the parts S3
// actually has recorded under uploadID, keeping only those that match
// exactly. The result is safe to feed straight into CompleteMultipartUpload.
func (a *S3Adapter) verifyUploadedParts(ctx context.Context, bucket, path, uploadID string, existingParts []ceremony.UploadedPart) (map[int]types.CompletedPart, error) {
	byNum := make(map[int]string, len(existingParts))
	for _, p := range existingParts {
		byNum[p.PartNumber] = p.ETag
	}

	done := make(map[int]types.CompletedPart, len(existingParts))
	var marker *string
	for {
		out, err := a.Client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(bucket),
			Key:              aws.String(path),
			UploadId:         aws.String(uploadID),
			PartNumberMarker: marker,
		})
		if err != nil {
			return nil, trace.Wrap(err, "listing parts of upload %s for %s/%s", uploadID, bucket, path)
		}
		for _, part := range out.Parts {
			num := int(aws.ToInt32(part.PartNumber))
			if etag, ok := byNum[num]; ok && etag == aws.ToString(part.ETag) {
				done[num] = types.CompletedPart{PartNumber: part.PartNumber, ETag: part.ETag}
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		marker = out.NextPartNumberMarker
	}
	return done, nil
}

func (a *S3Adapter) uploadPart(ctx context.Context, bucket, path, uploadID string, c chunk) (types.CompletedPart, error) {
	var result types.CompletedPart

	operation := func() error {
		out, err := a.Client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(path),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(c.num)),
			Body:       bytes.NewReader(c.data),
		})
		if err != nil {
			return trace.Wrap(err, "uploading part %d of %s/%s", c.num, bucket, path)
		}
		result = types.CompletedPart{PartNumber: aws.Int32(int32(c.num)), ETag: out.ETag}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return types.CompletedPart{}, err
	}
	return result, nil
}

type chunk struct {
	num  int // 1-based, per S3 multipart convention
	data []byte
}

func splitChunks(data []byte, size int) []chunk {
	var chunks []chunk
	for i, n := 0, 1; i < len(data); i, n = i+size, n+1 {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, chunk{num: n, data: data[i:end]})
	}
	return chunks
}

type countingWriter struct {
	w        io.Writer
	progress ProgressFunc
	written  int64
	total    int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.written += int64(n)
	if c.progress != nil {
		c.progress(c.written, c.total)
	}
	return n, err
}
