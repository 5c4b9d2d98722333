package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/zkceremony/contributor/internal/ceremony"
)

func TestSplitChunksCoversAllBytesInOrder(t *testing.T) {
	data := make([]byte, partSize+100)
	for i := range data {
		data[i] = byte(i % 256)
	}

	chunks := splitChunks(data, partSize)
	require.Len(t, chunks, 2)
	require.Equal(t, 1, chunks[0].num)
	require.Equal(t, 2, chunks[1].num)
	require.Len(t, chunks[0].data, partSize)
	require.Len(t, chunks[1].data, 100)

	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c.data...)
	}
	require.Equal(t, data, reassembled)
}

func TestSplitChunksEmptyInput(t *testing.T) {
	require.Empty(t, splitChunks(nil, partSize))
}

func TestCountingWriterTracksProgress(t *testing.T) {
	var reports [][2]int64
	cw := &countingWriter{
		w: discard{},
		progress: func(transferred, total int64) {
			reports = append(reports, [2]int64{transferred, total})
		},
		total: 10,
	}
	n, err := cw.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, [][2]int64{{5, 10}}, reports)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// fakeS3 is a minimal in-memory stand-in for the S3 multipart-upload API,
// tracking uploads by id so resume behavior can be exercised without a live
// bucket.
type fakeS3 struct {
	nextID int

	// key -> uploadID -> partNumber -> etag
	uploads map[string]map[int]string
	keyOf   map[string]string // uploadID -> key
	open    map[string]bool   // uploadID -> still open (not completed)

	completed []types.CompletedPart // set by CompleteMultipartUpload
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		uploads: make(map[string]map[int]string),
		keyOf:   make(map[string]string),
		open:    make(map[string]bool),
	}
}

// seedOpenUpload simulates an upload left open by a prior, crashed attempt.
func (f *fakeS3) seedOpenUpload(key string, parts map[int]string) string {
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.keyOf[id] = key
	f.open[id] = true
	cp := make(map[int]string, len(parts))
	for k, v := range parts {
		cp[k] = v
	}
	f.uploads[id] = cp
	return id
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.keyOf[id] = aws.ToString(in.Key)
	f.open[id] = true
	f.uploads[id] = make(map[int]string)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	id := aws.ToString(in.UploadId)
	etag := fmt.Sprintf("etag-%s-%d", id, aws.ToInt32(in.PartNumber))
	f.uploads[id][int(aws.ToInt32(in.PartNumber))] = etag
	return &s3.UploadPartOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	id := aws.ToString(in.UploadId)
	known := f.uploads[id]
	for _, p := range in.MultipartUpload.Parts {
		etag, ok := known[int(aws.ToInt32(p.PartNumber))]
		if !ok || etag != aws.ToString(p.ETag) {
			return nil, fmt.Errorf("part %d not present under upload %s", aws.ToInt32(p.PartNumber), id)
		}
	}
	f.completed = in.MultipartUpload.Parts
	f.open[id] = false
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, opts ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	var out []types.MultipartUpload
	for id, key := range f.keyOf {
		if key != aws.ToString(in.Prefix) || !f.open[id] {
			continue
		}
		id := id
		out = append(out, types.MultipartUpload{UploadId: aws.String(id), Key: aws.String(key)})
	}
	return &s3.ListMultipartUploadsOutput{Uploads: out}, nil
}

func (f *fakeS3) ListParts(ctx context.Context, in *s3.ListPartsInput, opts ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
	id := aws.ToString(in.UploadId)
	var parts []types.Part
	for num, etag := range f.uploads[id] {
		num := num
		parts = append(parts, types.Part{PartNumber: aws.Int32(int32(num)), ETag: aws.String(etag)})
	}
	return &s3.ListPartsOutput{Parts: parts, IsTruncated: aws.Bool(false)}, nil
}

func TestMultipartUploadFreshStartCreatesNewUpload(t *testing.T) {
	fake := newFakeS3()
	a := &S3Adapter{Client: fake}

	data := make([]byte, partSize+10)
	err := a.MultipartUpload(context.Background(), "bucket", "key", data, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, fake.completed, 2)
}

func TestMultipartUploadResumesFromVerifiedOpenUpload(t *testing.T) {
	fake := newFakeS3()
	data := make([]byte, partSize+10)

	// Simulate a crash after part 1 uploaded under an upload still open on S3.
	openID := fake.seedOpenUpload("key", map[int]string{1: "etag-prior-1"})

	a := &S3Adapter{Client: fake}
	var recorded []ceremony.UploadedPart
	record := func(ctx context.Context, p ceremony.UploadedPart) error {
		recorded = append(recorded, p)
		return nil
	}

	existing := []ceremony.UploadedPart{{PartNumber: 1, ETag: "etag-prior-1"}}
	err := a.MultipartUpload(context.Background(), "bucket", "key", data, existing, record, nil)
	require.NoError(t, err)

	// Only part 2 should have been freshly uploaded; part 1 was reused as-is.
	require.Len(t, recorded, 1)
	require.Equal(t, 2, recorded[0].PartNumber)
	require.Equal(t, "etag-prior-1", fake.uploads[openID][1])
	require.Len(t, fake.completed, 2)
}

func TestMultipartUploadFallsBackWhenNoOpenUploadMatchesRecordedParts(t *testing.T) {
	fake := newFakeS3()
	data := make([]byte, partSize+10)

	a := &S3Adapter{Client: fake}
	var recorded []ceremony.UploadedPart
	record := func(ctx context.Context, p ceremony.UploadedPart) error {
		recorded = append(recorded, p)
		return nil
	}

	// existingParts refers to an upload id that no longer exists on S3 (it
	// expired). Every part must be re-uploaded under a fresh upload id
	// instead of mixing stale ETags into CompleteMultipartUpload.
	existing := []ceremony.UploadedPart{{PartNumber: 1, ETag: "etag-stale"}}
	err := a.MultipartUpload(context.Background(), "bucket", "key", data, existing, record, nil)
	require.NoError(t, err)

	require.Len(t, recorded, 2)
	require.Len(t, fake.completed, 2)
}
