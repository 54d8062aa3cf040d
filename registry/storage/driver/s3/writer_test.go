package s3

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory stand-in for the S3 API surface the driver uses. CompleteMultipartUpload
// enforces the real service's part minimum for non-final parts, so an upload assembled from
// too-small parts fails here the same way it fails against S3.
type fakeS3 struct {
	s3iface.S3API

	mu        sync.Mutex
	objects   map[string][]byte
	uploads   map[string]*fakeUpload
	nextID    int
	copyCalls int
}

type fakeUpload struct {
	key   string
	parts map[int64][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		uploads: make(map[string]*fakeUpload),
	}
}

func (f *fakeS3) CreateMultipartUploadWithContext(ctx aws.Context, in *s3.CreateMultipartUploadInput, opts ...request.Option) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeUpload{key: aws.StringValue(in.Key), parts: make(map[int64][]byte)}

	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPartWithContext(ctx aws.Context, in *s3.UploadPartInput, opts ...request.Option) (*s3.UploadPartOutput, error) {
	data, err := ioutil.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	up, ok := f.uploads[aws.StringValue(in.UploadId)]
	if !ok {
		return nil, awserr.New("NoSuchUpload", "upload not found", nil)
	}
	up.parts[aws.Int64Value(in.PartNumber)] = data

	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", len(data)))}, nil
}

func (f *fakeS3) UploadPartCopyWithContext(ctx aws.Context, in *s3.UploadPartCopyInput, opts ...request.Option) (*s3.UploadPartCopyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	source := aws.StringValue(in.CopySource)
	key := source[strings.Index(source, "/")+1:]
	data, ok := f.objects[key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}

	up, ok := f.uploads[aws.StringValue(in.UploadId)]
	if !ok {
		return nil, awserr.New("NoSuchUpload", "upload not found", nil)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	up.parts[aws.Int64Value(in.PartNumber)] = cp
	f.copyCalls++

	return &s3.UploadPartCopyOutput{
		CopyPartResult: &s3.CopyPartResult{ETag: aws.String(fmt.Sprintf("etag-copy-%d", len(data)))},
	}, nil
}

func (f *fakeS3) ListMultipartUploadsWithContext(ctx aws.Context, in *s3.ListMultipartUploadsInput, opts ...request.Option) (*s3.ListMultipartUploadsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &s3.ListMultipartUploadsOutput{}
	for id, up := range f.uploads {
		if strings.HasPrefix(up.key, aws.StringValue(in.Prefix)) {
			out.Uploads = append(out.Uploads, &s3.MultipartUpload{
				Key:      aws.String(up.key),
				UploadId: aws.String(id),
			})
		}
	}
	return out, nil
}

func (f *fakeS3) ListPartsWithContext(ctx aws.Context, in *s3.ListPartsInput, opts ...request.Option) (*s3.ListPartsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	up, ok := f.uploads[aws.StringValue(in.UploadId)]
	if !ok {
		return nil, awserr.New("NoSuchUpload", "upload not found", nil)
	}

	numbers := make([]int64, 0, len(up.parts))
	for n := range up.parts {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	out := &s3.ListPartsOutput{}
	for _, n := range numbers {
		out.Parts = append(out.Parts, &s3.Part{
			ETag:       aws.String(fmt.Sprintf("etag-%d", len(up.parts[n]))),
			PartNumber: aws.Int64(n),
			Size:       aws.Int64(int64(len(up.parts[n]))),
		})
	}
	return out, nil
}

func (f *fakeS3) CompleteMultipartUploadWithContext(ctx aws.Context, in *s3.CompleteMultipartUploadInput, opts ...request.Option) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	up, ok := f.uploads[aws.StringValue(in.UploadId)]
	if !ok {
		return nil, awserr.New("NoSuchUpload", "upload not found", nil)
	}

	var assembled []byte
	parts := in.MultipartUpload.Parts
	for i, part := range parts {
		data, ok := up.parts[aws.Int64Value(part.PartNumber)]
		if !ok {
			return nil, awserr.New("InvalidPart", "part not found", nil)
		}
		if i < len(parts)-1 && len(data) < minChunkSize {
			return nil, awserr.New("EntityTooSmall", "part too small", nil)
		}
		assembled = append(assembled, data...)
	}

	f.objects[up.key] = assembled
	delete(f.uploads, aws.StringValue(in.UploadId))

	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUploadWithContext(ctx aws.Context, in *s3.AbortMultipartUploadInput, opts ...request.Option) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.uploads, aws.StringValue(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}

	return &s3.GetObjectOutput{Body: ioutil.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) object(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

// writeChunk appends one chunk the way a resumable upload does: a fresh writer per request,
// closed without committing.
func writeChunk(t *testing.T, d *Driver, path string, chunk []byte, resume bool) {
	t.Helper()

	fw, err := d.Writer(context.Background(), path, resume)
	require.NoError(t, err)

	n, err := fw.Write(chunk)
	require.NoError(t, err)
	require.Equal(t, len(chunk), n)
	require.NoError(t, fw.Close())
}

func TestWriter_SmallChunksStayCompletable(t *testing.T) {
	fake := newFakeS3()
	d := &Driver{s3: fake, bucket: "bkt"}
	ctx := context.Background()

	// three 1MB chunks, each below the S3 part minimum
	var content []byte
	for i := 0; i < 3; i++ {
		chunk := bytes.Repeat([]byte{byte('a' + i)}, 1<<20)
		writeChunk(t, d, "/upload/data", chunk, i > 0)
		content = append(content, chunk...)
	}

	fw, err := d.Writer(ctx, "/upload/data", true)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), fw.Size())
	require.NoError(t, fw.Commit())
	require.NoError(t, fw.Close())

	assert.Equal(t, content, fake.object("upload/data"))
}

func TestWriter_LargeResumeReusesObjectAsPart(t *testing.T) {
	fake := newFakeS3()
	d := &Driver{s3: fake, bucket: "bkt"}
	ctx := context.Background()

	// 3MB chunks push the staged object past the part minimum, so resuming copies the object
	// server-side instead of downloading it
	var content []byte
	for i := 0; i < 3; i++ {
		chunk := bytes.Repeat([]byte{byte('x' + i)}, 3<<20)
		writeChunk(t, d, "/upload/data", chunk, i > 0)
		content = append(content, chunk...)
	}

	fw, err := d.Writer(ctx, "/upload/data", true)
	require.NoError(t, err)
	require.NoError(t, fw.Commit())
	require.NoError(t, fw.Close())

	assert.Equal(t, content, fake.object("upload/data"))
	assert.Greater(t, fake.copyCalls, 0)
}

func TestWriter_SingleChunkCommit(t *testing.T) {
	fake := newFakeS3()
	d := &Driver{s3: fake, bucket: "bkt"}
	ctx := context.Background()

	fw, err := d.Writer(ctx, "/upload/data", false)
	require.NoError(t, err)
	_, err = fw.Write([]byte("abcd"))
	require.NoError(t, err)
	require.NoError(t, fw.Commit())
	require.NoError(t, fw.Close())

	assert.Equal(t, []byte("abcd"), fake.object("upload/data"))
}
