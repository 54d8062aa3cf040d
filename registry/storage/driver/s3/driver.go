// Package s3 provides a StorageDriver backed by any S3-compatible object store, including AWS S3
// and Cloudflare R2 (via the regionendpoint parameter).
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	storagedriver "github.com/deploys-app/registry/registry/storage/driver"
	"github.com/deploys-app/registry/registry/storage/driver/factory"
)

const driverName = "s3"

// minChunkSize is the S3 minimum part size for every part but the last. Upload chunks smaller than
// this are buffered in memory before being flushed as a part.
const minChunkSize = 5 << 20

func init() {
	factory.Register(driverName, &s3DriverFactory{})
}

type s3DriverFactory struct{}

func (f *s3DriverFactory) Create(parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return FromParameters(parameters)
}

// DriverParameters bundles all parameters accepted by FromParameters.
type DriverParameters struct {
	AccessKey      string
	SecretKey      string
	Bucket         string
	Region         string
	RegionEndpoint string
	Secure         bool
	RootDirectory  string
}

// Driver is a StorageDriver implementation backed by an S3-compatible bucket.
type Driver struct {
	s3            s3iface.S3API
	bucket        string
	rootDirectory string
}

func parseString(parameters map[string]interface{}, name string) (string, error) {
	v, ok := parameters[name]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return s, nil
}

// FromParameters constructs a new Driver with a given parameters map.
func FromParameters(parameters map[string]interface{}) (*Driver, error) {
	params := DriverParameters{Secure: true}

	for _, p := range []struct {
		name string
		dst  *string
	}{
		{"accesskey", &params.AccessKey},
		{"secretkey", &params.SecretKey},
		{"bucket", &params.Bucket},
		{"region", &params.Region},
		{"regionendpoint", &params.RegionEndpoint},
		{"rootdirectory", &params.RootDirectory},
	} {
		v, err := parseString(parameters, p.name)
		if err != nil {
			return nil, err
		}
		*p.dst = v
	}

	if v, ok := parameters["secure"]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("secure must be a bool")
		}
		params.Secure = b
	}

	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if params.Region == "" && params.RegionEndpoint == "" {
		return nil, fmt.Errorf("one of region or regionendpoint is required")
	}

	return New(params)
}

// New constructs a new Driver from DriverParameters.
func New(params DriverParameters) (*Driver, error) {
	awsConfig := aws.NewConfig()
	if params.AccessKey != "" {
		awsConfig.WithCredentials(credentials.NewStaticCredentials(params.AccessKey, params.SecretKey, ""))
	}
	if params.Region != "" {
		awsConfig.WithRegion(params.Region)
	}
	if params.RegionEndpoint != "" {
		awsConfig.WithEndpoint(params.RegionEndpoint)
		awsConfig.WithS3ForcePathStyle(true)
	}
	awsConfig.WithDisableSSL(!params.Secure)

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}

	return &Driver{
		s3:            s3.New(sess),
		bucket:        params.Bucket,
		rootDirectory: strings.TrimRight(params.RootDirectory, "/"),
	}, nil
}

func (d *Driver) Name() string {
	return driverName
}

func (d *Driver) s3Path(path string) string {
	return strings.TrimLeft(d.rootDirectory+path, "/")
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// GetContent retrieves the content stored at path as a []byte.
func (d *Driver) GetContent(ctx context.Context, path string) ([]byte, error) {
	rc, err := d.Reader(ctx, path, 0)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return ioutil.ReadAll(rc)
}

// PutContent stores the []byte content at a location designated by path.
func (d *Driver) PutContent(ctx context.Context, path string, content []byte) error {
	_, err := d.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.s3Path(path)),
		Body:   bytes.NewReader(content),
	})
	return err
}

// Reader retrieves an io.ReadCloser for the content stored at path with a given byte offset.
func (d *Driver) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	resp, err := d.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.s3Path(path)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-", offset)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == "InvalidRange" {
			// reading at exactly the end of the object yields no bytes
			return ioutil.NopCloser(bytes.NewReader(nil)), nil
		}
		if isNotFound(err) {
			return nil, storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
		}
		return nil, err
	}
	return resp.Body, nil
}

// Stat retrieves the FileInfo for the given path.
func (d *Driver) Stat(ctx context.Context, path string) (storagedriver.FileInfo, error) {
	resp, err := d.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.s3Path(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return storagedriver.FileInfo{}, storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
		}
		return storagedriver.FileInfo{}, err
	}

	return storagedriver.FileInfo{
		Path:    path,
		Size:    aws.Int64Value(resp.ContentLength),
		ModTime: aws.TimeValue(resp.LastModified),
	}, nil
}

// Move moves an object stored at sourcePath to destPath, removing the original object. S3 has no
// native rename, so this is a server-side copy followed by a delete.
func (d *Driver) Move(ctx context.Context, sourcePath string, destPath string) error {
	_, err := d.s3.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		CopySource: aws.String(d.bucket + "/" + d.s3Path(sourcePath)),
		Key:        aws.String(d.s3Path(destPath)),
	})
	if err != nil {
		if isNotFound(err) {
			return storagedriver.PathNotFoundError{Path: sourcePath, DriverName: driverName}
		}
		return err
	}

	_, err = d.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.s3Path(sourcePath)),
	})
	return err
}

// Delete recursively deletes all objects stored at path and its subpaths.
func (d *Driver) Delete(ctx context.Context, path string) error {
	prefix := d.s3Path(path)
	found := false

	for {
		listResp, err := d.s3.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(d.bucket),
			Prefix: aws.String(prefix),
		})
		if err != nil {
			return err
		}
		if len(listResp.Contents) == 0 {
			break
		}

		objects := make([]*s3.ObjectIdentifier, 0, len(listResp.Contents))
		for _, obj := range listResp.Contents {
			key := aws.StringValue(obj.Key)
			if key == prefix || strings.HasPrefix(key, strings.TrimSuffix(prefix, "/")+"/") {
				objects = append(objects, &s3.ObjectIdentifier{Key: obj.Key})
			}
		}
		if len(objects) == 0 {
			break
		}
		found = true

		_, err = d.s3.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}

		if !aws.BoolValue(listResp.IsTruncated) {
			break
		}
	}

	if !found {
		return storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
	}
	return nil
}

// Writer returns a FileWriter at path. With append the pending multipart upload for the key is
// resumed; a trailing part below the S3 part minimum is merged back into the stream on the next
// write so the upload stays completable.
func (d *Driver) Writer(ctx context.Context, path string, append bool) (storagedriver.FileWriter, error) {
	key := d.s3Path(path)

	if !append {
		resp, err := d.s3.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, err
		}
		return d.newWriter(ctx, key, aws.StringValue(resp.UploadId), nil), nil
	}

	listResp, err := d.s3.ListMultipartUploadsWithContext(ctx, &s3.ListMultipartUploadsInput{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(key),
	})
	if err != nil {
		return nil, err
	}

	for _, multi := range listResp.Uploads {
		if aws.StringValue(multi.Key) != key {
			continue
		}

		uploadID := aws.StringValue(multi.UploadId)
		partsResp, err := d.s3.ListPartsWithContext(ctx, &s3.ListPartsInput{
			Bucket:   aws.String(d.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
		if err != nil {
			return nil, err
		}
		return d.newWriter(ctx, key, uploadID, partsResp.Parts), nil
	}

	return nil, storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
}

type writer struct {
	driver    *Driver
	ctx       context.Context
	key       string
	uploadID  string
	parts     []*s3.Part
	size      int64
	buf       []byte
	closed    bool
	committed bool
	cancelled bool
}

func (d *Driver) newWriter(ctx context.Context, key, uploadID string, parts []*s3.Part) storagedriver.FileWriter {
	var size int64
	for _, part := range parts {
		size += aws.Int64Value(part.Size)
	}
	return &writer{
		driver:   d,
		ctx:      ctx,
		key:      key,
		uploadID: uploadID,
		parts:    parts,
		size:     size,
	}
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("already closed")
	} else if w.committed {
		return 0, fmt.Errorf("already committed")
	} else if w.cancelled {
		return 0, fmt.Errorf("already cancelled")
	}

	if err := w.mergeSmallTail(); err != nil {
		return 0, err
	}

	w.buf = append(w.buf, p...)

	for len(w.buf) >= minChunkSize {
		if err := w.flushPart(w.buf[:minChunkSize]); err != nil {
			return 0, err
		}
		w.buf = w.buf[minChunkSize:]
	}

	w.size += int64(len(p))
	return len(p), nil
}

// mergeSmallTail makes a resumed upload appendable again. S3 rejects completion when any non-final
// part is under the part minimum, and a resumed upload's trailing part usually is: the pending
// upload is completed into a whole object and restarted, rebuffering the object's bytes for small
// objects or reusing the object as the first part via server-side copy.
func (w *writer) mergeSmallTail() error {
	if len(w.parts) == 0 || aws.Int64Value(w.parts[len(w.parts)-1].Size) >= minChunkSize {
		return nil
	}

	completed := make([]*s3.CompletedPart, len(w.parts))
	for i, part := range w.parts {
		completed[i] = &s3.CompletedPart{ETag: part.ETag, PartNumber: part.PartNumber}
	}
	_, err := w.driver.s3.CompleteMultipartUploadWithContext(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.driver.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return err
	}

	resp, err := w.driver.s3.CreateMultipartUploadWithContext(w.ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(w.driver.bucket),
		Key:    aws.String(w.key),
	})
	if err != nil {
		return err
	}
	w.uploadID = aws.StringValue(resp.UploadId)
	w.parts = nil

	if w.size < minChunkSize {
		obj, err := w.driver.s3.GetObjectWithContext(w.ctx, &s3.GetObjectInput{
			Bucket: aws.String(w.driver.bucket),
			Key:    aws.String(w.key),
		})
		if err != nil {
			return err
		}
		defer obj.Body.Close()

		data, err := ioutil.ReadAll(obj.Body)
		if err != nil {
			return err
		}
		w.buf = append(data, w.buf...)
		return nil
	}

	copyResp, err := w.driver.s3.UploadPartCopyWithContext(w.ctx, &s3.UploadPartCopyInput{
		Bucket:     aws.String(w.driver.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int64(1),
		CopySource: aws.String(w.driver.bucket + "/" + w.key),
	})
	if err != nil {
		return err
	}
	w.parts = []*s3.Part{{
		ETag:       copyResp.CopyPartResult.ETag,
		PartNumber: aws.Int64(1),
		Size:       aws.Int64(w.size),
	}}
	return nil
}

func (w *writer) flushPart(data []byte) error {
	partNumber := int64(len(w.parts) + 1)
	resp, err := w.driver.s3.UploadPartWithContext(w.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.driver.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int64(partNumber),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return err
	}

	w.parts = append(w.parts, &s3.Part{
		ETag:       resp.ETag,
		PartNumber: aws.Int64(partNumber),
		Size:       aws.Int64(int64(len(data))),
	})
	return nil
}

func (w *writer) Size() int64 {
	return w.size
}

// Close flushes any buffered bytes as a part but leaves the multipart upload pending so a later
// Writer call can resume it.
func (w *writer) Close() error {
	if w.closed {
		return fmt.Errorf("already closed")
	}
	w.closed = true

	if w.cancelled || w.committed {
		return nil
	}
	if len(w.buf) > 0 {
		if err := w.flushPart(w.buf); err != nil {
			return err
		}
		w.buf = nil
	}
	return nil
}

func (w *writer) Cancel() error {
	if w.closed {
		return fmt.Errorf("already closed")
	}
	w.cancelled = true

	_, err := w.driver.s3.AbortMultipartUploadWithContext(w.ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.driver.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	return err
}

func (w *writer) Commit() error {
	if w.closed {
		return fmt.Errorf("already closed")
	} else if w.committed {
		return fmt.Errorf("already committed")
	} else if w.cancelled {
		return fmt.Errorf("already cancelled")
	}

	if err := w.mergeSmallTail(); err != nil {
		return err
	}

	if len(w.buf) > 0 {
		if err := w.flushPart(w.buf); err != nil {
			return err
		}
		w.buf = nil
	}

	// zero-byte objects still need one (empty) part to complete
	if len(w.parts) == 0 {
		if err := w.flushPart(nil); err != nil {
			return err
		}
	}

	completed := make([]*s3.CompletedPart, len(w.parts))
	for i, part := range w.parts {
		completed[i] = &s3.CompletedPart{ETag: part.ETag, PartNumber: part.PartNumber}
	}
	sort.Slice(completed, func(i, j int) bool {
		return aws.Int64Value(completed[i].PartNumber) < aws.Int64Value(completed[j].PartNumber)
	})

	_, err := w.driver.s3.CompleteMultipartUploadWithContext(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.driver.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return err
	}

	w.committed = true
	return nil
}
