// Package s3 implements the object-store backend. Container paths map
// onto object keys under a configurable prefix; directories exist as
// zero-byte marker objects with a trailing slash, plus whatever the
// key structure implies.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/containerfs/containerfs/pkg/errors"
	"github.com/containerfs/containerfs/pkg/types"
	"github.com/containerfs/containerfs/pkg/utils"
)

// TypeName is the descriptor type tag for this backend.
const TypeName = "s3"

// Backend serves a container from an S3 bucket.
type Backend struct {
	client   Client
	bucket   string
	prefix   string // "" or "some/prefix/" with trailing slash
	readOnly bool
}

// New creates an S3 backend from descriptor params. Recognized params:
// bucket (required), prefix, region, endpoint, access-key, secret-key.
func New(ctx context.Context, params map[string]string, readOnly bool) (*Backend, error) {
	client, err := newClient(ctx, params)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, params, readOnly)
}

// NewWithClient creates an S3 backend around an existing client.
func NewWithClient(client Client, params map[string]string, readOnly bool) (*Backend, error) {
	bucket := params["bucket"]
	if bucket == "" {
		return nil, errors.InvalidConfig("s3 backend requires a bucket param")
	}

	prefix := strings.Trim(params["prefix"], "/")
	if prefix != "" {
		if err := utils.ValidateRelPath(prefix); err != nil {
			return nil, errors.InvalidConfig(err.Error())
		}
		prefix += "/"
	}
	return &Backend{client: client, bucket: bucket, prefix: prefix, readOnly: readOnly}, nil
}

// Type returns the backend variant tag.
func (b *Backend) Type() string { return TypeName }

// ReadOnly reports whether mutating operations are rejected.
func (b *Backend) ReadOnly() bool { return b.readOnly }

// RequestMount verifies the bucket is reachable with the configured
// credentials.
func (b *Backend) RequestMount(ctx context.Context) error {
	_, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return errors.BackendIO("", fmt.Errorf("bucket %s not reachable: %w", b.bucket, err))
	}
	return nil
}

func (b *Backend) RequestUnmount(ctx context.Context) error { return nil }

// key maps a container-relative path to an object key.
func (b *Backend) key(path string) string {
	return b.prefix + path
}

// dirKey maps a container-relative path to its directory prefix.
func (b *Backend) dirKey(path string) string {
	if path == "" {
		return b.prefix
	}
	return b.prefix + path + "/"
}

// Stat returns metadata for a path inside the container. A path is a
// directory when its marker object exists or any key lives under it.
func (b *Backend) Stat(ctx context.Context, path string) (types.Attr, error) {
	if err := utils.ValidateRelPath(path); err != nil {
		return types.Attr{}, errors.InvalidConfig(err.Error())
	}
	if path == "" {
		return types.DirAttr(), nil
	}

	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	if err == nil {
		return fileAttr(head.ContentLength, head.LastModified), nil
	}
	if !isNotFound(err) {
		return types.Attr{}, errors.BackendIO(path, err)
	}

	isDir, err := b.dirExists(ctx, path)
	if err != nil {
		return types.Attr{}, errors.BackendIO(path, err)
	}
	if isDir {
		return types.DirAttr(), nil
	}
	return types.Attr{}, errors.NotFound(path)
}

func (b *Backend) dirExists(ctx context.Context, path string) (bool, error) {
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.dirKey(path)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return out.KeyCount != nil && *out.KeyCount > 0, nil
}

// ReadDir lists a directory inside the container using delimiter-based
// listing, so only the immediate children come back.
func (b *Backend) ReadDir(ctx context.Context, path string) ([]types.DirEntry, error) {
	if err := utils.ValidateRelPath(path); err != nil {
		return nil, errors.InvalidConfig(err.Error())
	}
	dirPrefix := b.dirKey(path)

	var entries []types.DirEntry
	seen := false
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(dirPrefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errors.BackendIO(path, err)
		}

		for _, obj := range out.Contents {
			seen = true
			name := strings.TrimPrefix(aws.ToString(obj.Key), dirPrefix)
			if name == "" {
				continue // the directory's own marker object
			}
			entries = append(entries, types.DirEntry{Name: name, Mode: 0o644})
		}
		for _, cp := range out.CommonPrefixes {
			seen = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), dirPrefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, types.DirEntry{Name: name, Mode: os.ModeDir | 0o755})
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}

	if !seen && path != "" {
		return nil, errors.NotFound(path)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Read fetches a byte range of an object.
func (b *Backend) Read(ctx context.Context, path string, offset int64, dest []byte) (int, error) {
	if len(dest) == 0 {
		return 0, nil
	}
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+int64(len(dest))-1)

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, errors.NotFound(path)
		}
		if isInvalidRange(err) {
			return 0, nil // offset at or past EOF
		}
		return 0, errors.BackendIO(path, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, dest)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return n, nil
	}
	if err != nil {
		return n, errors.BackendIO(path, err)
	}
	return n, nil
}

// Write patches a byte range via read-modify-write; S3 objects are
// immutable, so the whole object is rewritten.
func (b *Backend) Write(ctx context.Context, path string, offset int64, data []byte) (int, error) {
	if b.readOnly {
		return 0, errors.ReadOnly(path)
	}

	current, err := b.getAll(ctx, path)
	if err != nil {
		return 0, err
	}

	end := offset + int64(len(data))
	if int64(len(current)) < end {
		grown := make([]byte, end)
		copy(grown, current)
		current = grown
	}
	copy(current[offset:], data)

	if err := b.put(ctx, b.key(path), current); err != nil {
		return 0, errors.BackendIO(path, err)
	}
	return len(data), nil
}

// Truncate resizes an object, zero-filling on extension.
func (b *Backend) Truncate(ctx context.Context, path string, size int64) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}

	current, err := b.getAll(ctx, path)
	if err != nil {
		return err
	}
	resized := make([]byte, size)
	copy(resized, current)

	if err := b.put(ctx, b.key(path), resized); err != nil {
		return errors.BackendIO(path, err)
	}
	return nil
}

// Create writes an empty object.
func (b *Backend) Create(ctx context.Context, path string) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	if err := b.put(ctx, b.key(path), nil); err != nil {
		return errors.BackendIO(path, err)
	}
	return nil
}

// Mkdir writes a zero-byte directory marker.
func (b *Backend) Mkdir(ctx context.Context, path string) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	if err := b.put(ctx, b.dirKey(path), nil); err != nil {
		return errors.BackendIO(path, err)
	}
	return nil
}

// Unlink removes an object.
func (b *Backend) Unlink(ctx context.Context, path string) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}

	// S3 deletes are idempotent; probe first so a missing file is
	// reported as such.
	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	}); err != nil {
		if isNotFound(err) {
			return errors.NotFound(path)
		}
		return errors.BackendIO(path, err)
	}

	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	}); err != nil {
		return errors.BackendIO(path, err)
	}
	return nil
}

// Rmdir removes an empty directory (its marker object).
func (b *Backend) Rmdir(ctx context.Context, path string) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	dirPrefix := b.dirKey(path)

	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(dirPrefix),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return errors.BackendIO(path, err)
	}
	if out.KeyCount == nil || *out.KeyCount == 0 {
		return errors.NotFound(path)
	}
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) != dirPrefix {
			return errors.NewError(errors.ErrCodeBackendIO, "directory not empty").WithPath(path)
		}
	}

	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(dirPrefix),
	}); err != nil {
		return errors.BackendIO(path, err)
	}
	return nil
}

// Rename moves a single object via copy-and-delete. Directory renames
// would need a recursive copy and are not supported.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	if b.readOnly {
		return errors.ReadOnly(oldPath)
	}

	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(oldPath)),
	}); err != nil {
		if !isNotFound(err) {
			return errors.BackendIO(oldPath, err)
		}
		isDir, dirErr := b.dirExists(ctx, oldPath)
		if dirErr != nil {
			return errors.BackendIO(oldPath, dirErr)
		}
		if isDir {
			return errors.Unsupported("rename directory on s3")
		}
		return errors.NotFound(oldPath)
	}

	if _, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(b.bucket + "/" + b.key(oldPath)),
		Key:        aws.String(b.key(newPath)),
	}); err != nil {
		return errors.BackendIO(oldPath, err)
	}
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(oldPath)),
	}); err != nil {
		return errors.BackendIO(oldPath, err)
	}
	return nil
}

func (b *Backend) getAll(ctx context.Context, path string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.NotFound(path)
		}
		return nil, errors.BackendIO(path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.BackendIO(path, err)
	}
	return data, nil
}

func (b *Backend) put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func fileAttr(contentLength *int64, lastModified *time.Time) types.Attr {
	attr := types.FileAttr(aws.ToInt64(contentLength), time.Time{})
	if lastModified != nil {
		attr.ModTime = *lastModified
	}
	return attr
}

// isNotFound matches the two shapes S3 uses for a missing object:
// NoSuchKey from GetObject and a bare 404 NotFound from HeadObject.
func isNotFound(err error) bool {
	if isErrorType[*s3types.NoSuchKey](err) || isErrorType[*s3types.NotFound](err) {
		return true
	}
	var apiErr smithy.APIError
	if asError(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

func isInvalidRange(err error) bool {
	var apiErr smithy.APIError
	return asError(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange"
}

var _ types.Backend = (*Backend)(nil)
