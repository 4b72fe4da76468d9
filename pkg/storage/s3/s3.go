// Package s3 moves IXF inputs and converted outputs between S3 and the
// local disk. The parser needs random access, so objects are staged in
// local files rather than streamed.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

// Scheme is the URI scheme handled by this package.
const Scheme = "s3://"

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	OperationTimeout time.Duration
	TransferTimeout  time.Duration

	// PartSize is the multipart upload part size in bytes (minimum 5MB).
	PartSize int64
}

// DefaultConfig returns sensible defaults for S3 configuration.
func DefaultConfig(region string) Config {
	return Config{
		Region:           region,
		OperationTimeout: 30 * time.Second,
		TransferTimeout:  30 * time.Minute,
		PartSize:         5 * 1024 * 1024,
	}
}

// API is the subset of the S3 client used here.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Client provides S3 operations.
type Client struct {
	cfg Config
	api API
}

// NewClient creates a client from the default AWS credential chain.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, ixferrors.Wrap(err, ixferrors.CodeInvalidConfig, "load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewWithAPI(cfg, client), nil
}

// NewWithAPI wraps an existing S3 API implementation.
func NewWithAPI(cfg Config, api API) *Client {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 30 * time.Minute
	}
	if cfg.PartSize < 5*1024*1024 {
		cfg.PartSize = 5 * 1024 * 1024
	}
	return &Client{cfg: cfg, api: api}
}

// IsURI reports whether s names an S3 object.
func IsURI(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseURI splits s3://bucket/key into bucket and key. The key may be
// empty or a prefix.
func ParseURI(uri string) (bucket, key string, err error) {
	if !IsURI(uri) {
		return "", "", ixferrors.Newf(ixferrors.CodeInvalidConfig, "not an s3 uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, Scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", ixferrors.Newf(ixferrors.CodeInvalidConfig, "missing bucket in %q", uri)
	}
	return bucket, key, nil
}

// Join builds an s3 uri from a bucket and key.
func Join(bucket, key string) string {
	return Scheme + bucket + "/" + strings.TrimPrefix(key, "/")
}

// --- Read Operations ---

// Reader returns a reader for the given object and its size.
func (c *Client) Reader(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TransferTimeout)

	output, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		return nil, 0, objectError(err, bucket, key)
	}

	// Wrap to cancel context on close
	return &cancelOnCloseReader{
		ReadCloser: output.Body,
		cancel:     cancel,
	}, aws.ToInt64(output.ContentLength), nil
}

type cancelOnCloseReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnCloseReader) Close() error {
	r.cancel()
	return r.ReadCloser.Close()
}

// Download copies the object to a new file in dir and returns its path.
// The caller removes the file.
func (c *Client) Download(ctx context.Context, uri, dir string) (string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	body, _, err := c.Reader(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	f, err := os.CreateTemp(dir, "db2ixf-*-"+filepath.Base(key))
	if err != nil {
		return "", ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "create download file")
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", ixferrors.Wrap(err, ixferrors.CodeFileNotFound, "download object").
			WithContext("uri", uri)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "close download file")
	}
	return f.Name(), nil
}

// --- Write Operations ---

// Writer returns a writer that uploads to the object on Close.
func (c *Client) Writer(ctx context.Context, bucket, key string, metadata map[string]string) io.WriteCloser {
	return &s3Writer{
		ctx:      ctx,
		api:      c.api,
		bucket:   bucket,
		key:      key,
		cfg:      c.cfg,
		metadata: metadata,
		buf:      make([]byte, 0, c.cfg.PartSize),
	}
}

// Upload copies the local file at path to uri and returns the number of
// bytes sent.
func (c *Client) Upload(ctx context.Context, path, uri string, metadata map[string]string) (int64, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return 0, err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		key += filepath.Base(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, ixferrors.Wrap(err, ixferrors.CodeFileNotFound, "open upload source")
	}
	defer f.Close()

	w := c.Writer(ctx, bucket, key, metadata)
	n, err := io.Copy(w, f)
	if err != nil {
		w.(*s3Writer).abort()
		return n, ixferrors.Wrap(err, ixferrors.CodeUploadFailed, "upload").WithContext("uri", uri)
	}
	if err := w.Close(); err != nil {
		return n, ixferrors.Wrap(err, ixferrors.CodeUploadFailed, "upload").WithContext("uri", uri)
	}
	return n, nil
}

// s3Writer implements io.WriteCloser for S3 uploads. Small objects go
// up with one PUT; larger ones switch to multipart.
type s3Writer struct {
	ctx      context.Context
	api      API
	bucket   string
	key      string
	cfg      Config
	metadata map[string]string

	mu       sync.Mutex
	buf      []byte
	parts    []types.CompletedPart
	uploadID string
	partNum  int32
	closed   bool
	err      error
}

func (w *s3Writer) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.New("writer is closed")
	}
	if w.err != nil {
		return 0, w.err
	}

	w.buf = append(w.buf, p...)

	for int64(len(w.buf)) >= w.cfg.PartSize {
		if err := w.uploadPartLocked(w.buf[:w.cfg.PartSize]); err != nil {
			w.err = err
			return len(p), err
		}
		w.buf = w.buf[w.cfg.PartSize:]
	}

	return len(p), nil
}

func (w *s3Writer) uploadPartLocked(data []byte) error {
	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.TransferTimeout)
	defer cancel()

	if w.uploadID == "" {
		output, err := w.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:   aws.String(w.bucket),
			Key:      aws.String(w.key),
			Metadata: w.metadata,
		})
		if err != nil {
			return fmt.Errorf("create multipart upload: %w", err)
		}
		w.uploadID = aws.ToString(output.UploadId)
	}

	w.partNum++
	output, err := w.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(w.partNum),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", w.partNum, err)
	}

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       output.ETag,
		PartNumber: aws.Int32(w.partNum),
	})
	return nil
}

func (w *s3Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.err != nil {
		w.abortLocked()
		return w.err
	}

	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.TransferTimeout)
	defer cancel()

	if w.uploadID == "" {
		_, err := w.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:   aws.String(w.bucket),
			Key:      aws.String(w.key),
			Body:     bytes.NewReader(w.buf),
			Metadata: w.metadata,
		})
		return err
	}

	if len(w.buf) > 0 {
		if err := w.uploadPartLocked(w.buf); err != nil {
			w.abortLocked()
			return err
		}
	}

	_, err := w.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(w.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: w.parts,
		},
	})
	if err != nil {
		w.abortLocked()
	}
	return err
}

func (w *s3Writer) abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.abortLocked()
}

// abortLocked drops uploaded parts so no partial object is billed.
func (w *s3Writer) abortLocked() {
	if w.uploadID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), w.cfg.OperationTimeout)
	defer cancel()
	w.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	w.uploadID = ""
}

// --- Metadata Operations ---

// ObjectInfo holds S3 object metadata.
type ObjectInfo struct {
	Bucket       string
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// URI returns the s3 uri of the object.
func (o ObjectInfo) URI() string { return Join(o.Bucket, o.Key) }

// Stat returns object info for uri.
func (c *Client) Stat(ctx context.Context, uri string) (*ObjectInfo, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	output, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, objectError(err, bucket, key)
	}

	return &ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         aws.ToInt64(output.ContentLength),
		LastModified: aws.ToTime(output.LastModified),
		ETag:         aws.ToString(output.ETag),
	}, nil
}

// --- List Operations ---

// ListIXF lists the .ixf objects under the prefix of uri.
func (c *Client) ListIXF(ctx context.Context, uri string) ([]ObjectInfo, error) {
	bucket, prefix, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	var objects []ObjectInfo
	var continuationToken *string
	for {
		output, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, ixferrors.Wrap(err, ixferrors.CodeFileNotFound, "list objects").
				WithContext("uri", uri)
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			if !strings.EqualFold(filepath.Ext(key), ".ixf") {
				continue
			}
			objects = append(objects, ObjectInfo{
				Bucket:       bucket,
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
			})
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}
	return objects, nil
}

func objectError(err error, bucket, key string) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return ixferrors.FileNotFound(Join(bucket, key))
	}
	return ixferrors.Wrap(err, ixferrors.CodeFilePermission, "access object").
		WithContext("uri", Join(bucket, key))
}
