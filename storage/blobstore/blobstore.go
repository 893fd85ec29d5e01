// Package blobstore implements storage.ByteStreamProvider against a
// remote object store (range GET, whole-object PUT on close — no
// append, per spec.md's Non-goal on remote append). Grounded on
// sdk/data/blobstore/writer.go's buffer-then-flush shape, re-purposed
// from erasure-coded blob writes to a plain S3 PutObject/GetObject
// pair via the AWS SDK v2 (vendored by the teacher under
// vendor/github.com/aws/aws-sdk-go-v2).
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	cerrors "github.com/cfaio/cfa/util/errors"
	"github.com/cfaio/cfa/util/log"
)

// Client wraps an S3 client and is shared across Streams opened
// against the same remote endpoint.
type Client struct {
	s3 *s3.Client
}

// NewClient builds a Client from the default AWS config chain
// (environment, shared config file, IMDS), matching how the teacher's
// blobstore client is constructed once per process and handed to every
// Writer (sdk/data/blobstore/writer.go's ClientConfig.Ebsc).
func NewClient(ctx context.Context, endpoint, region string, pathStyle bool) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, cerrors.NewErrorf(cerrors.TransportFailure, "blobstore: load aws config").WithCause(err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})
	return &Client{s3: client}, nil
}

// Stream is a remote-object ByteStreamProvider bound to one
// bucket/key. Writes are buffered in memory (NEW_IN_MEMORY /
// EXISTS_IN_MEMORY in the FileManager's terms) and published as a
// single PutObject on Close.
type Stream struct {
	client *Client
	bucket string
	key    string
	ctx    context.Context

	mu  sync.Mutex
	buf []byte
}

// Open binds a Stream to bucket/key. For reads, existence is checked
// lazily on first Read/ReadAll/Size call so that "object absent" can be
// distinguished from a transport error per spec.md §4.2's fill-value rule.
func Open(ctx context.Context, client *Client, bucket, key string) *Stream {
	return &Stream{client: client, bucket: bucket, key: key, ctx: ctx}
}

func (s *Stream) uri() string { return "s3://" + s.bucket + "/" + s.key }

func (s *Stream) Read(offset int64, length int) ([]byte, error) {
	rng := aws.String(httpRange(offset, length))
	out, err := s.client.s3.GetObject(s.ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  rng,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, cerrors.NewErrorf(cerrors.TransportFailure, "blobstore: object not found").WithURI(s.uri())
		}
		log.LogErrorf("blobstore: GetObject %s range(%v,%v) failed: %v", s.uri(), offset, length, err)
		return nil, cerrors.NewErrorf(cerrors.TransportFailure, "blobstore: range get %s", s.uri()).WithCause(err).WithURI(s.uri())
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *Stream) ReadAll() ([]byte, error) {
	out, err := s.client.s3.GetObject(s.ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, cerrors.NewErrorf(cerrors.TransportFailure, "blobstore: object not found").WithURI(s.uri())
		}
		return nil, cerrors.NewErrorf(cerrors.TransportFailure, "blobstore: get %s", s.uri()).WithCause(err).WithURI(s.uri())
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Seek is a buffer-relative seek; remote objects support no partial
// write semantics beyond the single terminal PutObject.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch whence {
	case io.SeekStart:
		return offset, nil
	case io.SeekEnd:
		return int64(len(s.buf)) + offset, nil
	default:
		return offset, nil
	}
}

func (s *Stream) Remote() bool { return true }
func (s *Stream) URI() string  { return s.uri() }

func (s *Stream) Size() (int64, error) {
	out, err := s.client.s3.HeadObject(s.ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, cerrors.NewErrorf(cerrors.TransportFailure, "blobstore: object not found").WithURI(s.uri())
		}
		return 0, cerrors.NewErrorf(cerrors.TransportFailure, "blobstore: head %s", s.uri()).WithCause(err).WithURI(s.uri())
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

// Close publishes any buffered writes as a single PutObject.
func (s *Stream) Close() error {
	s.mu.Lock()
	payload := s.buf
	s.mu.Unlock()
	if payload == nil {
		return nil
	}
	return s.CloseWithPayload(payload)
}

// CloseWithPayload uploads payload as the object body, matching the
// FileManager's NEW_IN_MEMORY flush-on-close contract (spec.md §4.3).
func (s *Stream) CloseWithPayload(payload []byte) error {
	_, err := s.client.s3.PutObject(s.ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		log.LogErrorf("blobstore: PutObject %s failed: %v", s.uri(), err)
		return cerrors.NewErrorf(cerrors.TransportFailure, "blobstore: put %s", s.uri()).WithCause(err).WithURI(s.uri())
	}
	return nil
}

// Exists reports whether bucket/key is present on the remote store,
// used by the FileManager to resolve a read request straight to
// DoesNotExist without attempting (and failing) a GetObject.
func Exists(ctx context.Context, client *Client, bucket, key string) bool {
	_, err := client.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err == nil
}

// List returns every object key under bucket with the given prefix,
// for the read-only wildcard enumeration of spec.md §6.
func List(ctx context.Context, client *Client, bucket, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := client.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, cerrors.NewErrorf(cerrors.TransportFailure, "blobstore: list %s/%s", bucket, prefix).WithCause(err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

func httpRange(offset int64, length int) string {
	return "bytes=" + strconv.FormatInt(offset, 10) + "-" + strconv.FormatInt(offset+int64(length)-1, 10)
}

func isNotFound(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}
