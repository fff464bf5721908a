package contentstore

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MinioStore stores blobs in an S3-compatible bucket, one object per content
// address.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// MinioOptions configures the S3 endpoint.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioStore connects to the endpoint and ensures the bucket exists.
func NewMinioStore(ctx context.Context, opts MinioOptions, logger *zap.Logger) (*MinioStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("content store bucket is required")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check bucket")
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrap(err, "failed to create bucket")
		}
	}

	return &MinioStore{
		client: client,
		bucket: opts.Bucket,
		logger: logger.Named("contentstore"),
	}, nil
}

func (s *MinioStore) Put(ctx context.Context, data []byte) (string, error) {
	hash := HashBytes(data)

	_, err := s.client.StatObject(ctx, s.bucket, objectKey(hash), minio.StatObjectOptions{})
	if err == nil {
		return hash, nil
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectKey(hash),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", errors.Wrap(err, "failed to put object")
	}

	s.logger.Debug("Blob stored", zap.String("hash", hash), zap.Int("size", len(data)))
	return hash, nil
}

func (s *MinioStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, ErrNotFound
	}

	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(hash), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get object")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to read object")
	}
	return data, nil
}

func objectKey(hash string) string {
	return hash[:2] + "/" + hash
}
