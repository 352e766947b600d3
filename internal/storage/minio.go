package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinioConfig holds what is needed to reach a MinIO / S3 compatible endpoint.
type MinioConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	UseSSL   bool
	Bucket   string
}

// objectAPI is the part of *minio.Client the store calls.
type objectAPI interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucket, key string, expires time.Duration, params url.Values) (*url.URL, error)
}

// MinioStore implements Store with a MinIO client.
type MinioStore struct {
	client objectAPI
	bucket string
	now    func() time.Time
}

// NewMinioStore builds a Store from a MinIO client.
func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, now: time.Now}
}

// NewMinio connects to MinIO and makes sure the bucket exists.
func NewMinio(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(fmt.Sprintf("%s:%s", cfg.Host, cfg.Port), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Username, cfg.Password, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists { // 不需要人工去 minio 建立 bucket 直接后端进行操作
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("bucket created")
	}
	return NewMinioStore(client, cfg.Bucket), nil
}

// Put uploads an object to MinIO and presigns a download URL for it.
func (s *MinioStore) Put(ctx context.Context, r io.Reader, size int64, suggestedKey string, opts PutOptions) (PutResult, error) {
	putOpts := minio.PutObjectOptions{
		ContentType: opts.ContentType,
	}
	if opts.Progress != nil {
		putOpts.Progress = newProgressReader(suggestedKey, size, opts.Progress)
	}
	if _, err := s.client.PutObject(ctx, s.bucket, suggestedKey, r, size, putOpts); err != nil {
		return PutResult{}, mapError(err)
	}

	ttl := ClampHandleTTL(opts.HandleTTL)
	issuedAt := s.now()
	handle, err := s.presign(ctx, suggestedKey, ttl, opts.DisplayName)
	if err != nil {
		return PutResult{}, s.discard(ctx, suggestedKey, err)
	}
	return PutResult{
		StorageKey:      suggestedKey,
		RetrievalHandle: handle,
		HandleExpires:   issuedAt.Add(ttl),
	}, nil
}

// IssueRetrievalHandle presigns a fresh URL for an existing object.
func (s *MinioStore) IssueRetrievalHandle(ctx context.Context, key string, ttl time.Duration, displayName string) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return "", mapError(err)
	}
	return s.presign(ctx, key, ClampHandleTTL(ttl), displayName)
}

// Delete removes an object. S3 treats a missing key as a successful delete,
// and a NoSuchKey answer from stricter backends is folded into success too.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err == nil {
		return nil
	}
	mapped := mapError(err)
	if errors.Is(mapped, ErrNotFound) {
		return nil
	}
	return mapped
}

// discard removes an object whose Put cannot complete. When the removal
// fails too, the returned error wraps ErrOrphaned.
func (s *MinioStore) discard(ctx context.Context, key string, cause error) error {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.client.RemoveObject(rmCtx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		log.Warn().Err(err).Str("storage_key", key).Msg("remove unfinished upload failed")
		return fmt.Errorf("%w: %w", ErrOrphaned, cause)
	}
	return cause
}

func (s *MinioStore) presign(ctx context.Context, key string, ttl time.Duration, displayName string) (string, error) {
	values := url.Values{}
	if displayName != "" {
		values.Set("response-content-disposition", fmt.Sprintf(`attachment; filename="%s"`, displayName))
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, values)
	if err != nil {
		return "", mapError(err)
	}
	return u.String(), nil
}

// mapError folds MinIO errors into the package's two error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchObject":
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Key)
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
