package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrStorageUnavailable is returned on transport or auth failures of the backend.
	ErrStorageUnavailable = errors.New("storage: backend unavailable")

	// ErrNotFound is returned when the addressed object does not exist.
	ErrNotFound = errors.New("storage: object not found")

	// ErrOrphaned wraps a Put failure that left the object behind in the
	// backend. The caller owns reporting it.
	ErrOrphaned = errors.New("storage: object left behind")
)

// MaxHandleTTL is the longest lifetime an S3 presigned URL may have.
const MaxHandleTTL = 7 * 24 * time.Hour

// ProgressSink receives upload progress. It is observability only.
type ProgressSink interface {
	Progress(key string, transferred, total int64)
}

// PutOptions describes upload options for object storage.
type PutOptions struct {
	ContentType string
	// DisplayName is used for the download file name of the retrieval handle.
	DisplayName string
	HandleTTL   time.Duration
	Progress    ProgressSink
}

// PutResult is what the backend hands back for a stored object.
type PutResult struct {
	StorageKey      string
	RetrievalHandle string
	HandleExpires   time.Time
}

// Store abstracts the object storage backend.
type Store interface {
	// Put stores content under suggestedKey. A failed Put removes what it
	// wrote; when it cannot, the error wraps ErrOrphaned.
	Put(ctx context.Context, r io.Reader, size int64, suggestedKey string, opts PutOptions) (PutResult, error)
	IssueRetrievalHandle(ctx context.Context, key string, ttl time.Duration, displayName string) (string, error)
	// Delete is idempotent: an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// ClampHandleTTL bounds ttl to (0, MaxHandleTTL].
func ClampHandleTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > MaxHandleTTL {
		return MaxHandleTTL
	}
	return ttl
}

// progressReader reports bytes read to a sink as they go by.
type progressReader struct {
	key   string
	total int64
	read  int64
	sink  ProgressSink
}

func newProgressReader(key string, total int64, sink ProgressSink) *progressReader {
	return &progressReader{key: key, total: total, sink: sink}
}

// Read is called by the MinIO client with a buffer sized to the chunk it just sent.
func (p *progressReader) Read(b []byte) (int, error) {
	p.add(int64(len(b)))
	return len(b), nil
}

func (p *progressReader) add(n int64) {
	p.read += n
	p.sink.Progress(p.key, p.read, p.total)
}

// countingReader wraps a source reader and feeds a progressReader.
type countingReader struct {
	src      io.Reader
	progress *progressReader
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.src.Read(b)
	if n > 0 {
		c.progress.add(int64(n))
	}
	return n, err
}
