package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// MessageProducer publishes keyed messages to a topic-based broker.
type MessageProducer interface {
	Send(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

// ArchiveResult summarizes one archive run.
type ArchiveResult struct {
	Uploaded int
	Skipped  int
	Removed  int
	Bytes    int64
}

// TickArchiver ships completed tick files to cold storage.
type TickArchiver interface {
	ArchiveTicks(ctx context.Context, before time.Time) (ArchiveResult, error)
}
