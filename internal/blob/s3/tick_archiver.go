package s3blob

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// backupName matches the files the tick writer leaves behind on rotation:
// "<name>-2006-01-02T15-04-05.000", optionally gzip-compressed.
var backupName = regexp.MustCompile(`-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}\.\d{3}(\.gz)?$`)

// TickArchiverConfig configures a TickArchiver.
type TickArchiverConfig struct {
	// Root is the tick log directory (the parent of the per-kind folders).
	Root string
	// Prefix is prepended to every object key.
	Prefix string
	// MultipartThreshold switches to a multipart upload for files at least
	// this large. Zero disables multipart uploads.
	MultipartThreshold int64
	// DeleteLocal removes a file once it is known to be stored remotely.
	DeleteLocal bool
}

// TickArchiver uploads rotated tick files to object storage under
// "<prefix>/<Kind>/<file>". Files already present remotely are skipped, so
// runs can be repeated safely.
type TickArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	cfg    TickArchiverConfig
	logger *slog.Logger
}

var _ domain.TickArchiver = (*TickArchiver)(nil)

// NewTickArchiver creates a TickArchiver.
func NewTickArchiver(writer domain.BlobWriter, reader domain.BlobReader, cfg TickArchiverConfig, logger *slog.Logger) *TickArchiver {
	return &TickArchiver{
		writer: writer,
		reader: reader,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "tick_archiver")),
	}
}

// ArchiveTicks uploads every rotated file last modified before the cutoff.
// The active files are never touched.
func (a *TickArchiver) ArchiveTicks(ctx context.Context, before time.Time) (domain.ArchiveResult, error) {
	var res domain.ArchiveResult

	files, err := rotatedFiles(a.cfg.Root, before)
	if err != nil {
		return res, err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		key := a.objectKey(f.rel)
		exists, err := a.reader.Exists(ctx, key)
		if err != nil {
			return res, fmt.Errorf("s3blob: archive check %s: %w", key, err)
		}

		if exists {
			res.Skipped++
		} else {
			if err := a.upload(ctx, f, key); err != nil {
				return res, err
			}
			res.Uploaded++
			res.Bytes += f.size
			a.logger.Info("tick file archived",
				slog.String("file", f.rel),
				slog.String("key", key),
				slog.Int64("bytes", f.size),
			)
		}

		if a.cfg.DeleteLocal {
			if err := os.Remove(f.abs); err != nil {
				return res, fmt.Errorf("s3blob: remove archived %s: %w", f.abs, err)
			}
			res.Removed++
		}
	}
	return res, nil
}

func (a *TickArchiver) upload(ctx context.Context, f tickFile, key string) error {
	file, err := os.Open(f.abs)
	if err != nil {
		return fmt.Errorf("s3blob: open %s: %w", f.abs, err)
	}
	defer file.Close()

	if a.cfg.MultipartThreshold > 0 && f.size >= a.cfg.MultipartThreshold {
		return a.writer.PutMultipart(ctx, key, file, a.cfg.MultipartThreshold)
	}
	return a.writer.Put(ctx, key, file, contentType(f.rel))
}

func (a *TickArchiver) objectKey(rel string) string {
	rel = filepath.ToSlash(rel)
	if a.cfg.Prefix == "" {
		return rel
	}
	return path.Join(strings.Trim(a.cfg.Prefix, "/"), rel)
}

type tickFile struct {
	abs  string
	rel  string
	size int64
}

// rotatedFiles lists rotated tick files under root modified before cutoff,
// sorted by relative path.
func rotatedFiles(root string, cutoff time.Time) ([]tickFile, error) {
	var files []tickFile
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !backupName.MatchString(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, tickFile{abs: p, rel: rel, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("s3blob: scan %s: %w", root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".gz") {
		return "application/gzip"
	}
	return "application/x-ndjson"
}
