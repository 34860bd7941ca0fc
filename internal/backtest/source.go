// Package backtest replays recorded tick files through the execution
// simulator and a strategy.
package backtest

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// Source lists and opens the tick files recorded for one event kind. Files
// are returned oldest first.
type Source interface {
	Files(ctx context.Context, kind domain.EventKind) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DirSource reads the tick logger's directory layout: the active file
// <Root>/<Kind>/<Venue> and its rotated backups <Venue>-<timestamp>[.gz].
type DirSource struct {
	Root  string
	Venue string
}

var _ Source = DirSource{}

// Files returns the rotated backups in timestamp order followed by the
// active file. A missing kind directory yields no files.
func (d DirSource) Files(_ context.Context, kind domain.EventKind) ([]string, error) {
	dir := filepath.Join(d.Root, string(kind))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backtest: read %s: %w", dir, err)
	}

	var backups []string
	active := ""
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch name := e.Name(); {
		case name == d.Venue:
			active = filepath.Join(dir, name)
		case isBackup(name, d.Venue):
			backups = append(backups, filepath.Join(dir, name))
		}
	}
	sort.Strings(backups)
	if active != "" {
		backups = append(backups, active)
	}
	return backups, nil
}

// Open opens a local tick file.
func (d DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("backtest: open %s: %w", name, err)
	}
	return f, nil
}

// BlobSource reads tick files archived to object storage under
// <Prefix>/<Kind>/.
type BlobSource struct {
	Reader domain.BlobReader
	Prefix string
	Venue  string
}

var _ Source = BlobSource{}

// Files lists the archived backups for kind in timestamp order.
func (b BlobSource) Files(ctx context.Context, kind domain.EventKind) ([]string, error) {
	prefix := string(kind) + "/"
	if p := strings.Trim(b.Prefix, "/"); p != "" {
		prefix = p + "/" + prefix
	}
	infos, err := b.Reader.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("backtest: list %s: %w", prefix, err)
	}
	var keys []string
	for _, info := range infos {
		if isBackup(path.Base(info.Path), b.Venue) {
			keys = append(keys, info.Path)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Open fetches one archived object.
func (b BlobSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := b.Reader.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("backtest: get %s: %w", name, err)
	}
	return rc, nil
}

func isBackup(name, venue string) bool {
	return strings.HasPrefix(name, venue+"-")
}

// gzipReadCloser closes both the decompressor and the underlying file.
type gzipReadCloser struct {
	*gzip.Reader
	under io.Closer
}

func (g gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.under.Close(); err == nil {
		err = cerr
	}
	return err
}

// openDecoded opens name from src, transparently decompressing .gz files.
func openDecoded(ctx context.Context, src Source, name string) (io.ReadCloser, error) {
	rc, err := src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(name, ".gz") {
		return rc, nil
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("backtest: gunzip %s: %w", name, err)
	}
	return gzipReadCloser{Reader: zr, under: rc}, nil
}
