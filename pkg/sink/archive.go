// Package sink delivers processed batches to their destination.
package sink

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tstromberg/stocktag/pkg/stocktag"
	"k8s.io/klog/v2"
)

// ArchiveDateFormat names generated archives.
var ArchiveDateFormat = "20060102-150405"

// Archive packages a batch into a single zip file.
type Archive struct {
	// Path is the zip to write. A Path not ending in .zip is a directory
	// that receives a new ArchiveName-named zip per batch.
	Path string
}

func (a *Archive) Name() string { return "archive" }

// Deliver implements stocktag.Sink, returning the archive path.
func (a *Archive) Deliver(ctx context.Context, items []stocktag.ProcessedItem) (string, error) {
	dest := a.Path
	if !strings.EqualFold(filepath.Ext(dest), ".zip") {
		dest = filepath.Join(dest, ArchiveName(time.Now()))
	}
	if err := writeZip(ctx, dest, items); err != nil {
		return "", transportErr(a.Name(), 0, len(items), err)
	}
	return dest, nil
}

// ArchiveName is the default archive filename for a batch delivered at t.
func ArchiveName(t time.Time) string {
	return fmt.Sprintf("stocktag-%s.zip", t.Format(ArchiveDateFormat))
}

// writeZip writes items into a zip at dest. dest only appears once the archive is complete.
func writeZip(ctx context.Context, dest string, items []stocktag.ProcessedItem) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*.zip")
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	for _, i := range items {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return err
		}
		if err := addFile(zw, i.Path); err != nil {
			tmp.Close()
			return fmt.Errorf("add %s: %w", i.Path, err)
		}
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("close zip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	klog.Infof("wrote %d files to %s", len(items), dest)
	return os.Rename(tmp.Name(), dest)
}

func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	h, err := zip.FileInfoHeader(st)
	if err != nil {
		return err
	}
	h.Name = filepath.Base(path)
	h.Method = zip.Deflate

	w, err := zw.CreateHeader(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func transportErr(sink string, delivered, total int, err error) error {
	return &stocktag.TransportError{Sink: sink, Delivered: delivered, Total: total, Err: err}
}
