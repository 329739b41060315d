package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tstromberg/stocktag/pkg/stocktag"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"k8s.io/klog/v2"
)

// Drive uploads a batch archive to Google Drive and shares it with anyone holding the link.
type Drive struct {
	Service *drive.Service
	// Folder is an optional parent folder ID.
	Folder  string
	TempDir string
}

// NewDrive returns a Drive sink authenticated with a service account or OAuth credentials file.
func NewDrive(ctx context.Context, credentialsFile string) (*Drive, error) {
	svc, err := drive.NewService(ctx, option.WithCredentialsFile(credentialsFile), option.WithScopes(drive.DriveFileScope))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return &Drive{Service: svc}, nil
}

func (d *Drive) Name() string { return "drive" }

// Deliver implements stocktag.Sink, returning the archive's web link.
func (d *Drive) Deliver(ctx context.Context, items []stocktag.ProcessedItem) (string, error) {
	dir, err := os.MkdirTemp(d.TempDir, "stocktag-drive-")
	if err != nil {
		return "", transportErr(d.Name(), 0, len(items), err)
	}
	defer os.RemoveAll(dir)

	name := ArchiveName(time.Now())
	zp := filepath.Join(dir, name)
	if err := writeZip(ctx, zp, items); err != nil {
		return "", transportErr(d.Name(), 0, len(items), err)
	}

	f, err := os.Open(zp)
	if err != nil {
		return "", transportErr(d.Name(), 0, len(items), err)
	}
	defer f.Close()

	meta := &drive.File{Name: name, MimeType: "application/zip"}
	if d.Folder != "" {
		meta.Parents = []string{d.Folder}
	}

	klog.Infof("uploading %s to Google Drive ...", name)
	created, err := d.Service.Files.Create(meta).Media(f).Fields("id", "webViewLink").Context(ctx).Do()
	if err != nil {
		return "", transportErr(d.Name(), 0, len(items), fmt.Errorf("create: %w", err))
	}

	perm := &drive.Permission{Type: "anyone", Role: "reader"}
	if _, err := d.Service.Permissions.Create(created.Id, perm).Context(ctx).Do(); err != nil {
		return "", transportErr(d.Name(), len(items), len(items), fmt.Errorf("share %s: %w", created.Id, err))
	}

	klog.Infof("uploaded %s: %s", name, created.WebViewLink)
	return created.WebViewLink, nil
}
