package sink

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/tstromberg/stocktag/pkg/stocktag"
)

func items(t *testing.T, names ...string) []stocktag.ProcessedItem {
	t.Helper()
	dir := t.TempDir()
	var ps []stocktag.ProcessedItem
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("contents of "+n), 0o600); err != nil {
			t.Fatal(err)
		}
		ps = append(ps, stocktag.ProcessedItem{Path: p})
	}
	return ps
}

func TestArchive(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out", "batch.zip")
	a := &Archive{Path: dest}

	got, err := a.Deliver(context.Background(), items(t, "Red Car.jpg", "Red Car_2.jpg"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got != dest {
		t.Errorf("Deliver = %q, want %q", got, dest)
	}

	zr, err := zip.OpenReader(dest)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()

	contents := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		bs, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		contents[f.Name] = string(bs)
	}

	want := map[string]string{
		"Red Car.jpg":   "contents of Red Car.jpg",
		"Red Car_2.jpg": "contents of Red Car_2.jpg",
	}
	if diff := cmp.Diff(want, contents); diff != "" {
		t.Errorf("zip contents mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(dest))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("output dir has %d entries, want only the archive", len(entries))
	}
}

func TestArchiveMissingFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "batch.zip")
	ps := items(t, "a.jpg")
	ps = append(ps, stocktag.ProcessedItem{Path: filepath.Join(t.TempDir(), "gone.jpg")})

	_, err := (&Archive{Path: dest}).Deliver(context.Background(), ps)
	if !errors.Is(err, stocktag.ErrTransport) {
		t.Fatalf("Deliver = %v, want ErrTransport", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("partial archive left at %s", dest)
	}
}

func TestArchiveDirectory(t *testing.T) {
	dir := t.TempDir()
	got, err := (&Archive{Path: dir}).Deliver(context.Background(), items(t, "a.jpg"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if filepath.Dir(got) != dir || !strings.HasPrefix(filepath.Base(got), "stocktag-") || filepath.Ext(got) != ".zip" {
		t.Errorf("Deliver = %q, want a stocktag-*.zip in %s", got, dir)
	}
	if _, err := os.Stat(got); err != nil {
		t.Errorf("archive missing: %v", err)
	}
}

func TestArchiveName(t *testing.T) {
	got := ArchiveName(time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC))
	if got != "stocktag-20240501-130405.zip" {
		t.Errorf("ArchiveName = %q", got)
	}
}

func TestDir(t *testing.T) {
	dest := t.TempDir()
	if err := os.WriteFile(filepath.Join(dest, "Sunset.jpg"), []byte("older batch"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := (&Dir{Path: dest}).Deliver(context.Background(), items(t, "Sunset.jpg", "Beach.jpg")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	entries, err := os.ReadDir(dest)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	sort.Strings(got)
	if diff := cmp.Diff([]string{"Beach.jpg", "Sunset.jpg", "Sunset_2.jpg"}, got); diff != "" {
		t.Errorf("dir mismatch (-want +got):\n%s", diff)
	}

	bs, err := os.ReadFile(filepath.Join(dest, "Sunset.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if string(bs) != "older batch" {
		t.Error("existing file was overwritten")
	}
}

type memFile struct {
	bytes.Buffer
	name string
	fs   *memFS
}

func (f *memFile) Close() error {
	f.fs.files[f.name] = f.String()
	return nil
}

// memFS fails every Create after the first failAfter files.
type memFS struct {
	dirs      []string
	files     map[string]string
	failAfter int
}

func (m *memFS) MkdirAll(dir string) error {
	m.dirs = append(m.dirs, dir)
	return nil
}

func (m *memFS) Create(p string) (io.WriteCloser, error) {
	if m.failAfter >= 0 && len(m.files) >= m.failAfter {
		return nil, errors.New("connection lost")
	}
	return &memFile{name: p, fs: m}, nil
}

func TestSFTPUpload(t *testing.T) {
	fs := &memFS{files: map[string]string{}, failAfter: -1}
	var progress []string
	s := &SFTP{RemoteDir: "/incoming", OnProgress: func(done, total int, name string) {
		progress = append(progress, name)
	}}

	if err := s.upload(context.Background(), fs, items(t, "a.jpg", "b.jpg")); err != nil {
		t.Fatalf("upload: %v", err)
	}

	want := map[string]string{
		"/incoming/a.jpg": "contents of a.jpg",
		"/incoming/b.jpg": "contents of b.jpg",
	}
	if diff := cmp.Diff(want, fs.files); diff != "" {
		t.Errorf("remote files mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a.jpg", "b.jpg"}, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestSFTPPartialFailure(t *testing.T) {
	fs := &memFS{files: map[string]string{}, failAfter: 5}
	var names []string
	for i := 0; i < 10; i++ {
		names = append(names, string(rune('a'+i))+".jpg")
	}

	err := (&SFTP{}).upload(context.Background(), fs, items(t, names...))
	var te *stocktag.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("upload = %v, want *TransportError", err)
	}
	if te.Delivered != 5 || te.Total != 10 {
		t.Errorf("delivered %d of %d, want 5 of 10", te.Delivered, te.Total)
	}
	if !strings.Contains(err.Error(), "f.jpg") {
		t.Errorf("error %q does not name the failed file", err)
	}
	if diff := cmp.Diff([]string{"/"}, fs.dirs); diff != "" {
		t.Errorf("remote dir mismatch (-want +got):\n%s", diff)
	}
}

func TestSFTPHostKeyCallback(t *testing.T) {
	s := &SFTP{Host: "example.com", KnownHosts: filepath.Join(t.TempDir(), "missing")}
	if _, err := s.hostKeyCallback(); err == nil {
		t.Error("hostKeyCallback succeeded with missing known_hosts")
	}

	s.Insecure = true
	if _, err := s.hostKeyCallback(); err != nil {
		t.Errorf("insecure hostKeyCallback: %v", err)
	}
}

func TestS3Key(t *testing.T) {
	tests := []struct{ prefix, want string }{
		{"", "x.zip"},
		{"uploads", "uploads/x.zip"},
		{"/uploads/2024/", "uploads/2024/x.zip"},
	}
	for _, tc := range tests {
		if got := (&S3{Prefix: tc.prefix}).key("x.zip"); got != tc.want {
			t.Errorf("key with prefix %q = %q, want %q", tc.prefix, got, tc.want)
		}
	}
}

func TestS3PublicLink(t *testing.T) {
	s := &S3{PublicURL: "https://cdn.example.com/bucket/"}
	got, err := s.link(context.Background(), "uploads/x.zip")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if got != "https://cdn.example.com/bucket/uploads/x.zip" {
		t.Errorf("link = %q", got)
	}
}

func TestNewS3ClientValidation(t *testing.T) {
	if _, err := NewS3Client(S3Config{}); err == nil {
		t.Error("NewS3Client accepted empty endpoint")
	}
	if _, err := NewS3Client(S3Config{Endpoint: "localhost:9000"}); err == nil {
		t.Error("NewS3Client accepted missing credentials")
	}
	if _, err := NewS3Client(S3Config{Endpoint: "https://s3.example.com", AccessKeyID: "a", SecretAccessKey: "b"}); err != nil {
		t.Errorf("NewS3Client: %v", err)
	}
}
