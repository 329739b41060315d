package stocktag

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/barasher/go-exiftool"
)

// fakeStore keeps metadata as JSON in place of the file contents, so a write always
// replaces everything that was there before.
type fakeStore struct {
	mu     sync.Mutex
	writes int
	err    error
}

func (f *fakeStore) WriteMetadata(fms []exiftool.FileMetadata) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range fms {
		f.writes++
		if f.err != nil {
			fms[i].Err = f.err
			continue
		}
		if _, err := os.Stat(fms[i].File); err != nil {
			fms[i].Err = err
			continue
		}
		bs, err := json.Marshal(fms[i].Fields)
		if err != nil {
			fms[i].Err = err
			continue
		}
		if err := os.WriteFile(fms[i].File, bs, 0o600); err != nil {
			fms[i].Err = err
		}
	}
}

func (f *fakeStore) ExtractMetadata(files ...string) []exiftool.FileMetadata {
	fms := []exiftool.FileMetadata{}
	for _, p := range files {
		fm := exiftool.FileMetadata{File: p, Fields: map[string]interface{}{}}
		bs, err := os.ReadFile(p)
		if err != nil {
			fm.Err = err
		} else if json.Unmarshal(bs, &fm.Fields) != nil {
			fm.Fields = map[string]interface{}{}
		}
		fms = append(fms, fm)
	}
	return fms
}

// fakeGen answers title prompts with title and everything else with tags.
type fakeGen struct {
	mu      sync.Mutex
	title   string
	tags    string
	err     error
	prompts []string
	images  [][]byte
}

func (g *fakeGen) Generate(_ context.Context, prompt string, img []byte, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prompts = append(g.prompts, prompt)
	g.images = append(g.images, img)
	if g.err != nil {
		return "", g.err
	}
	if prompt == "title" {
		return g.title, nil
	}
	return g.tags, nil
}

// fakeDescriber returns canned metadata by item name.
type fakeDescriber struct {
	md    map[string]Metadata
	errs  map[string]error
	hook  func(ImageItem)
	calls []string
}

func (d *fakeDescriber) Describe(_ context.Context, i ImageItem) (Metadata, error) {
	d.calls = append(d.calls, i.Name)
	if d.hook != nil {
		d.hook(i)
	}
	if err := d.errs[i.Name]; err != nil {
		return Metadata{Tags: []string{}}, err
	}
	if md, ok := d.md[i.Name]; ok {
		return md, nil
	}
	return Metadata{}, errors.New("no canned metadata")
}

type countingPacer struct{ n int }

func (p *countingPacer) Wait(ctx context.Context) error {
	p.n++
	return ctx.Err()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.CreateTemp(t.TempDir(), "*.jpg")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	bs, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return bs
}

func writeJPEG(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, jpegBytes(t, 16, 16), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}
