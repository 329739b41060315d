package stocktag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/barasher/go-exiftool"
	"github.com/otiai10/copy"
	"k8s.io/klog/v2"
)

// maxOrdinal is the highest collision suffix tried before giving up on a name.
const maxOrdinal = 9999

// maxBaseLen keeps generated filenames well under common 255 byte limits.
const maxBaseLen = 200

var (
	titleFields   = []string{"Title", "ObjectName", "Headline", "ImageDescription", "Caption-Abstract", "Description"}
	keywordFields = []string{"Keywords", "Subject"}
)

// MetadataStore reads and writes embedded metadata. *exiftool.Exiftool satisfies it.
type MetadataStore interface {
	ExtractMetadata(files ...string) []exiftool.FileMetadata
	WriteMetadata(fileMetadata []exiftool.FileMetadata)
}

// NewExiftool starts an exiftool process that clears all existing metadata before each write.
func NewExiftool() (*exiftool.Exiftool, error) {
	return exiftool.NewExiftool(exiftool.ClearFieldsBeforeWriting())
}

// Embedder writes metadata into images and renames them by title.
// Names are unique across every Embed call on the same Embedder.
type Embedder struct {
	Store  MetadataStore
	OutDir string

	taken map[string]bool
}

// NewEmbedder returns an Embedder writing into outDir.
func NewEmbedder(store MetadataStore, outDir string) *Embedder {
	return &Embedder{Store: store, OutDir: outDir, taken: map[string]bool{}}
}

// Embed copies the image at i.Path into OutDir with md embedded, returning the new path.
// The source file is never modified.
func (e *Embedder) Embed(i ImageItem, md Metadata) (string, error) {
	if _, err := os.Stat(i.Path); err != nil {
		return "", itemErr(ErrEmbed, i.Name, fmt.Errorf("stat: %w", err))
	}

	ext := filepath.Ext(i.Name)
	if ext == "" {
		ext = ".jpg"
	}

	name, err := e.claim(baseName(i, md), ext)
	if err != nil {
		return "", itemErr(ErrEmbed, i.Name, err)
	}

	dest := filepath.Join(e.OutDir, name)
	staging := filepath.Join(e.OutDir, ".staging-"+name)

	if err := e.write(i.Path, staging, md); err != nil {
		e.release(name)
		if rerr := os.Remove(staging); rerr != nil && !os.IsNotExist(rerr) {
			klog.Warningf("unable to remove %s: %v", staging, rerr)
		}
		return "", itemErr(ErrEmbed, i.Name, err)
	}

	if err := os.Rename(staging, dest); err != nil {
		e.release(name)
		os.Remove(staging)
		return "", itemErr(ErrEmbed, i.Name, fmt.Errorf("rename: %w", err))
	}

	klog.Infof("%s -> %s", i.Name, dest)
	return dest, nil
}

func (e *Embedder) write(src, staging string, md Metadata) error {
	if err := copy.Copy(src, staging); err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	fm := exiftool.FileMetadata{File: staging, Fields: map[string]interface{}{}}
	for _, f := range titleFields {
		fm.SetString(f, md.Title)
	}
	for _, f := range keywordFields {
		fm.SetStrings(f, md.Tags)
	}

	fms := []exiftool.FileMetadata{fm}
	e.Store.WriteMetadata(fms)
	if fms[0].Err != nil {
		return fmt.Errorf("write metadata: %w", fms[0].Err)
	}
	return nil
}

// claim reserves the first free name of the form base+ext, base_2+ext, base_3+ext, ...
func (e *Embedder) claim(base, ext string) (string, error) {
	if e.taken == nil {
		e.taken = map[string]bool{}
	}

	for n := 1; n <= maxOrdinal; n++ {
		name := base + ext
		if n > 1 {
			name = fmt.Sprintf("%s_%d%s", base, n, ext)
		}

		key := strings.ToLower(name)
		if e.taken[key] {
			continue
		}
		if _, err := os.Lstat(filepath.Join(e.OutDir, name)); err == nil {
			klog.V(1).Infof("%s already exists in %s", name, e.OutDir)
			continue
		}

		e.taken[key] = true
		return name, nil
	}
	return "", fmt.Errorf("no free name for %q after %d attempts", base, maxOrdinal)
}

func (e *Embedder) release(name string) {
	delete(e.taken, strings.ToLower(name))
}

// baseName is the filename stem derived from the title, falling back to the original name.
func baseName(i ImageItem, md Metadata) string {
	base := Normalize(md.Title)
	if base == "" {
		base = Normalize(strings.TrimSuffix(i.Name, filepath.Ext(i.Name)))
	}
	if base == "" {
		base = "image"
	}
	if len(base) > maxBaseLen {
		base = strings.TrimRight(base[:maxBaseLen], " .")
	}
	return base
}

// ReadMetadata reads the title and keywords embedded in path.
func ReadMetadata(store MetadataStore, path string) (Metadata, error) {
	md := Metadata{Tags: []string{}}
	fms := store.ExtractMetadata(path)
	if len(fms) == 0 {
		return md, fmt.Errorf("no metadata for %s", path)
	}
	fm := fms[0]
	if fm.Err != nil {
		return md, fmt.Errorf("extract %s: %w", path, fm.Err)
	}

	for _, f := range titleFields {
		if s, err := fm.GetString(f); err == nil && s != "" {
			md.Title = s
			break
		}
	}

	for _, f := range keywordFields {
		if ts := fieldStrings(fm.Fields[f]); len(ts) > 0 {
			md.Tags = ts
			break
		}
	}
	return md, nil
}

// fieldStrings flattens a decoded exiftool value that may be a scalar or a list.
func fieldStrings(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		ss := make([]string, 0, len(t))
		for _, x := range t {
			ss = append(ss, fmt.Sprint(x))
		}
		return ss
	case []string:
		return t
	default:
		return []string{fmt.Sprint(t)}
	}
}
