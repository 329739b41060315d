package stocktag

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"regexp"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"k8s.io/klog/v2"
)

// Generator is the external content-description service.
type Generator interface {
	Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// Prompts are the instructions sent with each image.
type Prompts struct {
	Title string
	Tags  string
}

// Describer derives Metadata for images through a Generator.
type Describer struct {
	Gen     Generator
	Prompts Prompts
	Pacer   Pacer

	MaxTags       int
	MaxTitleWords int
	UniqueTags    bool
	// PreviewHeight is the height images are downscaled to before upload. Zero disables it.
	PreviewHeight int
}

// NewDescriber returns a Describer configured from c.
func NewDescriber(gen Generator, c *Config) *Describer {
	return &Describer{
		Gen:           gen,
		Prompts:       Prompts{Title: c.TitlePrompt, Tags: c.TagsPrompt},
		Pacer:         c.Pacer(),
		MaxTags:       c.MaxTags,
		MaxTitleWords: c.MaxTitleWords,
		UniqueTags:    c.UniqueTags,
		PreviewHeight: c.PreviewHeight,
	}
}

// Describe generates a title and tags for an image.
func (d *Describer) Describe(ctx context.Context, i ImageItem) (Metadata, error) {
	md := Metadata{Tags: []string{}}

	bs, err := imageBytes(i)
	if err != nil {
		return md, itemErr(ErrDescription, i.Name, fmt.Errorf("read: %w", err))
	}

	mimeType := i.MIMEType
	if d.PreviewHeight > 0 {
		if p, err := preview(bs, d.PreviewHeight); err != nil {
			klog.Warningf("unable to create preview for %s, sending original: %v", i.Name, err)
		} else if p != nil {
			bs = p
			mimeType = "image/jpeg"
		}
	}
	if mimeType == "" || mimeType == "image/jpg" || mimeType == "image/pjpeg" {
		mimeType = "image/jpeg"
	}

	title, err := d.generate(ctx, d.Prompts.Title, bs, mimeType)
	if err != nil {
		return md, itemErr(ErrDescription, i.Name, fmt.Errorf("title: %w", err))
	}

	tags, err := d.generate(ctx, d.Prompts.Tags, bs, mimeType)
	if err != nil {
		return md, itemErr(ErrDescription, i.Name, fmt.Errorf("tags: %w", err))
	}

	md.Title = cleanTitle(title, d.MaxTitleWords)
	md.Tags = splitTags(tags, d.MaxTags, d.UniqueTags)
	klog.V(1).Infof("%s: title=%q tags=%v", i.Name, md.Title, md.Tags)
	return md, nil
}

func (d *Describer) generate(ctx context.Context, prompt string, bs []byte, mimeType string) (string, error) {
	p := d.Pacer
	if p == nil {
		p = noPace{}
	}
	if err := p.Wait(ctx); err != nil {
		return "", fmt.Errorf("pace: %w", err)
	}
	return d.Gen.Generate(ctx, prompt, bs, mimeType)
}

func imageBytes(i ImageItem) ([]byte, error) {
	if i.Data != nil {
		return i.Data, nil
	}
	return os.ReadFile(i.Path)
}

// preview returns a downscaled JPEG, or nil if the image is already small enough.
func preview(bs []byte, height int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	b := img.Bounds()
	if b.Dy() <= height || b.Dx() == 0 {
		return nil, nil
	}

	scale := float64(b.Dy()) / float64(height)
	x := int(float64(b.Dx()) / scale)
	rimg := transform.Resize(img, x, height, transform.Lanczos)

	var buf bytes.Buffer
	if err := imgio.JPEGEncoder(85)(&buf, rimg); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	titleLabel = regexp.MustCompile(`(?i)^title\s*:\s*`)
	tagJunk    = regexp.MustCompile(`[^\p{L}\p{N}_,]+`)
)

// cleanTitle reduces a generated caption to a single line of at most maxWords words.
func cleanTitle(s string, maxWords int) string {
	line := ""
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}

	line = strings.Trim(line, "*_#`\"' ")
	line = titleLabel.ReplaceAllString(line, "")
	line = strings.Trim(line, "*_`\"' ")

	words := strings.Fields(line)
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}

// splitTags turns a comma-separated response into at most limit single-word tags.
func splitTags(s string, limit int, unique bool) []string {
	tags := []string{}
	seen := map[string]bool{}

	for _, t := range strings.Split(tagJunk.ReplaceAllString(s, ""), ",") {
		if t == "" {
			continue
		}
		if unique {
			k := strings.ToLower(t)
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		tags = append(tags, t)
		if limit > 0 && len(tags) == limit {
			break
		}
	}
	return tags
}
