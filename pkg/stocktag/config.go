package stocktag

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTitlePrompt asks for a short stock-photo title.
var DefaultTitlePrompt = "Write a descriptive title for this stock photo in a single line of plain English. " +
	"Describe the main subject, setting and mood. Do not use quotes, hashtags, emoji or punctuation at the end. " +
	"Reply with the title only."

// DefaultTagsPrompt asks for comma-separated single-word keywords.
var DefaultTagsPrompt = "Generate comma-separated one-word keywords for this stock photo, most relevant first. " +
	"Include the subject, setting, colors, mood and concepts a buyer would search for. " +
	"Use lowercase singular words. Do not combine multiple words. Reply with the keywords only."

// DefaultMIMETypes are the JPEG variants accepted as input.
var DefaultMIMETypes = []string{"image/jpeg", "image/jpg", "image/pjpeg"}

// Config holds configuration for stocktag.
type Config struct {
	TitlePrompt      string   `yaml:"title_prompt"`
	TagsPrompt       string   `yaml:"tags_prompt"`
	MaxTags          int      `yaml:"max_tags"`
	MaxTitleWords    int      `yaml:"max_title_words"`
	UniqueTags       bool     `yaml:"unique_tags"`
	DailyCeiling     int      `yaml:"daily_ceiling"`
	AllowedMIMETypes []string `yaml:"allowed_mime_types"`

	Model         string `yaml:"model"`
	PreviewHeight int    `yaml:"preview_height"`

	// Pace is "cooldown" or "bucket".
	Pace         string        `yaml:"pace"`
	PaceActive   time.Duration `yaml:"pace_active"`
	PacePause    time.Duration `yaml:"pace_pause"`
	PaceInterval time.Duration `yaml:"pace_interval"`

	// Timezone sets the day boundary for the daily quota.
	Timezone string `yaml:"timezone"`
	TempDir  string `yaml:"temp_dir"`
}

// DefaultConfig returns the defaults used when no config file is given.
func DefaultConfig() *Config {
	return &Config{
		TitlePrompt:      DefaultTitlePrompt,
		TagsPrompt:       DefaultTagsPrompt,
		MaxTags:          49,
		MaxTitleWords:    20,
		UniqueTags:       true,
		DailyCeiling:     1000,
		AllowedMIMETypes: DefaultMIMETypes,
		Model:            "gemini-2.5-flash",
		PreviewHeight:    768,
		Pace:             "cooldown",
		PaceActive:       10 * time.Second,
		PacePause:        5 * time.Second,
		PaceInterval:     time.Second,
		Timezone:         "Local",
	}
}

// LoadConfig reads a YAML config file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if err := yaml.Unmarshal(bs, c); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}
	return c, c.Validate()
}

// Validate returns an error matching ErrConfig if c cannot drive a batch.
func (c *Config) Validate() error {
	switch {
	case c.TitlePrompt == "":
		return fmt.Errorf("%w: title prompt is empty", ErrConfig)
	case c.TagsPrompt == "":
		return fmt.Errorf("%w: tags prompt is empty", ErrConfig)
	case c.MaxTags <= 0:
		return fmt.Errorf("%w: max tags must be positive, got %d", ErrConfig, c.MaxTags)
	case c.MaxTitleWords <= 0:
		return fmt.Errorf("%w: max title words must be positive, got %d", ErrConfig, c.MaxTitleWords)
	case c.DailyCeiling <= 0:
		return fmt.Errorf("%w: daily ceiling must be positive, got %d", ErrConfig, c.DailyCeiling)
	case len(c.AllowedMIMETypes) == 0:
		return fmt.Errorf("%w: no allowed MIME types", ErrConfig)
	case c.Pace != "cooldown" && c.Pace != "bucket" && c.Pace != "none":
		return fmt.Errorf("%w: unknown pace %q", ErrConfig, c.Pace)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrConfig, c.Timezone, err)
	}
	return nil
}

// Location returns the quota day boundary timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Pacer builds the configured pacing strategy.
func (c *Config) Pacer() Pacer {
	switch c.Pace {
	case "bucket":
		return NewTokenBucket(c.PaceInterval, 1)
	case "none":
		return noPace{}
	}
	return NewCooldown(c.PaceActive, c.PacePause)
}
