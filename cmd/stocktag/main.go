// stocktag titles, tags and renames JPEG images for stock photo sites using Google Gemini.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	_ "time/tzdata"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/tstromberg/stocktag/pkg/sink"
	"github.com/tstromberg/stocktag/pkg/stocktag"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	envFile    = flag.String("env", ".env", "dotenv file with API keys and credentials")

	titlePrompt = flag.String("title-prompt", "", "override the title prompt")
	tagsPrompt  = flag.String("tags-prompt", "", "override the tags prompt")
	maxTags     = flag.Int("max-tags", 0, "maximum number of keywords per image")
	dailyLimit  = flag.Int("daily-limit", 0, "maximum number of images per day")
	model       = flag.String("model", "", "Gemini model name")
	pace        = flag.String("pace", "", "request pacing: cooldown, bucket or none")
	tz          = flag.String("tz", "", "timezone for the daily quota, such as Asia/Jakarta")

	sinkName = flag.String("sink", "archive", "destination: archive, dir, drive, s3 or sftp")
	out      = flag.String("out", "", "archive path or directory for the archive and dir sinks")

	driveCreds  = flag.String("drive-credentials", "", "Google credentials JSON for the drive sink")
	driveFolder = flag.String("drive-folder", "", "parent folder ID for the drive sink")

	s3Endpoint  = flag.String("s3-endpoint", "", "S3-compatible endpoint")
	s3Bucket    = flag.String("s3-bucket", "", "bucket for the s3 sink")
	s3Prefix    = flag.String("s3-prefix", "", "key prefix for the s3 sink")
	s3Region    = flag.String("s3-region", "", "bucket region")
	s3PublicURL = flag.String("s3-public-url", "", "public base URL of the bucket; presigned links are returned otherwise")
	s3Expiry    = flag.Duration("s3-expiry", 7*24*time.Hour, "lifetime of presigned links")

	sftpHost       = flag.String("sftp-host", "", "SFTP server")
	sftpPort       = flag.Int("sftp-port", 22, "SFTP port")
	sftpUser       = flag.String("sftp-user", "", "SFTP user")
	sftpDir        = flag.String("sftp-dir", "/", "remote directory for the sftp sink")
	sftpKnownHosts = flag.String("sftp-known-hosts", "", "known_hosts file, defaults to ~/.ssh/known_hosts")
	sftpInsecure   = flag.Bool("sftp-insecure", false, "skip SFTP host key verification")

	watchDir = flag.String("watch", "", "watch a directory and process new images as they arrive; keep -out outside it")
	settle   = flag.Duration("settle", 5*time.Second, "quiet period before a watched batch is processed")
	verify   = flag.Bool("verify", false, "print the embedded title and keywords of the given images and exit")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		klog.V(1).Infof("no env file loaded: %v", err)
	}

	c, err := config()
	if err != nil {
		klog.Exitf("config: %v", err)
	}

	et, err := stocktag.NewExiftool()
	if err != nil {
		klog.Exitf("exiftool: %v", err)
	}
	defer func() {
		if err := et.Close(); err != nil {
			klog.Errorf("Failed to close exiftool: %v", err)
		}
	}()

	if *verify {
		if err := show(et, flag.Args()); err != nil {
			klog.Exitf("verify: %v", err)
		}
		return
	}

	if len(flag.Args()) == 0 && *watchDir == "" {
		klog.Exitf("No input provided. Usage: %s [flags] <image or dir> [...]", os.Args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	gen, err := stocktag.NewGemini(ctx, os.Getenv("GOOGLE_AI_API_KEY"), c.Model)
	if err != nil {
		klog.Exitf("gemini: %v", err)
	}

	loc, err := c.Location()
	if err != nil {
		klog.Exitf("timezone: %v", err)
	}

	s, err := newSink(ctx, c)
	if err != nil {
		klog.Exitf("sink: %v", err)
	}

	p := &stocktag.Pipeline{
		Describer:        stocktag.NewDescriber(gen, c),
		Store:            et,
		Quota:            stocktag.NewQuota(c.DailyCeiling, loc),
		AllowedMIMETypes: c.AllowedMIMETypes,
		TempDir:          c.TempDir,
		Callbacks: stocktag.Callbacks{
			OnProgress: func(processed, total int) {
				klog.Infof("progress: %d/%d", processed, total)
			},
		},
	}

	if *watchDir != "" {
		klog.Infof("watching %s", *watchDir)
		err := watch(ctx, *watchDir, *settle, func(paths []string) {
			if err := batch(ctx, p, s, paths); err != nil {
				klog.Errorf("batch failed: %v", err)
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			klog.Exitf("watch: %v", err)
		}
		return
	}

	if err := batch(ctx, p, s, flag.Args()); err != nil {
		klog.Exitf("%v", err)
	}
}

// config loads the config file, if any, and applies flag overrides.
func config() (*stocktag.Config, error) {
	c := stocktag.DefaultConfig()
	if *configPath != "" {
		var err error
		c, err = stocktag.LoadConfig(*configPath)
		if err != nil {
			return nil, err
		}
	}

	if *titlePrompt != "" {
		c.TitlePrompt = *titlePrompt
	}
	if *tagsPrompt != "" {
		c.TagsPrompt = *tagsPrompt
	}
	if *maxTags > 0 {
		c.MaxTags = *maxTags
	}
	if *dailyLimit > 0 {
		c.DailyCeiling = *dailyLimit
	}
	if *model != "" {
		c.Model = *model
	}
	if *pace != "" {
		c.Pace = *pace
	}
	if *tz != "" {
		c.Timezone = *tz
	}
	return c, c.Validate()
}

func newSink(ctx context.Context, c *stocktag.Config) (stocktag.Sink, error) {
	switch *sinkName {
	case "archive":
		return &sink.Archive{Path: *out}, nil
	case "dir":
		if *out == "" {
			return nil, errors.New("-out is required for the dir sink")
		}
		return &sink.Dir{Path: *out}, nil
	case "drive":
		creds := *driveCreds
		if creds == "" {
			creds = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		}
		d, err := sink.NewDrive(ctx, creds)
		if err != nil {
			return nil, err
		}
		d.Folder = *driveFolder
		d.TempDir = c.TempDir
		return d, nil
	case "s3":
		client, err := sink.NewS3Client(sink.S3Config{
			Endpoint:        *s3Endpoint,
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Region:          *s3Region,
		})
		if err != nil {
			return nil, err
		}
		if *s3Bucket == "" {
			return nil, errors.New("-s3-bucket is required")
		}
		return &sink.S3{
			Client:    client,
			Bucket:    *s3Bucket,
			Prefix:    *s3Prefix,
			PublicURL: *s3PublicURL,
			Expiry:    *s3Expiry,
			TempDir:   c.TempDir,
		}, nil
	case "sftp":
		if *sftpHost == "" || *sftpUser == "" {
			return nil, errors.New("-sftp-host and -sftp-user are required")
		}
		return &sink.SFTP{
			Host:       *sftpHost,
			Port:       *sftpPort,
			User:       *sftpUser,
			Password:   os.Getenv("SFTP_PASSWORD"),
			RemoteDir:  *sftpDir,
			KnownHosts: *sftpKnownHosts,
			Insecure:   *sftpInsecure,
			OnProgress: func(done, total int, name string) {
				klog.Infof("uploaded %s (%d/%d)", name, done, total)
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown sink %q", *sinkName)
	}
}

// batch runs one pipeline pass over the images found in paths.
func batch(ctx context.Context, p *stocktag.Pipeline, s stocktag.Sink, paths []string) error {
	items, err := stocktag.Find(paths...)
	if err != nil {
		return fmt.Errorf("find: %w", err)
	}
	klog.Infof("found %d files", len(items))

	d, err := p.Run(ctx, items, s)
	if d != nil {
		klog.Infof("%s", d.Summary())
	}
	if err != nil {
		return err
	}
	if d.Link != "" {
		klog.Infof("delivered to %s: %s", d.Sink, d.Link)
	}
	return nil
}

func show(store stocktag.MetadataStore, paths []string) error {
	items, err := stocktag.Find(paths...)
	if err != nil {
		return err
	}
	for _, i := range items {
		md, err := stocktag.ReadMetadata(store, i.Path)
		if err != nil {
			klog.Errorf("%s: %v", i.Path, err)
			continue
		}
		fmt.Printf("%s\n  title: %s\n  keywords: %s\n", i.Path, md.Title, strings.Join(md.Tags, ", "))
	}
	return nil
}
