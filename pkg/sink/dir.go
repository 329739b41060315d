package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/copy"
	"github.com/tstromberg/stocktag/pkg/stocktag"
	"k8s.io/klog/v2"
)

// Dir copies a batch into a local directory, never overwriting existing files.
type Dir struct {
	Path string
}

func (d *Dir) Name() string { return "dir" }

// Deliver implements stocktag.Sink, returning the directory.
func (d *Dir) Deliver(ctx context.Context, items []stocktag.ProcessedItem) (string, error) {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return "", transportErr(d.Name(), 0, len(items), fmt.Errorf("mkdir: %w", err))
	}

	for n, i := range items {
		if err := ctx.Err(); err != nil {
			return "", transportErr(d.Name(), n, len(items), err)
		}

		dest, err := freeName(d.Path, filepath.Base(i.Path))
		if err != nil {
			return "", transportErr(d.Name(), n, len(items), err)
		}
		if err := copy.Copy(i.Path, dest); err != nil {
			return "", transportErr(d.Name(), n, len(items), fmt.Errorf("copy: %w", err))
		}
		klog.V(1).Infof("copied %s -> %s", i.Path, dest)
	}

	return d.Path, nil
}

// freeName returns dir/name, or dir/name_N.ext for the first N that does not exist yet.
func freeName(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 1; n <= 9999; n++ {
		cand := name
		if n > 1 {
			cand = fmt.Sprintf("%s_%d%s", base, n, ext)
		}
		p := filepath.Join(dir, cand)
		if _, err := os.Lstat(p); os.IsNotExist(err) {
			return p, nil
		}
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}
