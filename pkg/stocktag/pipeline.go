package stocktag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// ItemDescriber derives Metadata for one image. *Describer satisfies it.
type ItemDescriber interface {
	Describe(ctx context.Context, i ImageItem) (Metadata, error)
}

// Pipeline tags and renames batches of images.
type Pipeline struct {
	Describer ItemDescriber
	Store     MetadataStore
	Quota     *Quota

	AllowedMIMETypes []string
	// TempDir is the parent of each run's working directory; empty uses os.TempDir.
	TempDir   string
	Callbacks Callbacks

	// Now may be replaced in tests.
	Now func() time.Time
}

// Result is the final status of a BatchRun.
type Result struct {
	Run       BatchRun
	Succeeded []ProcessedItem
	Failed    []Failure
	// Rejected holds inputs excluded by validation.
	Rejected  []Failure
	Remaining int

	dir string
}

// Summary is a human-readable account of the run.
func (r *Result) Summary() string {
	s := fmt.Sprintf("%d succeeded, %d failed", len(r.Succeeded), len(r.Failed))
	if len(r.Rejected) > 0 {
		s += fmt.Sprintf(", %d rejected", len(r.Rejected))
	}
	return fmt.Sprintf("%s (%d remaining today)", s, r.Remaining)
}

// Close releases the run's temporary storage, including the files in Succeeded.
func (r *Result) Close() error {
	if r == nil || r.dir == "" {
		return nil
	}
	klog.V(1).Infof("removing %s", r.dir)
	err := os.RemoveAll(r.dir)
	r.dir = ""
	return err
}

// Delivery is the outcome of Run.
type Delivery struct {
	*Result
	Sink string
	Link string
}

// Run processes items, hands the result to sink and releases temporary storage.
func (p *Pipeline) Run(ctx context.Context, items []ImageItem, sink Sink) (*Delivery, error) {
	r, err := p.Process(ctx, items)
	defer func() {
		if cerr := r.Close(); cerr != nil {
			klog.Warningf("cleanup: %v", cerr)
		}
	}()

	d := &Delivery{Result: r, Sink: sink.Name()}
	if err != nil {
		return d, err
	}
	if len(r.Succeeded) == 0 {
		klog.Warningf("nothing to deliver: %s", r.Summary())
		return d, nil
	}

	klog.Infof("delivering %d files to %s ...", len(r.Succeeded), sink.Name())
	d.Link, err = sink.Deliver(ctx, r.Succeeded)
	if err != nil {
		if !errors.Is(err, ErrTransport) {
			err = &TransportError{Sink: sink.Name(), Total: len(r.Succeeded), Err: err}
		}
		return d, err
	}
	return d, nil
}

// Process tags and renames items. Per-item failures are recorded in the Result and do not
// stop the batch. The caller must Close the Result once the output files are consumed.
func (p *Pipeline) Process(ctx context.Context, items []ImageItem) (*Result, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	r := &Result{Run: BatchRun{Started: now(), State: Validating}}
	valid := p.validate(items, r)
	r.Run.Items = valid
	r.Run.TotalFiles = len(valid)

	r.Run.State = QuotaCheck
	if p.Quota != nil {
		remaining, err := p.Quota.Reserve(now(), len(valid))
		r.Remaining = remaining
		if err != nil {
			klog.Warningf("batch of %d rejected: %v", len(valid), err)
			r.Run.State = Done
			p.Callbacks.complete(r.Succeeded, r.Failed)
			return r, err
		}
		klog.Infof("accepted %d files, %d remaining today", len(valid), remaining)
	}

	if len(valid) == 0 {
		r.Run.State = Done
		p.Callbacks.complete(r.Succeeded, r.Failed)
		return r, nil
	}

	dir, err := os.MkdirTemp(p.TempDir, "stocktag-")
	if err != nil {
		return r, fmt.Errorf("mkdir temp: %w", err)
	}
	r.dir = dir

	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return r, fmt.Errorf("mkdir: %w", err)
	}

	r.Run.State = Processing
	e := NewEmbedder(p.Store, outDir)
	var cause error
	for idx, i := range valid {
		if cause == nil {
			cause = ctx.Err()
		}
		if cause != nil {
			p.fail(r, i, itemErr(ErrSkipped, i.Name, cause))
		} else if pi, err := p.processOne(ctx, e, dir, idx, i); err != nil {
			p.fail(r, i, err)
		} else {
			r.Succeeded = append(r.Succeeded, pi)
		}

		r.Run.FilesProcessed++
		p.Callbacks.progress(r.Run.FilesProcessed, r.Run.TotalFiles)
	}

	r.Run.State = Packaging
	klog.Infof("batch finished: %s", r.Summary())

	r.Run.State = Done
	p.Callbacks.complete(r.Succeeded, r.Failed)
	return r, cause
}

func (p *Pipeline) processOne(ctx context.Context, e *Embedder, dir string, idx int, i ImageItem) (ProcessedItem, error) {
	klog.Infof("processing %s ...", i.Name)

	if i.Path == "" {
		path, err := stage(dir, idx, i)
		if err != nil {
			return ProcessedItem{}, itemErr(ErrEmbed, i.Name, err)
		}
		i.Path = path
	}

	md, err := p.Describer.Describe(ctx, i)
	if err != nil {
		var ie *ItemError
		if !errors.As(err, &ie) {
			err = itemErr(ErrDescription, i.Name, err)
		}
		return ProcessedItem{}, err
	}

	path, err := e.Embed(i, md)
	if err != nil {
		return ProcessedItem{}, err
	}
	return ProcessedItem{Item: i, Path: path, Metadata: md}, nil
}

func (p *Pipeline) fail(r *Result, i ImageItem, err error) {
	klog.Errorf("%v", err)
	r.Failed = append(r.Failed, Failure{Item: i, Err: err})
	p.Callbacks.itemFailure(i, err)
}

// validate returns the items with an allowed MIME type, recording the rest in r.Rejected.
func (p *Pipeline) validate(items []ImageItem, r *Result) []ImageItem {
	allowed := p.AllowedMIMETypes
	if len(allowed) == 0 {
		allowed = DefaultMIMETypes
	}

	valid := []ImageItem{}
	for _, i := range items {
		if i.Name == "" {
			i.Name = filepath.Base(i.Path)
		}

		if i.Path == "" && i.Data == nil {
			p.reject(r, i, itemErr(ErrValidation, i.Name, errors.New("no path or data")))
			continue
		}

		m, err := detectMIME(i)
		if err != nil {
			p.reject(r, i, itemErr(ErrValidation, i.Name, err))
			continue
		}
		if m == "" || !slices.Contains(allowed, strings.ToLower(m)) {
			p.reject(r, i, itemErr(ErrValidation, i.Name, fmt.Errorf("type %q is not allowed", m)))
			continue
		}

		i.MIMEType = m
		valid = append(valid, i)
	}
	return valid
}

func (p *Pipeline) reject(r *Result, i ImageItem, err error) {
	klog.Warningf("%v", err)
	r.Rejected = append(r.Rejected, Failure{Item: i, Err: err})
	p.Callbacks.itemFailure(i, err)
}

// stage writes in-memory image data to the run's input directory.
func stage(dir string, idx int, i ImageItem) (string, error) {
	in := filepath.Join(dir, "in", fmt.Sprintf("%04d", idx))
	if err := os.MkdirAll(in, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	path := filepath.Join(in, filepath.Base(i.Name))
	if err := os.WriteFile(path, i.Data, 0o600); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	return path, nil
}
