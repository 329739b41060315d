// Package stocktag tags batches of stock photos with generated titles and keywords.
package stocktag

import (
	"context"
	"time"
)

// ImageItem is one input file.
type ImageItem struct {
	// Name is the original filename, used in every report about this item.
	Name string
	Path string
	// Data is used instead of Path when the caller holds the image in memory.
	Data     []byte
	MIMEType string
}

// Metadata is the derived annotation for one image.
type Metadata struct {
	Title string
	Tags  []string
}

// ProcessedItem is a renamed image with its metadata embedded.
type ProcessedItem struct {
	Item     ImageItem
	Path     string
	Metadata Metadata
}

// Failure records why an item did not make it through the pipeline.
type Failure struct {
	Item ImageItem
	Err  error
}

// State is a stage of a BatchRun.
type State int

const (
	Validating State = iota
	QuotaCheck
	Processing
	Packaging
	Done
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case QuotaCheck:
		return "quota-check"
	case Processing:
		return "processing"
	case Packaging:
		return "packaging"
	case Done:
		return "done"
	}
	return "unknown"
}

// BatchRun is the unit of work for one invocation.
type BatchRun struct {
	Items          []ImageItem
	FilesProcessed int
	TotalFiles     int
	Started        time.Time
	State          State
}

// Sink is a delivery target for a processed batch.
type Sink interface {
	Name() string
	// Deliver returns a link, path or confirmation for the delivered batch.
	Deliver(ctx context.Context, items []ProcessedItem) (string, error)
}

// Callbacks receive progress from a running batch. Nil funcs are skipped.
type Callbacks struct {
	OnProgress    func(processed, total int)
	OnItemFailure func(item ImageItem, err error)
	OnComplete    func(succeeded []ProcessedItem, failed []Failure)
}

func (c Callbacks) progress(processed, total int) {
	if c.OnProgress != nil {
		c.OnProgress(processed, total)
	}
}

func (c Callbacks) itemFailure(item ImageItem, err error) {
	if c.OnItemFailure != nil {
		c.OnItemFailure(item, err)
	}
}

func (c Callbacks) complete(succeeded []ProcessedItem, failed []Failure) {
	if c.OnComplete != nil {
		c.OnComplete(succeeded, failed)
	}
}
