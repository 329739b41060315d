package stocktag

import (
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// Quota is a daily counter of accepted images. It is safe for concurrent use.
type Quota struct {
	ceiling int
	loc     *time.Location

	mu    sync.Mutex
	date  string
	count int
}

// NewQuota returns a tracker allowing ceiling images per calendar day in loc.
func NewQuota(ceiling int, loc *time.Location) *Quota {
	if loc == nil {
		loc = time.Local
	}
	return &Quota{ceiling: ceiling, loc: loc}
}

func (q *Quota) rollover(day time.Time) {
	d := day.In(q.loc).Format(time.DateOnly)
	if d != q.date {
		if q.date != "" {
			klog.Infof("quota rollover %s -> %s (was %d/%d)", q.date, d, q.count, q.ceiling)
		}
		q.date = d
		q.count = 0
	}
}

// Reserve accepts n images on day if they fit under the ceiling, returning the remaining quota.
// A rejected reservation returns a *QuotaError and leaves the count untouched.
func (q *Quota) Reserve(day time.Time, n int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollover(day)
	if q.count+n > q.ceiling {
		return q.ceiling - q.count, &QuotaError{Requested: n, Remaining: q.ceiling - q.count}
	}
	q.count += n
	return q.ceiling - q.count, nil
}

// Remaining returns the quota left on day.
func (q *Quota) Remaining(day time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollover(day)
	return q.ceiling - q.count
}
