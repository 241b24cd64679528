package query

import (
	"time"

	"github.com/starford/notehub/internal/models"
)

// Key identifies one fetchable page of results. Equal keys are the same request.
type Key struct {
	Page    int
	Search  string
	PerPage int
}

// Params converts the key into transport parameters.
func (k Key) Params() models.ListParams {
	return models.ListParams{Page: k.Page, PerPage: k.PerPage, Search: k.Search}
}

// Status is the lifecycle state of a cache entry.
type Status int

// Entry states. A key with no entry is StatusAbsent.
const (
	StatusAbsent Status = iota
	StatusPending
	StatusResolved
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusResolved:
		return "resolved"
	case StatusErrored:
		return "errored"
	default:
		return "absent"
	}
}

// Entry is a snapshot of one cached key.
type Entry struct {
	Status    Status
	Result    *models.Page
	Err       error
	UpdatedAt time.Time

	fetchID uint64
}

// View is what a view binding renders.
//
// Items holds the current key's result. While the current key is being
// revalidated after an invalidation, Items keeps the previous result and
// Stale is set together with Loading.
type View struct {
	Items     []models.Note `json:"items"`
	Page      int           `json:"page"`
	PageCount int           `json:"pageCount"`
	Search    string        `json:"search"`
	Loading   bool          `json:"isLoading"`
	Error     bool          `json:"isError"`
	Message   string        `json:"error,omitempty"`
	Stale     bool          `json:"stale,omitempty"`
	Seq       uint64        `json:"seq"`
}

// Settled reports whether the view is no longer waiting on a fetch.
func (v View) Settled() bool { return !v.Loading }

// Match selects cache keys for invalidation.
type Match func(Key) bool

// All matches every key.
func All(Key) bool { return true }

// SearchIs matches keys for one search term across all pages.
func SearchIs(search string) Match {
	return func(k Key) bool { return k.Search == search }
}

// Recorder observes coordinator activity, e.g. for metrics.
type Recorder interface {
	CacheHit()
	FetchStarted()
	FetchFinished(err error)
	StaleResponse()
	Invalidated(n int)
}

type nopRecorder struct{}

func (nopRecorder) CacheHit()           {}
func (nopRecorder) FetchStarted()       {}
func (nopRecorder) FetchFinished(error) {}
func (nopRecorder) StaleResponse()      {}
func (nopRecorder) Invalidated(int)     {}
