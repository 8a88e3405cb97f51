package sync

import (
	"time"
)

// SyncError is one per-item failure collected during a sync run.
type SyncError struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Result accumulates the outcome of one sync direction.
type Result struct {
	Direction string `json:"direction"`

	Synced int `json:"synced"`
	Failed int `json:"failed"`

	SkippedAlreadySynced  int `json:"skipped_already_synced"`
	SkippedExistsInTarget int `json:"skipped_exists_in_target"`
	SkippedHashFailed     int `json:"skipped_hash_failed"`
	SkippedNoURL          int `json:"skipped_no_url"`

	FavouritesUpdated int `json:"favourites_updated"`
	TagsAttached      int `json:"tags_attached"`

	Errors   []SyncError   `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`

	// Skipped marks a direction that did not run at all (e.g. inbound sync
	// without a user).
	Skipped       bool   `json:"skipped,omitempty"`
	SkippedReason string `json:"skipped_reason,omitempty"`
}

// NewResult starts a result for one direction.
func NewResult(direction string) *Result {
	return &Result{Direction: direction}
}

// TotalSkipped sums every skip counter.
func (r *Result) TotalSkipped() int {
	return r.SkippedAlreadySynced + r.SkippedExistsInTarget + r.SkippedHashFailed + r.SkippedNoURL
}

// RetryableErrors returns the transient partition of the error list.
func (r *Result) RetryableErrors() []SyncError {
	return r.partition(true)
}

// PermanentErrors returns the non-transient partition of the error list.
func (r *Result) PermanentErrors() []SyncError {
	return r.partition(false)
}

func (r *Result) partition(retryable bool) []SyncError {
	var out []SyncError
	for _, e := range r.Errors {
		if e.Retryable == retryable {
			out = append(out, e)
		}
	}
	return out
}

func (r *Result) addError(message string, retryable bool) {
	r.Errors = append(r.Errors, SyncError{Message: message, Retryable: retryable})
}
