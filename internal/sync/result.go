package sync

import (
	"errors"
	"fmt"

	"github.com/schaermu/packsyncd/internal/manifest"
)

// Fatal error kinds abort a run.
var (
	ErrManifestUnavailable = errors.New("manifest unavailable")
	ErrLedgerIO            = errors.New("ledger i/o failure")
)

// Isolated error kinds are recorded in Result.Failures; the run continues.
var (
	ErrEntryCheck = errors.New("entry check failed")
	ErrFetch      = errors.New("fetch failed")
	ErrDelete     = errors.New("delete failed")
	ErrPrune      = errors.New("prune failed")
)

// EntryError is an isolated failure tied to one path. It matches both its
// kind and its cause with errors.Is.
type EntryError struct {
	Kind error
	Path string
	Mode manifest.Mode
	Err  error
}

func (e *EntryError) Error() string {
	if e.Mode != "" {
		return fmt.Sprintf("%s: %s (mode=%s): %v", e.Kind, e.Path, e.Mode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

// Unwrap returns the kind and the cause.
func (e *EntryError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Result is the outcome of a sync run.
type Result struct {
	// Changed is set when a file was downloaded or deleted.
	Changed bool
	// RestartRequired is set when the host should restart to pick up
	// changes, including packages removed by deduplication.
	RestartRequired bool

	Downloaded int
	Deleted    int
	Pruned     int
	UpToDate   int
	Skipped    int

	// Failures lists isolated errors, each an *EntryError.
	Failures []error
}

// Failed reports whether any isolated failure occurred.
func (r *Result) Failed() bool {
	return len(r.Failures) > 0
}

func (r *Result) fail(kind error, path string, mode manifest.Mode, err error) {
	r.Failures = append(r.Failures, &EntryError{Kind: kind, Path: path, Mode: mode, Err: err})
}
