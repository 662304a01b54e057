package models

import "fmt"

// ItemError records a failed title/format transfer. It never aborts a run.
type ItemError struct {
	Title  string
	Format Format
	URL    string
	Status int
	Err    error
}

func (e ItemError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %q (%s): http status %d", e.Title, e.Format, e.Status)
	}
	return fmt.Sprintf("download %q (%s): %v", e.Title, e.Format, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// DownloadResult summarises a transfer run.
type DownloadResult struct {
	Downloaded int
	Skipped    int
	// Missing counts requested formats the entry does not advertise.
	Missing int
	// Files lists every destination present after the run, whether written
	// now or found from an earlier run.
	Files  []string
	Bytes  int64
	Errors []ItemError
}
