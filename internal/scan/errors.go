package scan

import "fmt"

// QueryError is returned when a window query fails after the retry budget.
type QueryError struct {
	Window   BlockRange
	Attempts int
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query blocks %d-%d failed after %d attempts: %v", e.Window.From, e.Window.To, e.Attempts, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// ScanError aborts a scan. It wraps the QueryError of the offending window.
type ScanError struct {
	Name  string
	Range BlockRange
	Err   error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s %d-%d: %v", e.Name, e.Range.From, e.Range.To, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}
