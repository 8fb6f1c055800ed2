package connector

import "fmt"

// DataParsingError marks a payload the upstream served but the connector
// could not interpret. It is never retried; the payload snippet helps
// diagnose upstream format drift.
type DataParsingError struct {
	Source  string
	Snippet string
	Err     error
}

func (e *DataParsingError) Error() string {
	return fmt.Sprintf("%s: cannot parse upstream payload (%.80q): %v", e.Source, e.Snippet, e.Err)
}

func (e *DataParsingError) Unwrap() error { return e.Err }
