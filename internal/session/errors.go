package session

import "fmt"

// NavigationError marks a failure to drive the browser to a usable
// state: navigation timeouts, selector waits that never resolve, a
// feed that stays logged out. These are fatal to the run, never to the
// process.
type NavigationError struct {
	Stage string // which navigation step failed
	URL   string // the page being driven, when known
	Err   error
}

func (e *NavigationError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("navigation failed at %s (%s): %v", e.Stage, e.URL, e.Err)
	}
	return fmt.Sprintf("navigation failed at %s: %v", e.Stage, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

func navErr(stage, url string, err error) *NavigationError {
	return &NavigationError{Stage: stage, URL: url, Err: err}
}
