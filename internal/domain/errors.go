package domain

import "fmt"

// ConnectivityError means the tunnel or the network path to the API was not
// usable. It is fatal to the current course only.
type ConnectivityError struct {
	Addr string
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity error: %s: %v", e.Addr, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// FetchError carries a non-2xx status or an undecodable payload. Nothing has
// been written when it is returned.
type FetchError struct {
	URL        string
	StatusCode int // 0 when the payload, not the status, was the problem
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch error: %s status=%d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error: %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MalformedRowError rejects a whole batch because one row does not match the
// header. Row is 1-based within the batch (or within Source when replaying
// snapshot files).
type MalformedRowError struct {
	Source string
	Row    int
	Got    int
	Want   int
}

func (e *MalformedRowError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("malformed row %d in %s: got %d fields, want %d", e.Row, e.Source, e.Got, e.Want)
	}
	return fmt.Sprintf("malformed row %d: got %d fields, want %d", e.Row, e.Got, e.Want)
}

// ConfigurationError is raised before any network I/O when a job names a
// course, partner or destination the catalog does not know.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}
