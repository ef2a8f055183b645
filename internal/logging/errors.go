package logging

import (
	"fmt"
	"strings"
)

// FormatError reports a raw record that could not be normalized. The record
// is dropped.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("failed to format log record: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// TransportError reports a failed delivery of a batch. StatusCode and Body
// are empty when the request never got a response.
type TransportError struct {
	StatusCode int
	Body       string
	URL        string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("error while sending logs")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status code: %d, response: %q, url: %s)", e.StatusCode, e.Body, e.URL)
	} else if e.URL != "" {
		fmt.Fprintf(&b, " (url: %s)", e.URL)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConfigurationError is returned synchronously when the pipeline is misused,
// e.g. stream metadata that is not a mapping.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
