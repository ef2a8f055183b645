// Package formatter holds the pieces shared by the logging-framework
// adapters: splitting a record's fields into free-form extras and the
// structured metadata side channel, error-level detection, rendering of
// error chains, and caller resolution.
package formatter
