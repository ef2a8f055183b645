package logging

import "fmt"

// Formatter converts a framework-specific record into a Record plus the
// structured metadata found in its side channel.
type Formatter[R any] interface {
	Format(raw R) (Record, Metadata, error)
}

// FormatterFunc adapts a plain function to Formatter.
type FormatterFunc[R any] func(raw R) (Record, Metadata, error)

func (f FormatterFunc[R]) Format(raw R) (Record, Metadata, error) { return f(raw) }

// Ingester accepts formatted records. Report receives every failure that
// must not reach the caller.
type Ingester interface {
	Put(record Record, metadata Metadata)
	Report(err error)
}

// Emit formats raw and hands the result to in. Formatting failures,
// including panics inside the formatter, are reported and the record is
// dropped; Emit itself never fails.
func Emit[R any](in Ingester, f Formatter[R], raw R) {
	record, metadata, err := safeFormat(f, raw)
	if err != nil {
		in.Report(&FormatError{Err: err})
		return
	}
	in.Put(record, metadata)
}

func safeFormat[R any](f Formatter[R], raw R) (record Record, metadata Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("formatter panicked: %v", r)
		}
	}()
	return f.Format(raw)
}
