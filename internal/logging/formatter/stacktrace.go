package formatter

import (
	"errors"
	"fmt"
	"strings"
)

// Stacktrace renders err and everything it wraps as text, followed by the
// goroutine stack when one was captured. It returns nil when there is
// neither.
func Stacktrace(err error, stack string) *string {
	if err == nil && stack == "" {
		return nil
	}

	var b strings.Builder
	if err != nil {
		writeChain(&b, err, 0)
	}
	if stack != "" {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.TrimRight(stack, "\n"))
		b.WriteByte('\n')
	}

	out := b.String()
	return &out
}

func writeChain(b *strings.Builder, err error, depth int) {
	indent := strings.Repeat("  ", depth)
	for err != nil {
		fmt.Fprintf(b, "%s%T: %s\n", indent, err, err.Error())

		// errors carrying their own stack print it with %+v
		if verbose := fmt.Sprintf("%+v", err); verbose != err.Error() {
			for _, line := range strings.Split(strings.TrimRight(verbose, "\n"), "\n") {
				b.WriteString(indent)
				b.WriteString("  ")
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}

		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				fmt.Fprintf(b, "%scaused by:\n", indent)
				writeChain(b, inner, depth+1)
			}
			return
		}

		err = errors.Unwrap(err)
		if err != nil {
			fmt.Fprintf(b, "%scaused by:\n", indent)
		}
	}
}
