package formatter

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/xente/loki-logger-handler/internal/logging"
)

var pid = os.Getpid()

// Pid returns the id of the current process.
func Pid() int { return pid }

// CallerInfo is the call site of a log statement.
type CallerInfo struct {
	Function string
	Module   string
	Path     string
	Line     int
	Defined  bool
}

// File returns the base name of the source file.
func (c CallerInfo) File() string {
	if c.Path == "" {
		return ""
	}
	return filepath.Base(c.Path)
}

// Caller resolves a program counter, as carried by slog records.
func Caller(pc uintptr) CallerInfo {
	if pc == 0 {
		return CallerInfo{}
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	return CallerFromFrame(f.Function, f.File, f.Line)
}

// CallerFromFrame splits a fully qualified function name such as
// "github.com/acme/app/pkg.(*Server).Serve" into module
// "github.com/acme/app/pkg" and function "(*Server).Serve".
func CallerFromFrame(qualified, path string, line int) CallerInfo {
	module, function := SplitFunction(qualified)
	return CallerInfo{
		Function: function,
		Module:   module,
		Path:     path,
		Line:     line,
		Defined:  qualified != "" || path != "",
	}
}

func SplitFunction(qualified string) (module, function string) {
	slash := strings.LastIndex(qualified, "/")
	dot := strings.Index(qualified[slash+1:], ".")
	if dot < 0 {
		return "", qualified
	}
	dot += slash + 1
	return qualified[:dot], qualified[dot+1:]
}

// ErrorDetails builds the error-level augmentation for a record.
func ErrorDetails(caller CallerInfo, err error, stack string) *logging.ErrorDetails {
	return &logging.ErrorDetails{
		File:       caller.File(),
		Path:       caller.Path,
		Line:       caller.Line,
		Stacktrace: Stacktrace(err, stack),
	}
}

var goroutinePrefix = []byte("goroutine ")

// GoroutineID returns the id of the calling goroutine. Go exposes no
// thread ids, so this fills the record's thread field.
func GoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
