// Package aids holds tiny helpers shared by every package in this repo.
package aids

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
	"strings"
)

// Iif is "inline if"
func Iif[T any](expression bool, trueVal, falseVal T) T {
	if expression {
		return trueVal
	}
	return falseVal
}

// IsError returns true if err is not nil
func IsError(err error) bool { return err != nil }

// New returns a pointer to a copy of v; used when setting struct fields to be marshaled.
func New[T any](v T) *T { return &v }

// Assert panics if condition is false
func Assert(condition bool, v any) {
	if condition {
		return
	}
	if err, ok := v.(error); ok {
		panic(err)
	}
	panic(fmt.Errorf("%#v", v))
}

// Must0 panics if err != nil
func Must0(err error) {
	Assert(!IsError(err), err)
}

// Must returns val if err is nil, otherwise panics with err
func Must[T any](val T, err error) T {
	Assert(!IsError(err), err)
	return val
}

func MustMarshal(v any) []byte { return Must(json.Marshal(v)) }

// Stack is a parsed goroutine stack trace.
type Stack struct {
	LongestFunction int
	Frames          []Frame
}

// Frame is one call site within a Stack.
type Frame struct {
	Function string // package-qualified function name
	File     string
	Line     int64
}

// WriteStack writes fi's frames to w, one aligned line per frame.
func WriteStack(w io.Writer, fi Stack) {
	for _, f := range fi.Frames {
		fmt.Fprintf(w, "%-*s   %s:%d\n", fi.LongestFunction, f.Function, f.File, f.Line)
	}
}

// ParseStack captures the calling goroutine's stack and parses it into frames,
// dropping the first framesToSkip frames (use this to hide the recovery plumbing itself).
func ParseStack(framesToSkip int) Stack {
	fi := Stack{Frames: []Frame{}}
	lines := strings.Split(string(debug.Stack()), "\n")
	skipped := 0
	for l := 0; l+1 < len(lines); l++ {
		line := strings.TrimSpace(lines[l])
		switch {
		case line == "", strings.HasPrefix(line, "goroutine "):
			continue
		case strings.HasPrefix(line, "panic("), strings.HasPrefix(line, "runtime/"):
			l++ // the file:line under this frame
			continue
		}
		next := strings.TrimSpace(lines[l+1])
		if !strings.Contains(next, ".go:") {
			continue // not a frame header/location pair
		}
		l++
		if skipped < framesToSkip {
			skipped++
			continue
		}
		f := Frame{Function: line}
		if paren := strings.LastIndex(f.Function, "("); paren > 0 {
			f.Function = f.Function[:paren]
		}
		// next looks like: /path/to/file.go:25 +0xb3
		loc := next
		if sp := strings.IndexByte(loc, ' '); sp >= 0 {
			loc = loc[:sp]
		}
		if colon := strings.LastIndexByte(loc, ':'); colon >= 0 {
			f.File = loc[:colon]
			f.Line, _ = strconv.ParseInt(loc[colon+1:], 10, 0)
		} else {
			f.File = loc
		}
		fi.Frames = append(fi.Frames, f)
		fi.LongestFunction = max(fi.LongestFunction, len(f.Function))
	}
	return fi
}
