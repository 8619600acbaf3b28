// Package classify decides whether a single file looks corrupted.
//
// Two strategies are provided: JSON validates .json documents, NullFile flags
// files of any type whose content is nothing but 0x00 bytes. Both report a
// Result rather than an error, so a bad file never stops a scan.
package classify

import (
	"fmt"

	"github.com/go-git/go-billy/v5"
)

// Status is the outcome class of a classification.
type Status int

const (
	Clean Status = iota
	Corrupted
	ReadError
)

// String returns the name used in logs and JSON reports.
func (s Status) String() string {
	switch s {
	case Clean:
		return "clean"
	case Corrupted:
		return "corrupted"
	case ReadError:
		return "read_error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the classification of one file.
type Result struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// OK reports whether the file was found clean.
func (r Result) OK() bool {
	return r.Status == Clean
}

// String renders the result the way it is shown next to a path in the
// verbose output, e.g. "Corrupted (all zero bytes)".
func (r Result) String() string {
	switch r.Status {
	case Clean:
		return "Clean"
	case Corrupted:
		return "Corrupted (" + r.Reason + ")"
	default:
		return r.Reason
	}
}

// Classifier inspects one file on fsys.
type Classifier interface {
	Name() string
	Classify(fsys billy.Filesystem, path string) Result
}

func clean() Result {
	return Result{Status: Clean}
}

func corrupted(reason string) Result {
	return Result{Status: Corrupted, Reason: reason}
}

func readError(err error) Result {
	return Result{Status: ReadError, Reason: "Error reading file: " + err.Error()}
}

// allZero reports whether every byte in b is 0x00. It is false for empty input.
func allZero(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c != 0x00 {
			return false
		}
	}
	return true
}
