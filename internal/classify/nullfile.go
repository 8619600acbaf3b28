package classify

import (
	"errors"
	"io"

	"github.com/go-git/go-billy/v5"
)

// ChunkSize is the read size used by NullFile.
const ChunkSize = 1024

// NullFile flags files of any type whose entire content is 0x00 bytes.
// Files are read in chunks, so arbitrarily large files are fine.
type NullFile struct{}

// Name implements Classifier.
func (NullFile) Name() string { return "null" }

// Classify implements Classifier.
func (NullFile) Classify(fsys billy.Filesystem, path string) Result {
	f, err := fsys.Open(path)
	if err != nil {
		return readError(err)
	}
	defer f.Close() //nolint:errcheck

	return CheckNullReader(f)
}

// CheckNullReader reads r in ChunkSize pieces and stops at the first chunk
// holding a non-zero byte. Most real files are settled by the first chunk.
func CheckNullReader(r io.Reader) Result {
	buf := make([]byte, ChunkSize)
	empty := true

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if !allZero(buf[:n]) {
				return clean()
			}
			empty = false
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			if empty {
				return clean()
			}
			return corrupted("entire file is null bytes")
		default:
			return readError(err)
		}
	}
}
