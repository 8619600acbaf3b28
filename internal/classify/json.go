package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/text/encoding/unicode"
)

// JSON flags .json files that are null-filled or do not parse as a JSON value.
// The whole file is read into memory.
type JSON struct{}

// Name implements Classifier.
func (JSON) Name() string { return "json" }

// Classify implements Classifier.
func (JSON) Classify(fsys billy.Filesystem, path string) Result {
	data, err := util.ReadFile(fsys, path)
	if err != nil {
		return readError(err)
	}
	return CheckJSON(data)
}

// CheckJSON applies the JSON policy to file content already in memory.
// Empty content is clean. All-zero content is reported before parsing so the
// reason names the null bytes instead of a syntax error at offset 1.
func CheckJSON(data []byte) Result {
	if len(data) == 0 {
		return clean()
	}
	if allZero(data) {
		return corrupted("all zero bytes")
	}

	if err := validUTF8(data); err != nil {
		return corrupted("invalid JSON: " + err.Error())
	}
	text, err := unicode.UTF8BOM.NewDecoder().Bytes(data)
	if err == nil {
		err = parseJSON(text)
	}
	if err != nil {
		return parseFailure(err)
	}
	return clean()
}

// parseFailure sorts a failure to decode or parse content: syntax errors mean
// the document is invalid JSON, anything else is an unexpected error.
func parseFailure(err error) Result {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return corrupted(fmt.Sprintf("invalid JSON: %s (offset %d)", syntaxErr.Error(), syntaxErr.Offset))
	}
	return corrupted("error: " + err.Error())
}

// validUTF8 returns an error naming the first byte that is not part of a
// well-formed UTF-8 sequence.
func validUTF8(data []byte) error {
	if utf8.Valid(data) {
		return nil
	}
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return fmt.Errorf("cannot decode byte 0x%02x at offset %d as UTF-8", data[i], i)
		}
		i += size
	}
	return errors.New("invalid UTF-8")
}

// parseJSON accepts any single JSON value surrounded by optional whitespace.
// Invalid documents yield a *json.SyntaxError.
func parseJSON(text []byte) error {
	if json.Valid(text) {
		return nil
	}
	var v any
	if err := json.Unmarshal(text, &v); err != nil {
		return err
	}
	return errors.New("validator and decoder disagree")
}
