// Package ndjson reads and writes Places as newline-delimited JSON.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/octobees/venue-pipeline/internal/entity"
)

const maxLineBytes = 4 << 20

// LineError reports the first line of a stream that could not be decoded.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Marshal encodes places one per line without a trailing newline. An empty
// collection encodes to an empty slice.
func Marshal(places []*entity.Place) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, places); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams places to w one per line without a trailing newline.
func Write(w io.Writer, places []*entity.Place) error {
	bw := bufio.NewWriter(w)
	for i, p := range places {
		line, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", i+1, err)
		}
		if i > 0 {
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Read decodes every non-blank line. It stops at the first malformed line and
// returns a *LineError carrying its 1-indexed position.
func Read(r io.Reader) ([]*entity.Place, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var places []*entity.Place
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var p entity.Place
		if err := json.Unmarshal(text, &p); err != nil {
			return places, &LineError{Line: line, Err: err}
		}
		places = append(places, &p)
	}
	if err := scanner.Err(); err != nil {
		return places, &LineError{Line: line + 1, Err: err}
	}
	return places, nil
}
