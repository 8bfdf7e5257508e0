package validation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/octobees/venue-pipeline/internal/entity"
)

const maxLineBytes = 4 << 20

// LineError is a finding tied to a 1-indexed line of a serialized stream.
type LineError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// StreamResult summarises validation of a newline-delimited record stream.
type StreamResult struct {
	Valid       bool        `json:"valid"`
	LineErrors  []LineError `json:"line_errors,omitempty"`
	Warnings    []LineError `json:"warnings,omitempty"`
	RecordCount int         `json:"record_count"`
}

// ValidateStream parses one JSON record per line and validates each one.
// Malformed lines are reported and skipped; blank lines are ignored. The
// returned error is non-nil only when reading from r fails.
func (v *Validator) ValidateStream(r io.Reader) (StreamResult, error) {
	var res StreamResult
	seenIDs := make(map[string]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var envelope struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal([]byte(text), &envelope); err != nil {
			res.LineErrors = append(res.LineErrors, LineError{Line: line, Message: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		var place entity.Place
		if err := json.Unmarshal([]byte(text), &place); err != nil {
			res.LineErrors = append(res.LineErrors, LineError{Line: line, Message: fmt.Sprintf("invalid record: %v", err)})
			continue
		}
		res.RecordCount++

		if envelope.ID != "" {
			if first, dup := seenIDs[envelope.ID]; dup {
				res.LineErrors = append(res.LineErrors, LineError{
					Line:    line,
					Message: fmt.Sprintf("duplicate _id %q (first seen on line %d)", envelope.ID, first),
				})
			} else {
				seenIDs[envelope.ID] = line
			}
		}

		check := v.ValidatePlace(&place)
		for _, issue := range check.Errors {
			res.LineErrors = append(res.LineErrors, LineError{Line: line, Message: issue.String()})
		}
		for _, issue := range check.Warnings {
			res.Warnings = append(res.Warnings, LineError{Line: line, Message: issue.String()})
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read stream at line %d: %w", line+1, err)
	}

	res.Valid = len(res.LineErrors) == 0
	return res, nil
}
