package leadpulse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jpalmerr/leadpulse/internal/poller"
)

// Failure classes for a count fetch. Use [errors.Is] against
// [Snapshot.LastError] to tell them apart.
var (
	// ErrTransport covers network failures and 5xx responses.
	ErrTransport = poller.ErrTransport

	// ErrBackend is a failure reported by the CRM API (success=false or 4xx).
	ErrBackend = poller.ErrBackend

	// ErrMalformed means the response could not be read as a count.
	ErrMalformed = poller.ErrMalformed
)

// CountExtractor turns a 2xx response body into a record count.
//
// An extractor returns an error wrapping [ErrBackend] when the body itself
// reports a failure; any other error is treated as [ErrMalformed]. Either
// way the poller resolves the count to zero.
type CountExtractor func(body []byte) (int, error)

// EnvelopeExtractor reads the CRM list envelope
// {"success": true, "pagination": {"total": N}, "message": "..."}.
//
// success=false (or a missing success flag) is a backend failure; a missing
// pagination.total is malformed. This is the default extractor.
var EnvelopeExtractor CountExtractor = poller.DecodeEnvelope

// JSONPathExtractor returns a [CountExtractor] that reads the count from a
// JSON field using dot notation, for APIs that do not use the standard
// envelope.
//
// The value must be a non-negative integer, either as a JSON number or a
// numeric string.
//
// Example:
//
//	// For response: {"meta": {"total_count": 17}}
//	extractor := leadpulse.JSONPathExtractor("meta.total_count")
func JSONPathExtractor(path string) CountExtractor {
	parts := strings.Split(path, ".")

	return func(body []byte) (int, error) {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()

		var data interface{}
		if err := dec.Decode(&data); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		value, ok := extractJSONPath(data, parts)
		if !ok {
			return 0, fmt.Errorf("%w: field %q not found", ErrMalformed, path)
		}

		n, err := toCount(value)
		if err != nil {
			return 0, fmt.Errorf("%w: field %q: %w", ErrMalformed, path, err)
		}
		return n, nil
	}
}

// extractJSONPath walks a JSON structure using dot notation parts.
func extractJSONPath(data interface{}, parts []string) (interface{}, bool) {
	current := data

	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// toCount converts a decoded JSON value into a non-negative int.
func toCount(v interface{}) (int, error) {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	default:
		return 0, fmt.Errorf("value %v is not a number", v)
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("value %q is not an integer", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("value %d is negative", n)
	}
	return n, nil
}
