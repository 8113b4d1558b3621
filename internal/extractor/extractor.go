// Package extractor recovers structured payloads from free-form model
// output. Every stage payload in the pipeline is decoded through this
// package; call sites never re-implement fence stripping or brace
// matching.
package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/metrics"
)

// ErrNoJSON indicates the text contains no JSON object or array at all.
var ErrNoJSON = errors.New("no JSON object or array found in text")

const previewLen = 120

// Extract locates an embedded JSON object/array in raw model text and
// unmarshals it into out. It strips a fenced code block if present, bounds
// the payload from the first opener to the matching last closer, and on a
// direct parse failure applies one repair pass before retrying. The result
// depends only on the input text; the same raw string always yields the
// same outcome. On error the contents of out are unspecified.
func Extract(raw string, out interface{}) error {
	text := stripCodeFences(raw)

	bounded, ok := bound(text)
	if !ok {
		return ErrNoJSON
	}

	directErr := json.Unmarshal([]byte(bounded), out)
	if directErr == nil {
		return nil
	}

	repaired := Repair(bounded)
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		// Report the original failure; the repaired error position is
		// meaningless to the caller.
		return fmt.Errorf("parse failed at offset %d: %w", offsetOf(directErr), directErr)
	}
	metrics.ExtractorRepairs.Inc()
	return nil
}

// ExtractOr is the never-fails form of Extract. On any failure it applies
// the caller-supplied fallback, records a diagnostic, and returns. The
// fallback must assign a complete value; out may hold partial data from
// the failed parse attempts.
func ExtractOr(logger *zap.Logger, payload string, raw string, out interface{}, fallback func()) {
	err := Extract(raw, out)
	if err == nil {
		return
	}
	if fallback != nil {
		fallback()
	}
	metrics.ExtractorFallbacks.WithLabelValues(payload).Inc()
	if logger != nil {
		logger.Warn("structured output fell back to default",
			zap.String("payload", payload),
			zap.String("preview", preview(raw)),
			zap.Error(err),
		)
	}
}

// stripCodeFences removes a leading/trailing fenced code block.
func stripCodeFences(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```json") {
		t = strings.TrimPrefix(t, "```json")
		t = strings.TrimPrefix(t, "```")
		if idx := strings.LastIndex(t, "```"); idx != -1 {
			t = t[:idx]
		}
		return strings.TrimSpace(t)
	}
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```")
		if idx := strings.LastIndex(t, "```"); idx != -1 {
			t = t[:idx]
		}
		return strings.TrimSpace(t)
	}
	return t
}

// bound slices s from the first { or [ (whichever opens first) to the last
// closer of the same kind. A missing closer leaves the tail for the repair
// pass to balance. Returns false when no opener exists.
func bound(s string) (string, bool) {
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")

	start, closer := objStart, "}"
	if objStart == -1 || (arrStart != -1 && arrStart < objStart) {
		start, closer = arrStart, "]"
	}
	if start == -1 {
		return "", false
	}

	end := strings.LastIndex(s, closer)
	if end <= start {
		return s[start:], true
	}
	return s[start : end+1], true
}

func offsetOf(err error) int64 {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return syn.Offset
	}
	var typ *json.UnmarshalTypeError
	if errors.As(err, &typ) {
		return typ.Offset
	}
	return -1
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > previewLen {
		return s[:previewLen] + "..."
	}
	return s
}
