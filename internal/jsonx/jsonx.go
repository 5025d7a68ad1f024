// Package jsonx recovers JSON payloads from LLM responses. Models are asked
// for a constrained output format, but the fallback chain here must work
// even when they ignore instructions entirely.
package jsonx

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rotisserie/eris"
)

// Strategy names the extraction step that produced a result.
type Strategy string

const (
	StrategyDirect      Strategy = "direct"
	StrategyFences      Strategy = "fences"
	StrategySpan        Strategy = "span"
	StrategyBoilerplate Strategy = "boilerplate"
	StrategyRepair      Strategy = "repair"
)

// ErrNoJSON is the sentinel returned when no strategy recovers a valid
// JSON value. Callers treat it as "no data", never as a fault.
var ErrNoJSON = eris.New("jsonx: no valid JSON found in response")

// boilerplatePrefixes are leading phrases models commonly emit before the
// payload despite being asked not to.
var boilerplatePrefixes = []string{
	"here is the json:",
	"here's the json:",
	"here is the extracted data:",
	"sure, here you go:",
	"json:",
	"output:",
	"response:",
	"answer:",
}

// Extract runs the fallback chain over raw model output and returns the
// first strategy that yields valid JSON: direct parse, code-fence strip,
// first balanced {...}/[...] span, boilerplate strip, then structural
// repair. Returns ErrNoJSON when every strategy fails.
func Extract(raw string) (json.RawMessage, Strategy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", ErrNoJSON
	}

	if valid(raw) {
		return json.RawMessage(raw), StrategyDirect, nil
	}

	if s := stripFences(raw); s != "" && valid(s) {
		return json.RawMessage(s), StrategyFences, nil
	}

	if s := firstSpan(raw); s != "" && valid(s) {
		return json.RawMessage(s), StrategySpan, nil
	}

	if s := stripBoilerplate(raw); s != "" && valid(s) {
		return json.RawMessage(s), StrategyBoilerplate, nil
	}

	// Last resort: structural repair of the most promising candidate.
	for _, candidate := range []string{stripFences(raw), firstSpan(raw), stripBoilerplate(raw), raw} {
		if candidate == "" {
			continue
		}
		repaired, err := jsonrepair.JSONRepair(candidate)
		if err != nil {
			continue
		}
		if valid(repaired) && isStructured(repaired) {
			return json.RawMessage(repaired), StrategyRepair, nil
		}
	}

	return nil, "", ErrNoJSON
}

// Unmarshal extracts JSON from raw model output and decodes it into T.
func Unmarshal[T any](raw string) (T, Strategy, error) {
	var out T
	payload, strategy, err := Extract(raw)
	if err != nil {
		return out, "", err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, "", eris.Wrap(err, "jsonx: decode payload")
	}
	return out, strategy, nil
}

func valid(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	return json.Valid([]byte(s)) && isStructured(s)
}

// isStructured rejects bare scalars: every payload we extract is expected
// to be an object or array.
func isStructured(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	s = s[start+3:]
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		tag := strings.TrimSpace(s[:nl])
		if len(tag) <= 8 {
			s = s[nl+1:]
		}
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// firstSpan locates the first balanced top-level {...} or [...] span,
// respecting string literals and escapes.
func firstSpan(s string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// stripBoilerplate removes known lead-in phrases and trailing prose after
// the payload.
func stripBoilerplate(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, prefix := range boilerplatePrefixes {
		if strings.HasPrefix(lower, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			break
		}
	}
	return firstSpan(s)
}
